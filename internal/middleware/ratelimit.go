package middleware

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Requests per minute by subscription tier.
var tierLimits = map[string]int{
	"gratuito":          10,
	"pro_monthly":       30,
	"pro_annual":        30,
	"platinum_monthly":  60,
	"platinum_annual":   60,
	"ultra_secretarios": 40,
}

const defaultRateLimit = 10

// Only expensive endpoints are limited.
var rateLimitedPaths = map[string]struct{}{
	"/chat": {},
}

var exemptPaths = map[string]struct{}{
	"/health":       {},
	"/cache-status": {},
	"/quota/status": {},
}

// RateLimiter is the counting strategy. In-memory by default; swap for a
// shared store when the service scales horizontally.
type RateLimiter interface {
	// Allow reports whether a request fits the window and, when it does not,
	// how many seconds to wait.
	Allow(key string, maxRequests int, window time.Duration) (allowed bool, remaining int, retryAfter int)
}

// SlidingWindow is the in-memory limiter: per-key request timestamps pruned
// on each check. Resets on restart, which is acceptable at current scale.
type SlidingWindow struct {
	mu       sync.Mutex
	requests map[string][]time.Time
}

// NewSlidingWindow creates the in-memory limiter.
func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{requests: make(map[string][]time.Time)}
}

// Allow implements RateLimiter.
func (s *SlidingWindow) Allow(key string, maxRequests int, window time.Duration) (bool, int, int) {
	now := time.Now()
	cutoff := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.requests[key][:0]
	for _, t := range s.requests[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.requests[key] = kept

	if len(kept) >= maxRequests {
		oldest := kept[0]
		retryAfter := int(oldest.Add(window).Sub(now).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, 0, retryAfter
	}

	s.requests[key] = append(kept, now)
	return true, maxRequests - len(kept) - 1, 0
}

// Cleanup drops keys idle longer than maxAge. Run from a background
// goroutine to bound memory.
func (s *SlidingWindow) Cleanup(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, timestamps := range s.requests {
		if len(timestamps) == 0 || timestamps[len(timestamps)-1].Before(cutoff) {
			delete(s.requests, key)
		}
	}
}

// StartCleanup runs Cleanup periodically until ctx is done.
func (s *SlidingWindow) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup(5 * time.Minute)
			}
		}
	}()
}

// clientKey identifies the caller: user email header when present, client IP
// otherwise.
func clientKey(c *fiber.Ctx) (string, string) {
	if email := c.Get("X-User-Email"); email != "" {
		return strings.ToLower(strings.TrimSpace(email)), c.Get("X-Subscription-Tier", "unknown")
	}

	ip := c.IP()
	if forwarded := c.Get("X-Forwarded-For"); forwarded != "" {
		ip = strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	return "ip:" + ip, "gratuito"
}

// RateLimit enforces per-tier request rates on the expensive endpoints.
func RateLimit(limiter RateLimiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		if _, exempt := exemptPaths[path]; exempt {
			return c.Next()
		}
		if _, limited := rateLimitedPaths[path]; !limited {
			return c.Next()
		}
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		key, tier := clientKey(c)
		maxRequests, ok := tierLimits[tier]
		if !ok {
			maxRequests = defaultRateLimit
		}

		allowed, remaining, retryAfter := limiter.Allow(key, maxRequests, time.Minute)
		if !allowed {
			log.Printf("[RATELIMIT] ⛔ %s exceeded %d req/min on %s", key, maxRequests, path)
			c.Set("Retry-After", strconv.Itoa(retryAfter))
			c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
			c.Set("X-RateLimit-Remaining", "0")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Demasiadas solicitudes. Por favor espera antes de enviar otra consulta.",
				"retry_after": retryAfter,
			})
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		return c.Next()
	}
}
