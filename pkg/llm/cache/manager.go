// Package cache manages the on-demand Gemini context cache holding the core
// legal corpus. The cache is created only when a user activates the feature,
// never at startup, and every creation path is guarded: orphan cleanup,
// locked double-check, TTL margin, token ceiling and a daily create budget.
package cache

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/pkoukk/tiktoken-go"
	"google.golang.org/api/iterator"
)

const (
	// maxCorpusTokens aborts creation when the corpus outgrows the model's
	// window (1,048,576 hard limit upstream, capped lower for headroom).
	maxCorpusTokens = 950_000

	defaultTTL          = 8 * time.Minute
	defaultDailyCreates = 10
	defaultDisplayName  = "lexmx-legal-corpus"

	// ttlValidityMargin treats the cache as expired slightly early so a
	// request never attaches a cache that dies mid-stream.
	ttlValidityMargin = 0.98
)

const systemInstruction = "Eres un asistente jurídico mexicano de élite. Tienes acceso directo al texto íntegro de las leyes y tratados internacionales ratificados por México que acompañan esta instrucción. Cuando el usuario haga una consulta legal, cita TEXTUALMENTE los artículos relevantes con su número exacto y ley de origen. Nunca inventes contenido legal. Si un artículo no está en tu contexto, dilo explícitamente."

// Config holds the cache settings.
type Config struct {
	Model        string
	CorpusDir    string
	TTL          time.Duration
	DisplayName  string
	DailyCreates int
}

// Manager owns the lifecycle of the remote cached content.
type Manager struct {
	client *genai.Client
	cfg    Config

	mu         sync.Mutex
	name       string
	createdAt  time.Time
	lastErr    string
	dailyCount int
	dailyDate  string
}

// NewManager creates the cache manager. client may be nil when the Gemini
// provider is not configured; every operation then reports unavailable.
func NewManager(client *genai.Client, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = defaultDisplayName
	}
	if cfg.DailyCreates <= 0 {
		cfg.DailyCreates = defaultDailyCreates
	}
	return &Manager{client: client, cfg: cfg}
}

// Model returns the model cached requests must use.
func (m *Manager) Model() string { return m.cfg.Model }

func (m *Manager) isValidLocked() bool {
	if m.name == "" {
		return false
	}
	elapsed := time.Since(m.createdAt)
	return elapsed < time.Duration(float64(m.cfg.TTL)*ttlValidityMargin)
}

// Name returns the active cache name without creating one; empty when no
// valid cache exists. A valid hit refreshes the TTL in the background.
func (m *Manager) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isValidLocked() {
		return ""
	}
	m.createdAt = time.Now()
	go m.refreshTTL(m.name)
	return m.name
}

// GetOrCreate returns the active cache, creating it on demand. The lock plus
// the re-check inside it prevent concurrent double-creation.
func (m *Manager) GetOrCreate(ctx context.Context) (string, error) {
	if m.client == nil {
		return "", fmt.Errorf("cache: Gemini client not configured")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isValidLocked() {
		m.createdAt = time.Now()
		go m.refreshTTL(m.name)
		return m.name, nil
	}

	return m.createLocked(ctx)
}

func (m *Manager) createLocked(ctx context.Context) (string, error) {
	if !m.checkDailyBudgetLocked() {
		m.lastErr = fmt.Sprintf("daily cache creation limit reached (%d)", m.cfg.DailyCreates)
		return "", fmt.Errorf("cache: %s", m.lastErr)
	}

	// Orphans accumulate cost when the process restarts mid-TTL; always
	// sweep before creating.
	m.cleanupOrphans(ctx)

	texts, err := m.loadCorpus()
	if err != nil {
		m.lastErr = err.Error()
		return "", fmt.Errorf("cache: %w", err)
	}

	parts := make([]genai.Part, 0, len(texts))
	for _, t := range texts {
		parts = append(parts, genai.Text(t))
	}

	log.Printf("[CACHE] creating context cache: model=%s ttl=%s files=%d", m.cfg.Model, m.cfg.TTL, len(texts))

	cc, err := m.client.CreateCachedContent(ctx, &genai.CachedContent{
		Model:             m.cfg.Model,
		Expiration:        genai.ExpireTimeOrTTL{TTL: m.cfg.TTL},
		SystemInstruction: &genai.Content{Parts: []genai.Part{genai.Text(systemInstruction)}},
		Contents:          []*genai.Content{{Role: "user", Parts: parts}},
	})
	if err != nil {
		m.lastErr = err.Error()
		log.Printf("[CACHE] ❌ creation failed: %v", err)
		return "", fmt.Errorf("cache: creation failed: %w", err)
	}

	m.name = cc.Name
	m.createdAt = time.Now()
	m.dailyCount++
	m.lastErr = ""
	log.Printf("[CACHE] ✅ created %s (daily %d/%d)", cc.Name, m.dailyCount, m.cfg.DailyCreates)
	return cc.Name, nil
}

func (m *Manager) checkDailyBudgetLocked() bool {
	today := time.Now().Format("2006-01-02")
	if m.dailyDate != today {
		m.dailyDate = today
		m.dailyCount = 0
	}
	return m.dailyCount < m.cfg.DailyCreates
}

// loadCorpus reads the corpus files and enforces the token ceiling.
func (m *Manager) loadCorpus() ([]string, error) {
	pattern := filepath.Join(m.cfg.CorpusDir, "*.txt")
	files, err := filepath.Glob(pattern)
	if err != nil || len(files) == 0 {
		return nil, fmt.Errorf("no corpus files found in %s", m.cfg.CorpusDir)
	}
	sort.Strings(files)

	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("tokenizer unavailable: %w", err)
	}

	var (
		texts       []string
		totalTokens int
	)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			log.Printf("[CACHE] skipping %s: %v", filepath.Base(f), err)
			continue
		}
		text := string(data)
		tokens := len(encoder.Encode(text, nil, nil))
		totalTokens += tokens
		texts = append(texts, text)
		log.Printf("[CACHE] loaded %s: %d chars (~%d tokens)", filepath.Base(f), len(text), tokens)
	}

	if len(texts) == 0 {
		return nil, fmt.Errorf("no readable corpus files in %s", m.cfg.CorpusDir)
	}
	if totalTokens > maxCorpusTokens {
		return nil, fmt.Errorf("corpus too big: %d > %d tokens", totalTokens, maxCorpusTokens)
	}
	return texts, nil
}

func (m *Manager) refreshTTL(name string) {
	if m.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err := m.client.UpdateCachedContent(ctx, &genai.CachedContent{Name: name}, &genai.CachedContentToUpdate{
		Expiration: &genai.ExpireTimeOrTTL{TTL: m.cfg.TTL},
	})
	if err != nil {
		log.Printf("[CACHE] TTL refresh failed for %s: %v", name, err)
	}
}

// cleanupOrphans deletes every cached content the client can list. No
// display-name filter is applied, so caches created by other applications
// under the same API key are deleted too. Creation and restart paths both
// call it so stale caches never run at cost.
func (m *Manager) cleanupOrphans(ctx context.Context) {
	if m.client == nil {
		return
	}

	it := m.client.ListCachedContents(ctx)
	for {
		cc, err := it.Next()
		if err == iterator.Done {
			return
		}
		if err != nil {
			log.Printf("[CACHE] orphan listing failed: %v", err)
			return
		}
		if err := m.client.DeleteCachedContent(ctx, cc.Name); err != nil {
			log.Printf("[CACHE] failed to delete orphan %s: %v", cc.Name, err)
		} else {
			log.Printf("[CACHE] deleted orphan %s", cc.Name)
		}
	}
}

// CleanupOnStartup only deletes, never creates.
func (m *Manager) CleanupOnStartup(ctx context.Context) {
	log.Printf("[CACHE] startup cleanup: checking for orphan caches")
	m.cleanupOrphans(ctx)
}

// KillAll is the emergency switch: delete everything and forget local state.
func (m *Manager) KillAll(ctx context.Context) {
	m.cleanupOrphans(ctx)
	m.mu.Lock()
	m.name = ""
	m.createdAt = time.Time{}
	m.mu.Unlock()
	log.Printf("[CACHE] all caches deleted via kill switch")
}

// Status reports diagnostics for the status endpoint.
type Status struct {
	CacheName        string  `json:"cache_name"`
	CacheModel       string  `json:"cache_model"`
	CacheAvailable   bool    `json:"cache_available"`
	AgeMinutes       float64 `json:"cache_age_minutes"`
	TTLMinutes       float64 `json:"cache_ttl_minutes"`
	RemainingMinutes float64 `json:"cache_remaining_minutes"`
	LastError        string  `json:"last_error,omitempty"`
	DailyCreates     string  `json:"daily_creates"`
}

// Status returns the current cache diagnostics.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		CacheName:      m.name,
		CacheModel:     m.cfg.Model,
		CacheAvailable: m.isValidLocked(),
		TTLMinutes:     m.cfg.TTL.Minutes(),
		LastError:      m.lastErr,
		DailyCreates:   fmt.Sprintf("%d/%d", m.dailyCount, m.cfg.DailyCreates),
	}
	if !m.createdAt.IsZero() {
		elapsed := time.Since(m.createdAt)
		s.AgeMinutes = roundMinutes(elapsed)
		remaining := m.cfg.TTL - elapsed
		if remaining < 0 {
			remaining = 0
		}
		s.RemainingMinutes = roundMinutes(remaining)
	}
	return s
}

func roundMinutes(d time.Duration) float64 {
	return float64(int(d.Minutes()*10)) / 10
}
