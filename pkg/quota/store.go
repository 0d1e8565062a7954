// Package quota talks to the external user store for blocking and usage
// enforcement. Store outages must never take the service down: every check
// fails open and logs.
package quota

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Config points at the user store (Supabase REST surface).
type Config struct {
	URL        string
	ServiceKey string
}

// Result is the outcome of a consume or status call.
type Result struct {
	Allowed          bool   `json:"allowed"`
	Used             int    `json:"used"`
	Limit            int    `json:"limit"`
	SubscriptionType string `json:"subscription_type"`
}

// Store is the user-store client. A nil Store allows everything (quota
// enforcement disabled).
type Store struct {
	cfg        *Config
	httpClient *http.Client
}

// NewStore creates the client, or nil when no URL is configured.
func NewStore(cfg *Config) *Store {
	if cfg == nil || cfg.URL == "" {
		return nil
	}
	return &Store{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Store) rpc(ctx context.Context, fn string, args map[string]string, out interface{}) error {
	body, err := json.Marshal(args)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/rest/v1/rpc/%s", s.cfg.URL, fn)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.cfg.ServiceKey)
	req.Header.Set("Authorization", "Bearer "+s.cfg.ServiceKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("user store returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// IsBlocked reports whether the user is suspended. Fails open.
func (s *Store) IsBlocked(ctx context.Context, userID string) bool {
	if s == nil || userID == "" {
		return false
	}

	var blocked bool
	if err := s.rpc(ctx, "is_user_blocked", map[string]string{"p_user_id": userID}, &blocked); err != nil {
		log.Printf("[QUOTA] block check failed for %s, allowing: %v", userID, err)
		return false
	}
	return blocked
}

// ConsumeQuery atomically increments usage and returns the verdict. Fails
// open with Allowed=true.
func (s *Store) ConsumeQuery(ctx context.Context, userID string) *Result {
	if s == nil || userID == "" {
		return &Result{Allowed: true}
	}

	var result Result
	if err := s.rpc(ctx, "consume_query", map[string]string{"p_user_id": userID}, &result); err != nil {
		log.Printf("[QUOTA] consume failed for %s, allowing: %v", userID, err)
		return &Result{Allowed: true}
	}
	return &result
}

// Status returns usage counters without consuming.
func (s *Store) Status(ctx context.Context, userID string) (*Result, error) {
	if s == nil {
		return &Result{Allowed: true}, nil
	}
	if userID == "" {
		return nil, fmt.Errorf("quota: user id is required")
	}

	var result Result
	if err := s.rpc(ctx, "quota_status", map[string]string{"p_user_id": userID}, &result); err != nil {
		return nil, fmt.Errorf("quota: status failed: %w", err)
	}
	return &result, nil
}
