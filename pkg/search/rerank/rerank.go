package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"lexmx-backend/pkg/models"
)

const (
	// maxDocumentChars truncates candidate texts before sending them to the
	// rerank service.
	maxDocumentChars = 2000

	requestTimeout = 10 * time.Second
)

// Config holds the rerank service settings. An empty URL disables reranking.
type Config struct {
	URL    string
	APIKey string
	Model  string
}

// Client calls an external cross-encoder rerank service. On any failure the
// caller keeps the original candidate order.
type Client struct {
	cfg        *Config
	httpClient *http.Client
}

// NewClient creates a rerank client, or nil when no URL is configured.
func NewClient(cfg *Config) *Client {
	if cfg == nil || cfg.URL == "" {
		return nil
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank re-scores candidates against the original query and returns the top
// topN in relevance order, with Score replaced by the cross-encoder
// relevance. Returns the input unchanged (trimmed to topN) on any error.
func (c *Client) Rerank(ctx context.Context, query string, candidates []*models.Document, topN int) []*models.Document {
	if c == nil || len(candidates) == 0 {
		return trim(candidates, topN)
	}

	texts := make([]string, len(candidates))
	for i, d := range candidates {
		if len(d.Texto) > maxDocumentChars {
			texts[i] = d.Texto[:maxDocumentChars]
		} else {
			texts[i] = d.Texto
		}
	}

	body, err := json.Marshal(rerankRequest{
		Model:     c.cfg.Model,
		Query:     query,
		Documents: texts,
		TopN:      topN,
	})
	if err != nil {
		return trim(candidates, topN)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return trim(candidates, topN)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[RERANK] request failed, keeping original order: %v", err)
		return trim(candidates, topN)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Printf("[RERANK] service returned %d: %s", resp.StatusCode, string(payload))
		return trim(candidates, topN)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		log.Printf("[RERANK] unparseable response, keeping original order: %v", err)
		return trim(candidates, topN)
	}
	if len(parsed.Results) == 0 {
		return trim(candidates, topN)
	}

	out := make([]*models.Document, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		doc := candidates[r.Index]
		doc.Score = r.RelevanceScore
		out = append(out, doc)
	}
	if len(out) == 0 {
		return trim(candidates, topN)
	}
	return trim(out, topN)
}

// Enabled reports whether a rerank service is configured.
func (c *Client) Enabled() bool {
	return c != nil
}

func trim(docs []*models.Document, topN int) []*models.Document {
	if topN > 0 && len(docs) > topN {
		return docs[:topN]
	}
	return docs
}
