package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexmx-backend/pkg/models"
)

func candidates() []*models.Document {
	return []*models.Document{
		{ID: "a", Score: 0.9, Texto: "primero"},
		{ID: "b", Score: 0.8, Texto: "segundo"},
		{ID: "c", Score: 0.7, Texto: "tercero"},
	}
}

func TestRerank_ReplacesScoresAndReorders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "plazo para apelar", req.Query)
		assert.Len(t, req.Documents, 3)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"index": 2, "relevance_score": 0.99},
				{"index": 0, "relevance_score": 0.42},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(&Config{URL: srv.URL, Model: "rerank-multilingual"})
	out := c.Rerank(context.Background(), "plazo para apelar", candidates(), 2)

	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].ID)
	assert.Equal(t, 0.99, out[0].Score)
	assert.Equal(t, "a", out[1].ID)
	assert.Equal(t, 0.42, out[1].Score)
}

func TestRerank_ServiceErrorKeepsOriginalOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(&Config{URL: srv.URL})
	out := c.Rerank(context.Background(), "q", candidates(), 2)

	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, 0.9, out[0].Score, "scores untouched on failure")
}

func TestRerank_NilClientTrims(t *testing.T) {
	var c *Client
	out := c.Rerank(context.Background(), "q", candidates(), 1)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
	assert.False(t, c.Enabled())
}

func TestRerank_IgnoresOutOfRangeIndexes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"index": 99, "relevance_score": 0.9},
				{"index": 1, "relevance_score": 0.5},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(&Config{URL: srv.URL})
	out := c.Rerank(context.Background(), "q", candidates(), 5)

	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)
}

func TestNewClient_NoURLDisabled(t *testing.T) {
	assert.Nil(t, NewClient(nil))
	assert.Nil(t, NewClient(&Config{}))
}
