package embedding

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeModelFile(t *testing.T, model map[string]interface{}) string {
	t.Helper()
	data, err := json.Marshal(model)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bm25.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func waitReady(t *testing.T, e *BM25Encoder) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !e.Ready() {
		if time.Now().After(deadline) {
			t.Fatal("encoder never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "strips stopwords and accents",
			input:    "¿Qué dice el artículo 14 de la Constitución?",
			expected: []string{"articulo", "14", "constitucion"},
		},
		{
			name:     "drops single chars",
			input:    "a b homicidio",
			expected: []string{"homicidio"},
		},
		{
			name:     "empty input",
			input:    "",
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.expected, Tokenize(tt.input))
		})
	}
}

func TestBM25Encoder_NotLoadedReturnsEmpty(t *testing.T) {
	e := NewBM25Encoder(filepath.Join(t.TempDir(), "missing.json"))
	vec := e.EncodeQuery("amparo directo")
	assert.True(t, vec.Empty())
}

func TestBM25Encoder_LoadFailureStaysEmpty(t *testing.T) {
	e := NewBM25Encoder(filepath.Join(t.TempDir(), "missing.json"))
	e.Start(context.Background())

	time.Sleep(50 * time.Millisecond)
	assert.False(t, e.Ready())
	assert.True(t, e.EncodeQuery("amparo").Empty())
}

func TestBM25Encoder_EncodeQuery(t *testing.T) {
	path := writeModelFile(t, map[string]interface{}{
		"k1":     1.2,
		"b":      0.75,
		"avgdl":  100.0,
		"n_docs": 10000,
		"df": map[string]float64{
			"amparo":    500,
			"homicidio": 120,
		},
	})

	e := NewBM25Encoder(path)
	e.Start(context.Background())
	waitReady(t, e)

	vec := e.EncodeQuery("amparo contra homicidio")
	require.False(t, vec.Empty())
	require.Len(t, vec.Indices, len(vec.Values))

	// Rarer terms weigh more.
	weights := map[uint32]float32{}
	for i, idx := range vec.Indices {
		weights[idx] = vec.Values[i]
	}
	assert.Greater(t, weights[termID("homicidio")], weights[termID("amparo")])
}

func TestBM25Encoder_UnseenTermStillWeighted(t *testing.T) {
	path := writeModelFile(t, map[string]interface{}{
		"n_docs": 1000,
		"df":     map[string]float64{"amparo": 10},
	})

	e := NewBM25Encoder(path)
	e.Start(context.Background())
	waitReady(t, e)

	vec := e.EncodeQuery("usucapion")
	assert.False(t, vec.Empty())
}
