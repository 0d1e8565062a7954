package embedding

import (
	"context"
	"fmt"
	"log"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	// Dimensions of the dense vectors stored in every silo.
	Dimensions = 1536

	// maxInputChars truncates oversized inputs before embedding.
	maxInputChars = 30000

	// batchSize caps how many texts go into a single embeddings call.
	batchSize = 50
)

// DenseConfig configures the dense embedding client.
type DenseConfig struct {
	APIKey string
	Model  string
}

// DenseClient produces 1536-dim vectors from text. One instance is shared
// process-wide.
type DenseClient struct {
	api   openai.Client
	model string
}

// NewDenseClient creates a dense embedding client.
func NewDenseClient(cfg *DenseConfig) (*DenseClient, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding: API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	return &DenseClient{
		api:   openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model: model,
	}, nil
}

// Embed returns the dense vector for a single text.
func (c *DenseClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in batches of at most 50 inputs, truncating each
// input to the model's practical character limit.
func (c *DenseClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		inputs := make([]string, 0, end-start)
		for _, t := range texts[start:end] {
			inputs = append(inputs, truncate(t, maxInputChars))
		}

		resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model:      openai.EmbeddingModel(c.model),
			Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
			Dimensions: openai.Int(Dimensions),
		})
		if err != nil {
			return nil, fmt.Errorf("embedding: batch %d-%d failed: %w", start, end, err)
		}
		if len(resp.Data) != len(inputs) {
			return nil, fmt.Errorf("embedding: expected %d vectors, got %d", len(inputs), len(resp.Data))
		}

		for _, item := range resp.Data {
			vec := make([]float32, len(item.Embedding))
			for i, v := range item.Embedding {
				vec[i] = float32(v)
			}
			out = append(out, vec)
		}
	}

	log.Printf("[EMBED] embedded %d text(s) with %s", len(texts), c.model)
	return out, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
