package client

import (
	"context"

	"lexmx-backend/pkg/models"
	"lexmx-backend/pkg/search/embedding"
)

// Condition is one payload constraint. Keyword matches exactly; Any matches
// any of the listed values.
type Condition struct {
	Field   string
	Keyword string
	Any     []string
}

// Filter is the conjunction of payload conditions applied to a search or
// scroll.
type Filter struct {
	Must []Condition
}

// EntidadFilter constrains results to one Mexican state.
func EntidadFilter(entidad string) *Filter {
	if entidad == "" {
		return nil
	}
	return &Filter{Must: []Condition{{Field: "entidad", Keyword: entidad}}}
}

// HybridParams are the inputs of a single-silo search.
type HybridParams struct {
	Collection string
	Dense      []float32
	Sparse     embedding.SparseVector
	Filter     *Filter
	TopK       int

	// Threshold overrides the stage-default dense score cut when positive.
	Threshold float32
}

// Store is the vector-store surface the retrieval pipeline depends on.
type Store interface {
	// HybridSearch runs sparse+dense RRF fusion when the collection has
	// sparse vectors configured, dense-only otherwise. Errors degrade to an
	// empty result inside the implementation wherever retrying is possible.
	HybridSearch(ctx context.Context, params *HybridParams) ([]*models.Document, error)

	// Scroll pages points by payload filter without vector scoring.
	Scroll(ctx context.Context, collection string, filter *Filter, limit int) ([]*models.Document, error)

	// GetByID fetches a single point by id from one collection.
	GetByID(ctx context.Context, collection, id string) (*models.Document, error)

	// ListCollections returns every collection name known to the store.
	ListCollections(ctx context.Context) ([]string, error)

	// Close releases the underlying connection.
	Close() error
}
