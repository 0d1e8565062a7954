package client

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"

	"lexmx-backend/pkg/models"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"

	// Dense-only score thresholds. The national jurisprudence silo uses a
	// lower cut because tesis headnotes embed further from colloquial queries.
	denseThreshold          = 0.03
	jurisprudenciaThreshold = 0.02

	// Prefetch width multiplier for fused queries.
	prefetchFactor = 5
)

// Config holds the connection settings for the vector store.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// Qdrant implements Store over a single long-lived gRPC client.
type Qdrant struct {
	client *qdrant.Client

	// sparse-configured flag per collection, probed once and cached.
	sparseMu    sync.RWMutex
	sparseKnown map[string]bool
}

var _ Store = (*Qdrant)(nil)

// NewQdrant connects to the vector store.
func NewQdrant(cfg *Config) (*Qdrant, error) {
	if cfg == nil || cfg.Host == "" {
		return nil, fmt.Errorf("qdrant: host is required")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &Qdrant{
		client:      client,
		sparseKnown: make(map[string]bool),
	}, nil
}

// hasSparse reports whether a collection has sparse vectors configured,
// caching the answer. Unknown collections are treated as dense-only.
func (q *Qdrant) hasSparse(ctx context.Context, collection string) bool {
	q.sparseMu.RLock()
	known, ok := q.sparseKnown[collection]
	q.sparseMu.RUnlock()
	if ok {
		return known
	}

	info, err := q.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		log.Printf("[QDRANT] collection info failed for %s: %v", collection, err)
		return false
	}

	sparse := false
	if cfg := info.GetConfig(); cfg != nil {
		if params := cfg.GetParams(); params != nil {
			sparse = len(params.GetSparseVectorsConfig().GetMap()) > 0
		}
	}

	q.sparseMu.Lock()
	q.sparseKnown[collection] = sparse
	q.sparseMu.Unlock()
	return sparse
}

func toQdrantFilter(f *Filter) *qdrant.Filter {
	if f == nil || len(f.Must) == 0 {
		return nil
	}
	out := &qdrant.Filter{}
	for _, c := range f.Must {
		if len(c.Any) > 0 {
			out.Must = append(out.Must, qdrant.NewMatchKeywords(c.Field, c.Any...))
			continue
		}
		out.Must = append(out.Must, qdrant.NewMatchKeyword(c.Field, c.Keyword))
	}
	return out
}

// HybridSearch implements the single-silo search contract: fused
// sparse+dense RRF when possible, dense-only otherwise, with retry-without-
// filter on missing-index errors and dense fallback on typing errors or empty
// hybrid results.
func (q *Qdrant) HybridSearch(ctx context.Context, params *HybridParams) ([]*models.Document, error) {
	if params.TopK <= 0 {
		return nil, nil
	}

	useHybrid := !params.Sparse.Empty() && q.hasSparse(ctx, params.Collection)

	if useHybrid {
		docs, err := q.fusedQuery(ctx, params, toQdrantFilter(params.Filter))
		if err == nil && len(docs) > 0 {
			return docs, nil
		}
		if err != nil {
			if isMissingIndexError(err) {
				docs, retryErr := q.fusedQuery(ctx, params, nil)
				if retryErr == nil && len(docs) > 0 {
					return docs, nil
				}
			} else if !isTypingError(err) {
				log.Printf("[QDRANT] hybrid query failed on %s: %v", params.Collection, err)
				return nil, nil
			}
		}
		// Sparse-encoder drift between ingestion and query time can leave a
		// fused query empty; fall through to dense-only.
		log.Printf("[QDRANT] hybrid empty on %s, falling back to dense", params.Collection)
	}

	return q.denseQuery(ctx, params, toQdrantFilter(params.Filter))
}

func (q *Qdrant) fusedQuery(ctx context.Context, params *HybridParams, filter *qdrant.Filter) ([]*models.Document, error) {
	prefetchLimit := uint64(prefetchFactor * params.TopK)

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: params.Collection,
		Prefetch: []*qdrant.PrefetchQuery{
			{
				Query:  qdrant.NewQuerySparse(params.Sparse.Indices, params.Sparse.Values),
				Using:  qdrant.PtrOf(sparseVectorName),
				Limit:  qdrant.PtrOf(prefetchLimit),
				Filter: filter,
			},
			{
				Query:  qdrant.NewQueryDense(params.Dense),
				Using:  qdrant.PtrOf(denseVectorName),
				Limit:  qdrant.PtrOf(prefetchLimit),
				Filter: filter,
			},
		},
		Query:       qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Limit:       qdrant.PtrOf(uint64(params.TopK)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	return q.scoredToDocuments(params.Collection, points), nil
}

func (q *Qdrant) denseQuery(ctx context.Context, params *HybridParams, filter *qdrant.Filter) ([]*models.Document, error) {
	threshold := float32(denseThreshold)
	if params.Collection == models.SiloJurisprudencia {
		threshold = jurisprudenciaThreshold
	}
	if params.Threshold > 0 {
		threshold = params.Threshold
	}

	query := &qdrant.QueryPoints{
		CollectionName: params.Collection,
		Query:          qdrant.NewQueryDense(params.Dense),
		Using:          qdrant.PtrOf(denseVectorName),
		Limit:          qdrant.PtrOf(uint64(params.TopK)),
		ScoreThreshold: qdrant.PtrOf(threshold),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         filter,
	}

	points, err := q.client.Query(ctx, query)
	if err != nil {
		if isMissingIndexError(err) && filter != nil {
			query.Filter = nil
			points, err = q.client.Query(ctx, query)
		}
		if err != nil {
			log.Printf("[QDRANT] dense query failed on %s: %v", params.Collection, err)
			return nil, nil
		}
	}
	return q.scoredToDocuments(params.Collection, points), nil
}

// Scroll pages points by payload filter in insertion order.
func (q *Qdrant) Scroll(ctx context.Context, collection string, filter *Filter, limit int) ([]*models.Document, error) {
	if limit <= 0 {
		limit = 100
	}

	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         toQdrantFilter(filter),
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		if isMissingIndexError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("qdrant: scroll on %s failed: %w", collection, err)
	}

	docs := make([]*models.Document, 0, len(points))
	for _, p := range points {
		docs = append(docs, q.retrievedToDocument(collection, p))
	}
	return docs, nil
}

// GetByID fetches one point by id.
func (q *Qdrant) GetByID(ctx context.Context, collection, id string) (*models.Document, error) {
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: get %s from %s failed: %w", id, collection, err)
	}
	if len(points) == 0 {
		return nil, nil
	}
	return q.retrievedToDocument(collection, points[0]), nil
}

// ListCollections returns every collection name in the store.
func (q *Qdrant) ListCollections(ctx context.Context) ([]string, error) {
	names, err := q.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("qdrant: list collections failed: %w", err)
	}
	return names, nil
}

// Close releases the gRPC connection.
func (q *Qdrant) Close() error {
	return q.client.Close()
}

func (q *Qdrant) scoredToDocuments(collection string, points []*qdrant.ScoredPoint) []*models.Document {
	docs := make([]*models.Document, 0, len(points))
	for _, p := range points {
		doc := payloadToDocument(collection, p.GetPayload())
		doc.ID = pointIDString(p.GetId())
		doc.Score = float64(p.GetScore())
		docs = append(docs, doc)
	}
	return docs
}

func (q *Qdrant) retrievedToDocument(collection string, p *qdrant.RetrievedPoint) *models.Document {
	doc := payloadToDocument(collection, p.GetPayload())
	doc.ID = pointIDString(p.GetId())
	return doc
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func payloadToDocument(collection string, payload map[string]*qdrant.Value) *models.Document {
	doc := &models.Document{Silo: collection}
	if payload == nil {
		return doc
	}

	str := func(key string) string {
		if v, ok := payload[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}

	doc.Texto = str("texto")
	doc.Ref = str("ref")
	doc.Origen = str("origen")
	doc.Entidad = str("entidad")
	doc.Jurisdiccion = str("jurisdiccion")
	doc.PDFURL = str("pdf_url")
	doc.Registro = str("registro")
	doc.Instancia = str("instancia")
	doc.Tesis = str("tesis")
	doc.Tipo = str("tipo")

	if v, ok := payload["chunk_index"]; ok {
		doc.ChunkIndex = int(v.GetIntegerValue())
	}

	// Dedicated state collections often omit entidad from the payload; the
	// collection name carries it.
	if doc.Entidad == "" && collection != models.SiloEstatalLegacy && strings.HasPrefix(collection, "leyes_") {
		doc.Entidad = strings.ToUpper(strings.TrimPrefix(collection, "leyes_"))
	}
	return doc
}

// isMissingIndexError matches the 400 the store returns when a payload filter
// targets a field without a keyword index.
func isMissingIndexError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "index required") ||
		strings.Contains(msg, "index_required") ||
		strings.Contains(msg, "not found: index")
}

// isTypingError matches client-side construction failures (bad vector shapes
// and similar), which are retried dense-only rather than surfaced.
func isTypingError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalidargument") ||
		strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "wrong input")
}
