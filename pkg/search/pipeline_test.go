package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexmx-backend/pkg/models"
	"lexmx-backend/pkg/search/client"
	"lexmx-backend/pkg/search/embedding"
	"lexmx-backend/pkg/search/planner"
	"lexmx-backend/pkg/search/silos"
)

type fakeStore struct {
	hybrid  map[string][]*models.Document // collection -> hits
	scrolls map[string][]*models.Document // collection -> docs (filter ignored)
}

func (f *fakeStore) HybridSearch(_ context.Context, p *client.HybridParams) ([]*models.Document, error) {
	docs := f.hybrid[p.Collection]
	out := make([]*models.Document, 0, len(docs))
	for _, d := range docs {
		copied := *d
		out = append(out, &copied)
	}
	if len(out) > p.TopK {
		out = out[:p.TopK]
	}
	return out, nil
}

func (f *fakeStore) Scroll(_ context.Context, collection string, _ *client.Filter, limit int) ([]*models.Document, error) {
	docs := f.scrolls[collection]
	out := make([]*models.Document, 0, len(docs))
	for _, d := range docs {
		copied := *d
		out = append(out, &copied)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) GetByID(_ context.Context, collection, id string) (*models.Document, error) {
	for _, d := range f.hybrid[collection] {
		if d.ID == id {
			copied := *d
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListCollections(_ context.Context) ([]string, error) {
	names := make([]string, 0, len(f.hybrid))
	for c := range f.hybrid {
		names = append(names, c)
	}
	return names, nil
}

func (f *fakeStore) Close() error { return nil }

type fakeDense struct{}

func (fakeDense) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, embedding.Dimensions), nil
}

type fakeSparse struct{}

func (fakeSparse) EncodeQuery(_ string) embedding.SparseVector { return embedding.SparseVector{} }

func newTestPipeline(store client.Store, collections []string) *Pipeline {
	return NewPipeline(
		store,
		silos.NewRouter(collections),
		fakeDense{},
		fakeSparse{},
		planner.NewAgent(nil), // default plan
		planner.NewHyde(nil),  // no HyDE, no decomposition
		nil,                   // no reranker
	)
}

func TestRetrieve_RequiresQuery(t *testing.T) {
	p := newTestPipeline(&fakeStore{}, []string{models.SiloFederal})
	_, err := p.Retrieve(context.Background(), &Request{Query: "  "})
	assert.Error(t, err)
}

func TestRetrieve_NoDuplicateIDs(t *testing.T) {
	store := &fakeStore{
		hybrid: map[string][]*models.Document{
			models.SiloFederal:        {{ID: "x", Score: 0.8, Silo: models.SiloFederal}},
			models.SiloJurisprudencia: {{ID: "x", Score: 0.7, Silo: models.SiloJurisprudencia}, {ID: "y", Score: 0.5, Silo: models.SiloJurisprudencia}},
		},
	}
	p := newTestPipeline(store, []string{models.SiloFederal, models.SiloJurisprudencia, models.SiloBloque})

	res, err := p.Retrieve(context.Background(), &Request{Query: "prescripción de la acción penal"})
	require.NoError(t, err)

	seen := map[string]int{}
	for _, d := range res.Documents {
		seen[d.ID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "id %s appears %d times", id, n)
	}
}

func TestRetrieve_DeterministicArticleOutranksSemantic(t *testing.T) {
	store := &fakeStore{
		hybrid: map[string][]*models.Document{
			models.SiloBloque: {{ID: "sem1", Score: 0.92, Silo: models.SiloBloque, Texto: "tesis previa"}},
		},
		scrolls: map[string][]*models.Document{
			models.SiloBloque: {{ID: "det1", Ref: "Art. 94 CPEUM", Silo: models.SiloBloque, Texto: "texto vigente"}},
		},
	}
	p := newTestPipeline(store, []string{models.SiloBloque, models.SiloJurisprudencia})

	res, err := p.Retrieve(context.Background(), &Request{Query: "artículo 94 CPEUM"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Documents)

	assert.Equal(t, "det1", res.Documents[0].ID)
	assert.GreaterOrEqual(t, res.Documents[0].Score, 2.0)
}

func TestRetrieve_TopKBounds(t *testing.T) {
	docs := make([]*models.Document, 30)
	for i := range docs {
		docs[i] = &models.Document{ID: string(rune('a' + i)), Score: float64(30-i) / 100, Silo: models.SiloFederal}
	}
	store := &fakeStore{hybrid: map[string][]*models.Document{models.SiloFederal: docs}}
	p := newTestPipeline(store, []string{models.SiloFederal, models.SiloJurisprudencia})

	res, err := p.Retrieve(context.Background(), &Request{Query: "contrato de compraventa mercantil", TopK: 1})
	require.NoError(t, err)
	assert.Len(t, res.Documents, 1)
}

func TestMergeWithSlots_EstadoPlacesEstatalFirst(t *testing.T) {
	hits := []*models.Document{
		{ID: "c1", Score: 0.99, Silo: models.SiloBloque},
		{ID: "e1", Score: 0.4, Silo: "leyes_queretaro"},
		{ID: "e2", Score: 0.3, Silo: "leyes_queretaro"},
		{ID: "j1", Score: 0.9, Silo: models.SiloJurisprudencia},
	}
	out := mergeWithSlots(hits, planner.DefaultPlan(""), 20, "QUERETARO", false)

	require.NotEmpty(t, out)
	assert.Equal(t, "e1", out[0].ID, "estatal bucket goes first when a state is selected")
}

func TestMergeWithSlots_DDHHMinimums(t *testing.T) {
	var hits []*models.Document
	for i := 0; i < 20; i++ {
		hits = append(hits, &models.Document{ID: "c" + string(rune('a'+i)), Score: 0.5, Silo: models.SiloBloque})
	}
	for i := 0; i < 20; i++ {
		hits = append(hits, &models.Document{ID: "f" + string(rune('a'+i)), Score: 0.9, Silo: models.SiloFederal})
	}
	out := mergeWithSlots(hits, planner.DefaultPlan(""), 10, "", true)

	constitucional := 0
	for _, d := range out {
		if d.Silo == models.SiloBloque {
			constitucional++
		}
	}
	assert.GreaterOrEqual(t, constitucional, 12)
}

func TestApplyMateriaThreshold(t *testing.T) {
	docs := []*models.Document{
		{ID: "top", Score: 0.9, Silo: models.SiloFederal, Jurisdiccion: "PENAL"},
		{ID: "off-far", Score: 0.5, Silo: models.SiloFederal, Jurisdiccion: "CIVIL"},
		{ID: "off-near", Score: 0.8, Silo: models.SiloFederal, Jurisdiccion: "CIVIL"},
		{ID: "general", Score: 0.2, Silo: models.SiloFederal, Jurisdiccion: "general"},
		{ID: "juris", Score: 0.1, Silo: models.SiloJurisprudencia, Jurisdiccion: "CIVIL"},
		{ID: "bloque", Score: 0.1, Silo: models.SiloBloque, Jurisdiccion: "CIVIL"},
	}
	out := applyMateriaThreshold(planner.MateriaPenal, docs)

	ids := map[string]bool{}
	for _, d := range out {
		ids[d.ID] = true
	}
	assert.True(t, ids["top"])
	assert.False(t, ids["off-far"], "off-materia far below top is dropped")
	assert.True(t, ids["off-near"], "off-materia within window survives")
	assert.True(t, ids["general"])
	assert.True(t, ids["juris"], "jurisprudencia never dropped")
	assert.True(t, ids["bloque"], "constitutional bloc never dropped")
}

func TestApplyMateriaThreshold_CaseInsensitive(t *testing.T) {
	docs := []*models.Document{
		{ID: "match", Score: 0.2, Silo: models.SiloFederal, Jurisdiccion: "penal"},
		{ID: "top", Score: 0.9, Silo: models.SiloFederal, Jurisdiccion: "PENAL"},
	}
	out := applyMateriaThreshold(planner.MateriaPenal, docs)
	assert.Len(t, out, 2)
}

func TestBoostArticleMatches(t *testing.T) {
	docs := []*models.Document{
		{ID: "hit", Score: 0.5, Texto: "El artículo 123 establece el derecho al trabajo"},
		{ID: "ref-hit", Score: 0.5, Ref: "Art. 123"},
		{ID: "miss", Score: 0.5, Texto: "El artículo 5 regula otra cosa"},
	}
	out := boostArticleMatches("qué dice el artículo 123", docs)

	byID := map[string]float64{}
	for _, d := range out {
		byID[d.ID] = d.Score
	}
	assert.Equal(t, 1.0, byID["hit"])
	assert.Equal(t, 1.0, byID["ref-hit"])
	assert.Equal(t, 0.5, byID["miss"])
}

func TestDedupe_KeepsFirst(t *testing.T) {
	docs := []*models.Document{
		{ID: "a", Score: 2.0},
		{ID: "a", Score: 0.5},
		{ID: "b", Score: 0.4},
	}
	out := dedupe(docs)
	require.Len(t, out, 2)
	assert.Equal(t, 2.0, out[0].Score)
}

func TestSortByScore_TieBreaksByID(t *testing.T) {
	docs := []*models.Document{
		{ID: "b", Score: 0.5},
		{ID: "a", Score: 0.5},
		{ID: "c", Score: 0.9},
	}
	sortByScore(docs)
	assert.Equal(t, []string{"c", "a", "b"}, []string{docs[0].ID, docs[1].ID, docs[2].ID})
}
