package search

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"lexmx-backend/pkg/models"
	"lexmx-backend/pkg/search/articles"
	"lexmx-backend/pkg/search/client"
	"lexmx-backend/pkg/search/embedding"
	"lexmx-backend/pkg/search/planner"
	"lexmx-backend/pkg/search/rerank"
	"lexmx-backend/pkg/search/silos"
)

const (
	// DefaultTopK is the per-silo and final result size when the client does
	// not ask for one.
	DefaultTopK = 40
	// MaxTopK bounds the client-requested size.
	MaxTopK = 80

	// minJurisprudenciaHits below which the jurisprudence boost fires.
	minJurisprudenciaHits = 5
	// boostThreshold is the very low dense cut for boost searches.
	boostThreshold = 0.01

	// articleBoost is added to candidates matching an explicitly named
	// article number.
	articleBoost = 0.5

	// materiaScoreWindow: off-materia candidates more than this far below the
	// top score are dropped.
	materiaScoreWindow = 0.25

	// neighborScore is attached to adjacent-article chunks.
	neighborScore = 0.15
	// neighborMinScore gates which legislative hits get neighbor fetching.
	neighborMinScore = 0.4
	// neighborCap bounds neighbor chunks added per turn.
	neighborCap = 6

	// enrichmentCap bounds cross-silo enrichment hits added per turn.
	enrichmentCap = 8

	// preTrimMargin keeps this many extra candidates for the reranker.
	preTrimMargin = 10
)

var ddhhRe = regexp.MustCompile(`(?i)derechos\s+humanos|pacto\s+de\s+san\s+jos[ée]|convenci[óo]n\s+americana|debido\s+proceso|corte\s+interamericana|dignidad\s+humana|control\s+de\s+convencionalidad`)

// Request is one retrieval turn.
type Request struct {
	Query   string
	Estado  string // raw user input, normalized internally
	Fuero   string // manual override: constitucional|federal|estatal
	Materia string // manual override of the detected materia
	TopK    int
}

// Result is the ranked candidate set plus the plan that produced it.
type Result struct {
	Documents []*models.Document
	Plan      *planner.Plan
	Entidad   string

	// MultiEstados is set for cross-state comparison queries; the assembler
	// groups state law under per-state markers when present.
	MultiEstados []string
}

// Pipeline runs the full hybrid multi-silo retrieval flow.
type Pipeline struct {
	store    client.Store
	router   *silos.Router
	dense    denseEmbedder
	sparse   sparseEncoder
	agent    *planner.Agent
	hyde     *planner.Hyde
	articles *articles.Fetcher
	reranker *rerank.Client
}

// denseEmbedder and sparseEncoder are the embedding surfaces the pipeline
// needs; satisfied by embedding.DenseClient and embedding.BM25Encoder.
type denseEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type sparseEncoder interface {
	EncodeQuery(text string) embedding.SparseVector
}

// NewPipeline wires the retrieval pipeline from its shared clients.
func NewPipeline(store client.Store, router *silos.Router, dense denseEmbedder, sparse sparseEncoder, agent *planner.Agent, hyde *planner.Hyde, reranker *rerank.Client) *Pipeline {
	return &Pipeline{
		store:    store,
		router:   router,
		dense:    dense,
		sparse:   sparse,
		agent:    agent,
		hyde:     hyde,
		articles: articles.NewFetcher(store),
		reranker: reranker,
	}
}

// Retrieve produces the final ranked candidate list for a query.
func (p *Pipeline) Retrieve(ctx context.Context, req *Request) (*Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("search: query is required")
	}
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	entidad := silos.NormalizeEstado(req.Estado)

	// Pre-search LLM work and the deterministic fetch run in parallel; none
	// of them is allowed to fail the turn.
	var (
		plan          *planner.Plan
		hypothetical  string
		subQueries    []string
		deterministic []*models.Document
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		plan = p.agent.Analyze(gctx, req.Query, req.Fuero)
		return nil
	})
	g.Go(func() error {
		hypothetical = p.hyde.Hypothetical(gctx, req.Query)
		return nil
	})
	g.Go(func() error {
		subQueries = p.hyde.Decompose(gctx, req.Query)
		return nil
	})
	g.Go(func() error {
		deterministic = p.articles.Fetch(gctx, req.Query)
		return nil
	})
	_ = g.Wait()

	if req.Materia != "" {
		plan.MateriaPrincipal = planner.Materia(strings.ToLower(req.Materia))
	}

	// Dense vector from the hypothetical document, sparse from the
	// synonym-expanded original query. Both embeddings in parallel.
	var (
		denseVec  []float32
		sparseVec embedding.SparseVector
	)
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := p.dense.Embed(gctx, hypothetical)
		if err != nil {
			return fmt.Errorf("dense embedding failed: %w", err)
		}
		denseVec = vec
		return nil
	})
	g.Go(func() error {
		sparseVec = p.sparse.EncodeQuery(planner.ExpandSynonyms(req.Query))
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fuero := string(plan.FueroDetectado)
	if fuero == string(planner.FueroMixto) {
		fuero = ""
	}
	targets := p.router.Route(fuero, req.Estado)

	// Cross-state comparisons pull every named state's silo in, regardless
	// of the routed fuero.
	var multiEstados []string
	if entidad == "" {
		if detected := silos.DetectEstados(req.Query); len(detected) >= 2 {
			multiEstados = detected
			targets = addEstadoTargets(p.router, targets, detected)
			log.Printf("[PIPELINE] multi-state query: %s", strings.Join(detected, ", "))
		}
	}

	hits := p.searchAll(ctx, targets, denseVec, sparseVec, topK)

	ddhhMode := plan.RequiereDDHH || ddhhRe.MatchString(req.Query)
	merged := mergeWithSlots(hits, plan, topK, entidad, ddhhMode)

	// Deterministic hits go in front and own their ids.
	merged = dedupe(append(deterministic, merged...))
	injected := lo.SliceToMap(deterministic, func(d *models.Document) (string, struct{}) {
		return d.ID, struct{}{}
	})

	merged = p.boostJurisprudencia(ctx, req.Query, plan, denseVec, merged)
	merged = boostArticleMatches(req.Query, merged)

	// Enrichment passes read the merged snapshot and only append.
	var (
		mu        sync.Mutex
		additions []*models.Document
	)
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		docs := p.crossSiloEnrichment(gctx, merged)
		mu.Lock()
		additions = append(additions, docs...)
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		docs := p.fetchNeighbors(gctx, merged)
		mu.Lock()
		additions = append(additions, docs...)
		mu.Unlock()
		return nil
	})
	for _, sub := range subQueries {
		g.Go(func() error {
			docs := p.searchSubQuery(gctx, sub, targets, sparseVec)
			mu.Lock()
			additions = append(additions, docs...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	merged = dedupe(append(merged, additions...))

	merged = applyMateriaThreshold(plan.MateriaPrincipal, merged)

	// Pre-trim, then hand the semantic candidates to the cross-encoder.
	// Injected documents are held out so no downstream stage can displace
	// them.
	sortByScore(merged)
	if len(merged) > topK+preTrimMargin {
		merged = merged[:topK+preTrimMargin]
	}

	var held, semantic []*models.Document
	for _, d := range merged {
		if _, ok := injected[d.ID]; ok {
			held = append(held, d)
		} else {
			semantic = append(semantic, d)
		}
	}
	semanticSlots := topK - len(held)
	if semanticSlots < 0 {
		semanticSlots = 0
	}
	if p.reranker.Enabled() {
		semantic = p.reranker.Rerank(ctx, req.Query, semantic, semanticSlots)
	} else if len(semantic) > semanticSlots {
		semantic = semantic[:semanticSlots]
	}

	final := append(held, semantic...)
	sortByScore(final)

	log.Printf("[PIPELINE] %d candidate(s) for fuero=%s materia=%s estado=%s", len(final), plan.FueroDetectado, plan.MateriaPrincipal, entidad)
	return &Result{Documents: final, Plan: plan, Entidad: entidad, MultiEstados: multiEstados}, nil
}

// addEstadoTargets unions the dedicated (or legacy-filtered) silos of each
// named state into the target list.
func addEstadoTargets(router *silos.Router, targets []silos.Target, detected []string) []silos.Target {
	have := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		have[t.Collection+"/"+t.Entidad] = struct{}{}
	}
	for _, estado := range detected {
		for _, t := range router.Route("estatal", estado) {
			key := t.Collection + "/" + t.Entidad
			if _, dup := have[key]; dup {
				continue
			}
			have[key] = struct{}{}
			targets = append(targets, t)
		}
	}
	return targets
}

// searchAll fans out one hybrid search per target and tags results by silo.
func (p *Pipeline) searchAll(ctx context.Context, targets []silos.Target, denseVec []float32, sparseVec embedding.SparseVector, topK int) []*models.Document {
	var (
		mu   sync.Mutex
		hits []*models.Document
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, target := range targets {
		g.Go(func() error {
			docs, err := p.store.HybridSearch(gctx, &client.HybridParams{
				Collection: target.Collection,
				Dense:      denseVec,
				Sparse:     sparseVec,
				Filter:     client.EntidadFilter(target.Entidad),
				TopK:       topK,
			})
			if err != nil {
				log.Printf("[PIPELINE] silo %s contributed zero: %v", target.Collection, err)
				return nil
			}
			mu.Lock()
			hits = append(hits, docs...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return hits
}

// bucketKey classifies a hit for slot allocation.
func bucketKey(doc *models.Document) string {
	switch models.HierarchyForSilo(doc.Silo) {
	case models.HierarchyConstitucion:
		return planner.PesoConstitucional
	case models.HierarchyLeyFederal:
		return planner.PesoFederal
	case models.HierarchyJurisprudencia:
		return planner.PesoJurisprudencia
	default:
		return planner.PesoEstatal
	}
}

// mergeWithSlots buckets hits by hierarchy category and takes a quota from
// each, per the DDHH / explicit-state / weighted policies.
func mergeWithSlots(hits []*models.Document, plan *planner.Plan, topK int, entidad string, ddhhMode bool) []*models.Document {
	buckets := map[string][]*models.Document{}
	for _, d := range hits {
		key := bucketKey(d)
		buckets[key] = append(buckets[key], d)
	}
	for _, b := range buckets {
		sort.Slice(b, func(i, j int) bool { return b[i].Score > b[j].Score })
	}

	var order []string
	slots := map[string]int{}

	switch {
	case ddhhMode:
		order = []string{planner.PesoConstitucional, planner.PesoJurisprudencia, planner.PesoFederal, planner.PesoEstatal}
		slots[planner.PesoConstitucional] = 12
		slots[planner.PesoJurisprudencia] = 6
		slots[planner.PesoFederal] = 6
		slots[planner.PesoEstatal] = 3
	case entidad != "":
		// State-law primacy: estatal first in output order.
		order = []string{planner.PesoEstatal, planner.PesoJurisprudencia, planner.PesoFederal, planner.PesoConstitucional}
		slots[planner.PesoEstatal] = 15
		slots[planner.PesoJurisprudencia] = 8
		slots[planner.PesoFederal] = 5
		slots[planner.PesoConstitucional] = 4
	default:
		order = []string{planner.PesoConstitucional, planner.PesoFederal, planner.PesoEstatal, planner.PesoJurisprudencia}
		budget := float64(topK) * 1.5
		for _, key := range order {
			n := int(plan.PesosSilos[key] * budget)
			if n < 3 {
				n = 3
			}
			slots[key] = n
		}
	}

	var out []*models.Document
	for _, key := range order {
		bucket := buckets[key]
		n := slots[key]
		if n > len(bucket) {
			n = len(bucket)
		}
		out = append(out, bucket[:n]...)
		buckets[key] = bucket[n:]
	}

	// Remaining capacity is filled with the best leftovers regardless of
	// bucket.
	capacity := int(float64(topK) * 1.5)
	if len(out) > capacity {
		capacity = len(out)
	}
	var leftovers []*models.Document
	for _, key := range order {
		leftovers = append(leftovers, buckets[key]...)
	}
	sort.Slice(leftovers, func(i, j int) bool { return leftovers[i].Score > leftovers[j].Score })
	for _, d := range leftovers {
		if len(out) >= capacity {
			break
		}
		out = append(out, d)
	}
	return out
}

// boostJurisprudencia runs extra low-threshold searches when the merged set
// is thin on tesis.
func (p *Pipeline) boostJurisprudencia(ctx context.Context, query string, plan *planner.Plan, denseVec []float32, merged []*models.Document) []*models.Document {
	count := 0
	for _, d := range merged {
		if d.Silo == models.SiloJurisprudencia {
			count++
		}
	}
	if count >= minJurisprudenciaHits {
		return merged
	}

	variants := []string{
		"tesis jurisprudencia SCJN " + query,
		strings.Join(plan.ConceptosJuridicos, " "),
		"primera sala segunda sala pleno " + query,
	}

	var (
		mu    sync.Mutex
		extra []*models.Document
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, variant := range variants {
		if strings.TrimSpace(variant) == "" {
			continue
		}
		g.Go(func() error {
			vec, err := p.dense.Embed(gctx, variant)
			if err != nil {
				return nil
			}
			docs, err := p.store.HybridSearch(gctx, &client.HybridParams{
				Collection: models.SiloJurisprudencia,
				Dense:      vec,
				TopK:       10,
				Threshold:  boostThreshold,
			})
			if err != nil {
				return nil
			}
			mu.Lock()
			extra = append(extra, docs...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(extra) > 0 {
		log.Printf("[PIPELINE] jurisprudence boost added %d candidate(s)", len(extra))
	}
	return dedupe(append(merged, extra...))
}

// boostArticleMatches raises candidates whose text names an explicitly
// requested article number.
func boostArticleMatches(query string, docs []*models.Document) []*models.Document {
	numbers := articles.ExtractNumbers(query)
	if len(numbers) == 0 {
		return docs
	}

	patterns := make([]*regexp.Regexp, 0, len(numbers))
	for _, n := range numbers {
		patterns = append(patterns, regexp.MustCompile(`(?i)art[íi]culo\s+`+regexp.QuoteMeta(n)+`\b|art\.\s*`+regexp.QuoteMeta(n)+`\b`))
	}

	for _, d := range docs {
		for _, re := range patterns {
			if re.MatchString(d.Texto) || re.MatchString(d.Ref) {
				d.Score += articleBoost
				break
			}
		}
	}
	return docs
}

var leyRefRe = regexp.MustCompile(`(?i)(ley|c[óo]digo)\s+([A-Za-zÁÉÍÓÚáéíóúÑñ ]{3,60}?)[,.;]?\s+art[íi]culo\s+(\d+)`)

// crossSiloEnrichment parses explicit ley+article references out of the top
// legislative hits and issues targeted follow-up searches.
func (p *Pipeline) crossSiloEnrichment(ctx context.Context, merged []*models.Document) []*models.Document {
	type ref struct{ ley, articulo string }
	var refs []ref
	seen := map[string]struct{}{}

	for _, d := range merged {
		if models.HierarchyForSilo(d.Silo) == models.HierarchyJurisprudencia {
			continue
		}
		for _, m := range leyRefRe.FindAllStringSubmatch(d.Texto, 2) {
			key := strings.ToLower(m[2] + "/" + m[3])
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			refs = append(refs, ref{ley: strings.TrimSpace(m[1] + " " + m[2]), articulo: m[3]})
			if len(refs) >= 3 {
				break
			}
		}
		if len(refs) >= 3 {
			break
		}
	}
	if len(refs) == 0 {
		return nil
	}

	var (
		mu  sync.Mutex
		out []*models.Document
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range refs {
		queries := map[string]string{
			models.SiloJurisprudencia: fmt.Sprintf("jurisprudencia %s artículo %s", r.ley, r.articulo),
			models.SiloBloque:         fmt.Sprintf("constitución %s artículo %s", r.ley, r.articulo),
		}
		for silo, q := range queries {
			g.Go(func() error {
				vec, err := p.dense.Embed(gctx, q)
				if err != nil {
					return nil
				}
				docs, err := p.store.HybridSearch(gctx, &client.HybridParams{
					Collection: silo,
					Dense:      vec,
					TopK:       4,
				})
				if err != nil {
					return nil
				}
				mu.Lock()
				out = append(out, docs...)
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()

	out = dedupe(out)
	if len(out) > enrichmentCap {
		out = out[:enrichmentCap]
	}
	return out
}

var refNumberRe = regexp.MustCompile(`(\d+)`)

// fetchNeighbors pulls the N-1 and N+1 articles of high-score legislative
// hits from the same origen, attached at a low fixed score.
func (p *Pipeline) fetchNeighbors(ctx context.Context, merged []*models.Document) []*models.Document {
	var out []*models.Document
	for _, d := range merged {
		if len(out) >= neighborCap {
			break
		}
		level := models.HierarchyForSilo(d.Silo)
		if level == models.HierarchyJurisprudencia || d.Score <= neighborMinScore || d.Origen == "" {
			continue
		}
		m := refNumberRe.FindStringSubmatch(d.Ref)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		for _, neighbor := range []int{n - 1, n + 1} {
			if neighbor < 1 || len(out) >= neighborCap {
				continue
			}
			variants := []string{
				fmt.Sprintf("Art. %d", neighbor),
				fmt.Sprintf("Artículo %d", neighbor),
				fmt.Sprintf("Art. %d CPEUM", neighbor),
			}
			filter := &client.Filter{Must: []client.Condition{
				{Field: "origen", Keyword: d.Origen},
				{Field: "ref", Any: variants},
			}}
			docs, err := p.store.Scroll(ctx, d.Silo, filter, 2)
			if err != nil {
				continue
			}
			for _, doc := range docs {
				doc.Score = neighborScore
				out = append(out, doc)
			}
		}
	}
	return out
}

// searchSubQuery runs one decomposition sub-query against the top 4 silos.
func (p *Pipeline) searchSubQuery(ctx context.Context, sub string, targets []silos.Target, sparseVec embedding.SparseVector) []*models.Document {
	vec, err := p.dense.Embed(ctx, sub)
	if err != nil {
		log.Printf("[PIPELINE] sub-query embed failed: %v", err)
		return nil
	}

	limit := 4
	if len(targets) < limit {
		limit = len(targets)
	}

	var (
		mu  sync.Mutex
		out []*models.Document
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, target := range targets[:limit] {
		g.Go(func() error {
			docs, err := p.store.HybridSearch(gctx, &client.HybridParams{
				Collection: target.Collection,
				Dense:      vec,
				Sparse:     sparseVec,
				Filter:     client.EntidadFilter(target.Entidad),
				TopK:       10,
			})
			if err != nil {
				return nil
			}
			mu.Lock()
			out = append(out, docs...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// applyMateriaThreshold drops off-materia candidates that are clearly worse
// than the best hit. Jurisprudencia and constitutional-bloc entries are never
// dropped.
func applyMateriaThreshold(materia planner.Materia, docs []*models.Document) []*models.Document {
	if materia == "" || len(docs) == 0 {
		return docs
	}

	top := 0.0
	for _, d := range docs {
		if d.Score > top {
			top = d.Score
		}
	}

	out := docs[:0]
	for _, d := range docs {
		if d.Silo == models.SiloJurisprudencia || d.Silo == models.SiloBloque {
			out = append(out, d)
			continue
		}
		j := strings.ToLower(d.Jurisdiccion)
		offMateria := j != "" && j != "general" && j != string(materia)
		if offMateria && d.Score < top-materiaScoreWindow {
			continue
		}
		out = append(out, d)
	}
	return out
}

// dedupe keeps the first occurrence of every document id.
func dedupe(docs []*models.Document) []*models.Document {
	seen := make(map[string]struct{}, len(docs))
	out := docs[:0:0]
	for _, d := range docs {
		if _, dup := seen[d.ID]; dup {
			continue
		}
		seen[d.ID] = struct{}{}
		out = append(out, d)
	}
	return out
}

// sortByScore orders by descending score with id as the deterministic
// tie-break.
func sortByScore(docs []*models.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].ID < docs[j].ID
	})
}
