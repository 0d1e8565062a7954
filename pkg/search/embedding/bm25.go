package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"os"
	"strings"
	"sync"
	"unicode"
)

// SparseVector is a BM25-weighted sparse representation: parallel term-id and
// weight slices as the vector store expects them.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// Empty reports whether the vector carries no terms.
func (v SparseVector) Empty() bool {
	return len(v.Indices) == 0
}

// bm25Model is the statistics file produced at ingestion time: document
// frequencies plus corpus-level constants.
type bm25Model struct {
	K1    float64            `json:"k1"`
	B     float64            `json:"b"`
	AvgDL float64            `json:"avgdl"`
	NDocs int                `json:"n_docs"`
	DF    map[string]float64 `json:"df"`
}

// BM25Encoder produces sparse query vectors. The statistics file is loaded
// lazily on a background goroutine so startup stays fast; queries arriving
// before the load completes get an empty vector and the pipeline degrades to
// dense-only.
type BM25Encoder struct {
	path string

	mu      sync.RWMutex
	model   *bm25Model
	loadErr error
}

// NewBM25Encoder creates an encoder for the given statistics file path.
func NewBM25Encoder(path string) *BM25Encoder {
	return &BM25Encoder{path: path}
}

// Start launches the background load. Safe to call once at startup.
func (e *BM25Encoder) Start(ctx context.Context) {
	go func() {
		model, err := loadBM25Model(e.path)
		e.mu.Lock()
		e.model = model
		e.loadErr = err
		e.mu.Unlock()
		if err != nil {
			log.Printf("[BM25] model load failed, sparse search disabled: %v", err)
			return
		}
		log.Printf("[BM25] model loaded: %d terms, %d docs, avgdl=%.1f", len(model.DF), model.NDocs, model.AvgDL)
	}()
}

// Ready reports whether the model finished loading successfully.
func (e *BM25Encoder) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model != nil
}

func loadBM25Model(path string) (*bm25Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var m bm25Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if m.K1 == 0 {
		m.K1 = 1.2
	}
	if m.B == 0 {
		m.B = 0.75
	}
	if m.AvgDL == 0 {
		m.AvgDL = 256
	}
	if m.NDocs == 0 {
		return nil, fmt.Errorf("model %s has no document count", path)
	}
	return &m, nil
}

// EncodeQuery produces the sparse vector for a query. Returns an empty vector
// while the model is still loading or failed to load.
func (e *BM25Encoder) EncodeQuery(text string) SparseVector {
	e.mu.RLock()
	model := e.model
	e.mu.RUnlock()
	if model == nil {
		return SparseVector{}
	}

	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return SparseVector{}
	}

	tf := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}

	dl := float64(len(tokens))
	var vec SparseVector
	for tok, freq := range tf {
		idf := model.idf(tok)
		if idf <= 0 {
			continue
		}
		weight := idf * (freq * (model.K1 + 1)) / (freq + model.K1*(1-model.B+model.B*dl/model.AvgDL))
		vec.Indices = append(vec.Indices, termID(tok))
		vec.Values = append(vec.Values, float32(weight))
	}
	return vec
}

func (m *bm25Model) idf(token string) float64 {
	df := m.DF[token]
	// Unseen terms still get a small positive weight so novel legal vocabulary
	// is not dropped entirely.
	if df == 0 {
		df = 0.5
	}
	return math.Log(1 + (float64(m.NDocs)-df+0.5)/(df+0.5))
}

// termID hashes a token into the sparse vector index space, matching the
// hashing used at ingestion time.
func termID(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return h.Sum32()
}

// Spanish stopwords pruned from queries before weighting.
var stopwords = map[string]struct{}{
	"a": {}, "al": {}, "como": {}, "con": {}, "cual": {}, "cuales": {},
	"de": {}, "del": {}, "dice": {}, "el": {}, "en": {}, "entre": {},
	"es": {}, "esta": {}, "este": {}, "la": {}, "las": {}, "lo": {},
	"los": {}, "mas": {}, "mi": {}, "o": {}, "para": {}, "pero": {},
	"por": {}, "que": {}, "se": {}, "segun": {}, "ser": {}, "si": {},
	"sin": {}, "sobre": {}, "su": {}, "sus": {}, "un": {}, "una": {},
	"y": {}, "ya": {},
}

// Tokenize lowercases, strips accents, splits on non-alphanumerics and drops
// stopwords and single characters.
func Tokenize(text string) []string {
	lowered := strings.ToLower(accentFold(text))
	fields := strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

var foldReplacer = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u",
	"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u", "Ü", "u", "ñ", "n", "Ñ", "n",
)

func accentFold(s string) string {
	return foldReplacer.Replace(s)
}
