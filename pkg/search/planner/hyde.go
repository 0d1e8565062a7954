package planner

import (
	"context"
	"log"
	"regexp"
	"strings"
)

const hydeSystemPrompt = `Eres un jurista mexicano. Redacta un documento legal hipotético de entre 150 y 250 palabras que respondería idealmente la consulta del usuario, con el estilo de un artículo de ley o una tesis: lenguaje normativo, términos técnicos, sin encabezados ni listas. No digas que es hipotético.`

const decomposeSystemPrompt = `Divide la consulta legal del usuario en 2 o 3 sub-preguntas independientes y autocontenidas. Responde una por línea, sin numeración ni viñetas.`

var (
	conjunctionRe     = regexp.MustCompile(`(?i)\b(y|además|tambi[eé]n|pero)\b`)
	explicitArticleRe = regexp.MustCompile(`(?i)art[íi]culo\s+\d+|art\.\s*\d+`)
)

// Synonym pairs appended to the sparse-side query so lexical search covers
// the vocabulary courts actually use.
var legalSynonyms = map[string]string{
	"despido":    "cese rescisión",
	"divorcio":   "disolución del vínculo matrimonial",
	"renta":      "arrendamiento",
	"pensión":    "alimentos",
	"demanda":    "escrito inicial",
	"apelación":  "recurso de apelación",
	"amparo":     "juicio de garantías",
	"homicidio":  "privación de la vida",
	"robo":       "apoderamiento",
	"testamento": "sucesión testamentaria",
}

// Hyde generates hypothetical documents and sub-queries. On failure the
// hypothetical document degrades to the raw query and decomposition to no
// sub-queries.
type Hyde struct {
	llm Completer
}

// NewHyde creates the HyDE/decomposition helper.
func NewHyde(llm Completer) *Hyde {
	return &Hyde{llm: llm}
}

// ShouldGenerate reports whether the query merits a hypothetical document:
// at least 3 words and no explicit article number (deterministic fetch covers
// those better than semantic search).
func ShouldGenerate(query string) bool {
	if len(strings.Fields(query)) < 3 {
		return false
	}
	return !explicitArticleRe.MatchString(query)
}

// ShouldDecompose reports whether the query is compound enough to split:
// more than 10 words or an explicit conjunction.
func ShouldDecompose(query string) bool {
	return len(strings.Fields(query)) > 10 || conjunctionRe.MatchString(query)
}

// Hypothetical returns the text whose dense embedding stands in for the raw
// query. Falls back to the query itself when generation fails or is skipped.
func (h *Hyde) Hypothetical(ctx context.Context, query string) string {
	if h.llm == nil || !ShouldGenerate(query) {
		return query
	}

	doc, err := h.llm.Complete(ctx, hydeSystemPrompt, query)
	if err != nil || strings.TrimSpace(doc) == "" {
		if err != nil {
			log.Printf("[HYDE] generation failed, embedding raw query: %v", err)
		}
		return query
	}
	return doc
}

// Decompose splits a compound query into at most 3 sub-queries. Returns nil
// when decomposition is skipped or fails.
func (h *Hyde) Decompose(ctx context.Context, query string) []string {
	if h.llm == nil || !ShouldDecompose(query) {
		return nil
	}

	raw, err := h.llm.Complete(ctx, decomposeSystemPrompt, query)
	if err != nil {
		log.Printf("[HYDE] decomposition failed, skipping sub-queries: %v", err)
		return nil
	}

	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-•*0123456789. "))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == 3 {
			break
		}
	}
	if len(out) < 2 {
		return nil
	}
	return out
}

// ExpandSynonyms appends legal synonyms of query terms for the sparse-side
// (lexical) search.
func ExpandSynonyms(query string) string {
	lowered := strings.ToLower(query)
	var extra []string
	for term, synonyms := range legalSynonyms {
		if strings.Contains(lowered, term) {
			extra = append(extra, synonyms)
		}
	}
	if len(extra) == 0 {
		return query
	}
	return query + " " + strings.Join(extra, " ")
}
