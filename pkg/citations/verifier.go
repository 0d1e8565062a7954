// Package citations validates the document identifiers a model emits against
// the set that was actually retrieved, and builds the trailer metadata the
// client renders as sources.
package citations

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"lexmx-backend/pkg/models"
)

var docIDRe = regexp.MustCompile(`(?i)\[doc\s+id:\s*([^\s\[\]]+)\]`)

// Extract returns the distinct document ids cited in text, in order of first
// occurrence.
func Extract(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range docIDRe.FindAllStringSubmatch(text, -1) {
		id := strings.TrimSpace(m[1])
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Validate classifies every cited id against the retrieved set. Every
// citation is either valid or listed as invalid; there is no third outcome.
func Validate(text string, docIDMap map[string]*models.Document) *models.ValidationResult {
	ids := Extract(text)

	result := &models.ValidationResult{
		Citations:  make([]models.Citation, 0, len(ids)),
		TotalCount: len(ids),
	}

	for _, id := range ids {
		if doc, ok := docIDMap[id]; ok {
			result.Citations = append(result.Citations, models.Citation{
				DocID:  id,
				Status: models.CitationValid,
				Ref:    doc.Ref,
			})
			result.ValidCount++
		} else {
			result.Citations = append(result.Citations, models.Citation{
				DocID:  id,
				Status: models.CitationInvalid,
			})
			result.InvalidCount++
		}
	}

	if result.TotalCount == 0 {
		result.ConfidenceScore = 1.0
	} else {
		result.ConfidenceScore = float64(result.ValidCount) / float64(result.TotalCount)
	}
	return result
}

// Source is the per-citation metadata in the trailer.
type Source struct {
	Origen  string `json:"origen"`
	Ref     string `json:"ref"`
	Texto   string `json:"texto"`
	PDFURL  string `json:"pdf_url,omitempty"`
	Silo    string `json:"silo,omitempty"`
	Entidad string `json:"entidad,omitempty"`
}

// TrailerMeta is the JSON payload of the citation trailer.
type TrailerMeta struct {
	Valid      int               `json:"valid"`
	Invalid    int               `json:"invalid"`
	Total      int               `json:"total"`
	InvalidIDs []string          `json:"invalid_ids"`
	Sources    map[string]Source `json:"sources"`
}

// unverifiedSource marks citations that do not resolve to a retrieved
// document.
var unverifiedSource = Source{Origen: "Fuente no verificada"}

// BuildTrailer renders the `<!-- CITATION_META:... -->` comment emitted as
// the last bytes of a response. Errors degrade to an empty trailer rather
// than failing the stream.
func BuildTrailer(result *models.ValidationResult, docIDMap map[string]*models.Document) string {
	meta := TrailerMeta{
		Valid:      result.ValidCount,
		Invalid:    result.InvalidCount,
		Total:      result.TotalCount,
		InvalidIDs: []string{},
		Sources:    make(map[string]Source, len(result.Citations)),
	}

	for _, c := range result.Citations {
		doc, ok := docIDMap[c.DocID]
		if !ok {
			meta.InvalidIDs = append(meta.InvalidIDs, c.DocID)
			meta.Sources[c.DocID] = unverifiedSource
			continue
		}
		meta.Sources[c.DocID] = Source{
			Origen:  humanizeOrigen(doc.Origen),
			Ref:     doc.Ref,
			Texto:   doc.Texto,
			PDFURL:  doc.PDFURL,
			Silo:    doc.Silo,
			Entidad: doc.Entidad,
		}
	}

	payload, err := json.Marshal(meta)
	if err != nil {
		return "<!-- CITATION_META:{} -->"
	}
	return fmt.Sprintf("<!-- CITATION_META:%s -->", payload)
}

// knownOrigenes expands the abbreviations ingestion stores as origen.
var knownOrigenes = map[string]string{
	"CPEUM": "Constitución Política de los Estados Unidos Mexicanos",
	"CCF":   "Código Civil Federal",
	"CPF":   "Código Penal Federal",
	"CFPC":  "Código Federal de Procedimientos Civiles",
	"CNPP":  "Código Nacional de Procedimientos Penales",
	"LFT":   "Ley Federal del Trabajo",
	"LA":    "Ley de Amparo",
	"CCOM":  "Código de Comercio",
}

func humanizeOrigen(origen string) string {
	if origen == "" {
		return "Fuente no identificada"
	}
	if full, ok := knownOrigenes[strings.ToUpper(origen)]; ok {
		return full
	}
	// snake_case collection-style names read badly in the UI.
	if strings.Contains(origen, "_") {
		return strings.Title(strings.ToLower(strings.ReplaceAll(origen, "_", " ")))
	}
	return origen
}

// AnnotateInvalid appends a warning marker after every invalid citation.
// Used by non-streaming consumers only; the live stream leaves text intact.
func AnnotateInvalid(text string, result *models.ValidationResult) string {
	for _, c := range result.Citations {
		if c.Status != models.CitationInvalid {
			continue
		}
		marker := fmt.Sprintf("[Doc ID: %s]", c.DocID)
		text = strings.ReplaceAll(text, marker, marker+" ⚠️(cita no verificada)")
	}
	return text
}
