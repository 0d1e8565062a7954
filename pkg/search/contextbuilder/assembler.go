package contextbuilder

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"

	"lexmx-backend/pkg/models"
)

const (
	// maxChunkChars truncates each chunk's text in the bundle.
	maxChunkChars = 6000

	// maxInventoryEntries caps the doc-id cheat sheet.
	maxInventoryEntries = 15
)

// ddhh treaty markers inside the constitutional bloc.
var tratadoRe = regexp.MustCompile(`(?i)pacto|convenci[óo]n|tratado|protocolo|declaraci[óo]n`)

var articuloEnTextoRe = regexp.MustCompile(`(?i)art[íi]culo\s+(\d+[\w°]*)[\s.:]`)
var leyEnTextoRe = regexp.MustCompile(`(?i)((?:ley|c[óo]digo|reglamento)\s+[A-ZÁÉÍÓÚÑ][\wÁÉÍÓÚáéíóúÑñ ]{3,80})`)

// Bundle is the serialized context plus the verifier's id map.
type Bundle struct {
	// Context is the hierarchy-ordered tagged document block.
	Context string

	// Inventory is the compact id cheat sheet injected into the prompt.
	Inventory string

	// DocIDMap indexes every emitted document by id for citation
	// verification.
	DocIDMap map[string]*models.Document
}

// typeTag classifies a document for the record type attribute.
func typeTag(doc *models.Document) models.TypeTag {
	switch models.HierarchyForSilo(doc.Silo) {
	case models.HierarchyConstitucion:
		if tratadoRe.MatchString(doc.Origen) {
			return models.TagTratadoDDHH
		}
		return models.TagConstitucion
	case models.HierarchyLeyFederal:
		return models.TagLeyFederal
	case models.HierarchyJurisprudencia:
		return models.TagJurisprudencia
	default:
		return models.TagLeyEstatal
	}
}

// enrichMissingFields fills origen/ref by pattern-matching the chunk text
// when the payload lacked them.
func enrichMissingFields(doc *models.Document) {
	if doc.Ref == "" {
		if m := articuloEnTextoRe.FindStringSubmatch(doc.Texto); m != nil {
			doc.Ref = "Art. " + m[1]
		}
	}
	if doc.Origen == "" {
		if m := leyEnTextoRe.FindStringSubmatch(doc.Texto); m != nil {
			doc.Origen = strings.TrimSpace(m[1])
		}
	}
}

// Assemble turns the ranked candidate list into the tagged context bundle.
// Documents are reordered by (hierarchy level ascending, score descending,
// id) — constitutional text first — regardless of retrieval order. entidad,
// when non-empty, prepends a state-primacy directive. For cross-state
// comparison queries, multiEstados groups the state-law segment under
// per-state markers.
func Assemble(docs []*models.Document, entidad string, multiEstados []string) *Bundle {
	ordered := make([]*models.Document, len(docs))
	copy(ordered, docs)

	sort.SliceStable(ordered, func(i, j int) bool {
		hi, hj := models.HierarchyForSilo(ordered[i].Silo), models.HierarchyForSilo(ordered[j].Silo)
		if hi != hj {
			return hi < hj
		}
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		return ordered[i].ID < ordered[j].ID
	})

	if len(multiEstados) >= 2 {
		ordered = groupEstatalByEstado(ordered, multiEstados)
	}

	var sb strings.Builder
	if entidad != "" {
		fmt.Fprintf(&sb, "<!-- Fuente primaria solicitada: legislación de %s. Privilegia sus disposiciones sobre normas de otras entidades. -->\n", entidad)
	}

	docIDMap := make(map[string]*models.Document, len(ordered))
	lastEstado := ""
	for _, doc := range ordered {
		if _, dup := docIDMap[doc.ID]; dup {
			continue
		}
		enrichMissingFields(doc)
		docIDMap[doc.ID] = doc

		level := models.HierarchyForSilo(doc.Silo)
		if len(multiEstados) >= 2 && level == models.HierarchyLeyEstatal && doc.Entidad != lastEstado {
			fmt.Fprintf(&sb, "<!-- ESTADO: %s -->\n", html.EscapeString(doc.Entidad))
			lastEstado = doc.Entidad
		}

		texto := doc.Texto
		if len(texto) > maxChunkChars {
			texto = texto[:maxChunkChars] + "…"
		}

		fmt.Fprintf(&sb,
			"<documento id=%q ref=%q origen=%q silo=%q entidad=%q jerarquia=%q jurisdiccion=%q tipo=%q score=\"%.4f\">\n%s\n</documento>\n",
			html.EscapeString(doc.ID),
			html.EscapeString(doc.Ref),
			html.EscapeString(doc.Origen),
			html.EscapeString(doc.Silo),
			html.EscapeString(doc.Entidad),
			html.EscapeString(level.Label()),
			html.EscapeString(doc.Jurisdiccion),
			html.EscapeString(string(typeTag(doc))),
			doc.Score,
			html.EscapeString(texto),
		)
	}

	return &Bundle{
		Context:   sb.String(),
		Inventory: buildInventory(ordered),
		DocIDMap:  docIDMap,
	}
}

// groupEstatalByEstado reorders only the state-law segment: named states in
// query order, unnamed entidades after, score order within each group.
func groupEstatalByEstado(ordered []*models.Document, multiEstados []string) []*models.Document {
	rank := make(map[string]int, len(multiEstados))
	for i, e := range multiEstados {
		rank[e] = i
	}

	out := make([]*models.Document, 0, len(ordered))
	var estatal []*models.Document
	for _, doc := range ordered {
		if models.HierarchyForSilo(doc.Silo) == models.HierarchyLeyEstatal {
			estatal = append(estatal, doc)
		} else {
			out = append(out, doc)
		}
	}

	sort.SliceStable(estatal, func(i, j int) bool {
		ri, iok := rank[estatal[i].Entidad]
		rj, jok := rank[estatal[j].Entidad]
		if !iok {
			ri = len(multiEstados)
		}
		if !jok {
			rj = len(multiEstados)
		}
		return ri < rj
	})

	// Splice the grouped segment back where the estatal level lives:
	// after federal, before jurisprudencia.
	final := make([]*models.Document, 0, len(ordered))
	inserted := false
	for _, doc := range out {
		if !inserted && models.HierarchyForSilo(doc.Silo) == models.HierarchyJurisprudencia {
			final = append(final, estatal...)
			inserted = true
		}
		final = append(final, doc)
	}
	if !inserted {
		final = append(final, estatal...)
	}
	return final
}

// buildInventory emits the compact "valid ids" cheat sheet the orchestrator
// injects to reduce invented identifiers.
func buildInventory(ordered []*models.Document) string {
	var sb strings.Builder
	sb.WriteString("IDs de documentos disponibles para citar (usa [Doc ID: <id>]):\n")

	seen := make(map[string]struct{})
	count := 0
	for _, doc := range ordered {
		if count >= maxInventoryEntries {
			break
		}
		if _, dup := seen[doc.ID]; dup {
			continue
		}
		seen[doc.ID] = struct{}{}

		label := doc.Ref
		if label == "" {
			label = doc.Origen
		}
		if len(label) > 60 {
			label = label[:60]
		}
		fmt.Fprintf(&sb, "- %s → %s\n", doc.ID, label)
		count++
	}
	return sb.String()
}
