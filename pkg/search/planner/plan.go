package planner

import (
	"encoding/json"
	"strings"
)

// Fuero is the detected jurisdiction scope of a query.
type Fuero string

const (
	FueroConstitucional Fuero = "constitucional"
	FueroFederal        Fuero = "federal"
	FueroEstatal        Fuero = "estatal"
	FueroMixto          Fuero = "mixto"
)

// Materia is the legal matter routing retrieval.
type Materia string

const (
	MateriaPenal          Materia = "penal"
	MateriaCivil          Materia = "civil"
	MateriaMercantil      Materia = "mercantil"
	MateriaLaboral        Materia = "laboral"
	MateriaAdministrativo Materia = "administrativo"
	MateriaFiscal         Materia = "fiscal"
	MateriaFamiliar       Materia = "familiar"
	MateriaConstitucional Materia = "constitucional"
	MateriaProcesal       Materia = "procesal"
	MateriaAgrario        Materia = "agrario"
)

var validMaterias = map[Materia]struct{}{
	MateriaPenal: {}, MateriaCivil: {}, MateriaMercantil: {}, MateriaLaboral: {},
	MateriaAdministrativo: {}, MateriaFiscal: {}, MateriaFamiliar: {},
	MateriaConstitucional: {}, MateriaProcesal: {}, MateriaAgrario: {},
}

// Plan is the retrieval strategy for one turn. Produced by the enrichment
// agent, consumed by the cross-silo orchestrator, discarded afterwards.
type Plan struct {
	FueroDetectado         Fuero              `json:"fuero_detectado"`
	MateriaPrincipal       Materia            `json:"materia_principal"`
	ViaProcesal            string             `json:"via_procesal"`
	ConceptosJuridicos     []string           `json:"conceptos_juridicos"`
	JurisprudenciaKeywords []string           `json:"jurisprudencia_keywords"`
	LeyesPrimarias         []string           `json:"leyes_primarias"`
	PesosSilos             map[string]float64 `json:"pesos_silos"`
	RequiereDDHH           bool               `json:"requiere_ddhh"`

	// ExpandedQuery is derived, never parsed from model output.
	ExpandedQuery string `json:"-"`
}

// Silo weight keys of PesosSilos.
const (
	PesoConstitucional = "constitucional"
	PesoFederal        = "federal"
	PesoEstatal        = "estatal"
	PesoJurisprudencia = "jurisprudencia"
)

// DefaultPlan is the fallback when the agent output cannot be parsed:
// mixed fuero, no materia, uniform silo weights.
func DefaultPlan(query string) *Plan {
	return &Plan{
		FueroDetectado: FueroMixto,
		PesosSilos: map[string]float64{
			PesoConstitucional: 0.25,
			PesoFederal:        0.25,
			PesoEstatal:        0.25,
			PesoJurisprudencia: 0.25,
		},
		ExpandedQuery: query,
	}
}

// maxExpansionTerms caps how many enrichment terms are appended to the
// original query.
const maxExpansionTerms = 8

// buildExpandedQuery concatenates the original query with the top concepts,
// jurisprudence keywords and primary-law names, bounded by maxExpansionTerms.
func buildExpandedQuery(query string, p *Plan) string {
	var terms []string
	add := func(values []string, cap int) {
		for i, v := range values {
			if i >= cap || len(terms) >= maxExpansionTerms {
				return
			}
			v = strings.TrimSpace(v)
			if v != "" {
				terms = append(terms, v)
			}
		}
	}
	add(p.ConceptosJuridicos, 3)
	add(p.JurisprudenciaKeywords, 2)
	add(p.LeyesPrimarias, 1)

	if len(terms) == 0 {
		return query
	}
	return query + " " + strings.Join(terms, " ")
}

// parsePlan decodes the agent JSON, stripping markdown code fences first if
// the model wrapped its output.
func parsePlan(raw string) (*Plan, error) {
	cleaned := stripCodeFences(raw)

	var p Plan
	if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
		return nil, err
	}
	p.normalize()
	return &p, nil
}

func (p *Plan) normalize() {
	switch p.FueroDetectado {
	case FueroConstitucional, FueroFederal, FueroEstatal, FueroMixto:
	default:
		p.FueroDetectado = FueroMixto
	}

	if _, ok := validMaterias[p.MateriaPrincipal]; !ok {
		p.MateriaPrincipal = ""
	}

	if len(p.PesosSilos) == 0 {
		p.PesosSilos = DefaultPlan("").PesosSilos
	}
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
