package planner

import (
	"context"
	"log"
	"strings"
)

// Completer is the small LLM surface the planner needs: one low-temperature
// completion call. Implemented by the llm package's provider adapter.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

const agentSystemPrompt = `Eres un analista jurídico mexicano. Analiza la consulta del usuario y responde ÚNICAMENTE con un objeto JSON válido, sin explicaciones ni markdown, con esta forma exacta:
{
  "fuero_detectado": "constitucional|federal|estatal|mixto",
  "materia_principal": "penal|civil|mercantil|laboral|administrativo|fiscal|familiar|constitucional|procesal|agrario",
  "via_procesal": "etiqueta libre (ej. amparo indirecto, juicio ordinario civil)",
  "conceptos_juridicos": ["hasta 5 conceptos clave"],
  "jurisprudencia_keywords": ["hasta 3 términos para buscar tesis"],
  "leyes_primarias": ["hasta 3 leyes aplicables por nombre"],
  "pesos_silos": {"constitucional": 0.0, "federal": 0.0, "estatal": 0.0, "jurisprudencia": 0.0},
  "requiere_ddhh": false
}
Los pesos deben sumar aproximadamente 1.0 y reflejar dónde vive la respuesta.`

// Agent converts a raw user query into a retrieval plan with one structured
// LLM call. Parse failures degrade to DefaultPlan; a manual fuero choice by
// the user always overrides detection.
type Agent struct {
	llm Completer
}

// NewAgent creates the enrichment agent.
func NewAgent(llm Completer) *Agent {
	return &Agent{llm: llm}
}

// Analyze produces the plan for a query. manualFuero, when non-empty,
// overrides the detected fuero.
func (a *Agent) Analyze(ctx context.Context, query, manualFuero string) *Plan {
	plan := a.analyze(ctx, query)
	plan.ExpandedQuery = buildExpandedQuery(query, plan)

	if manualFuero != "" {
		switch Fuero(strings.ToLower(manualFuero)) {
		case FueroConstitucional, FueroFederal, FueroEstatal:
			plan.FueroDetectado = Fuero(strings.ToLower(manualFuero))
		}
	}
	return plan
}

func (a *Agent) analyze(ctx context.Context, query string) *Plan {
	if a.llm == nil {
		return DefaultPlan(query)
	}

	raw, err := a.llm.Complete(ctx, agentSystemPrompt, query)
	if err != nil {
		log.Printf("[PLANNER] enrichment call failed, using default plan: %v", err)
		return DefaultPlan(query)
	}

	plan, err := parsePlan(raw)
	if err != nil {
		log.Printf("[PLANNER] unparseable plan, using default: %v", err)
		return DefaultPlan(query)
	}
	return plan
}
