package silos

import (
	"lexmx-backend/pkg/models"
)

// Target is one collection to query plus the payload constraint to apply.
// Entidad is empty for fixed silos and dedicated state collections (the
// collection itself is the filter there).
type Target struct {
	Collection string
	Entidad    string
}

// Router maps (fuero, estado) to the ordered list of silos to search.
// The available set is discovered at startup from the vector store so that
// states without a dedicated collection fall back to the legacy estatal
// collection filtered by entidad.
type Router struct {
	available map[string]struct{}
	hasLegacy bool
}

// NewRouter builds a router from the collection names that exist in the
// vector store.
func NewRouter(collections []string) *Router {
	r := &Router{available: make(map[string]struct{}, len(collections))}
	for _, c := range collections {
		r.available[c] = struct{}{}
		if c == models.SiloEstatalLegacy {
			r.hasLegacy = true
		}
	}
	return r
}

func (r *Router) has(collection string) bool {
	_, ok := r.available[collection]
	return ok
}

// estatalTargets resolves the silos for state-law search. With a normalized
// entidad it prefers the dedicated collection; otherwise it unions every
// known state silo plus the legacy collection.
func (r *Router) estatalTargets(entidad string) []Target {
	if entidad != "" {
		if dedicated := SiloForEstado(entidad); r.has(dedicated) {
			return []Target{{Collection: dedicated}}
		}
		if r.hasLegacy {
			return []Target{{Collection: models.SiloEstatalLegacy, Entidad: entidad}}
		}
		return nil
	}

	var out []Target
	for _, estado := range Estados() {
		if dedicated := SiloForEstado(estado); r.has(dedicated) {
			out = append(out, Target{Collection: dedicated})
		}
	}
	if r.hasLegacy {
		out = append(out, Target{Collection: models.SiloEstatalLegacy})
	}
	return out
}

// Route returns the ordered silo targets for a query. jurisprudencia_nacional
// is always included regardless of fuero. The estado argument accepts raw
// user input and is normalized internally.
func (r *Router) Route(fuero, estado string) []Target {
	entidad := NormalizeEstado(estado)

	switch fuero {
	case "constitucional":
		return r.withJurisprudencia([]Target{{Collection: models.SiloBloque}})
	case "federal":
		return r.withJurisprudencia([]Target{{Collection: models.SiloFederal}})
	case "estatal":
		return r.withJurisprudencia(r.estatalTargets(entidad))
	}

	// No fuero: all fixed silos plus state coverage.
	targets := []Target{
		{Collection: models.SiloBloque},
		{Collection: models.SiloFederal},
	}
	targets = append(targets, r.estatalTargets(entidad)...)
	return r.withJurisprudencia(targets)
}

func (r *Router) withJurisprudencia(targets []Target) []Target {
	for _, t := range targets {
		if t.Collection == models.SiloJurisprudencia {
			return targets
		}
	}
	return append(targets, Target{Collection: models.SiloJurisprudencia})
}
