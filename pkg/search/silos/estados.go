package silos

import (
	"sort"
	"strings"
)

// Canonical entidad codes (UPPERCASE_UNDERSCORE), one per Mexican state.
var estados = map[string]struct{}{
	"AGUASCALIENTES":      {},
	"BAJA_CALIFORNIA":     {},
	"BAJA_CALIFORNIA_SUR": {},
	"CAMPECHE":            {},
	"CHIAPAS":             {},
	"CHIHUAHUA":           {},
	"CIUDAD_DE_MEXICO":    {},
	"COAHUILA":            {},
	"COLIMA":              {},
	"DURANGO":             {},
	"ESTADO_DE_MEXICO":    {},
	"GUANAJUATO":          {},
	"GUERRERO":            {},
	"HIDALGO":             {},
	"JALISCO":             {},
	"MICHOACAN":           {},
	"MORELOS":             {},
	"NAYARIT":             {},
	"NUEVO_LEON":          {},
	"OAXACA":              {},
	"PUEBLA":              {},
	"QUERETARO":           {},
	"QUINTANA_ROO":        {},
	"SAN_LUIS_POTOSI":     {},
	"SINALOA":             {},
	"SONORA":              {},
	"TABASCO":             {},
	"TAMAULIPAS":          {},
	"TLAXCALA":            {},
	"VERACRUZ":            {},
	"YUCATAN":             {},
	"ZACATECAS":           {},
}

// Common aliases and abbreviations seen in user input.
var estadoAliases = map[string]string{
	"CDMX":             "CIUDAD_DE_MEXICO",
	"DF":               "CIUDAD_DE_MEXICO",
	"DISTRITO_FEDERAL": "CIUDAD_DE_MEXICO",
	"MEXICO_CITY":      "CIUDAD_DE_MEXICO",
	"EDOMEX":           "ESTADO_DE_MEXICO",
	"EDO_MEX":          "ESTADO_DE_MEXICO",
	"MEXICO":           "ESTADO_DE_MEXICO",
	"NL":               "NUEVO_LEON",
	"BC":               "BAJA_CALIFORNIA",
	"BCS":              "BAJA_CALIFORNIA_SUR",
	"SLP":              "SAN_LUIS_POTOSI",
	"QROO":             "QUINTANA_ROO",
	"QRO":              "QUERETARO",
	"COAHUILA_DE_ZARAGOZA":            "COAHUILA",
	"MICHOACAN_DE_OCAMPO":             "MICHOACAN",
	"VERACRUZ_DE_IGNACIO_DE_LA_LLAVE": "VERACRUZ",
}

var accentReplacer = strings.NewReplacer(
	"Á", "A", "É", "E", "Í", "I", "Ó", "O", "Ú", "U", "Ü", "U", "Ñ", "N",
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
)

// NormalizeEstado maps free-form state input to its canonical entidad code.
// Returns "" for unrecognized input. Idempotent on canonical codes.
func NormalizeEstado(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	s = accentReplacer.Replace(s)
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	if canonical, ok := estadoAliases[s]; ok {
		return canonical
	}
	if _, ok := estados[s]; ok {
		return s
	}
	return ""
}

// Estados returns the canonical entidad codes in stable (sorted) order.
func Estados() []string {
	out := make([]string, 0, len(estados))
	for e := range estados {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// DetectEstados finds every state mentioned in free text, in order of first
// appearance. Used for cross-state comparison queries.
func DetectEstados(query string) []string {
	normalized := " " + strings.ToUpper(accentReplacer.Replace(query)) + " "
	normalized = strings.Map(func(r rune) rune {
		if ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			return r
		}
		return ' '
	}, normalized)
	normalized = " " + strings.Join(strings.Fields(normalized), " ") + " "

	type hit struct {
		estado string
		pos    int
	}
	var hits []hit
	seen := map[string]struct{}{}

	match := func(name, canonical string) {
		needle := " " + strings.ReplaceAll(name, "_", " ") + " "
		pos := strings.Index(normalized, needle)
		if pos < 0 {
			return
		}
		if _, dup := seen[canonical]; dup {
			return
		}
		seen[canonical] = struct{}{}
		hits = append(hits, hit{estado: canonical, pos: pos})
	}

	for estado := range estados {
		match(estado, estado)
	}
	for alias, canonical := range estadoAliases {
		// "MEXICO" names the country far more often than the state.
		if alias == "MEXICO" {
			continue
		}
		match(alias, canonical)
	}

	if len(hits) == 0 {
		return nil
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.estado)
	}
	return out
}

// SiloForEstado returns the dedicated collection name for an entidad code,
// following the leyes_<estado> naming convention used at ingestion time.
func SiloForEstado(entidad string) string {
	if entidad == "" {
		return ""
	}
	return "leyes_" + strings.ToLower(entidad)
}
