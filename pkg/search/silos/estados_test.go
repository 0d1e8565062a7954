package silos

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEstado(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"canonical passes through", "QUERETARO", "QUERETARO"},
		{"lowercase", "queretaro", "QUERETARO"},
		{"accented", "Querétaro", "QUERETARO"},
		{"spaces to underscores", "baja california sur", "BAJA_CALIFORNIA_SUR"},
		{"hyphens", "quintana-roo", "QUINTANA_ROO"},
		{"cdmx alias", "CDMX", "CIUDAD_DE_MEXICO"},
		{"df alias", "df", "CIUDAD_DE_MEXICO"},
		{"edomex alias", "EdoMex", "ESTADO_DE_MEXICO"},
		{"nl alias", "NL", "NUEVO_LEON"},
		{"full coahuila name", "Coahuila de Zaragoza", "COAHUILA"},
		{"unknown returns empty", "Texas", ""},
		{"empty returns empty", "", ""},
		{"whitespace only", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeEstado(tt.input))
		})
	}
}

func TestNormalizeEstado_Idempotent(t *testing.T) {
	inputs := []string{"Querétaro", "CDMX", "nuevo león", "JALISCO", "Texas"}
	for _, in := range inputs {
		once := NormalizeEstado(in)
		assert.Equal(t, once, NormalizeEstado(once), "normalize(normalize(%q))", in)
	}
}

func TestEstados_CountAndOrder(t *testing.T) {
	all := Estados()
	assert.Len(t, all, 32)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1] < all[i], "expected sorted order at %d", i)
	}
}

func TestDetectEstados(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected []string
	}{
		{"two states in order", "Compara el homicidio en Jalisco y Querétaro", []string{"JALISCO", "QUERETARO"}},
		{"accents and case", "diferencias entre YUCATÁN y nuevo león", []string{"YUCATAN", "NUEVO_LEON"}},
		{"cdmx alias", "renta en CDMX vs Puebla", []string{"CIUDAD_DE_MEXICO", "PUEBLA"}},
		{"single state", "divorcio en Sonora", []string{"SONORA"}},
		{"country name not a state", "las leyes de México sobre amparo", nil},
		{"ciudad de mexico not double-counted", "homicidio en la Ciudad de México", []string{"CIUDAD_DE_MEXICO"}},
		{"none", "prescripción de la acción penal", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectEstados(tt.query))
		})
	}
}

func TestSiloForEstado(t *testing.T) {
	assert.Equal(t, "leyes_queretaro", SiloForEstado("QUERETARO"))
	assert.Equal(t, "leyes_ciudad_de_mexico", SiloForEstado("CIUDAD_DE_MEXICO"))
	assert.Equal(t, "", SiloForEstado(""))
}
