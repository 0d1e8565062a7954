package contextbuilder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexmx-backend/pkg/models"
)

func TestAssemble_HierarchyOrderIsMonotonic(t *testing.T) {
	docs := []*models.Document{
		{ID: "j1", Score: 0.99, Silo: models.SiloJurisprudencia, Texto: "tesis"},
		{ID: "f1", Score: 0.5, Silo: models.SiloFederal, Texto: "ley federal"},
		{ID: "c1", Score: 0.1, Silo: models.SiloBloque, Texto: "constitución"},
		{ID: "e1", Score: 0.9, Silo: "leyes_queretaro", Texto: "código estatal"},
	}
	b := Assemble(docs, "", nil)

	posC := strings.Index(b.Context, `id="c1"`)
	posF := strings.Index(b.Context, `id="f1"`)
	posE := strings.Index(b.Context, `id="e1"`)
	posJ := strings.Index(b.Context, `id="j1"`)
	require.True(t, posC >= 0 && posF >= 0 && posE >= 0 && posJ >= 0)

	assert.Less(t, posC, posF, "constitución before federal")
	assert.Less(t, posF, posE, "federal before estatal")
	assert.Less(t, posE, posJ, "estatal before jurisprudencia")
}

func TestAssemble_WithinLevelByScoreDescending(t *testing.T) {
	docs := []*models.Document{
		{ID: "low", Score: 0.2, Silo: models.SiloFederal, Texto: "a"},
		{ID: "high", Score: 0.9, Silo: models.SiloFederal, Texto: "b"},
	}
	b := Assemble(docs, "", nil)
	assert.Less(t, strings.Index(b.Context, `id="high"`), strings.Index(b.Context, `id="low"`))
}

func TestAssemble_EscapesAndTruncates(t *testing.T) {
	long := strings.Repeat("x", 7000)
	docs := []*models.Document{
		{ID: "d1", Score: 0.5, Silo: models.SiloFederal, Ref: `Art. 1 <"especial">`, Texto: long},
	}
	b := Assemble(docs, "", nil)

	assert.Contains(t, b.Context, "&lt;&#34;especial&#34;&gt;")
	assert.NotContains(t, b.Context, `<"especial">`)
	assert.Contains(t, b.Context, "…", "truncation marker present")
	assert.Less(t, len(b.Context), 7000)
}

func TestAssemble_StateDirective(t *testing.T) {
	b := Assemble([]*models.Document{{ID: "d1", Silo: "leyes_queretaro"}}, "QUERETARO", nil)
	assert.True(t, strings.HasPrefix(b.Context, "<!-- Fuente primaria solicitada: legislación de QUERETARO"))

	b = Assemble([]*models.Document{{ID: "d1", Silo: "leyes_queretaro"}}, "", nil)
	assert.False(t, strings.HasPrefix(b.Context, "<!--"))
}

func TestAssemble_TreatyTag(t *testing.T) {
	docs := []*models.Document{
		{ID: "t1", Silo: models.SiloBloque, Origen: "Convención Americana sobre Derechos Humanos", Texto: "x"},
		{ID: "c1", Silo: models.SiloBloque, Origen: "CPEUM", Texto: "y"},
	}
	b := Assemble(docs, "", nil)
	assert.Contains(t, b.Context, `tipo="TRATADO_DDHH"`)
	assert.Contains(t, b.Context, `tipo="CONSTITUCION"`)
}

func TestAssemble_DocIDMapAndDedup(t *testing.T) {
	docs := []*models.Document{
		{ID: "a", Score: 2.0, Silo: models.SiloFederal, Texto: "x"},
		{ID: "a", Score: 0.1, Silo: models.SiloFederal, Texto: "x"},
		{ID: "b", Score: 0.5, Silo: models.SiloFederal, Texto: "y"},
	}
	b := Assemble(docs, "", nil)

	assert.Len(t, b.DocIDMap, 2)
	assert.Equal(t, 1, strings.Count(b.Context, `id="a"`))
}

func TestAssemble_EnrichesMissingRefFromText(t *testing.T) {
	docs := []*models.Document{
		{ID: "d1", Silo: models.SiloFederal, Texto: "Artículo 47. Los trabajadores tendrán derecho conforme a la Ley Federal del Trabajo vigente."},
	}
	b := Assemble(docs, "", nil)

	doc := b.DocIDMap["d1"]
	require.NotNil(t, doc)
	assert.Equal(t, "Art. 47", doc.Ref)
	assert.Contains(t, doc.Origen, "Ley Federal del Trabajo")
}

func TestAssemble_MultiEstadoGrouping(t *testing.T) {
	docs := []*models.Document{
		{ID: "q1", Score: 0.9, Silo: "leyes_queretaro", Entidad: "QUERETARO", Texto: "q"},
		{ID: "j1", Score: 0.95, Silo: "leyes_jalisco", Entidad: "JALISCO", Texto: "j"},
		{ID: "j2", Score: 0.4, Silo: "leyes_jalisco", Entidad: "JALISCO", Texto: "j2"},
		{ID: "t1", Score: 0.8, Silo: models.SiloJurisprudencia, Texto: "tesis"},
	}
	b := Assemble(docs, "", []string{"JALISCO", "QUERETARO"})

	posMarkJal := strings.Index(b.Context, "<!-- ESTADO: JALISCO -->")
	posMarkQro := strings.Index(b.Context, "<!-- ESTADO: QUERETARO -->")
	require.True(t, posMarkJal >= 0 && posMarkQro >= 0, "state markers present")
	assert.Less(t, posMarkJal, posMarkQro, "states follow query order")

	posJ1 := strings.Index(b.Context, `id="j1"`)
	posJ2 := strings.Index(b.Context, `id="j2"`)
	posQ1 := strings.Index(b.Context, `id="q1"`)
	posT1 := strings.Index(b.Context, `id="t1"`)
	assert.Less(t, posJ1, posJ2, "score order within a state group")
	assert.Less(t, posJ2, posQ1, "Jalisco group complete before Querétaro")
	assert.Less(t, posQ1, posT1, "jurisprudencia still last")
}

func TestBuildInventory_CapsEntries(t *testing.T) {
	var docs []*models.Document
	for i := 0; i < 25; i++ {
		docs = append(docs, &models.Document{ID: strings.Repeat("i", i+1), Ref: "Art. 1", Silo: models.SiloFederal, Texto: "x"})
	}
	b := Assemble(docs, "", nil)

	assert.LessOrEqual(t, strings.Count(b.Inventory, "→"), 15)
}
