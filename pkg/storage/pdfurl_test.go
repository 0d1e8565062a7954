package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexmx-backend/pkg/models"
)

func newResolver(t *testing.T, cfg *Config) *PDFResolver {
	t.Helper()
	r, err := NewPDFResolver(context.Background(), cfg)
	require.NoError(t, err)
	return r
}

func TestResolve_PayloadURLWins(t *testing.T) {
	r := newResolver(t, nil)
	doc := &models.Document{PDFURL: "https://example.com/ley.pdf", Origen: "Convención Americana sobre Derechos Humanos"}
	assert.Equal(t, "https://example.com/ley.pdf", r.Resolve(context.Background(), doc))
}

func TestResolve_TreatyFallback(t *testing.T) {
	r := newResolver(t, nil)
	doc := &models.Document{Origen: "Convención Americana sobre Derechos Humanos"}
	assert.Contains(t, r.Resolve(context.Background(), doc), "oas.org")
}

func TestResolve_CDNFallback(t *testing.T) {
	r := newResolver(t, &Config{CDNDomain: "cdn.example.com"})
	doc := &models.Document{Origen: "Código Civil Federal", Silo: models.SiloFederal}
	assert.Equal(t, "https://cdn.example.com/pdfs/federal/codigo_civil_federal.pdf", r.Resolve(context.Background(), doc))
}

func TestResolve_NoSourcesMeansEmpty(t *testing.T) {
	r := newResolver(t, nil)
	assert.Empty(t, r.Resolve(context.Background(), &models.Document{Origen: "Ley X"}))
	assert.Empty(t, r.Resolve(context.Background(), &models.Document{}))
	assert.Empty(t, r.Resolve(context.Background(), nil))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "codigo_penal_queretaro", slug("Código Penal Querétaro"))
	assert.Equal(t, "ley_de_amparo", slug("  Ley de Amparo "))
}
