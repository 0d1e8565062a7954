package handlers

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"lexmx-backend/internal/models"
	"lexmx-backend/pkg/search/client"
	"lexmx-backend/pkg/storage"
)

const documentTimeout = 15 * time.Second

// maxFullDocumentChunks bounds the scroll when reconstructing a full law.
const maxFullDocumentChunks = 500

// DocumentHandler serves single-chunk and full-document lookups.
type DocumentHandler struct {
	store       client.Store
	collections []string
	resolver    *storage.PDFResolver
}

// NewDocumentHandler creates the document handler.
func NewDocumentHandler(store client.Store, collections []string, resolver *storage.PDFResolver) *DocumentHandler {
	return &DocumentHandler{store: store, collections: collections, resolver: resolver}
}

// GetDocument handles GET /document/:id — searches every known silo for the
// point id.
func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), documentTimeout)
	defer cancel()

	docID := c.Params("id")
	if docID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Se requiere el identificador del documento")
	}

	for _, collection := range h.collections {
		doc, err := h.store.GetByID(ctx, collection, docID)
		if err != nil || doc == nil {
			continue
		}

		return c.JSON(models.DocumentResponse{
			ID:           doc.ID,
			Texto:        doc.Texto,
			Ref:          doc.Ref,
			Origen:       doc.Origen,
			Silo:         doc.Silo,
			Entidad:      doc.Entidad,
			Jurisdiccion: doc.Jurisdiccion,
			ChunkIndex:   doc.ChunkIndex,
			PDFURL:       h.resolver.Resolve(ctx, doc),
		})
	}
	return fiber.NewError(fiber.StatusNotFound, "Documento no encontrado")
}

// GetFullDocument handles GET /document-full?origen=&highlight_chunk_id= —
// reconstructs a law by concatenating its chunks in order.
func (h *DocumentHandler) GetFullDocument(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), documentTimeout)
	defer cancel()

	origen := c.Query("origen")
	if origen == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Se requiere el parámetro origen")
	}
	highlightID := c.Query("highlight_chunk_id")

	filter := &client.Filter{Must: []client.Condition{{Field: "origen", Keyword: origen}}}
	for _, collection := range h.collections {
		chunks, err := h.store.Scroll(ctx, collection, filter, maxFullDocumentChunks)
		if err != nil || len(chunks) == 0 {
			continue
		}

		sort.SliceStable(chunks, func(i, j int) bool {
			return chunks[i].ChunkIndex < chunks[j].ChunkIndex
		})

		texts := make([]string, 0, len(chunks))
		highlightIndex := -1
		for i, chunk := range chunks {
			texts = append(texts, chunk.Texto)
			if chunk.ID == highlightID {
				highlightIndex = i
			}
		}

		return c.JSON(models.FullDocumentResponse{
			Origen:         origen,
			Texto:          strings.Join(texts, "\n\n"),
			ChunkCount:     len(chunks),
			HighlightIndex: highlightIndex,
		})
	}
	return fiber.NewError(fiber.StatusNotFound, "No se encontraron fragmentos para ese origen")
}
