package handlers

import (
	"github.com/gofiber/fiber/v2"

	"lexmx-backend/pkg/monitoring"
	"lexmx-backend/pkg/search/embedding"
)

// HealthHandler serves liveness and diagnostics.
type HealthHandler struct {
	collector   *monitoring.Collector
	bm25        *embedding.BM25Encoder
	collections int
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(collector *monitoring.Collector, bm25 *embedding.BM25Encoder, collections int) *HealthHandler {
	return &HealthHandler{collector: collector, bm25: bm25, collections: collections}
}

// Root handles GET /.
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "lexmx-backend",
		"status":  "ok",
	})
}

// Health handles GET /health. Stays fast even while the BM25 model is still
// loading.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":       "healthy",
		"collections":  h.collections,
		"sparse_ready": h.bm25.Ready(),
		"system":       h.collector.Snapshot(),
	})
}
