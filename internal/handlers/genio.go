package handlers

import (
	"github.com/gofiber/fiber/v2"

	llmcache "lexmx-backend/pkg/llm/cache"
	"lexmx-backend/pkg/quota"
)

// GenioHandler serves the context-cache lifecycle and quota-status
// endpoints.
type GenioHandler struct {
	cache *llmcache.Manager
	quota *quota.Store
}

// NewGenioHandler creates the handler. cache may be nil when the Gemini
// provider is not configured.
func NewGenioHandler(cache *llmcache.Manager, quotaStore *quota.Store) *GenioHandler {
	return &GenioHandler{cache: cache, quota: quotaStore}
}

// Activate handles POST /genio/activate — creates the cache on demand.
func (g *GenioHandler) Activate(c *fiber.Ctx) error {
	if g.cache == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "El modo Genio Jurídico no está disponible")
	}

	name, err := g.cache.GetOrCreate(c.Context())
	if err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "No se pudo activar el Genio Jurídico: "+err.Error())
	}
	return c.JSON(fiber.Map{"cache_name": name, "status": "active"})
}

// Status handles GET /genio/status and GET /cache-status.
func (g *GenioHandler) Status(c *fiber.Ctx) error {
	if g.cache == nil {
		return c.JSON(fiber.Map{"cache_available": false})
	}
	return c.JSON(g.cache.Status())
}

// Kill handles POST /genio/kill — the emergency switch.
func (g *GenioHandler) Kill(c *fiber.Ctx) error {
	if g.cache != nil {
		g.cache.KillAll(c.Context())
	}
	return c.JSON(fiber.Map{"status": "killed"})
}

// QuotaStatus handles GET /quota/status?user_id= without consuming.
func (g *GenioHandler) QuotaStatus(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Se requiere user_id")
	}

	result, err := g.quota.Status(c.Context(), userID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, "No se pudo consultar la cuota: "+err.Error())
	}
	return c.JSON(result)
}
