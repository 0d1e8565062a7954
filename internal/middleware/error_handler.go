package middleware

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandler maps unhandled errors to a consistent JSON shape. Gate errors
// are written by the handlers themselves; anything reaching here is
// unexpected.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Ocurrió un error inesperado."

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	log.Printf("[ERROR] [%s] %s %s -> %d: %v", RequestIDFromContext(c), c.Method(), c.Path(), code, err)

	return c.Status(code).JSON(fiber.Map{
		"error":   "request_failed",
		"message": message,
	})
}
