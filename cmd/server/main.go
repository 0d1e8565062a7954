package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"lexmx-backend/internal/config"
	"lexmx-backend/internal/handlers"
	"lexmx-backend/internal/middleware"
)

func main() {
	// Load .env file (ignore error if file doesn't exist in production)
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or could not be loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app := fiber.New(fiber.Config{
		ServerHeader:          "LexMX",
		AppName:               "LexMX API v1.0",
		ErrorHandler:          middleware.ErrorHandler,
		BodyLimit:             int(cfg.Server.MaxRequestSize),
		DisableStartupMessage: !cfg.IsLocal(),
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} - ${latency}\n",
	}))
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Server.AllowedOrigins,
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,Authorization,X-User-Email,X-Subscription-Tier",
		ExposeHeaders: "X-Model-Used,X-Thinking-Mode,X-RateLimit-Limit,X-RateLimit-Remaining",
	}))

	limiter := middleware.NewSlidingWindow()
	limiterCtx, limiterCancel := context.WithCancel(context.Background())
	defer limiterCancel()
	limiter.StartCleanup(limiterCtx, time.Minute)
	app.Use(middleware.RateLimit(limiter))

	h, err := handlers.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize handlers: %v", err)
	}
	defer func() {
		if err := h.Close(); err != nil {
			log.Printf("Error closing shared clients: %v", err)
		}
	}()

	// Health endpoints
	app.Get("/", h.Health.Root)
	app.Get("/health", h.Health.Health)

	// Chat
	app.Post("/chat", h.Chat.Chat)

	// Document lookups
	app.Get("/document/:id", h.Documents.GetDocument)
	app.Get("/document-full", h.Documents.GetFullDocument)

	// Context cache (Genio Jurídico) and quota
	app.Post("/genio/activate", h.Genio.Activate)
	app.Get("/genio/status", h.Genio.Status)
	app.Get("/cache-status", h.Genio.Status)
	app.Get("/quota/status", h.Genio.QuotaStatus)

	// The kill switch stays behind auth when a secret is configured.
	if cfg.Auth.JWTSecret != "" {
		app.Post("/genio/kill", middleware.JWT(cfg.Auth.JWTSecret), h.Genio.Kill)
	} else {
		app.Post("/genio/kill", h.Genio.Kill)
	}

	port := fmt.Sprintf(":%s", cfg.Server.Port)
	log.Printf("Starting server on port %s", cfg.Server.Port)

	go func() {
		if err := app.Listen(port); err != nil {
			log.Fatalf("Server startup failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
