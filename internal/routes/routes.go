package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/marminbh/partner-sync-svc/internal/handlers"
)

// SetupRoutes configures all application routes with dependencies
func SetupRoutes(app *fiber.App, healthHandler *handlers.HealthHandler, syncHandler *handlers.SyncHandler) {
	// Health check endpoint
	app.Get("/health", healthHandler.HealthCheck)

	// API v1 routes
	api := app.Group("/api/v1")

	sync := api.Group("/sync")
	sync.Post("/query", syncHandler.Query)
	sync.Get("/config", syncHandler.ListConfig)
	sync.Post("/config/status", syncHandler.SetStatus)
	sync.Post("/config/cron", syncHandler.SetCron)
	sync.Post("/config/watermark-reset", syncHandler.ResetWatermark)
	sync.Post("/compensate", syncHandler.Compensate)
}
