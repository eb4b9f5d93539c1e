package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/marminbh/partner-sync-svc/internal/config"
	"github.com/marminbh/partner-sync-svc/internal/database"
	"github.com/marminbh/partner-sync-svc/internal/engine"
	"github.com/marminbh/partner-sync-svc/internal/feedback"
	"github.com/marminbh/partner-sync-svc/internal/handlers"
	"github.com/marminbh/partner-sync-svc/internal/logger"
	"github.com/marminbh/partner-sync-svc/internal/producer"
	"github.com/marminbh/partner-sync-svc/internal/rabbitmq"
	"github.com/marminbh/partner-sync-svc/internal/registry"
	"github.com/marminbh/partner-sync-svc/internal/router"
	"github.com/marminbh/partner-sync-svc/internal/routes"
	"github.com/marminbh/partner-sync-svc/internal/scheduler"
	"github.com/marminbh/partner-sync-svc/internal/signing"
)

func main() {
	if err := logger.Init(os.Getenv("LOG_LEVEL")); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()
	log := logger.Logger

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Connect to PostgreSQL and apply migrations
	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, log); err != nil {
			logger.Error("Error closing database", zap.Error(err))
		}
	}()

	if err := database.RunMigrations(&cfg.Database, log); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Connect to RabbitMQ
	rmq := rabbitmq.NewConnection(&cfg.RabbitMQ, log)
	if err := rmq.Connect(); err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rmq.Close()

	// Signing client: a missing API identity is fatal, every signed
	// call would be rejected until an operator fixes it.
	signer, err := signing.NewClient(&cfg.Partner, log)
	if err != nil {
		logger.Fatal("Failed to initialize signing client", zap.Error(err))
	}

	// Core sync components
	reg := registry.New(db, log)
	rt := router.New(db, log)
	push := producer.New(rmq, db, log, cfg.Sync.PushExchange, cfg.Sync.PushPrefix, cfg.Sync.PushTimeout)
	eng := engine.New(reg, rt, signer, push, log, cfg.Partner.BaseURL, cfg.Sync.PageSize)

	sched := scheduler.New(reg, eng, log)
	reg.SetReconciler(sched)
	if err := sched.Reload(); err != nil {
		logger.Fatal("Failed to install sync timers", zap.Error(err))
	}
	defer sched.Stop()

	// Feedback consumption
	hub := feedback.NewHub()
	fb := feedback.NewConsumer(rmq, db, hub, log, cfg.Sync.FeedbackPrefix, cfg.Sync.ConsumerName, cfg.Sync.PrefetchCount)
	if err := fb.Start(); err != nil {
		logger.Fatal("Failed to start feedback consumer", zap.Error(err))
	}
	defer fb.Stop()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Partner Sync Service",
		ServerHeader: "Fiber",
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Setup routes
	healthHandler := handlers.NewHealthHandler(db, rmq)
	syncHandler := handlers.NewSyncHandler(reg, rt, eng, log)
	routes.SetupRoutes(app, healthHandler, syncHandler)

	// Start server in a goroutine
	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		logger.Info("Server starting",
			zap.String("address", addr),
		)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}
