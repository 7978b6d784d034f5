package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"notekeeper/config"
	"notekeeper/middleware"
	"notekeeper/routes"
	"notekeeper/services"
	"notekeeper/utils"
	"notekeeper/worker"
)

func main() {
	// Load configuration
	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := config.AppConfig
	logger := utils.InitLogger(cfg.LogLevel, cfg.LogFormat)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
		}); err != nil {
			logger.WithError(err).Warn("Sentry initialization failed")
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := os.MkdirAll(cfg.UploadRoot, 0o755); err != nil {
		logger.Fatalf("Failed to create upload root: %v", err)
	}

	files := services.NewFileStore(cfg.UploadRoot)
	assembler := services.NewAssembler(files, services.NewImageNormalizer(cfg.ImageQuality, logger), logger)

	app := fiber.New(fiber.Config{
		BodyLimit:    cfg.MaxUploadMB << 20,
		ErrorHandler: routes.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(middleware.CORS(middleware.NotesCORSConfig(cfg.CORSOrigins)))

	limiterStorage := middleware.RateLimitStorage(cfg.Redis)
	routes.SetupRoutes(app, routes.Dependencies{
		DB:              config.DB,
		Tokens:          utils.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		Logger:          logger,
		Files:           files,
		Assembler:       assembler,
		UploadRateLimit: cfg.RateLimitUpload,
		LimiterStorage:  limiterStorage,
		SecureCookies:   cfg.Environment == "production",
		AccessLog:       true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	janitor := worker.NewChunkJanitor(assembler, cfg.ChunkSessionTTL, logger)
	go janitor.Start(ctx)

	// signal.Notify requires the channel to be buffered
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("Shutting down server")
		cancel()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}
	}()

	logger.Infof("Server starting on port %s", cfg.ServerPort)
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}

	if limiterStorage != nil {
		_ = limiterStorage.Close()
	}
	if sqlDB, err := config.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
