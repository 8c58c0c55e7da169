package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"dispatchd/internal/config"
	"dispatchd/internal/coordinator"
	"dispatchd/internal/db"
	"dispatchd/internal/jobs"
	"dispatchd/internal/observability"
	"dispatchd/internal/queue"
	"dispatchd/internal/supervisor"
	"dispatchd/internal/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.GetLoggerFromEnv()
	defer logger.Sync()

	logger.Info("starting dispatch coordinator", zap.String("log_level", cfg.LogLevel))

	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.NewMetrics()
	}

	if cfg.TracingEnabled {
		shutdown, err := observability.SetupTracing(context.Background(), "dispatchd-coordinator", cfg.OTLPEndpoint, logger)
		if err != nil {
			logger.Warn("failed to set up tracing", zap.Error(err))
		} else {
			defer shutdown(context.Background())
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	postgres, err := db.NewPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer postgres.Close()

	if err := postgres.RunMigrations("migrations"); err != nil {
		logger.Warn("failed to run migrations", zap.Error(err))
	}

	redisDB, err := db.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisDB.Close()
	redisClient := redisDB.Client

	audit, err := queue.NewAuditBus(cfg.NATSURL, logger)
	if err != nil {
		logger.Warn("failed to connect supervisor audit bus, continuing without it", zap.Error(err))
	}
	defer audit.Close()

	jobStore := jobs.NewStore(postgres.DB, logger)
	workerStore := workers.NewStore(postgres.DB, logger)
	transport := queue.NewTransport(redisClient, logger)

	super := supervisor.New(workerBinPath(), workerStore, audit, logger, cfg.MaxWorkersPerType)
	if err := super.Init(ctx, []string{"EMAIL", "WHATSAPP", "SMS", "NOTIFICATION", "CRONJOB"}); err != nil {
		logger.Error("supervisor init failed", zap.Error(err))
	}

	coordinator.RegisterCompletionHandlers(ctx, transport, jobStore, workerStore, logger)

	guard, err := coordinator.NewAPIKeyGuard(cfg.APIKey)
	if err != nil {
		logger.Fatal("failed to initialize API key guard", zap.Error(err))
	}

	handlers := coordinator.NewHandlers(jobStore, workerStore, transport, super, logger, metrics)

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			logger.Error("fiber error", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
		},
	})
	coordinator.SetupRoutes(app, logger, metrics, handlers, guard)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()
	logger.Info("dispatch coordinator started", zap.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	super.Shutdown(context.Background())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("failed to shut down gracefully", zap.Error(err))
	}

	logger.Info("dispatch coordinator stopped")
}

func workerBinPath() string {
	if path := os.Getenv("WORKER_BIN"); path != "" {
		return path
	}
	return "./worker"
}
