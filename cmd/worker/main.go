package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"dispatchd/internal/adapters/email"
	"dispatchd/internal/adapters/messaging"
	"dispatchd/internal/adapters/script"
	"dispatchd/internal/adapters/webhook"
	"dispatchd/internal/config"
	"dispatchd/internal/db"
	"dispatchd/internal/jobs"
	"dispatchd/internal/observability"
	"dispatchd/internal/queue"
	"dispatchd/internal/ratelimit"
	"dispatchd/internal/runtime"
)

func main() {
	workerID := flag.Int64("worker-id", envInt64("WORKER_ID"), "registry id of this worker")
	workerType := flag.String("worker-type", os.Getenv("WORKER_TYPE"), "job type this worker claims")
	coordinatorURL := flag.String("coordinator-url", envOrDefault("COORDINATOR_URL", "http://localhost:8080"), "base URL of the dispatch coordinator")
	flag.Parse()

	if *workerID == 0 || *workerType == "" {
		log.Fatal("worker requires -worker-id and -worker-type (or WORKER_ID/WORKER_TYPE)")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.GetLoggerFromEnv()
	defer logger.Sync()
	logger = logger.With(zap.Int64("worker_id", *workerID), zap.String("worker_type", *workerType))

	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.NewMetrics()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisDB, err := db.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisDB.Close()
	redisClient := redisDB.Client

	transport := queue.NewTransport(redisClient, logger)
	limiter := ratelimit.NewLimiter(redisClient, logger, cfg.RateLimitMaxTokens, cfg.RateLimitRefillRate, cfg.RateLimitKeyExpiry)

	dispatcher := runtime.NewDispatcher(limiter, logger)
	registerAdapters(ctx, dispatcher, cfg, logger)

	coordinator := runtime.NewCoordinatorClient(*coordinatorURL, cfg.APIKey)
	rt := runtime.New(*workerID, *workerType, coordinator, transport, dispatcher, logger, metrics)

	logger.Info("worker runtime starting")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("worker runtime shutting down")
		cancel()
	}()

	rt.Run(ctx)
	logger.Info("worker runtime stopped")
}

// registerAdapters wires one Adapter per job type this binary may be
// asked to run. A worker only ever claims its own type, so only the
// matching adapter is ever exercised, but all are registered up front —
// the same binary image serves every job type, with the supervisor's
// -worker-type flag deciding behavior at run time rather than build time.
func registerAdapters(ctx context.Context, dispatcher *runtime.Dispatcher, cfg *config.Config, logger *zap.Logger) {
	if cfg.EmailConfigDB != "" {
		emailDB, err := db.NewPostgres(ctx, cfg.EmailConfigDB)
		if err != nil {
			logger.Warn("failed to connect email config db, EMAIL jobs will fail", zap.Error(err))
		} else {
			configStore := email.NewConfigStore(emailDB.DB, logger)

			logStore := configStore
			if cfg.EmailLogDB != "" && cfg.EmailLogDB != cfg.EmailConfigDB {
				logDB, err := db.NewPostgres(ctx, cfg.EmailLogDB)
				if err != nil {
					logger.Warn("failed to connect email log db, falling back to config db for attempt logging", zap.Error(err))
				} else {
					logStore = email.NewConfigStore(logDB.DB, logger)
				}
			}

			adapter := email.NewAdapter(configStore, nil, logStore, logger, cfg.EmailFailover, cfg.EmailNotify)
			notifier := email.NewAdminAlerter(adapter, cfg.AdminEmail, logger)
			adapter = email.NewAdapter(configStore, notifier, logStore, logger, cfg.EmailFailover, cfg.EmailNotify)
			dispatcher.Register(jobs.TypeEmail, adapter)
		}
	}

	messagingAdapter := messaging.NewAdapter(cfg.MessagingBaseURL, cfg.MessagingDefaultDelay, cfg.MessagingFallbackURL, cfg.MessagingFallbackToken, logger)
	dispatcher.Register(jobs.TypeWhatsApp, messagingAdapter)

	dispatcher.Register(jobs.TypeSMS, webhook.NewAdapter(cfg.SMSWebhookURL, jobs.TypeSMS))
	dispatcher.Register(jobs.TypeNotification, webhook.NewAdapter(cfg.NotificationWebhookURL, jobs.TypeNotification))

	if cfg.TaskSchedulerDB != "" {
		taskDB, err := db.NewPostgres(ctx, cfg.TaskSchedulerDB)
		if err != nil {
			logger.Warn("failed to connect task scheduler db, CRONJOB jobs will fail", zap.Error(err))
		} else {
			taskStore := script.NewTaskStore(taskDB.DB, logger)
			gate := script.NewResourceGate()
			runner := script.NewRunner(cfg.ScriptsDir, gate, taskStore, logger,
				cfg.ResourceCPUThreshold, cfg.ResourceMemThreshold, cfg.ResourceCheckInterval, cfg.ResourceCheckRetries)
			dispatcher.Register(jobs.TypeCronjob, runner)
		}
	}
}

func envInt64(key string) int64 {
	v, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
