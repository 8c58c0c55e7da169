package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the process-wide configuration for both the coordinator and
// worker runtime binaries. Each binary only reads the fields relevant to
// it, but Load enforces every required field in both binaries, so
// POSTGRES_URL and REDIS_URL must be set even where one is unused.
type Config struct {
	// Server (coordinator)
	Port         string        `envconfig:"PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`
	APIKey       string        `envconfig:"API_KEY" default:"dev-secret"`

	// Storage
	PostgresURL string `envconfig:"POSTGRES_URL" required:"true"`
	RedisURL    string `envconfig:"REDIS_URL" required:"true"`

	// Supervisor lifecycle audit bus (C11, additive to the Redis queue transport)
	NATSURL string `envconfig:"NATS_URL" default:""`

	// Rate limiter (C1) settings, shared by every bucket of a Limiter.
	RateLimitMaxTokens  int           `envconfig:"RATE_LIMIT_MAX_TOKENS" default:"10"`
	RateLimitRefillRate float64       `envconfig:"RATE_LIMIT_REFILL_RATE" default:"5"`
	RateLimitKeyExpiry  time.Duration `envconfig:"RATE_LIMIT_KEY_EXPIRY" default:"10m"`

	// Worker runtime (C7). Not read by the runtime: its poll interval is
	// the fixed one-second pollInterval in internal/runtime/loop.go.
	WorkerPollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"1s"`

	// Worker supervisor (C5)
	MaxWorkersPerType int `envconfig:"MAX_WORKERS_PER_TYPE" default:"50"`

	// Webhook job types (SMS / NOTIFICATION) — per-type endpoint
	SMSWebhookURL          string `envconfig:"SMS_WEBHOOK_URL" default:""`
	NotificationWebhookURL string `envconfig:"NOTIFICATION_WEBHOOK_URL" default:""`

	// Messaging adapter (C9, WhatsApp)
	MessagingBaseURL       string        `envconfig:"MESSAGING_BASE_URL" default:"http://localhost:3000"`
	MessagingDefaultDelay  time.Duration `envconfig:"MESSAGING_DEFAULT_DELAY" default:"0s"`
	MessagingFallbackURL   string        `envconfig:"MESSAGING_FALLBACK_URL" default:""`
	MessagingFallbackToken string        `envconfig:"MESSAGING_FALLBACK_TOKEN" default:""`

	// Email adapter (C8) config store
	EmailConfigDB string `envconfig:"EMAIL_CONFIG_DB" default:""`
	EmailLogDB    string `envconfig:"EMAIL_LOG_DB" default:""`
	EmailFailover bool   `envconfig:"EMAIL_FAILOVER_ENABLED" default:"true"`
	EmailNotify   bool   `envconfig:"EMAIL_NOTIFY_ADMIN" default:"true"`
	AdminEmail    string `envconfig:"ADMIN_EMAIL" default:""`

	// Script runner (C10)
	ScriptsDir            string        `envconfig:"SCRIPTS_DIR" default:"./scripts"`
	TaskSchedulerDB       string        `envconfig:"TASK_SCHEDULER_DB" default:""`
	ResourceCPUThreshold  float64       `envconfig:"RESOURCE_CPU_THRESHOLD" default:"80"`
	ResourceMemThreshold  float64       `envconfig:"RESOURCE_MEM_THRESHOLD" default:"85"`
	ResourceCheckInterval time.Duration `envconfig:"RESOURCE_CHECK_INTERVAL" default:"2s"`
	ResourceCheckRetries  int           `envconfig:"RESOURCE_CHECK_RETRIES" default:"5"`

	// Observability
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	TracingEnabled bool   `envconfig:"TRACING_ENABLED" default:"false"`
	OTLPEndpoint   string `envconfig:"OTLP_ENDPOINT" default:"localhost:4317"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
