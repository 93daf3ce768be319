// Package config defines the global configuration structure for the saaskit
// platform. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved from the OS environment, optionally seeded from a
// dotenv file in local development. Any missing required value or invalid
// format causes the application to fail immediately on startup.
package config

import "time"

// Config is the top-level configuration struct for the saaskit platform.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server    ServerConfig
	Database  DatabaseConfig
	Scheduler SchedulerConfig
	Worker    WorkerConfig
	Billing   BillingConfig
	Webhook   WebhookConfig
	Queue     QueueConfig
	Archive   ArchiveConfig
	Metrics   MetricsConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public URL for billing redirects (no trailing slash)
	DashboardURL string `envconfig:"DASHBOARD_URL" default:"http://localhost:3000" validate:"required,url"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// SchedulerConfig holds scheduled-action creation parameters.
type SchedulerConfig struct {
	// DedupWindow bounds how far back one-shot deduplication looks for an
	// existing pending row.
	DedupWindow time.Duration `envconfig:"SCHEDULER_DEDUP_WINDOW" default:"5s"`
}

// WorkerConfig holds action worker tuning parameters.
type WorkerConfig struct {
	BatchSize    int           `envconfig:"WORKER_BATCH_SIZE" default:"25"`
	PollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"10s"`
	RetryBackoff time.Duration `envconfig:"WORKER_RETRY_BACKOFF" default:"1m"`
}

// BillingConfig holds Stripe payment integration credentials.
type BillingConfig struct {
	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
}

// WebhookConfig holds settings for outbound webhook delivery.
type WebhookConfig struct {
	UserAgent      string        `envconfig:"WEBHOOK_USER_AGENT" default:"Saaskit-Webhook/1.0"`
	DefaultTimeout time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	SigningSecret  string        `envconfig:"WEBHOOK_SIGNING_SECRET"`
	// PlanLimitURL, when set, receives a signed notification whenever a team
	// is found over a plan limit.
	PlanLimitURL string `envconfig:"WEBHOOK_PLAN_LIMIT_URL" validate:"omitempty,url"`
}

// QueueConfig holds the optional SQS due-action notification queue.
// An empty URL disables queue notification; workers then rely on polling.
type QueueConfig struct {
	ActionsQueueURL string `envconfig:"SQS_ACTIONS_QUEUE" validate:"omitempty,url"`
	Region          string `envconfig:"AWS_REGION" default:"us-east-1"`
}

// ArchiveConfig holds archiver retention settings.
type ArchiveConfig struct {
	Dir       string        `envconfig:"ARCHIVE_DIR" default:"/var/lib/saaskit/archive"`
	Retention time.Duration `envconfig:"ARCHIVE_RETENTION" default:"720h"`
	BatchSize int           `envconfig:"ARCHIVE_BATCH_SIZE" default:"500"`
}

// MetricsConfig holds hook statistics export settings.
type MetricsConfig struct {
	Enabled         bool          `envconfig:"METRICS_ENABLED" default:"false"`
	PublishInterval time.Duration `envconfig:"METRICS_PUBLISH_INTERVAL" default:"1m"`
}
