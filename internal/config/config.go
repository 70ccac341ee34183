// Package config defines the process configuration for the milestone
// services. Configuration is loaded once at startup and immutable
// thereafter; values come from the OS environment, with a .env file as a
// development convenience that never overrides real environment variables.
package config

import (
	"time"

	"milestone/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used in configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct shared by the worker,
// scheduler, and CLI tools. Sub-components receive only the specific config
// subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"milestone"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Database  DatabaseConfig
	AWS       AWSConfig
	Worker    WorkerConfig
	Scheduler SchedulerConfig
	Webhook   WebhookConfig
	Ops       OpsConfig
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	JobsQueueURL string `envconfig:"SQS_JOBS_QUEUE" validate:"required,url"`
	DlqURL       string `envconfig:"SQS_DLQ" validate:"required,url"`

	// LocalStack support; empty in prod.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// WorkerConfig holds poll-loop tuning for the queue worker.
type WorkerConfig struct {
	MaxMessages       int           `envconfig:"WORKER_MAX_MESSAGES" default:"10" validate:"min=1,max=10"`
	WaitTime          time.Duration `envconfig:"WORKER_WAIT_TIME" default:"20s"`
	VisibilityTimeout time.Duration `envconfig:"WORKER_VISIBILITY_TIMEOUT" default:"2m"`
	Concurrency       int           `envconfig:"WORKER_CONCURRENCY" default:"10" validate:"min=1"`
	DrainTimeout      time.Duration `envconfig:"WORKER_DRAIN_TIMEOUT" default:"30s"`
}

// SchedulerConfig holds the scheduling cadence and recovery tuning.
type SchedulerConfig struct {
	// CronSpec is a standard 5-field cron expression for scheduling runs.
	CronSpec       string        `envconfig:"SCHEDULER_CRON" default:"0 * * * *"`
	Concurrency    int           `envconfig:"SCHEDULER_CONCURRENCY" default:"8" validate:"min=1"`
	GracePeriod    time.Duration `envconfig:"RECOVERY_GRACE_PERIOD" default:"120h"`
	RecoverOnStart bool          `envconfig:"RECOVERY_ON_START" default:"true"`
}

// WebhookConfig holds settings for outbound webhook delivery.
type WebhookConfig struct {
	SigningSecret SecretString  `envconfig:"WEBHOOK_SIGNING_SECRET" validate:"required,min=16"`
	Timeout       time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	UserAgent     string        `envconfig:"WEBHOOK_USER_AGENT" default:"Milestone-Notify/1.0"`
}

// OpsConfig holds the operational HTTP endpoint settings.
type OpsConfig struct {
	Port string `envconfig:"OPS_PORT" default:"8080"`
}
