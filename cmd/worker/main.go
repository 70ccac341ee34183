// Package main is the entrypoint for the notification worker daemon.
//
// The worker long-polls the jobs queue and processes birthday and
// anniversary notification jobs: load the scheduled occurrence, apply the
// handler's suppression rules, dispatch to the user's webhook, and write
// delivery status back. Alongside the poll loop it serves the operational
// health endpoints.
//
// Startup:
//  1. Initialize structured logger.
//  2. Load and validate configuration (fail fast).
//  3. Connect the database pool and AWS clients.
//  4. Build the processor registry (one processor per job type) and freeze it.
//  5. Run the poll loop and ops server until SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"milestone/internal/config"
	"milestone/internal/db"
	"milestone/internal/delivery"
	"milestone/internal/jobs"
	"milestone/internal/metrics"
	"milestone/internal/ops"
	"milestone/internal/queue"
	"milestone/internal/types"
	"milestone/internal/worker"
)

// slogAdapter wraps *slog.Logger to implement types.Logger. slog satisfies
// Info/Warn/Error directly but With returns *slog.Logger, so the adapter is
// needed.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

var _ types.Logger = (*slogAdapter)(nil)

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err.Error())
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	})).With("service", cfg.Service, "component", "worker")
	typedLogger := &slogAdapter{logger: logger}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := newPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect database", "error", err.Error())
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err.Error())
		os.Exit(1)
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	jobsQueue := queue.NewSQSQueue(sqsClient, cfg.AWS.JobsQueueURL, cfg.AWS.DlqURL, typedLogger)
	sink := metrics.NewCloudWatchSink(cwClient, typedLogger)

	notifications := db.NewScheduledNotificationRepository(pool)
	events := db.NewRecurringEventRepository(pool)
	users := db.NewUserRepository(pool)

	dispatcher := delivery.NewWebhookDispatcher(delivery.WebhookConfig{
		SigningSecret:  cfg.Webhook.SigningSecret.Unmask(),
		RequestTimeout: cfg.Webhook.Timeout,
		UserAgent:      cfg.Webhook.UserAgent,
		Logger:         typedLogger,
	})

	registry := jobs.NewRegistry()
	processors := []jobs.Processor{
		jobs.NewNotificationProcessor(jobs.NotificationProcessorConfig{
			JobType:       types.JobBirthdayNotification,
			Handler:       jobs.BirthdayHandler{},
			Dispatcher:    dispatcher,
			Notifications: notifications,
			Events:        events,
			Users:         users,
			Logger:        typedLogger,
		}),
		jobs.NewNotificationProcessor(jobs.NotificationProcessorConfig{
			JobType:       types.JobAnniversaryNotification,
			Handler:       jobs.AnniversaryHandler{},
			Dispatcher:    dispatcher,
			Notifications: notifications,
			Events:        events,
			Users:         users,
			Logger:        typedLogger,
		}),
	}
	for _, p := range processors {
		if err := registry.Register(p); err != nil {
			logger.Error("failed to register processor",
				"job_type", string(p.Type()),
				"error", err.Error(),
			)
			os.Exit(1)
		}
	}
	registry.Freeze()

	w := worker.New(worker.WorkerConfig{
		Queue:             jobsQueue,
		Registry:          registry,
		Metrics:           sink,
		Logger:            typedLogger,
		MaxMessages:       cfg.Worker.MaxMessages,
		WaitTime:          cfg.Worker.WaitTime,
		VisibilityTimeout: cfg.Worker.VisibilityTimeout,
		Concurrency:       cfg.Worker.Concurrency,
		DrainTimeout:      cfg.Worker.DrainTimeout,
	})

	opsServer := ops.NewServer(typedLogger,
		ops.NewDatabaseProbe(pool),
		ops.NewQueueProbe(sqsClient, cfg.AWS.JobsQueueURL),
	)

	logger.Info("worker starting",
		"environment", cfg.Environment,
		"jobs_queue", cfg.AWS.JobsQueueURL,
		"ops_port", cfg.Ops.Port,
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gCtx)
	})
	g.Go(func() error {
		return opsServer.ListenAndServe(gCtx, cfg.Ops.Port)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker exited with error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.ConnConfig.ConnectTimeout = cfg.Database.AcquireTimeout
	return pgxpool.NewWithConfig(ctx, poolCfg)
}
