// Package main is the entrypoint for the scheduler daemon.
//
// The scheduler runs two operations over the enabled recurring events:
//   - on a cron cadence, compute and enqueue each event's next occurrence;
//   - at startup (and before the first cron tick), sweep for occurrences
//     missed during downtime and recover the ones still within the grace
//     period.
//
// Both operations are idempotent against the unique occurrence constraint,
// so overlapping runs and worker redeliveries converge on one delivery per
// occurrence. Alongside the cron loop it serves the operational health
// endpoints.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"milestone/internal/config"
	"milestone/internal/db"
	"milestone/internal/metrics"
	"milestone/internal/ops"
	"milestone/internal/queue"
	"milestone/internal/scheduler"
	"milestone/internal/types"
)

// runTimeout bounds a single scheduling or recovery run.
const runTimeout = 10 * time.Minute

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
	})).With("service", cfg.Service, "component", "scheduler")
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

	events := db.NewRecurringEventRepository(pool)
	notifications := db.NewScheduledNotificationRepository(pool)

	sched := scheduler.New(scheduler.Config{
		Events:        events,
		Notifications: notifications,
		Queue:         jobsQueue,
		Metrics:       sink,
		Logger:        typedLogger,
		Concurrency:   cfg.Scheduler.Concurrency,
	})
	recovery := scheduler.NewRecovery(scheduler.RecoveryConfig{
		Events:        events,
		Notifications: notifications,
		Queue:         jobsQueue,
		Metrics:       sink,
		Logger:        typedLogger,
		GracePeriod:   cfg.Scheduler.GracePeriod,
		Concurrency:   cfg.Scheduler.Concurrency,
	})

	// Cron entries fire concurrently with a startup recovery sweep; the
	// mutex keeps runs serialized within this replica. Cross-replica overlap
	// is resolved by the unique occurrence constraint.
	var runMu sync.Mutex

	runSchedule := func() {
		runMu.Lock()
		defer runMu.Unlock()
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		if _, err := sched.ScheduleUpcomingOccurrences(runCtx); err != nil {
			typedLogger.Error("scheduling run failed", "error", err.Error())
		}
	}
	runRecovery := func() {
		runMu.Lock()
		defer runMu.Unlock()
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		if _, err := recovery.RecoverMissedOccurrences(runCtx); err != nil {
			typedLogger.Error("recovery sweep failed", "error", err.Error())
		}
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(cfg.Scheduler.CronSpec, runSchedule); err != nil {
		logger.Error("invalid cron spec",
			"cron", cfg.Scheduler.CronSpec,
			"error", err.Error(),
		)
		os.Exit(1)
	}

	opsServer := ops.NewServer(typedLogger,
		ops.NewDatabaseProbe(pool),
		ops.NewQueueProbe(sqsClient, cfg.AWS.JobsQueueURL),
	)

	logger.Info("scheduler starting",
		"environment", cfg.Environment,
		"cron", cfg.Scheduler.CronSpec,
		"grace_period", cfg.Scheduler.GracePeriod.String(),
		"recover_on_start", cfg.Scheduler.RecoverOnStart,
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return opsServer.ListenAndServe(gCtx, cfg.Ops.Port)
	})
	g.Go(func() error {
		if cfg.Scheduler.RecoverOnStart {
			runRecovery()
		}
		runSchedule()

		c.Start()
		<-gCtx.Done()
		// Wait for a mid-run entry to finish before exiting.
		<-c.Stop().Done()
		return gCtx.Err()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler exited with error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("scheduler stopped")
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
