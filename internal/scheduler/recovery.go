package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"milestone/internal/metrics"
	"milestone/internal/occurrence"
	"milestone/internal/types"
)

// DefaultGracePeriod is how far past due a missed occurrence may be and
// still be worth delivering. Older occurrences are counted and skipped.
const DefaultGracePeriod = 120 * time.Hour

// Recovery reconciles occurrences that should have fired during an outage
// but have no scheduled-notification record. It runs at startup and on
// demand, and is safe to race against concurrent scheduler runs: the unique
// constraint resolves every collision.
type Recovery struct {
	events        EventLister
	notifications NotificationCreator
	queue         types.Queue
	metrics       types.MetricsSink
	clock         types.Clock
	logger        types.Logger
	gracePeriod   time.Duration
	concurrency   int
}

// RecoveryConfig holds the dependencies for creating a Recovery scanner.
type RecoveryConfig struct {
	Events        EventLister
	Notifications NotificationCreator
	Queue         types.Queue
	Metrics       types.MetricsSink
	Clock         types.Clock
	Logger        types.Logger
	GracePeriod   time.Duration
	Concurrency   int
}

// NewRecovery creates a Recovery scanner.
func NewRecovery(cfg RecoveryConfig) *Recovery {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	sink := cfg.Metrics
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &Recovery{
		events:        cfg.Events,
		notifications: cfg.Notifications,
		queue:         cfg.Queue,
		metrics:       sink,
		clock:         clock,
		logger:        cfg.Logger,
		gracePeriod:   grace,
		concurrency:   concurrency,
	}
}

// RecoverMissedOccurrences sweeps all enabled events for occurrences in the
// previous, current, and next calendar years that are past due, within the
// grace period, and not yet recorded, and schedules each exactly once.
// Scanning continues past per-event errors; the aggregate stats are emitted
// as operational metrics.
func (r *Recovery) RecoverMissedOccurrences(ctx context.Context) (types.RecoveryStats, error) {
	now := r.clock.Now()

	events, err := r.events.ListEnabled(ctx)
	if err != nil {
		return types.RecoveryStats{}, fmt.Errorf("listing enabled events: %w", err)
	}

	var (
		mu    sync.Mutex
		stats types.RecoveryStats
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, ev := range events {
		g.Go(func() error {
			evStats, err := r.recoverEvent(gCtx, ev, now)
			if err != nil {
				if types.IsCode(err, types.ErrCodeConfigUnknownEventKind) {
					return err
				}
				r.logger.Error("failed to recover event",
					"event_id", ev.Event.ID,
					"error", err.Error(),
				)
				return nil
			}
			mu.Lock()
			stats.TotalMissed += evStats.TotalMissed
			stats.Recovered += evStats.Recovered
			stats.Skipped += evStats.Skipped
			stats.AlreadyScheduled += evStats.AlreadyScheduled
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, err
	}

	r.emitStats(ctx, stats)
	r.logger.Info("recovery sweep complete",
		"events_considered", len(events),
		"total_missed", stats.TotalMissed,
		"recovered", stats.Recovered,
		"skipped", stats.Skipped,
		"already_scheduled", stats.AlreadyScheduled,
	)
	return stats, nil
}

// recoverEvent examines one event's occurrence window.
func (r *Recovery) recoverEvent(ctx context.Context, ev types.EnabledEvent, now time.Time) (types.RecoveryStats, error) {
	var stats types.RecoveryStats

	jobType, err := JobTypeForKind(ev.Event.Kind)
	if err != nil {
		return stats, err
	}

	loc, err := occurrence.LoadLocation(ev.Timezone)
	if err != nil {
		return stats, err
	}

	year := now.In(loc).Year()
	for _, y := range []int{year - 1, year, year + 1} {
		candidate, ok := occurrence.CandidateForYear(&ev.Event, y, loc)
		if !ok {
			continue
		}
		// Only occurrences that are past due belong to recovery; future
		// ones are the scheduler's job.
		if !candidate.Before(now) {
			continue
		}
		stats.TotalMissed++

		if age := now.Sub(candidate); age > r.gracePeriod {
			// Too stale to usefully deliver. A deliberate business skip,
			// recorded distinctly from failures.
			stats.Skipped++
			r.logger.Info("missed occurrence beyond grace period",
				"event_id", ev.Event.ID,
				"scheduled_for", candidate.Format(time.RFC3339),
				"age_hours", int(age.Hours()),
			)
			continue
		}

		exists, err := r.notifications.ExistsFor(ctx, ev.Event.ID, candidate)
		if err != nil {
			return stats, err
		}
		if exists {
			stats.AlreadyScheduled++
			continue
		}

		notification := &types.ScheduledNotification{
			EventID:      ev.Event.ID,
			ScheduledFor: candidate,
		}
		if err := r.notifications.Create(ctx, notification); err != nil {
			if types.IsDuplicateSchedule(err) {
				// Lost a race with a concurrent scheduler run between the
				// existence probe and the insert.
				stats.Skipped++
				continue
			}
			return stats, err
		}

		if err := enqueueOccurrence(ctx, r.queue, jobType, notification, ev.Event.UserID, 0); err != nil {
			return stats, err
		}

		stats.Recovered++
		r.logger.Info("missed occurrence recovered",
			"event_id", ev.Event.ID,
			"scheduled_for", candidate.Format(time.RFC3339),
		)
	}
	return stats, nil
}

func (r *Recovery) emitStats(ctx context.Context, stats types.RecoveryStats) {
	dims := map[string]string{}
	r.metrics.IncrCounterBy(ctx, "RecoveryMissed", stats.TotalMissed, dims)
	r.metrics.IncrCounterBy(ctx, "RecoveryRecovered", stats.Recovered, dims)
	r.metrics.IncrCounterBy(ctx, "RecoverySkipped", stats.Skipped, dims)
	r.metrics.IncrCounterBy(ctx, "RecoveryAlreadyScheduled", stats.AlreadyScheduled, dims)
}
