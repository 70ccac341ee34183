package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"milestone/internal/metrics"
	"milestone/internal/occurrence"
	"milestone/internal/types"
)

// DefaultConcurrency bounds how many events are scheduled simultaneously
// within one run, so a large event list does not overwhelm the store.
const DefaultConcurrency = 8

// Scheduler computes the next occurrence for every enabled recurring event
// and enqueues one job per newly scheduled occurrence. Runs are idempotent:
// the unique constraint on (event_id, scheduled_for) makes repeated or
// concurrent runs converge on exactly one row and at most one envelope per
// occurrence.
type Scheduler struct {
	events        EventLister
	notifications NotificationCreator
	queue         types.Queue
	metrics       types.MetricsSink
	clock         types.Clock
	logger        types.Logger
	concurrency   int
}

// Config holds the dependencies for creating a Scheduler.
type Config struct {
	Events        EventLister
	Notifications NotificationCreator
	Queue         types.Queue
	Metrics       types.MetricsSink
	Clock         types.Clock
	Logger        types.Logger
	Concurrency   int
}

// New creates a Scheduler with the given configuration.
func New(cfg Config) *Scheduler {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	sink := cfg.Metrics
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &Scheduler{
		events:        cfg.Events,
		notifications: cfg.Notifications,
		queue:         cfg.Queue,
		metrics:       sink,
		clock:         clock,
		logger:        cfg.Logger,
		concurrency:   concurrency,
	}
}

// ScheduleUpcomingOccurrences schedules the next occurrence of every
// enabled event and returns the count of newly enqueued occurrences.
//
// Per-event failures (bad timezone, store hiccups) are logged and do not
// abort the batch. An unknown event kind aborts the run: it is a
// configuration gap, and continuing would silently never schedule that
// kind.
func (s *Scheduler) ScheduleUpcomingOccurrences(ctx context.Context) (int, error) {
	now := s.clock.Now()

	events, err := s.events.ListEnabled(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing enabled events: %w", err)
	}

	var scheduled atomic.Int64

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, ev := range events {
		g.Go(func() error {
			created, err := s.scheduleOne(gCtx, ev, now)
			if err != nil {
				if types.IsCode(err, types.ErrCodeConfigUnknownEventKind) {
					return err
				}
				s.logger.Error("failed to schedule event",
					"event_id", ev.Event.ID,
					"error", err.Error(),
				)
				s.metrics.IncrCounter(gCtx, "SchedulingError", map[string]string{
					"kind": string(ev.Event.Kind),
				})
				return nil
			}
			if created {
				scheduled.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(scheduled.Load()), err
	}

	count := int(scheduled.Load())
	s.metrics.IncrCounterBy(ctx, "OccurrencesScheduled", count, nil)
	s.logger.Info("scheduling run complete",
		"events_considered", len(events),
		"newly_scheduled", count,
	)
	return count, nil
}

// scheduleOne computes, persists, and enqueues the next occurrence for one
// event. Returns false without error when the occurrence was already
// scheduled (the expected idempotent race).
func (s *Scheduler) scheduleOne(ctx context.Context, ev types.EnabledEvent, now time.Time) (bool, error) {
	// Resolve the job type first: an unmapped kind must fail the run even
	// if this event's occurrence would have been a duplicate.
	jobType, err := JobTypeForKind(ev.Event.Kind)
	if err != nil {
		return false, err
	}

	loc, err := occurrence.LoadLocation(ev.Timezone)
	if err != nil {
		return false, err
	}

	next, err := occurrence.Next(&ev.Event, now, loc)
	if err != nil {
		return false, err
	}

	notification := &types.ScheduledNotification{
		EventID:      ev.Event.ID,
		ScheduledFor: next,
	}
	if err := s.notifications.Create(ctx, notification); err != nil {
		if types.IsDuplicateSchedule(err) {
			// Already scheduled by a previous run or a concurrent replica.
			// This is the idempotency boundary, not an error; skipping the
			// enqueue keeps envelopes at most one per occurrence.
			return false, nil
		}
		return false, err
	}

	if err := enqueueOccurrence(ctx, s.queue, jobType, notification, ev.Event.UserID, 0); err != nil {
		return false, err
	}

	s.logger.Info("occurrence scheduled",
		"event_id", ev.Event.ID,
		"scheduled_for", next.Format(time.RFC3339),
		"job_type", string(jobType),
	)
	return true, nil
}

// enqueueOccurrence builds and sends the job envelope for a persisted
// occurrence. Shared by the scheduler and the recovery scanner so both
// produce identical envelopes.
func enqueueOccurrence(ctx context.Context, queue types.Queue, jobType types.JobType, n *types.ScheduledNotification, userID string, delay time.Duration) error {
	payload, err := json.Marshal(types.NotificationJobPayload{
		NotificationID: n.ID,
		EventID:        n.EventID,
		UserID:         userID,
		ScheduledFor:   n.ScheduledFor.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshaling job payload: %w", err)
	}

	envelope := types.JobEnvelope{
		Type:           jobType,
		SchemaVersion:  types.EnvelopeSchemaVersion,
		IdempotencyKey: occurrence.IdempotencyKey(n.EventID, n.ScheduledFor.Year()),
		Payload:        payload,
	}
	if err := queue.Send(ctx, envelope, delay); err != nil {
		return fmt.Errorf("enqueueing job: %w", err)
	}
	return nil
}
