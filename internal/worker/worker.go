// Package worker runs the long-lived polling loop that drains the jobs
// queue: receive a batch, route each envelope through the processor
// registry, acknowledge what is done, and leave the rest for queue-native
// redelivery.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"milestone/internal/jobs"
	"milestone/internal/metrics"
	"milestone/internal/types"
)

// Defaults for the poll loop. Wait time is the long-poll duration; the
// visibility timeout must comfortably exceed the slowest expected delivery
// attempt so a healthy in-flight message is never redelivered.
const (
	DefaultMaxMessages       = 10
	DefaultWaitTime          = 20 * time.Second
	DefaultVisibilityTimeout = 2 * time.Minute
	DefaultConcurrency       = 10
	DefaultDrainTimeout      = 30 * time.Second
)

// Worker polls the queue and dispatches envelopes to registered processors.
// One Worker per process; horizontal scale comes from running more
// replicas, with the visibility timeout keeping replicas from processing
// the same message concurrently.
type Worker struct {
	queue             types.Queue
	registry          *jobs.Registry
	metrics           types.MetricsSink
	logger            types.Logger
	maxMessages       int
	waitTime          time.Duration
	visibilityTimeout time.Duration
	concurrency       int
	drainTimeout      time.Duration
}

// WorkerConfig holds the dependencies for creating a Worker.
type WorkerConfig struct {
	Queue             types.Queue
	Registry          *jobs.Registry
	Metrics           types.MetricsSink
	Logger            types.Logger
	MaxMessages       int
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
	Concurrency       int
	DrainTimeout      time.Duration
}

// New creates a Worker. The registry should be frozen before Run is called.
func New(cfg WorkerConfig) *Worker {
	w := &Worker{
		queue:             cfg.Queue,
		registry:          cfg.Registry,
		metrics:           cfg.Metrics,
		logger:            cfg.Logger,
		maxMessages:       cfg.MaxMessages,
		waitTime:          cfg.WaitTime,
		visibilityTimeout: cfg.VisibilityTimeout,
		concurrency:       cfg.Concurrency,
		drainTimeout:      cfg.DrainTimeout,
	}
	if w.maxMessages <= 0 {
		w.maxMessages = DefaultMaxMessages
	}
	if w.waitTime <= 0 {
		w.waitTime = DefaultWaitTime
	}
	if w.visibilityTimeout <= 0 {
		w.visibilityTimeout = DefaultVisibilityTimeout
	}
	if w.concurrency <= 0 {
		w.concurrency = DefaultConcurrency
	}
	if w.drainTimeout <= 0 {
		w.drainTimeout = DefaultDrainTimeout
	}
	if w.metrics == nil {
		w.metrics = metrics.NoopSink{}
	}
	return w
}

// Run polls until ctx is canceled. Receive errors back off exponentially and
// never terminate the loop; processing failures are per-message and leave
// the message for redelivery. When ctx is canceled, the batch in flight
// finishes within the drain timeout before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		"max_messages", w.maxMessages,
		"visibility_timeout", w.visibilityTimeout.String(),
		"job_types", len(w.registry.Types()),
	)

	receiveFailures := 0
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return ctx.Err()
		default:
		}

		messages, err := w.queue.ReceiveBatch(ctx, w.maxMessages, w.waitTime, w.visibilityTimeout)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopping")
				return ctx.Err()
			}
			receiveFailures++
			delay := jobs.CalculateBackoff(jobs.PollBackoffPolicy, receiveFailures-1)
			w.logger.Error("receive failed, backing off",
				"error", err.Error(),
				"attempt", receiveFailures,
				"delay", delay.String(),
			)
			w.metrics.IncrCounter(ctx, "ReceiveError", nil)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		receiveFailures = 0

		if len(messages) == 0 {
			continue
		}
		w.processBatch(ctx, messages)
	}
}

// processBatch handles one received batch concurrently. The batch is
// processed on a context that survives shutdown (bounded by the drain
// timeout), so a SIGTERM mid-batch does not abandon half-finished work.
func (w *Worker) processBatch(ctx context.Context, messages []types.QueueMessage) {
	batchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.drainTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(batchCtx)
	g.SetLimit(w.concurrency)
	for _, msg := range messages {
		g.Go(func() error {
			w.handleMessage(gCtx, msg)
			return nil
		})
	}
	_ = g.Wait()
}

// handleMessage runs one message end to end. Malformed or unroutable
// envelopes can never improve on redelivery, so they are dead-lettered and
// deleted; everything else follows the processor's verdict.
func (w *Worker) handleMessage(ctx context.Context, msg types.QueueMessage) {
	start := time.Now()

	envelope, err := w.validateEnvelope(msg.Body)
	if err != nil {
		w.discard(ctx, msg, err.Error(), "validation_failure")
		return
	}

	processor, ok := w.registry.Handler(envelope.Type)
	if !ok {
		// A valid type with no handler is a deployment gap, not a bad
		// message; the distinct discard reason lets operators alarm on it.
		w.discard(ctx, msg, fmt.Sprintf("no processor registered for job type %q", envelope.Type), "unregistered_type")
		return
	}

	dims := map[string]string{"job_type": string(envelope.Type)}
	result := w.runProcessor(ctx, processor, *envelope)
	if !result.Success {
		// Leave the message in the queue; the visibility timeout brings it
		// back, and the transport dead-letters it past max receive count.
		w.logger.Warn("job failed, leaving for redelivery",
			"message_id", msg.MessageID,
			"job_type", string(envelope.Type),
			"idempotency_key", envelope.IdempotencyKey,
			"error", result.Error,
			"receive_count", msg.Attributes["ApproximateReceiveCount"],
		)
		w.metrics.IncrCounter(ctx, "JobFailed", dims)
		return
	}

	if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		// The job itself succeeded and is idempotent on redelivery; only the
		// acknowledgment was lost.
		w.logger.Error("failed to delete processed message",
			"message_id", msg.MessageID,
			"error", err.Error(),
		)
		return
	}

	w.metrics.IncrCounter(ctx, "JobSucceeded", dims)
	w.metrics.RecordDuration(ctx, "JobDuration", dims, time.Since(start))
	w.logger.Info("job processed",
		"message_id", msg.MessageID,
		"job_type", string(envelope.Type),
		"idempotency_key", envelope.IdempotencyKey,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// runProcessor invokes the processor with panic containment: a panic in one
// handler must not take down the daemon or the rest of the batch. The panic
// resolves as a failed result, so the message stays in the queue and
// redelivery (then the redrive policy) takes over.
func (w *Worker) runProcessor(ctx context.Context, processor jobs.Processor, envelope types.JobEnvelope) (result types.ProcessorResult) {
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("processor panicked",
				"job_type", string(envelope.Type),
				"idempotency_key", envelope.IdempotencyKey,
				"panic", fmt.Sprintf("%v", rec),
				"stack", string(debug.Stack()),
			)
			result = types.Fail(fmt.Sprintf("processor panic: %v", rec))
		}
	}()
	return processor.Process(ctx, envelope)
}

// validateEnvelope parses and checks the parts of the envelope the worker
// owns: shape, schema version, and a routable job type.
func (w *Worker) validateEnvelope(body []byte) (*types.JobEnvelope, error) {
	var envelope types.JobEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidEnvelope,
			fmt.Sprintf("unparseable envelope: %v", err), err)
	}
	if envelope.SchemaVersion != types.EnvelopeSchemaVersion {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidEnvelope,
			fmt.Sprintf("unsupported schema version %d", envelope.SchemaVersion), nil)
	}
	if !types.ValidJobType(envelope.Type) {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidEnvelope,
			fmt.Sprintf("unknown job type %q", envelope.Type), nil)
	}
	return &envelope, nil
}

// discard moves a permanently unprocessable message to the dead-letter
// destination and acknowledges it, so it stops burning receive attempts.
// cause dimensions the discard metric: "validation_failure" for malformed
// envelopes, "unregistered_type" for routable types with no handler bound.
func (w *Worker) discard(ctx context.Context, msg types.QueueMessage, reason, cause string) {
	w.logger.Warn("discarding unprocessable message",
		"message_id", msg.MessageID,
		"reason", reason,
	)
	if err := w.queue.SendToDeadLetter(ctx, msg.Body, reason); err != nil {
		// Keep the message in the main queue rather than lose it.
		w.logger.Error("failed to dead-letter message",
			"message_id", msg.MessageID,
			"error", err.Error(),
		)
		return
	}
	if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		w.logger.Error("failed to delete dead-lettered message",
			"message_id", msg.MessageID,
			"error", err.Error(),
		)
	}
	w.metrics.IncrCounter(ctx, "JobDiscarded", map[string]string{"reason": cause})
}
