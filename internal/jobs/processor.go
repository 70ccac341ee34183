package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"milestone/internal/types"
)

// NotificationStore abstracts the scheduled-notification status transitions
// the processor needs. Implemented by db.ScheduledNotificationRepository.
type NotificationStore interface {
	GetByID(ctx context.Context, id string) (*types.ScheduledNotification, error)
	MarkSent(ctx context.Context, id string, deliveredAt time.Time, responseCode int, metadata map[string]any) error
	MarkFailed(ctx context.Context, id string, lastError string, responseCode int) error
	MarkSkipped(ctx context.Context, id string, reason string) error
}

// EventStore abstracts event definition lookups.
type EventStore interface {
	GetByID(ctx context.Context, id string) (*types.RecurringEvent, error)
}

// UserStore abstracts the user projection lookup.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
}

// NotificationProcessor processes one job type by bridging the persisted
// occurrence, the delivery handler's business rules, and the outbound
// dispatcher. The same implementation serves birthday and anniversary jobs;
// only the injected DeliveryHandler differs.
//
// Outcome mapping, which the worker turns into queue actions:
//   - conditions that can never improve (missing payload fields, vanished
//     rows, suppressed users) resolve as Success so the message is
//     acknowledged and never redelivered;
//   - transient conditions (store errors, failed dispatch) resolve as
//     failure so queue-native redelivery retries them.
type NotificationProcessor struct {
	jobType       types.JobType
	handler       types.DeliveryHandler
	dispatcher    types.Dispatcher
	notifications NotificationStore
	events        EventStore
	users         UserStore
	clock         types.Clock
	logger        types.Logger
}

// NotificationProcessorConfig holds the dependencies for a processor.
type NotificationProcessorConfig struct {
	JobType       types.JobType
	Handler       types.DeliveryHandler
	Dispatcher    types.Dispatcher
	Notifications NotificationStore
	Events        EventStore
	Users         UserStore
	Clock         types.Clock
	Logger        types.Logger
}

// NewNotificationProcessor creates a processor for one job type.
func NewNotificationProcessor(cfg NotificationProcessorConfig) *NotificationProcessor {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	return &NotificationProcessor{
		jobType:       cfg.JobType,
		handler:       cfg.Handler,
		dispatcher:    cfg.Dispatcher,
		notifications: cfg.Notifications,
		events:        cfg.Events,
		users:         cfg.Users,
		clock:         clock,
		logger:        cfg.Logger,
	}
}

var _ Processor = (*NotificationProcessor)(nil)

// Type returns the job type this processor serves.
func (p *NotificationProcessor) Type() types.JobType { return p.jobType }

// Process delivers one occurrence and writes status back to the persisted
// notification record.
func (p *NotificationProcessor) Process(ctx context.Context, envelope types.JobEnvelope) types.ProcessorResult {
	var payload types.NotificationJobPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		// A payload that does not parse will never parse. Resolve the
		// message instead of redelivering it forever.
		p.logger.Error("unparseable job payload, dropping",
			"job_type", string(p.jobType),
			"idempotency_key", envelope.IdempotencyKey,
			"error", err.Error(),
		)
		return types.Succeed(map[string]any{"dropped": "unparseable_payload"})
	}
	if payload.NotificationID == "" || payload.UserID == "" || payload.EventID == "" {
		p.logger.Error("job payload missing required fields, dropping",
			"idempotency_key", envelope.IdempotencyKey,
		)
		return types.Succeed(map[string]any{"dropped": "missing_fields"})
	}

	logger := p.logger.With(
		"job_type", string(p.jobType),
		"notification_id", payload.NotificationID,
		"event_id", payload.EventID,
	)

	notification, err := p.notifications.GetByID(ctx, payload.NotificationID)
	if err != nil {
		if types.IsCode(err, types.ErrCodeNotFoundNotification) {
			// Row cascade-deleted with the event or owner; nothing to do.
			logger.Warn("notification row gone, dropping job")
			return types.Succeed(map[string]any{"dropped": "notification_gone"})
		}
		return types.Fail(fmt.Sprintf("load notification: %v", err))
	}

	// At-least-once delivery means redelivered messages for an occurrence
	// that already reached a terminal state must be acknowledged, not
	// re-sent.
	if notification.Terminal() {
		logger.Info("notification already terminal, acknowledging",
			"status", string(notification.Status))
		return types.Succeed(map[string]any{"already": string(notification.Status)})
	}

	event, err := p.events.GetByID(ctx, payload.EventID)
	if err != nil {
		if types.IsCode(err, types.ErrCodeNotFoundEvent) {
			return p.skip(ctx, notification.ID, "event_deleted", logger)
		}
		return types.Fail(fmt.Sprintf("load event: %v", err))
	}

	user, err := p.users.GetByID(ctx, payload.UserID)
	if err != nil {
		if types.IsCode(err, types.ErrCodeNotFoundUser) {
			return p.skip(ctx, notification.ID, "user_deleted", logger)
		}
		return types.Fail(fmt.Sprintf("load user: %v", err))
	}

	if !p.handler.ShouldSend(user) {
		return p.skip(ctx, notification.ID, "suppressed_by_handler", logger)
	}

	target := p.handler.ChannelTarget(user)
	if target == "" {
		return p.skip(ctx, notification.ID, "no_channel_target", logger)
	}

	message := p.handler.GetMessage(user, event, notification.ScheduledFor)

	result, err := p.dispatcher.Dispatch(ctx, target, message)
	if err != nil || !result.Success {
		reason := result.Error
		if err != nil {
			reason = err.Error()
		}
		if markErr := p.notifications.MarkFailed(ctx, notification.ID, reason, result.ResponseCode); markErr != nil {
			logger.Error("failed to record delivery failure", "error", markErr.Error())
		}
		logger.Warn("delivery failed, leaving for redelivery",
			"response_code", result.ResponseCode,
			"reason", reason,
		)
		return types.Fail(reason)
	}

	meta := map[string]any{
		"channel":     string(p.dispatcher.Channel()),
		"duration_ms": result.Duration.Milliseconds(),
	}
	if err := p.notifications.MarkSent(ctx, notification.ID, p.clock.Now(), result.ResponseCode, meta); err != nil {
		// Delivered but not recorded: fail so redelivery re-runs Process,
		// which then hits the terminal check once the write succeeds on a
		// later attempt. Better a rare duplicate mark attempt than a row
		// stuck pending.
		return types.Fail(fmt.Sprintf("mark sent: %v", err))
	}

	logger.Info("notification delivered",
		"response_code", result.ResponseCode,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return types.Succeed(meta)
}

// skip marks the row skipped and resolves the job successfully; skips are
// business decisions, not failures.
func (p *NotificationProcessor) skip(ctx context.Context, notificationID, reason string, logger types.Logger) types.ProcessorResult {
	if err := p.notifications.MarkSkipped(ctx, notificationID, reason); err != nil {
		return types.Fail(fmt.Sprintf("mark skipped: %v", err))
	}
	logger.Info("notification skipped", "reason", reason)
	return types.Succeed(map[string]any{"skipped": reason})
}
