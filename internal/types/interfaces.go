package types

import (
	"context"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger is the minimal structured logging interface used throughout the
// core. slog.Logger satisfies Info/Warn/Error directly; With returns the
// concrete *slog.Logger, so daemons wrap it in a small adapter.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// Queue is the at-least-once queue transport consumed by the scheduler,
// recovery scanner, and worker. Implementations must provide per-message
// visibility-timeout based redelivery; the visibility timeout is the sole
// mechanism preventing two worker replicas from processing the same message
// concurrently.
type Queue interface {
	// Send enqueues an envelope, optionally delayed. Delay beyond the
	// transport's maximum is clamped by the implementation.
	Send(ctx context.Context, envelope JobEnvelope, delay time.Duration) error

	// ReceiveBatch long-polls for up to maxMessages, hiding received
	// messages from other consumers for the visibility timeout.
	ReceiveBatch(ctx context.Context, maxMessages int, wait, visibilityTimeout time.Duration) ([]QueueMessage, error)

	// Delete acknowledges a message so it is never redelivered.
	Delete(ctx context.Context, receiptHandle string) error

	// SendToDeadLetter moves a raw message body to the dead-letter
	// destination. The transport also dead-letters on its own once a
	// message exceeds its max receive count.
	SendToDeadLetter(ctx context.Context, body []byte, reason string) error
}

// MetricsSink receives fire-and-forget operational counters and timers.
// Implementations must never propagate sink failures back to callers;
// errors are logged and dropped.
type MetricsSink interface {
	IncrCounter(ctx context.Context, name string, dims map[string]string)
	IncrCounterBy(ctx context.Context, name string, value int, dims map[string]string)
	RecordDuration(ctx context.Context, name string, dims map[string]string, d time.Duration)
}

// DeliveryHandler owns the business rules for one event kind: what the
// message says, whether the user should receive it at all, and where it
// goes. Implementations are pluggable per event kind.
type DeliveryHandler interface {
	// GetMessage renders the outbound text for the occurrence.
	GetMessage(user *User, event *RecurringEvent, scheduledFor time.Time) string

	// ShouldSend applies suppression rules (e.g. deleted users).
	ShouldSend(user *User) bool

	// ChannelTarget returns the destination for the user on this handler's
	// channel (email address, webhook URL).
	ChannelTarget(user *User) string

	// Kind returns the event kind this handler serves.
	Kind() EventKind
}

// DispatchResult is the success/failure contract returned by outbound
// delivery. Duration is the wall time of the attempt; ResponseCode is the
// transport status when one exists (HTTP status for webhooks).
type DispatchResult struct {
	Success      bool
	ResponseCode int
	Duration     time.Duration
	Error        string
	Retryable    bool
}

// Dispatcher sends a rendered message to a channel target. Consumed by job
// processors; transport mechanics are not owned by this core.
type Dispatcher interface {
	Dispatch(ctx context.Context, target string, message string) (DispatchResult, error)
	Channel() ChannelType
}
