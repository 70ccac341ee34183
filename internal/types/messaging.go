package types

import "encoding/json"

// EnvelopeSchemaVersion is the current JobEnvelope schema version. Bumped
// only on incompatible envelope changes; workers reject versions they do
// not understand as permanent validation failures.
const EnvelopeSchemaVersion = 1

// JobEnvelope is the transport record placed on the queue. It carries no
// business logic and is the only structure the queue transport is allowed
// to know about. Envelopes are ephemeral: they exist inside the queue and
// during a single processing attempt, never in the database.
type JobEnvelope struct {
	Type           JobType         `json:"type"`
	SchemaVersion  int             `json:"schema_version"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// NotificationJobPayload is the payload carried by birthday and anniversary
// job envelopes. It identifies the persisted occurrence the processor must
// deliver and write status back to.
type NotificationJobPayload struct {
	NotificationID string `json:"notification_id"`
	EventID        string `json:"event_id"`
	UserID         string `json:"user_id"`
	ScheduledFor   string `json:"scheduled_for"` // RFC 3339 UTC
}

// ProcessorResult is returned by a job processor. Failures never cross the
// processor boundary as panics or errors; they are represented as data so
// the worker can decide between acknowledge and redelivery uniformly.
type ProcessorResult struct {
	Success  bool
	Error    string
	Metadata map[string]any
}

// Succeed returns a successful ProcessorResult carrying optional metadata.
func Succeed(meta map[string]any) ProcessorResult {
	return ProcessorResult{Success: true, Metadata: meta}
}

// Fail returns a failed ProcessorResult with the given reason.
func Fail(reason string) ProcessorResult {
	return ProcessorResult{Success: false, Error: reason}
}

// QueueMessage is a received queue message: the raw body plus the receipt
// handle needed to delete it. Attributes carry transport metadata such as
// the approximate receive count and sent timestamp.
type QueueMessage struct {
	MessageID     string
	ReceiptHandle string
	Body          []byte
	Attributes    map[string]string
}
