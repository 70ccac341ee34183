package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"milestone/internal/types"
)

// ScheduledNotificationRepository provides data access for the
// scheduled_notifications table. The UNIQUE constraint on
// (event_id, scheduled_for) is the sole idempotency guard against duplicate
// scheduling; Create surfaces a violation as a typed conflict so the
// scheduler and recovery scanner can treat the race as a no-op.
type ScheduledNotificationRepository struct {
	db DBTX
}

// NewScheduledNotificationRepository creates a repository backed by the
// given database connection (pool or transaction).
func NewScheduledNotificationRepository(db DBTX) *ScheduledNotificationRepository {
	return &ScheduledNotificationRepository{db: db}
}

// Create inserts a new scheduled notification with status pending. If the
// caller leaves ID empty a prefixed UUID is generated. A unique-constraint
// violation on (event_id, scheduled_for) returns an AppError with code
// ErrCodeConflictDuplicateSchedule; callers check types.IsDuplicateSchedule
// and skip the enqueue.
func (r *ScheduledNotificationRepository) Create(ctx context.Context, n *types.ScheduledNotification) error {
	if n.ID == "" {
		n.ID = "sn_" + uuid.New().String()
	}
	if n.Status == "" {
		n.Status = types.NotificationPending
	}

	meta, err := metadataJSON(n.Metadata)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode notification metadata", err)
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO scheduled_notifications
		 (id, event_id, scheduled_for, status, retry_count, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		n.ID, n.EventID, n.ScheduledFor.UTC(), string(n.Status), n.RetryCount, meta,
	)
	if err := row.Scan(&n.CreatedAt, &n.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictDuplicateSchedule,
				"occurrence already scheduled", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create scheduled notification", err)
	}
	return nil
}

// ExistsFor reports whether a notification row already exists for the exact
// (event, occurrence) pair. The recovery scanner uses this to count
// already-scheduled occurrences without attempting an insert.
func (r *ScheduledNotificationRepository) ExistsFor(ctx context.Context, eventID string, scheduledFor time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM scheduled_notifications
		   WHERE event_id = $1 AND scheduled_for = $2
		 )`, eventID, scheduledFor.UTC(),
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check scheduled notification", err)
	}
	return exists, nil
}

// GetByID returns a single scheduled notification.
func (r *ScheduledNotificationRepository) GetByID(ctx context.Context, id string) (*types.ScheduledNotification, error) {
	var (
		n           types.ScheduledNotification
		deliveredAt *time.Time
		lastError   *string
		respCode    *int
		meta        []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, event_id, scheduled_for, status, delivered_at,
		        retry_count, last_error, response_code, metadata,
		        created_at, updated_at
		 FROM scheduled_notifications
		 WHERE id = $1`, id,
	).Scan(&n.ID, &n.EventID, &n.ScheduledFor, &n.Status, &deliveredAt,
		&n.RetryCount, &lastError, &respCode, &meta,
		&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundNotification, "scheduled notification not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get scheduled notification", err)
	}
	if deliveredAt != nil {
		n.DeliveredAt = *deliveredAt
	}
	if lastError != nil {
		n.LastError = *lastError
	}
	if respCode != nil {
		n.ResponseCode = *respCode
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &n.Metadata); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to decode notification metadata", err)
		}
	}
	return &n, nil
}

// MarkSent transitions the row to sent, recording the delivery instant,
// transport response code, and any handler metadata.
func (r *ScheduledNotificationRepository) MarkSent(ctx context.Context, id string, deliveredAt time.Time, responseCode int, metadata map[string]any) error {
	meta, err := metadataJSON(metadata)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode notification metadata", err)
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_notifications
		 SET status = 'sent', delivered_at = $2, response_code = $3,
		     metadata = COALESCE($4, metadata), updated_at = NOW()
		 WHERE id = $1`,
		id, deliveredAt.UTC(), responseCode, meta)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark notification sent", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundNotification, "scheduled notification not found", nil)
	}
	return nil
}

// MarkFailed records a failed attempt: increments retry_count, stores the
// error text and response code. The status stays pending until the caller
// decides the failure is final (queue-side max receives route the message
// to the dead letter queue, at which point MarkTerminallyFailed applies).
func (r *ScheduledNotificationRepository) MarkFailed(ctx context.Context, id string, lastError string, responseCode int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_notifications
		 SET retry_count = retry_count + 1, last_error = $2,
		     response_code = $3, updated_at = NOW()
		 WHERE id = $1`,
		id, lastError, responseCode)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record notification failure", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundNotification, "scheduled notification not found", nil)
	}
	return nil
}

// MarkTerminallyFailed sets the terminal failed status.
func (r *ScheduledNotificationRepository) MarkTerminallyFailed(ctx context.Context, id string, lastError string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_notifications
		 SET status = 'failed', last_error = $2, updated_at = NOW()
		 WHERE id = $1`,
		id, lastError)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark notification failed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundNotification, "scheduled notification not found", nil)
	}
	return nil
}

// MarkSkipped sets the terminal skipped status with a reason. Used for
// business-rule suppression (deleted user) rather than failure.
func (r *ScheduledNotificationRepository) MarkSkipped(ctx context.Context, id string, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_notifications
		 SET status = 'skipped', last_error = $2, updated_at = NOW()
		 WHERE id = $1`,
		id, reason)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark notification skipped", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundNotification, "scheduled notification not found", nil)
	}
	return nil
}

// metadataJSON encodes a metadata map, preserving NULL for empty maps so
// the column stays queryable with IS NULL.
func metadataJSON(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}
