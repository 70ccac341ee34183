package db

import (
	"context"
	"time"

	"milestone/internal/types"
)

// RecurringEventRepository provides data access for the recurring_events
// table. Event definitions are created and mutated by the API surface; the
// scheduling core only reads them.
type RecurringEventRepository struct {
	db DBTX
}

// NewRecurringEventRepository creates a repository backed by the given
// database connection (pool or transaction).
func NewRecurringEventRepository(db DBTX) *RecurringEventRepository {
	return &RecurringEventRepository{db: db}
}

// ListEnabled returns all enabled recurring events joined with the owning
// user's timezone, ordered by event ID for deterministic iteration. Events
// of deleted users are excluded; their rows are cascade-deleted with the
// owner, but the join guards against soft-deleted owners too.
func (r *RecurringEventRepository) ListEnabled(ctx context.Context) ([]types.EnabledEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT e.id, e.user_id, e.kind, e.label, e.month, e.day,
		        e.notify_hour, e.notify_minute, e.notify_second,
		        e.leap_policy, e.origin_year, e.created_at, e.updated_at,
		        u.timezone
		 FROM recurring_events e
		 JOIN users u ON u.id = e.user_id
		 WHERE e.enabled = TRUE AND u.status != 'deleted'
		 ORDER BY e.id`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list enabled events", err)
	}
	defer rows.Close()

	var out []types.EnabledEvent
	for rows.Next() {
		var (
			ev    types.RecurringEvent
			month int
			tz    string
		)
		if err := rows.Scan(
			&ev.ID, &ev.UserID, &ev.Kind, &ev.Label, &month, &ev.Day,
			&ev.NotifyHour, &ev.NotifyMinute, &ev.NotifySecond,
			&ev.LeapPolicy, &ev.OriginYear, &ev.CreatedAt, &ev.UpdatedAt,
			&tz,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan enabled event", err)
		}
		ev.Month = time.Month(month)
		ev.Enabled = true
		out = append(out, types.EnabledEvent{Event: ev, Timezone: tz})
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate enabled events", err)
	}
	return out, nil
}

// GetByID returns a single event definition.
func (r *RecurringEventRepository) GetByID(ctx context.Context, id string) (*types.RecurringEvent, error) {
	var (
		ev    types.RecurringEvent
		month int
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, kind, label, month, day,
		        notify_hour, notify_minute, notify_second,
		        enabled, leap_policy, origin_year, created_at, updated_at
		 FROM recurring_events
		 WHERE id = $1`, id,
	).Scan(
		&ev.ID, &ev.UserID, &ev.Kind, &ev.Label, &month, &ev.Day,
		&ev.NotifyHour, &ev.NotifyMinute, &ev.NotifySecond,
		&ev.Enabled, &ev.LeapPolicy, &ev.OriginYear, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundEvent, "event not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get event", err)
	}
	ev.Month = time.Month(month)
	return &ev, nil
}

// UserRepository provides the read-only user projection the job processors
// need. Full user CRUD is owned by the API surface, not this core.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a repository backed by the given connection.
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID returns the user projection for delivery decisions. Deleted users
// are returned (with their status) rather than erroring, so handlers can
// suppress the send instead of retrying a job that can never succeed.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	var u types.User
	err := r.db.QueryRow(ctx,
		`SELECT id, email, COALESCE(webhook_url, ''), timezone, status, created_at
		 FROM users
		 WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.WebhookURL, &u.Timezone, &u.Status, &u.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get user", err)
	}
	return &u, nil
}
