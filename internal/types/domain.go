package types

import "time"

// User is the minimal projection of an event owner that the scheduling core
// needs: identity, contact targets, timezone, and lifecycle state. Full user
// CRUD lives behind the API surface and is not owned by this core.
type User struct {
	ID         string
	Email      string
	WebhookURL string
	Timezone   string // IANA identifier, e.g. "America/New_York"
	Status     UserStatus
	CreatedAt  time.Time
}

// Deleted reports whether the user account has been removed. Handlers use
// this to suppress sends rather than failing the job.
func (u *User) Deleted() bool { return u.Status == UserStatusDeleted }

// RecurringEvent is an annually recurring local-time event definition. The
// calendar date is stored as a month/day pair (the year component of the
// original date, if any, is preserved separately as OriginYear so handlers
// can compute "Nth anniversary" text). The definition is immutable per edit:
// it changes only through explicit user updates and is cascade-deleted with
// its owner.
type RecurringEvent struct {
	ID     string
	UserID string
	Kind   EventKind
	Label  string // e.g. "Mom's birthday"

	// Annual date, timezone-naive. Day may be 29 with Month February.
	Month time.Month
	Day   int

	// Local wall-clock notification time.
	NotifyHour   int
	NotifyMinute int
	NotifySecond int

	Enabled    bool
	LeapPolicy LeapYearPolicy

	// OriginYear is the year of the original occasion (wedding year, birth
	// year). Zero when unknown; handlers then omit the ordinal.
	OriginYear int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NotifyTimeOfDay returns the local notification time as a duration past
// local midnight.
func (e *RecurringEvent) NotifyTimeOfDay() time.Duration {
	return time.Duration(e.NotifyHour)*time.Hour +
		time.Duration(e.NotifyMinute)*time.Minute +
		time.Duration(e.NotifySecond)*time.Second
}

// EnabledEvent is the scheduler's working unit: an enabled event joined with
// its owner's timezone. Produced by the ListEnabled repository query so the
// scheduler never needs a second lookup per event.
type EnabledEvent struct {
	Event    RecurringEvent
	Timezone string
}

// ScheduledNotification is one concrete occurrence of a recurring event.
// The UNIQUE constraint on (event_id, scheduled_for) is the sole idempotency
// guard against duplicate scheduling: the scheduler, the recovery scanner,
// and any number of process replicas may race on the insert without
// coordination.
type ScheduledNotification struct {
	ID           string
	EventID      string
	ScheduledFor time.Time // UTC instant
	Status       NotificationStatus
	DeliveredAt  time.Time // zero until sent
	RetryCount   int
	LastError    string
	ResponseCode int
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Terminal reports whether the notification has reached a final status.
func (n *ScheduledNotification) Terminal() bool {
	return n.Status == NotificationSent ||
		n.Status == NotificationFailed ||
		n.Status == NotificationSkipped
}

// RecoveryStats aggregates the outcome of one recovery sweep.
type RecoveryStats struct {
	TotalMissed      int
	Recovered        int
	Skipped          int
	AlreadyScheduled int
}
