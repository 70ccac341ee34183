// Package scheduler orchestrates occurrence scheduling and missed-occurrence
// recovery. Both operations list enabled recurring events, run the
// occurrence calculator, persist de-duplicated scheduled notifications, and
// enqueue job envelopes; they differ only in which occurrences they look at
// (upcoming vs. missed-within-grace).
package scheduler

import (
	"context"
	"fmt"
	"time"

	"milestone/internal/types"
)

// jobTypeForKind is the fixed mapping from event kind to queue job type.
// An unknown kind is a configuration error that is fatal to the run that
// encounters it, never a silent runtime skip: it means a kind was added to
// the data model without a corresponding worker deployment.
var jobTypeForKind = map[types.EventKind]types.JobType{
	types.EventKindBirthday:    types.JobBirthdayNotification,
	types.EventKindAnniversary: types.JobAnniversaryNotification,
}

// JobTypeForKind resolves the job type for an event kind.
func JobTypeForKind(kind types.EventKind) (types.JobType, error) {
	jt, ok := jobTypeForKind[kind]
	if !ok {
		return "", types.NewAppError(types.ErrCodeConfigUnknownEventKind,
			fmt.Sprintf("no job type mapped for event kind %q", kind), nil)
	}
	return jt, nil
}

// EventLister abstracts the enabled-event query both operations start from.
// Implemented by db.RecurringEventRepository.
type EventLister interface {
	ListEnabled(ctx context.Context) ([]types.EnabledEvent, error)
}

// NotificationCreator abstracts the idempotent scheduling insert and the
// existence probe the recovery scanner uses. Implemented by
// db.ScheduledNotificationRepository.
type NotificationCreator interface {
	Create(ctx context.Context, n *types.ScheduledNotification) error
	ExistsFor(ctx context.Context, eventID string, scheduledFor time.Time) (bool, error)
}
