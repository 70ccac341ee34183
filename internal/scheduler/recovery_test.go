package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milestone/internal/types"
)

func newTestRecovery(lister EventLister, store NotificationCreator, queue types.Queue, now time.Time) *Recovery {
	return NewRecovery(RecoveryConfig{
		Events:        lister,
		Notifications: store,
		Queue:         queue,
		Metrics:       newFakeMetrics(),
		Clock:         fixedClock{now: now},
		Logger:        nopLogger{},
	})
}

// now is mid-June so that last year's occurrence of a June event is always
// far beyond the grace period and counted as skipped.
var recoveryNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func juneEvent(id string, day, hour int) types.EnabledEvent {
	ev := enabledEvent(id, types.EventKindBirthday, time.June, day, "UTC")
	ev.Event.NotifyHour = hour
	return ev
}

func TestRecovery_RecoversOccurrenceWithinGrace(t *testing.T) {
	// Occurrence 48h past due with a 120h grace period.
	lister := &fakeEventLister{events: []types.EnabledEvent{
		juneEvent("evt_1", 13, 12),
	}}
	store := newFakeNotificationStore()
	queue := &fakeQueue{}

	r := newTestRecovery(lister, store, queue, recoveryNow)
	stats, err := r.RecoverMissedOccurrences(context.Background())
	require.NoError(t, err)

	// Last year's occurrence is missed too, but stale.
	assert.Equal(t, 2, stats.TotalMissed)
	assert.Equal(t, 1, stats.Recovered)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.AlreadyScheduled)

	assert.Equal(t, 1, store.count())
	sent := queue.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "event:evt_1:2025", sent[0].IdempotencyKey)
}

func TestRecovery_SkipsOccurrenceBeyondGrace(t *testing.T) {
	// Occurrence 300h past due: counted, skipped, never enqueued.
	lister := &fakeEventLister{events: []types.EnabledEvent{
		juneEvent("evt_1", 3, 0),
	}}
	store := newFakeNotificationStore()
	queue := &fakeQueue{}

	r := newTestRecovery(lister, store, queue, recoveryNow)
	stats, err := r.RecoverMissedOccurrences(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalMissed)
	assert.Equal(t, 0, stats.Recovered)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 0, store.count())
	assert.Empty(t, queue.sent())
}

func TestRecovery_CountsAlreadyScheduled(t *testing.T) {
	lister := &fakeEventLister{events: []types.EnabledEvent{
		juneEvent("evt_1", 13, 12),
	}}
	store := newFakeNotificationStore()
	queue := &fakeQueue{}

	// Pre-seed the row the scheduler would have written.
	scheduledFor := time.Date(2025, 6, 13, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(context.Background(), &types.ScheduledNotification{
		EventID:      "evt_1",
		ScheduledFor: scheduledFor,
	}))

	r := newTestRecovery(lister, store, queue, recoveryNow)
	stats, err := r.RecoverMissedOccurrences(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalMissed)
	assert.Equal(t, 0, stats.Recovered)
	assert.Equal(t, 1, stats.AlreadyScheduled)
	assert.Equal(t, 1, store.count())
	assert.Empty(t, queue.sent())
}

func TestRecovery_IgnoresFutureOccurrences(t *testing.T) {
	// Occurrence still ahead of now belongs to the scheduler, not recovery.
	lister := &fakeEventLister{events: []types.EnabledEvent{
		juneEvent("evt_1", 20, 12),
	}}
	store := newFakeNotificationStore()
	queue := &fakeQueue{}

	r := newTestRecovery(lister, store, queue, recoveryNow)
	stats, err := r.RecoverMissedOccurrences(context.Background())
	require.NoError(t, err)

	// Only last year's stale occurrence is counted.
	assert.Equal(t, 1, stats.TotalMissed)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Recovered)
	assert.Equal(t, 0, store.count())
	assert.Empty(t, queue.sent())
}

func TestRecovery_RerunIsIdempotent(t *testing.T) {
	lister := &fakeEventLister{events: []types.EnabledEvent{
		juneEvent("evt_1", 13, 12),
	}}
	store := newFakeNotificationStore()
	queue := &fakeQueue{}

	r := newTestRecovery(lister, store, queue, recoveryNow)
	first, err := r.RecoverMissedOccurrences(context.Background())
	require.NoError(t, err)
	second, err := r.RecoverMissedOccurrences(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, first.Recovered)
	assert.Equal(t, 0, second.Recovered)
	assert.Equal(t, 1, second.AlreadyScheduled)
	assert.Equal(t, 1, store.count())
	assert.Len(t, queue.sent(), 1)
}

func TestRecovery_UnknownKindAbortsRun(t *testing.T) {
	ev := juneEvent("evt_1", 13, 12)
	ev.Event.Kind = types.EventKind("graduation")
	lister := &fakeEventLister{events: []types.EnabledEvent{ev}}

	r := newTestRecovery(lister, newFakeNotificationStore(), &fakeQueue{}, recoveryNow)
	_, err := r.RecoverMissedOccurrences(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeConfigUnknownEventKind))
}

func TestRecovery_PerEventErrorDoesNotAbortSweep(t *testing.T) {
	bad := juneEvent("evt_bad", 13, 12)
	bad.Timezone = "Not/AZone"
	lister := &fakeEventLister{events: []types.EnabledEvent{
		bad,
		juneEvent("evt_ok", 13, 12),
	}}
	store := newFakeNotificationStore()
	queue := &fakeQueue{}

	r := newTestRecovery(lister, store, queue, recoveryNow)
	stats, err := r.RecoverMissedOccurrences(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Recovered)
	require.Len(t, queue.sent(), 1)
	assert.Contains(t, queue.sent()[0].IdempotencyKey, "evt_ok")
}
