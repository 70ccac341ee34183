package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milestone/internal/types"
)

// --- In-memory fakes ---

type fakeEventLister struct {
	events []types.EnabledEvent
	err    error
}

func (f *fakeEventLister) ListEnabled(ctx context.Context) ([]types.EnabledEvent, error) {
	return f.events, f.err
}

// fakeNotificationStore enforces the (event_id, scheduled_for) unique
// constraint in memory, so scheduler/recovery races behave as they would
// against Postgres.
type fakeNotificationStore struct {
	mu      sync.Mutex
	rows    map[string]*types.ScheduledNotification
	nextID  int
	failAll bool
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{rows: make(map[string]*types.ScheduledNotification)}
}

func occurrenceKey(eventID string, at time.Time) string {
	return eventID + "|" + at.UTC().Format(time.RFC3339Nano)
}

func (f *fakeNotificationStore) Create(ctx context.Context, n *types.ScheduledNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return types.NewAppError(types.ErrCodeInternalDB, "store down", nil)
	}
	key := occurrenceKey(n.EventID, n.ScheduledFor)
	if _, exists := f.rows[key]; exists {
		return types.NewAppError(types.ErrCodeConflictDuplicateSchedule, "occurrence already scheduled", nil)
	}
	f.nextID++
	n.ID = fmt.Sprintf("sn_%d", f.nextID)
	n.Status = types.NotificationPending
	f.rows[key] = n
	return nil
}

func (f *fakeNotificationStore) ExistsFor(ctx context.Context, eventID string, scheduledFor time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, exists := f.rows[occurrenceKey(eventID, scheduledFor)]
	return exists, nil
}

func (f *fakeNotificationStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeQueue struct {
	mu        sync.Mutex
	envelopes []types.JobEnvelope
	sendErr   error
}

func (f *fakeQueue) Send(ctx context.Context, envelope types.JobEnvelope, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.envelopes = append(f.envelopes, envelope)
	return nil
}

func (f *fakeQueue) ReceiveBatch(ctx context.Context, maxMessages int, wait, visibilityTimeout time.Duration) ([]types.QueueMessage, error) {
	return nil, nil
}

func (f *fakeQueue) Delete(ctx context.Context, receiptHandle string) error { return nil }

func (f *fakeQueue) SendToDeadLetter(ctx context.Context, body []byte, reason string) error {
	return nil
}

func (f *fakeQueue) sent() []types.JobEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.JobEnvelope(nil), f.envelopes...)
}

type fakeMetrics struct {
	mu       sync.Mutex
	counters map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{counters: make(map[string]int)}
}

func (f *fakeMetrics) IncrCounter(ctx context.Context, name string, dims map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[name]++
}

func (f *fakeMetrics) IncrCounterBy(ctx context.Context, name string, value int, dims map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[name] += value
}

func (f *fakeMetrics) RecordDuration(ctx context.Context, name string, dims map[string]string, d time.Duration) {
}

type nopLogger struct{}

func (nopLogger) Info(msg string, args ...any)    {}
func (nopLogger) Warn(msg string, args ...any)    {}
func (nopLogger) Error(msg string, args ...any)   {}
func (l nopLogger) With(args ...any) types.Logger { return l }

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// --- Fixtures ---

func enabledEvent(id string, kind types.EventKind, month time.Month, day int, tz string) types.EnabledEvent {
	return types.EnabledEvent{
		Event: types.RecurringEvent{
			ID:         id,
			UserID:     "user_" + id,
			Kind:       kind,
			Month:      month,
			Day:        day,
			NotifyHour: 9,
			Enabled:    true,
			LeapPolicy: types.LeapPolicyUseFeb28,
		},
		Timezone: tz,
	}
}

func newTestScheduler(lister EventLister, store NotificationCreator, queue types.Queue, now time.Time) *Scheduler {
	return New(Config{
		Events:        lister,
		Notifications: store,
		Queue:         queue,
		Metrics:       newFakeMetrics(),
		Clock:         fixedClock{now: now},
		Logger:        nopLogger{},
	})
}

// --- Scheduler tests ---

func TestSchedule_CreatesRowAndEnqueues(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeEventLister{events: []types.EnabledEvent{
		enabledEvent("evt_1", types.EventKindBirthday, time.June, 15, "America/New_York"),
	}}
	store := newFakeNotificationStore()
	queue := &fakeQueue{}

	s := newTestScheduler(lister, store, queue, now)
	count, err := s.ScheduleUpcomingOccurrences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, store.count())

	sent := queue.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, types.JobBirthdayNotification, sent[0].Type)
	assert.Equal(t, "event:evt_1:2025", sent[0].IdempotencyKey)
	assert.Equal(t, types.EnvelopeSchemaVersion, sent[0].SchemaVersion)

	var payload types.NotificationJobPayload
	require.NoError(t, json.Unmarshal(sent[0].Payload, &payload))
	assert.Equal(t, "evt_1", payload.EventID)
	assert.Equal(t, "user_evt_1", payload.UserID)
	assert.NotEmpty(t, payload.NotificationID)
}

func TestSchedule_SecondRunIsIdempotent(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeEventLister{events: []types.EnabledEvent{
		enabledEvent("evt_1", types.EventKindBirthday, time.June, 15, "America/New_York"),
	}}
	store := newFakeNotificationStore()
	queue := &fakeQueue{}
	s := newTestScheduler(lister, store, queue, now)

	first, err := s.ScheduleUpcomingOccurrences(context.Background())
	require.NoError(t, err)
	second, err := s.ScheduleUpcomingOccurrences(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 0, second)
	assert.Equal(t, 1, store.count())
	assert.Len(t, queue.sent(), 1)
}

func TestSchedule_ConcurrentRunsProduceOneRow(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeEventLister{events: []types.EnabledEvent{
		enabledEvent("evt_1", types.EventKindBirthday, time.June, 15, "America/New_York"),
	}}
	store := newFakeNotificationStore()
	queue := &fakeQueue{}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := newTestScheduler(lister, store, queue, now)
			_, err := s.ScheduleUpcomingOccurrences(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.count())
	assert.Len(t, queue.sent(), 1)
}

func TestSchedule_UnknownKindAbortsRun(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeEventLister{events: []types.EnabledEvent{
		enabledEvent("evt_1", types.EventKind("graduation"), time.June, 15, "UTC"),
	}}
	s := newTestScheduler(lister, newFakeNotificationStore(), &fakeQueue{}, now)

	_, err := s.ScheduleUpcomingOccurrences(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeConfigUnknownEventKind))
}

func TestSchedule_PerEventErrorDoesNotAbortBatch(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeEventLister{events: []types.EnabledEvent{
		enabledEvent("evt_bad", types.EventKindBirthday, time.June, 15, "Not/AZone"),
		enabledEvent("evt_ok", types.EventKindBirthday, time.June, 15, "UTC"),
	}}
	store := newFakeNotificationStore()
	queue := &fakeQueue{}
	s := newTestScheduler(lister, store, queue, now)

	count, err := s.ScheduleUpcomingOccurrences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.Len(t, queue.sent(), 1)
	assert.Contains(t, queue.sent()[0].IdempotencyKey, "evt_ok")
}

func TestSchedule_NilMetricsDefaultsToNoop(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeEventLister{events: []types.EnabledEvent{
		enabledEvent("evt_1", types.EventKindBirthday, time.June, 15, "UTC"),
	}}
	s := New(Config{
		Events:        lister,
		Notifications: newFakeNotificationStore(),
		Queue:         &fakeQueue{},
		Clock:         fixedClock{now: now},
		Logger:        nopLogger{},
	})

	count, err := s.ScheduleUpcomingOccurrences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestJobTypeForKind(t *testing.T) {
	jt, err := JobTypeForKind(types.EventKindAnniversary)
	require.NoError(t, err)
	assert.Equal(t, types.JobAnniversaryNotification, jt)

	_, err = JobTypeForKind(types.EventKind("unknown"))
	require.Error(t, err)
}
