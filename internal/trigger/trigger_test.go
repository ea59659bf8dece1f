package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"calalarm/internal/alarm"
	"calalarm/internal/ics"
	"calalarm/internal/mail"
	"calalarm/internal/model"
	"calalarm/internal/render"
	"calalarm/internal/settings"
)

const meeting = `BEGIN:VCALENDAR
VERSION:2.0
BEGIN:VEVENT
UID:review
SUMMARY:Design review
DTSTART:20250829T100000Z
DTEND:20250829T110000Z
ORGANIZER;CN=Alice:mailto:alice@example.com
ATTENDEE;PARTSTAT=ACCEPTED:mailto:bob@example.com
BEGIN:VALARM
ACTION:EMAIL
TRIGGER:-PT15M
END:VALARM
END:VEVENT
END:VCALENDAR
`

const standup = `BEGIN:VCALENDAR
VERSION:2.0
BEGIN:VEVENT
UID:standup
SUMMARY:Standup
DTSTART:20250829T100000Z
DTEND:20250829T101500Z
RRULE:FREQ=DAILY;COUNT=3
ATTENDEE;PARTSTAT=ACCEPTED:mailto:bob@example.com
BEGIN:VALARM
ACTION:EMAIL
TRIGGER:-PT15M
END:VALARM
END:VEVENT
END:VCALENDAR
`

var (
	now   = time.Date(2025, 8, 29, 9, 45, 0, 0, time.UTC)
	start = time.Date(2025, 8, 29, 10, 0, 0, 0, time.UTC)
)

type recordingSender struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, m mail.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, m)
	return nil
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string) (settings.Settings, error) {
	return settings.Settings{}, errors.New("settings backend down")
}

type brokenStore struct{ *alarm.MemoryStore }

func (brokenStore) FindDue(context.Context, time.Time, int) ([]model.AlarmEvent, error) {
	return nil, errors.New("database is locked")
}

func dueEvent(uid, ics string, recurring bool) model.AlarmEvent {
	e := model.AlarmEvent{
		EventUID:       uid,
		AlarmTime:      now,
		EventStartTime: start,
		EventEndTime:   start.Add(time.Hour),
		Recurring:      recurring,
		Recipient:      "bob@example.com",
		ICS:            ics,
	}
	if recurring {
		e.RecurrenceID = "20250829T100000Z"
	}
	return e
}

func newService(t *testing.T, store alarm.Store, resolver settings.Resolver, sender mail.Sender) *Service {
	t.Helper()
	r, err := render.New()
	require.NoError(t, err)
	factory := ics.NewFactory(0, func() time.Time { return now })
	return NewService(store, factory, resolver, r, sender, WithClock(func() time.Time { return now }))
}

func TestTriggerDueSendsAndDeletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := alarm.NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, dueEvent("review", meeting, false)))
	sender := &recordingSender{}

	rep, err := newService(t, store, nil, sender).TriggerDue(ctx, now, 10)
	require.NoError(t, err)
	require.Equal(t, Report{Due: 1, Sent: 1}, rep)

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	require.Equal(t, []string{"bob@example.com"}, msg.To)
	require.Equal(t, "Notification: Design review", msg.Subject)
	require.Contains(t, msg.Text, "This event is about to begin in 15 minutes")
	require.Contains(t, msg.Text, "Alice <alice@example.com>")

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestTriggerDueReschedulesRecurring(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := alarm.NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, dueEvent("standup", standup, true)))
	sender := &recordingSender{}

	rep, err := newService(t, store, nil, sender).TriggerDue(ctx, now, 10)
	require.NoError(t, err)
	require.Equal(t, Report{Due: 1, Sent: 1, Rescheduled: 1}, rep)
	require.Len(t, sender.sent, 1)

	next, ok, err := store.Find(ctx, "standup", "bob@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Date(2025, 8, 30, 9, 45, 0, 0, time.UTC), next.AlarmTime)
	require.Equal(t, time.Date(2025, 8, 30, 10, 0, 0, 0, time.UTC), next.EventStartTime)
	require.Equal(t, "20250830T100000Z", next.RecurrenceID)
	require.Equal(t, standup, next.ICS)
}

func TestTriggerDueSkipsStaleEvent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := alarm.NewMemoryStore()
	stale := dueEvent("review", meeting, false)
	stale.EventStartTime = now.Add(-time.Minute)
	require.NoError(t, store.Upsert(ctx, stale))
	sender := &recordingSender{}

	rep, err := newService(t, store, nil, sender).TriggerDue(ctx, now, 10)
	require.NoError(t, err)
	require.Equal(t, Report{Due: 1, Skipped: 1}, rep)
	require.Empty(t, sender.sent)

	_, ok, err := store.Find(ctx, "review", "bob@example.com")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTriggerDueRespectsDisabledAlarms(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := alarm.NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, dueEvent("standup", standup, true)))
	sender := &recordingSender{}
	resolver := settings.NewStatic(map[string]settings.Settings{
		"bob@example.com": {Locale: "en", Timezone: "UTC", AlarmsEnabled: false},
	})

	rep, err := newService(t, store, resolver, sender).TriggerDue(ctx, now, 10)
	require.NoError(t, err)
	require.Equal(t, Report{Due: 1, Skipped: 1, Rescheduled: 1}, rep)
	require.Empty(t, sender.sent)

	next, ok, err := store.Find(ctx, "standup", "bob@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "20250830T100000Z", next.RecurrenceID)
}

func TestTriggerDueLeavesFailedSendInPlace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := alarm.NewMemoryStore()
	e := dueEvent("review", meeting, false)
	require.NoError(t, store.Upsert(ctx, e))
	second := dueEvent("standup", standup, true)
	second.AlarmTime = now.Add(-time.Second)
	require.NoError(t, store.Upsert(ctx, second))
	sender := &recordingSender{err: errors.New("connection refused")}

	rep, err := newService(t, store, nil, sender).TriggerDue(ctx, now, 10)
	require.NoError(t, err)
	require.Equal(t, Report{Due: 2, Failed: 2}, rep)

	got, ok, err := store.Find(ctx, "review", "bob@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, e, got)
}

func TestTriggerDueFallsBackToDefaultSettings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := alarm.NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, dueEvent("review", meeting, false)))
	sender := &recordingSender{}

	rep, err := newService(t, store, failingResolver{}, sender).TriggerDue(ctx, now, 10)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Sent)
	require.Equal(t, "Notification: Design review", sender.sent[0].Subject)
}

func TestTriggerDueLocalizes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := alarm.NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, dueEvent("review", meeting, false)))
	sender := &recordingSender{}
	resolver := settings.NewStatic(map[string]settings.Settings{
		"bob@example.com": {Locale: "fr", Timezone: "Europe/Paris", AlarmsEnabled: true},
	})

	_, err := newService(t, store, resolver, sender).TriggerDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	require.Equal(t, "Notification : Design review", sender.sent[0].Subject)
	require.Contains(t, sender.sent[0].Text, "2025-08-29 12:00 Europe/Paris")
}

func TestTriggerDueDropsUnreadableCalendar(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := alarm.NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, dueEvent("review", "not a calendar", false)))

	rep, err := newService(t, store, nil, &recordingSender{}).TriggerDue(ctx, now, 10)
	require.NoError(t, err)
	require.Equal(t, Report{Due: 1, Skipped: 1}, rep)
	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestTriggerDueHonorsLimitAndFutureAlarms(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := alarm.NewMemoryStore()
	for _, r := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		e := dueEvent("review", meeting, false)
		e.Recipient = r
		require.NoError(t, store.Upsert(ctx, e))
	}
	later := dueEvent("standup", standup, true)
	later.AlarmTime = now.Add(time.Minute)
	require.NoError(t, store.Upsert(ctx, later))
	sender := &recordingSender{}

	rep, err := newService(t, store, nil, sender).TriggerDue(ctx, now, 2)
	require.NoError(t, err)
	require.Equal(t, Report{Due: 2, Sent: 2}, rep)

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestTriggerDueReturnsStoreFailure(t *testing.T) {
	t.Parallel()
	_, err := newService(t, brokenStore{alarm.NewMemoryStore()}, nil, &recordingSender{}).
		TriggerDue(context.Background(), now, 10)
	require.Error(t, err)
}

func TestItemDelayPacesBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := alarm.NewMemoryStore()
	for _, r := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		e := dueEvent("review", meeting, false)
		e.Recipient = r
		require.NoError(t, store.Upsert(ctx, e))
	}
	r, err := render.New()
	require.NoError(t, err)
	svc := NewService(store, ics.NewFactory(0, func() time.Time { return now }), nil, r, &recordingSender{},
		WithClock(func() time.Time { return now }), WithItemDelay(50*time.Millisecond))

	began := time.Now()
	rep, err := svc.TriggerDue(ctx, now, 10)
	require.NoError(t, err)
	require.Equal(t, 3, rep.Sent)
	require.GreaterOrEqual(t, time.Since(began), 90*time.Millisecond)
}
