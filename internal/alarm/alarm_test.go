package alarm_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"calalarm/internal/alarm"
	"calalarm/internal/alarm/alarmtest"
	"calalarm/internal/config"
	"calalarm/internal/ics"
)

const standup = `BEGIN:VCALENDAR
VERSION:2.0
BEGIN:VEVENT
UID:standup
DTSTART:20250829T100000Z
DTEND:20250829T101500Z
RRULE:FREQ=DAILY;COUNT=3
ATTENDEE;PARTSTAT=ACCEPTED:mailto:bob@example.com
ATTENDEE;PARTSTAT=DECLINED:mailto:carol@example.com
BEGIN:VALARM
ACTION:EMAIL
TRIGGER:-PT15M
END:VALARM
END:VEVENT
END:VCALENDAR
`

func TestMemoryStoreContract(t *testing.T) {
	alarmtest.RunStoreContract(t, func(t *testing.T) alarm.Store {
		return alarm.NewMemoryStore()
	})
}

func newIngester(now time.Time) (*alarm.Ingester, *alarm.MemoryStore) {
	store := alarm.NewMemoryStore()
	factory := ics.NewFactory(0, func() time.Time { return now })
	return alarm.NewIngester(store, factory), store
}

func TestIngesterSchedule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	in, store := newIngester(time.Date(2025, 8, 28, 12, 0, 0, 0, time.UTC))

	events, err := in.Schedule(ctx, "bob@example.com", []byte(standup))
	require.NoError(t, err)
	require.Len(t, events, 1)

	got, ok, err := store.Find(ctx, "standup", "bob@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Date(2025, 8, 29, 9, 45, 0, 0, time.UTC), got.AlarmTime)
	require.True(t, got.Recurring)
	require.Equal(t, "20250829T100000Z", got.RecurrenceID)
	require.Equal(t, standup, got.ICS)

	// A declined attendee gets nothing.
	events, err = in.Schedule(ctx, "carol@example.com", []byte(standup))
	require.NoError(t, err)
	require.Empty(t, events)
	_, ok, err = store.Find(ctx, "standup", "carol@example.com")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIngesterScheduleClearsWhenNothingIsLeft(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	in, store := newIngester(time.Date(2025, 8, 28, 12, 0, 0, 0, time.UTC))
	_, err := in.Schedule(ctx, "bob@example.com", []byte(standup))
	require.NoError(t, err)

	declined := []byte(strings.Replace(standup, "PARTSTAT=ACCEPTED:mailto:bob", "PARTSTAT=DECLINED:mailto:bob", 1))
	events, err := in.Schedule(ctx, "bob@example.com", declined)
	require.NoError(t, err)
	require.Empty(t, events)

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestIngesterRejectsBadInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	in, _ := newIngester(time.Now())

	_, err := in.Schedule(ctx, "bob@example.com", []byte("garbage"))
	require.Error(t, err)

	_, err = in.Schedule(ctx, "", []byte(standup))
	require.Error(t, err)

	require.Error(t, in.Cancel(ctx, "", "bob@example.com"))
}

func TestIngesterCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	in, store := newIngester(time.Date(2025, 8, 28, 12, 0, 0, 0, time.UTC))

	for _, r := range []string{"a@example.com", "b@example.com"} {
		require.NoError(t, store.Upsert(ctx, alarmtest.Event("standup", r, 0)))
	}

	require.NoError(t, in.Cancel(ctx, "standup", "a@example.com"))
	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, in.Cancel(ctx, "standup", ""))
	all, err = store.List(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestFeedSyncSchedulesEveryFeed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	feedPath := filepath.Join(dir, "team.ics")
	body := strings.Replace(standup, "END:VCALENDAR\n", `BEGIN:VEVENT
UID:review
DTSTART:20250901T140000Z
ATTENDEE;PARTSTAT=ACCEPTED:mailto:bob@example.com
BEGIN:VALARM
ACTION:EMAIL
TRIGGER:-PT10M
END:VALARM
END:VEVENT
END:VCALENDAR
`, 1)
	require.NoError(t, os.WriteFile(feedPath, []byte(body), 0o600))

	in, store := newIngester(time.Date(2025, 8, 28, 12, 0, 0, 0, time.UTC))
	sync := alarm.NewFeedSync([]config.FeedConfig{
		{ID: "team", URL: feedPath, Attendees: []string{"bob@example.com", "carol@example.com"}},
		{ID: "gone", URL: filepath.Join(dir, "missing.ics"), Attendees: []string{"bob@example.com"}},
	}, ics.NewFetcher(filepath.Join(dir, "cache"), time.Second), in)

	rep, err := sync.SyncAll(ctx)
	require.Error(t, err)
	require.Equal(t, 1, rep.Feeds)
	require.Equal(t, 2, rep.Events)
	require.Equal(t, 2, rep.Scheduled)
	require.Equal(t, 1, rep.Failed)

	review, ok, err := store.Find(ctx, "review", "bob@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Date(2025, 9, 1, 13, 50, 0, 0, time.UTC), review.AlarmTime)
	require.NotContains(t, review.ICS, "standup")
}
