// Package alarmtest holds the behavioral contract every alarm.Store
// implementation must satisfy.
package alarmtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"calalarm/internal/alarm"
	"calalarm/internal/model"
)

var base = time.Date(2025, 8, 29, 10, 0, 0, 0, time.UTC)

// Event returns a populated AlarmEvent firing offset after a fixed instant.
func Event(uid, recipient string, offset time.Duration) model.AlarmEvent {
	alarmAt := base.Add(offset)
	return model.AlarmEvent{
		EventUID:       uid,
		AlarmTime:      alarmAt,
		EventStartTime: alarmAt.Add(15 * time.Minute),
		EventEndTime:   alarmAt.Add(75 * time.Minute),
		Recipient:      recipient,
		ICS:            "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n",
	}
}

// RunStoreContract exercises newStore against the Store contract. Each
// subtest gets a fresh, empty store.
func RunStoreContract(t *testing.T, newStore func(t *testing.T) alarm.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("upsert then find", func(t *testing.T) {
		s := newStore(t)
		e := Event("uid-1", "bob@example.com", 0)
		e.Recurring = true
		e.RecurrenceID = "20250829T101500Z"
		require.NoError(t, s.Upsert(ctx, e))

		got, ok, err := s.Find(ctx, "uid-1", "BOB@example.com")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, e.EventUID, got.EventUID)
		require.Equal(t, "bob@example.com", got.Recipient)
		require.True(t, e.AlarmTime.Equal(got.AlarmTime))
		require.True(t, e.EventStartTime.Equal(got.EventStartTime))
		require.True(t, e.EventEndTime.Equal(got.EventEndTime))
		require.True(t, got.Recurring)
		require.Equal(t, e.RecurrenceID, got.RecurrenceID)
		require.Equal(t, e.ICS, got.ICS)
	})

	t.Run("find missing", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.Find(ctx, "nope", "bob@example.com")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("upsert supersedes by key", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, Event("uid-1", "bob@example.com", 0)))
		next := Event("uid-1", "Bob@Example.com", 7*24*time.Hour)
		next.RecurrenceID = "20250905T101500Z"
		require.NoError(t, s.Upsert(ctx, next))

		all, err := s.List(ctx, 0)
		require.NoError(t, err)
		require.Len(t, all, 1)
		require.True(t, next.AlarmTime.Equal(all[0].AlarmTime))
		require.Equal(t, "20250905T101500Z", all[0].RecurrenceID)
	})

	t.Run("find due is ordered and bounded", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, Event("late", "a@example.com", 2*time.Minute)))
		require.NoError(t, s.Upsert(ctx, Event("early", "a@example.com", -time.Hour)))
		require.NoError(t, s.Upsert(ctx, Event("exact", "a@example.com", 0)))
		require.NoError(t, s.Upsert(ctx, Event("middle", "a@example.com", -time.Minute)))

		due, err := s.FindDue(ctx, base, 10)
		require.NoError(t, err)
		require.Equal(t, []string{"early", "middle", "exact"}, uids(due))

		due, err = s.FindDue(ctx, base, 2)
		require.NoError(t, err)
		require.Equal(t, []string{"early", "middle"}, uids(due))

		due, err = s.FindDue(ctx, base.Add(-2*time.Hour), 10)
		require.NoError(t, err)
		require.Empty(t, due)
	})

	t.Run("delete is idempotent and scoped", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, Event("uid-1", "a@example.com", 0)))
		require.NoError(t, s.Upsert(ctx, Event("uid-1", "b@example.com", 0)))

		require.NoError(t, s.Delete(ctx, "uid-1", "A@example.com"))
		require.NoError(t, s.Delete(ctx, "uid-1", "a@example.com"))

		_, ok, err := s.Find(ctx, "uid-1", "a@example.com")
		require.NoError(t, err)
		require.False(t, ok)
		_, ok, err = s.Find(ctx, "uid-1", "b@example.com")
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("delete event removes every recipient", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 3; i++ {
			require.NoError(t, s.Upsert(ctx, Event("uid-1", fmt.Sprintf("r%d@example.com", i), 0)))
		}
		require.NoError(t, s.Upsert(ctx, Event("uid-2", "r0@example.com", 0)))

		require.NoError(t, s.DeleteEvent(ctx, "uid-1"))
		all, err := s.List(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, []string{"uid-2"}, uids(all))
	})

	t.Run("list honors limit", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Upsert(ctx, Event(fmt.Sprintf("uid-%d", i), "a@example.com", time.Duration(i)*time.Minute)))
		}
		all, err := s.List(ctx, 3)
		require.NoError(t, err)
		require.Equal(t, []string{"uid-0", "uid-1", "uid-2"}, uids(all))
	})
}

func uids(events []model.AlarmEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.EventUID
	}
	return out
}
