package alarm

import (
	"context"
	"sort"
	"sync"
	"time"

	"calalarm/internal/model"
)

// Store persists pending AlarmEvents. At most one entry exists per
// (EventUID, Recipient); recipients compare case-insensitively.
type Store interface {
	// Upsert creates or supersedes the entry for e.Key().
	Upsert(ctx context.Context, e model.AlarmEvent) error
	// Find returns the entry for (eventUID, recipient), if any.
	Find(ctx context.Context, eventUID, recipient string) (model.AlarmEvent, bool, error)
	// FindDue returns up to limit entries with AlarmTime <= now, earliest first.
	FindDue(ctx context.Context, now time.Time, limit int) ([]model.AlarmEvent, error)
	// Delete removes the entry for (eventUID, recipient). Missing entries are
	// not an error.
	Delete(ctx context.Context, eventUID, recipient string) error
	// DeleteEvent removes every entry of eventUID.
	DeleteEvent(ctx context.Context, eventUID string) error
	// List returns up to limit entries ordered by AlarmTime. A non-positive
	// limit returns everything.
	List(ctx context.Context, limit int) ([]model.AlarmEvent, error)
}

// MemoryStore is a Store kept in process memory. Suitable for SINGLE mode
// deployments that accept losing pending alarms on restart, and for tests.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[model.Key]model.AlarmEvent
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[model.Key]model.AlarmEvent)}
}

func (s *MemoryStore) Upsert(_ context.Context, e model.AlarmEvent) error {
	e.Recipient = model.NormalizeAddress(e.Recipient)
	s.mu.Lock()
	s.events[e.Key()] = e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Find(_ context.Context, eventUID, recipient string) (model.AlarmEvent, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[model.NewKey(eventUID, recipient)]
	return e, ok, nil
}

func (s *MemoryStore) FindDue(_ context.Context, now time.Time, limit int) ([]model.AlarmEvent, error) {
	s.mu.RLock()
	out := make([]model.AlarmEvent, 0)
	for _, e := range s.events {
		if !e.AlarmTime.After(now) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()
	return truncate(sortByAlarmTime(out), limit), nil
}

func (s *MemoryStore) Delete(_ context.Context, eventUID, recipient string) error {
	s.mu.Lock()
	delete(s.events, model.NewKey(eventUID, recipient))
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteEvent(_ context.Context, eventUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.events {
		if k.EventUID == eventUID {
			delete(s.events, k)
		}
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]model.AlarmEvent, error) {
	s.mu.RLock()
	out := make([]model.AlarmEvent, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	s.mu.RUnlock()
	return truncate(sortByAlarmTime(out), limit), nil
}

func sortByAlarmTime(events []model.AlarmEvent) []model.AlarmEvent {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.AlarmTime.Equal(b.AlarmTime) {
			return a.AlarmTime.Before(b.AlarmTime)
		}
		if a.EventUID != b.EventUID {
			return a.EventUID < b.EventUID
		}
		return a.Recipient < b.Recipient
	})
	return events
}

func truncate(events []model.AlarmEvent, limit int) []model.AlarmEvent {
	if limit > 0 && len(events) > limit {
		return events[:limit]
	}
	return events
}
