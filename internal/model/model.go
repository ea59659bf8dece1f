package model

import (
	"strings"
	"time"
)

// AlarmEvent is one pending reminder: the next instant at which Recipient
// must be notified about the event identified by EventUID.
//
// At most one AlarmEvent exists per (EventUID, Recipient); writing a new one
// for the same key supersedes the previous entry.
type AlarmEvent struct {
	EventUID string // iCalendar UID, shared by all recurrence instances

	AlarmTime      time.Time
	EventStartTime time.Time
	EventEndTime   time.Time

	Recurring bool
	// RecurrenceID is the RECURRENCE-ID value of the occurrence, if any.
	RecurrenceID string

	Recipient string
	// ICS is the raw calendar object, kept so sending never needs to
	// re-fetch the authoritative calendar.
	ICS string
}

// Key returns the identity under which the event is stored.
func (e AlarmEvent) Key() Key {
	return NewKey(e.EventUID, e.Recipient)
}

// ShortString is a compact description for log lines.
func (e AlarmEvent) ShortString() string {
	var b strings.Builder
	b.WriteString(e.EventUID)
	b.WriteString("/")
	b.WriteString(e.Recipient)
	if e.RecurrenceID != "" {
		b.WriteString("@")
		b.WriteString(e.RecurrenceID)
	}
	return b.String()
}

// Key identifies an AlarmEvent. Recipients are compared case-insensitively.
type Key struct {
	EventUID  string
	Recipient string
}

func NewKey(eventUID, recipient string) Key {
	return Key{EventUID: eventUID, Recipient: NormalizeAddress(recipient)}
}

// NormalizeAddress lower-cases a mail address and strips a mailto: prefix.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if len(addr) >= 7 && strings.EqualFold(addr[:7], "mailto:") {
		addr = addr[7:]
	}
	return strings.ToLower(addr)
}

// Lease is one entry of the lease ledger: exclusive ownership of a
// scheduling turn until ExpiresAt.
type Lease struct {
	Name  string
	Owner string
	ID    string
	// Epoch grows every time the lease changes hands.
	Epoch int64

	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lease is no longer held at now.
func (l Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
