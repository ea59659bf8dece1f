package ics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const meetingWithOverride = `BEGIN:VCALENDAR
VERSION:2.0
BEGIN:VEVENT
UID:weekly-review
DTSTART:20250801T100000Z
DTEND:20250801T110000Z
RRULE:FREQ=WEEKLY;COUNT=3
SUMMARY:Weekly Review
LOCATION:Room 4
DESCRIPTION:Bring numbers
ORGANIZER;CN=Alice Martin:mailto:alice@example.com
ATTENDEE;CN=Bob;PARTSTAT=ACCEPTED:mailto:bob@example.com
ATTENDEE;PARTSTAT=NEEDS-ACTION:mailto:carol@example.com
ATTENDEE;CUTYPE=RESOURCE;CN=Projector:mailto:projector@example.com
X-OPENPAAS-VIDEOCONFERENCE:https://meet.example.com/weekly
END:VEVENT
BEGIN:VEVENT
UID:weekly-review
RECURRENCE-ID:20250808T100000Z
DTSTART:20250808T140000Z
DTEND:20250808T150000Z
SUMMARY:Weekly Review (moved)
END:VEVENT
END:VCALENDAR
`

func TestParseCalendarRejectsEmptyBodies(t *testing.T) {
	t.Parallel()

	_, err := ParseCalendar(nil)
	require.Error(t, err)

	_, err = ParseCalendar([]byte("BEGIN:VCALENDAR\nVERSION:2.0\nEND:VCALENDAR\n"))
	require.True(t, errors.Is(err, ErrNoEvents))

	_, err = ParseCalendar([]byte("not a calendar"))
	require.Error(t, err)
}

func TestCalendarIdentity(t *testing.T) {
	t.Parallel()

	cal, err := ParseCalendar([]byte(meetingWithOverride))
	require.NoError(t, err)
	require.Equal(t, "weekly-review", EventUID(cal))
	require.True(t, IsRecurring(cal))

	single, err := ParseCalendar([]byte(singleEventBody()))
	require.NoError(t, err)
	require.False(t, IsRecurring(single))
}

func TestComponentForRecurrence(t *testing.T) {
	t.Parallel()

	cal, err := ParseCalendar([]byte(meetingWithOverride))
	require.NoError(t, err)

	require.Equal(t, "Weekly Review (moved)", DetailsOf(ComponentForRecurrence(cal, "20250808T100000Z")).Summary)
	require.Equal(t, "Weekly Review", DetailsOf(ComponentForRecurrence(cal, "20250815T100000Z")).Summary)
	require.Equal(t, "Weekly Review", DetailsOf(ComponentForRecurrence(cal, "")).Summary)
	require.Equal(t, "Weekly Review", DetailsOf(ComponentForRecurrence(cal, "garbage")).Summary)
}

func TestDetailsOf(t *testing.T) {
	t.Parallel()

	cal, err := ParseCalendar([]byte(meetingWithOverride))
	require.NoError(t, err)

	d := DetailsOf(ComponentForRecurrence(cal, ""))
	require.Equal(t, "Room 4", d.Location)
	require.Equal(t, "Bring numbers", d.Description)
	require.Equal(t, "Alice Martin <alice@example.com>", d.Organizer.Display())
	require.Equal(t, []Person{
		{Name: "Bob", Email: "bob@example.com"},
		{Email: "carol@example.com"},
	}, d.Attendees)
	require.Equal(t, []string{"Projector <projector@example.com>"}, d.Resources)
	require.Equal(t, "https://meet.example.com/weekly", d.VideoConference)
	require.False(t, d.AllDay)
}

func singleEventBody() string {
	return `BEGIN:VCALENDAR
VERSION:2.0
BEGIN:VEVENT
UID:one-off
DTSTART;VALUE=DATE:20250829
SUMMARY:Offsite
END:VEVENT
END:VCALENDAR
`
}

func TestSplitByUID(t *testing.T) {
	t.Parallel()

	body := `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:a
DTSTART:20250829T100000Z
END:VEVENT
BEGIN:VEVENT
UID:b
DTSTART:20250830T100000Z
END:VEVENT
BEGIN:VEVENT
UID:a
RECURRENCE-ID:20250829T100000Z
DTSTART:20250829T120000Z
END:VEVENT
END:VCALENDAR
`
	cal, err := ParseCalendar([]byte(body))
	require.NoError(t, err)

	parts := SplitByUID(cal)
	require.Len(t, parts, 2)
	require.Equal(t, "a", EventUID(parts[0]))
	require.Len(t, parts[0].Events(), 2)
	require.Equal(t, "b", EventUID(parts[1]))
	require.Len(t, parts[1].Events(), 1)

	reparsed, err := ParseCalendar([]byte(parts[1].Serialize()))
	require.NoError(t, err)
	require.Equal(t, "b", EventUID(reparsed))
}
