package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"calalarm/internal/model"
)

// ErrNoEvents is returned when a calendar object carries no VEVENT.
var ErrNoEvents = errors.New("ics: calendar has no VEVENT")

const (
	layoutDate     = "20060102"
	layoutDateTime = "20060102T150405"
	layoutUTC      = "20060102T150405Z"
)

const (
	propertyVideoConference = ical.ComponentProperty("X-OPENPAAS-VIDEOCONFERENCE")
	propertyResources       = ical.ComponentProperty("RESOURCES")
	propertyRdate           = ical.ComponentProperty("RDATE")

	partStatAccepted = "ACCEPTED"
	statusCancelled  = "CANCELLED"
)

// ParseCalendar parses a single calendar object. A body without any VEVENT
// is rejected with ErrNoEvents.
func ParseCalendar(body []byte) (*ical.Calendar, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("ics: empty body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse calendar: %w", err)
	}
	if len(cal.Events()) == 0 {
		return nil, ErrNoEvents
	}
	return cal, nil
}

// EventUID returns the UID shared by the VEVENTs of cal, or "" when absent.
func EventUID(cal *ical.Calendar) string {
	for _, ev := range cal.Events() {
		if p := ev.GetProperty(ical.ComponentPropertyUniqueId); p != nil && p.Value != "" {
			return strings.TrimSpace(p.Value)
		}
	}
	return ""
}

// IsRecurring reports whether any VEVENT of cal carries an RRULE.
func IsRecurring(cal *ical.Calendar) bool {
	for _, ev := range cal.Events() {
		if ev.HasProperty(ical.ComponentPropertyRrule) {
			return true
		}
	}
	return false
}

// ComponentForRecurrence returns the VEVENT whose RECURRENCE-ID denotes the
// same instant as recurrenceID. An empty recurrenceID, or one that matches no
// override, yields the master (or the first VEVENT).
func ComponentForRecurrence(cal *ical.Calendar, recurrenceID string) *ical.VEvent {
	events := cal.Events()
	if len(events) == 0 {
		return nil
	}
	if recurrenceID != "" {
		want, err := parseDateTimeValue(recurrenceID, nil)
		if err == nil {
			for _, ev := range events {
				rid, ok := recurrenceInstant(ev)
				if ok && rid.Equal(want) {
					return ev
				}
			}
		}
	}
	for _, ev := range events {
		if !ev.HasProperty(ical.ComponentPropertyRecurrenceId) {
			return ev
		}
	}
	return events[0]
}

// Details is the human-facing content of a VEVENT used to render reminders.
type Details struct {
	Summary         string
	Location        string
	Description     string
	Organizer       Person
	Attendees       []Person
	Resources       []string
	VideoConference string
	AllDay          bool
}

// Person is an organizer or attendee.
type Person struct {
	Name  string
	Email string
}

// Display returns "Name <email>" or just the address.
func (p Person) Display() string {
	if p.Name == "" {
		return p.Email
	}
	if p.Email == "" {
		return p.Name
	}
	return p.Name + " <" + p.Email + ">"
}

// DetailsOf extracts the renderable fields of ev.
func DetailsOf(ev *ical.VEvent) Details {
	var d Details
	if ev == nil {
		return d
	}
	d.Summary = propertyValue(ev, ical.ComponentPropertySummary)
	d.Location = propertyValue(ev, ical.ComponentPropertyLocation)
	d.Description = propertyValue(ev, ical.ComponentPropertyDescription)
	d.VideoConference = propertyValue(ev, propertyVideoConference)
	if p := ev.GetProperty(ical.ComponentPropertyOrganizer); p != nil {
		d.Organizer = personOf(p)
	}
	for _, p := range ev.GetProperties(ical.ComponentPropertyAttendee) {
		if isResource(p) {
			d.Resources = append(d.Resources, personOf(p).Display())
			continue
		}
		d.Attendees = append(d.Attendees, personOf(p))
	}
	for _, p := range ev.GetProperties(propertyResources) {
		for _, r := range strings.Split(p.Value, ",") {
			if r = strings.TrimSpace(r); r != "" {
				d.Resources = append(d.Resources, r)
			}
		}
	}
	if p := ev.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		d.AllDay = isDateValue(p)
	}
	return d
}

func personOf(p *ical.IANAProperty) Person {
	return Person{
		Name:  firstParam(p, string(ical.ParameterCn)),
		Email: model.NormalizeAddress(p.Value),
	}
}

func isResource(p *ical.IANAProperty) bool {
	cutype := firstParam(p, string(ical.ParameterCutype))
	return strings.EqualFold(cutype, "RESOURCE") || strings.EqualFold(cutype, "ROOM")
}

// isAccepted reports whether attendee appears on ev with PARTSTAT=ACCEPTED.
func isAccepted(ev *ical.VEvent, attendee string) bool {
	want := model.NormalizeAddress(attendee)
	for _, p := range ev.GetProperties(ical.ComponentPropertyAttendee) {
		if model.NormalizeAddress(p.Value) != want {
			continue
		}
		if strings.EqualFold(firstParam(p, string(ical.ParameterParticipationStatus)), partStatAccepted) {
			return true
		}
	}
	return false
}

func isCancelled(ev *ical.VEvent) bool {
	return strings.EqualFold(propertyValue(ev, ical.ComponentPropertyStatus), statusCancelled)
}

func sequenceOf(ev *ical.VEvent) int {
	n, err := strconv.Atoi(propertyValue(ev, ical.ComponentPropertySequence))
	if err != nil {
		return 0
	}
	return n
}

func propertyValue(ev *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ev.GetProperty(prop); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func firstParam(p *ical.IANAProperty, key string) string {
	for k, vs := range p.ICalParameters {
		if strings.EqualFold(k, key) && len(vs) > 0 {
			return strings.Trim(vs[0], `"`)
		}
	}
	return ""
}

// startOf returns the DTSTART instant of ev and whether it is a DATE value.
func startOf(ev *ical.VEvent) (time.Time, bool, error) {
	p := ev.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil {
		return time.Time{}, false, errors.New("missing DTSTART")
	}
	t, err := parseDateTimeProperty(p)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("DTSTART: %w", err)
	}
	return t, isDateValue(p), nil
}

// endOf returns the end of ev given its start: DTEND, else DTSTART+DURATION,
// else one day for DATE starts and zero length otherwise.
func endOf(ev *ical.VEvent, start time.Time, allDay bool) time.Time {
	if p := ev.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
		if t, err := parseDateTimeProperty(p); err == nil && !t.Before(start) {
			return t
		}
	}
	if p := ev.GetProperty(ical.ComponentPropertyDuration); p != nil {
		if d, err := ParseDuration(p.Value); err == nil && d >= 0 {
			return start.Add(d)
		}
	}
	if allDay {
		return start.AddDate(0, 0, 1)
	}
	return start
}

func recurrenceInstant(ev *ical.VEvent) (time.Time, bool) {
	p := ev.GetProperty(ical.ComponentPropertyRecurrenceId)
	if p == nil {
		return time.Time{}, false
	}
	t, err := parseDateTimeProperty(p)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func isDateValue(p *ical.IANAProperty) bool {
	if strings.EqualFold(firstParam(p, string(ical.ParameterValue)), "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// parseDateTimeProperty resolves a DATE or DATE-TIME property to an instant.
// DATE values are midnight UTC. Floating times are read in UTC, TZID times in
// their zone when the zone is known to the system database.
func parseDateTimeProperty(p *ical.IANAProperty) (time.Time, error) {
	var loc *time.Location
	if tzid := firstParam(p, string(ical.ParameterTzid)); tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	return parseDateTimeValue(p.Value, loc)
}

func parseDateTimeValue(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if loc == nil {
		loc = time.UTC
	}
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse(layoutUTC, v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation(layoutDateTime, v, loc)
	default:
		return time.ParseInLocation(layoutDate, v, time.UTC)
	}
}

// parseDateList parses a comma separated EXDATE/RDATE property.
func parseDateList(p *ical.IANAProperty) []time.Time {
	var loc *time.Location
	if tzid := firstParam(p, string(ical.ParameterTzid)); tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	var out []time.Time
	for _, part := range strings.Split(p.Value, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		if t, err := parseDateTimeValue(part, loc); err == nil {
			out = append(out, t)
		}
	}
	return out
}

// formatLike renders t as a DATE or UTC DATE-TIME value with the matching
// VALUE parameter.
func formatLike(t time.Time, allDay bool) (string, []ical.PropertyParameter) {
	if allDay {
		return t.UTC().Format(layoutDate), []ical.PropertyParameter{ical.WithValue(string(ical.ValueDataTypeDate))}
	}
	return t.UTC().Format(layoutUTC), nil
}

// SplitByUID returns one calendar per UID found in cal, each carrying the
// VTIMEZONEs and calendar properties of cal. Order follows first appearance.
func SplitByUID(cal *ical.Calendar) []*ical.Calendar {
	var (
		zones  []ical.Component
		order  []string
		groups = make(map[string][]ical.Component)
	)
	for _, c := range cal.Components {
		switch comp := c.(type) {
		case *ical.VTimezone:
			zones = append(zones, comp)
		case *ical.VEvent:
			uid := propertyValue(comp, ical.ComponentPropertyUniqueId)
			if uid == "" {
				continue
			}
			if _, ok := groups[uid]; !ok {
				order = append(order, uid)
			}
			groups[uid] = append(groups[uid], comp)
		}
	}

	out := make([]*ical.Calendar, 0, len(order))
	for _, uid := range order {
		components := append(append([]ical.Component(nil), zones...), groups[uid]...)
		out = append(out, &ical.Calendar{
			Components:         components,
			CalendarProperties: append([]ical.CalendarProperty(nil), cal.CalendarProperties...),
		})
	}
	return out
}
