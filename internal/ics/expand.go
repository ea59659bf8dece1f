package ics

import (
	"errors"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// instance is one concrete occurrence of a calendar object: either a
// RECURRENCE-ID override or a copy of the master moved to the occurrence.
type instance struct {
	event  *ical.VEvent
	start  time.Time
	end    time.Time
	allDay bool
	// recurrenceID is empty for non-recurring objects.
	recurrenceID string
}

// expandOccurrences returns the master occurrence starts within [from, to],
// with EXDATEs removed, in ascending order. RDATEs are added to the set.
// The result is capped at defaultMaxOccurrencesPerEvent entries.
func expandOccurrences(master *ical.VEvent, start time.Time, from, to time.Time) ([]time.Time, error) {
	if to.Before(from) {
		return nil, errors.New("expand: range end is before range start")
	}

	rp := master.GetProperty(ical.ComponentPropertyRrule)
	if rp == nil {
		return nil, errors.New("expand: master has no RRULE")
	}
	r, err := rrule.StrToRRule(rp.Value)
	if err != nil {
		return nil, fmt.Errorf("expand: parse RRULE %q: %w", rp.Value, err)
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)
	for _, p := range master.GetProperties(propertyRdate) {
		for _, t := range parseDateList(p) {
			set.RDate(t.In(start.Location()))
		}
	}
	for _, p := range master.GetProperties(ical.ComponentPropertyExdate) {
		for _, t := range parseDateList(p) {
			set.ExDate(t.In(start.Location()))
		}
	}

	occ := set.Between(from.In(start.Location()), to.In(start.Location()), true)
	if len(occ) > defaultMaxOccurrencesPerEvent {
		occ = occ[:defaultMaxOccurrencesPerEvent]
	}
	out := make([]time.Time, len(occ))
	for i, t := range occ {
		out[i] = t.UTC()
	}
	return out, nil
}

// overrideTable indexes RECURRENCE-ID components by the unix second of the
// occurrence they replace.
type overrideTable map[int64]*ical.VEvent

func newOverrideTable(events []*ical.VEvent) overrideTable {
	table := make(overrideTable)
	for _, ev := range events {
		rid, ok := recurrenceInstant(ev)
		if !ok {
			continue
		}
		// Later SEQUENCE wins when an override was re-sent.
		if prev, dup := table[rid.Unix()]; dup && sequenceOf(prev) > sequenceOf(ev) {
			continue
		}
		table[rid.Unix()] = ev
	}
	return table
}

// overrideInstance builds the instance of an explicit override.
func overrideInstance(ov *ical.VEvent, occurrence time.Time, masterAllDay bool) (instance, error) {
	start, allDay, err := startOf(ov)
	if err != nil {
		return instance{}, err
	}
	rid, _ := formatLike(occurrence, masterAllDay)
	return instance{
		event:        ov,
		start:        start,
		end:          endOf(ov, start, allDay),
		allDay:       allDay,
		recurrenceID: rid,
	}, nil
}

// synthesizeInstance copies master and moves the copy to occurrence, keeping
// the master's length. The copy carries no recurrence rule of its own.
func synthesizeInstance(master *ical.VEvent, occurrence time.Time, length time.Duration, allDay bool) instance {
	cp := &ical.VEvent{
		ComponentBase: ical.ComponentBase{
			Properties: append([]ical.IANAProperty(nil), master.Properties...),
			Components: append([]ical.Component(nil), master.Components...),
		},
	}
	for _, prop := range []ical.ComponentProperty{
		ical.ComponentPropertyRrule,
		propertyRdate,
		ical.ComponentPropertyExdate,
		ical.ComponentPropertyDtStart,
		ical.ComponentPropertyDtEnd,
		ical.ComponentPropertyDuration,
	} {
		cp.RemoveProperty(prop)
	}

	end := occurrence.Add(length)
	rid, params := formatLike(occurrence, allDay)
	endValue, _ := formatLike(end, allDay)
	cp.SetProperty(ical.ComponentPropertyRecurrenceId, rid, params...)
	cp.SetProperty(ical.ComponentPropertyDtStart, rid, params...)
	cp.SetProperty(ical.ComponentPropertyDtEnd, endValue, params...)

	return instance{
		event:        cp,
		start:        occurrence,
		end:          end,
		allDay:       allDay,
		recurrenceID: rid,
	}
}
