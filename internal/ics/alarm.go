package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calalarm/internal/log"
	"calalarm/internal/model"
)

// DefaultHorizon bounds how far ahead recurring events are expanded.
const DefaultHorizon = 365 * 24 * time.Hour

// AlarmInstant is the next reminder computed for one attendee.
type AlarmInstant struct {
	AlarmTime      time.Time
	EventStartTime time.Time
	EventEndTime   time.Time
	// RecurrenceID identifies the occurrence for recurring events, as a UTC
	// DATE-TIME (or DATE for all-day events). Empty otherwise.
	RecurrenceID string
	// Recipients are the addresses to notify.
	Recipients []string
}

// Factory computes alarm instants. It is safe for concurrent use.
type Factory struct {
	now     func() time.Time
	horizon time.Duration
}

// NewFactory returns a Factory expanding recurrences over horizon. A nil
// clock means time.Now; a non-positive horizon means DefaultHorizon.
func NewFactory(horizon time.Duration, now func() time.Time) *Factory {
	if now == nil {
		now = time.Now
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Factory{now: now, horizon: horizon}
}

// NextAlarmInstant returns the earliest alarm strictly after now for which
// attendee has accepted the occurrence. Malformed data yields false, never an
// error.
func (f *Factory) NextAlarmInstant(cal *ical.Calendar, attendee string) (AlarmInstant, bool) {
	if cal == nil {
		return AlarmInstant{}, false
	}
	events := cal.Events()
	if len(events) == 0 {
		return AlarmInstant{}, false
	}
	now := f.now().UTC()
	uid := EventUID(cal)

	var candidates []instance
	if IsRecurring(cal) {
		candidates = f.recurringCandidates(uid, events, attendee, now)
	} else {
		ev := latestVersion(events)
		start, allDay, err := startOf(ev)
		if err != nil {
			appLog.Debug("alarm: skip event with unusable start", "uid", uid, "err", err)
			return AlarmInstant{}, false
		}
		if start.After(now) && isAccepted(ev, attendee) {
			candidates = append(candidates, instance{
				event:  ev,
				start:  start,
				end:    endOf(ev, start, allDay),
				allDay: allDay,
			})
		}
	}

	var (
		best  AlarmInstant
		found bool
	)
	for _, inst := range candidates {
		if isCancelled(inst.event) {
			continue
		}
		ai, ok := alarmOf(uid, inst, attendee)
		if !ok || !ai.AlarmTime.After(now) {
			continue
		}
		if !found || ai.AlarmTime.Before(best.AlarmTime) {
			best, found = ai, true
		}
	}
	return best, found
}

// recurringCandidates lists the accepted instances of a recurring object
// that start after now.
func (f *Factory) recurringCandidates(uid string, events []*ical.VEvent, attendee string, now time.Time) []instance {
	master := masterOf(events)
	if master == nil {
		appLog.Debug("alarm: recurring object without master", "uid", uid)
		return nil
	}
	masterStart, allDay, err := startOf(master)
	if err != nil {
		appLog.Debug("alarm: skip master with unusable start", "uid", uid, "err", err)
		return nil
	}
	length := endOf(master, masterStart, allDay).Sub(masterStart)

	from := now
	if masterStart.After(from) {
		from = masterStart
	}
	occurrences, err := expandOccurrences(master, masterStart, from, from.Add(f.horizon))
	if err != nil {
		appLog.Debug("alarm: skip unexpandable recurrence", "uid", uid, "err", err)
		return nil
	}

	overrides := newOverrideTable(events)
	var out []instance
	add := func(inst instance) {
		if inst.start.After(now) && isAccepted(inst.event, attendee) {
			out = append(out, inst)
		}
	}

	// Overrides that moved an already elapsed occurrence into the future.
	for key, ov := range overrides {
		if time.Unix(key, 0).After(now) {
			continue
		}
		inst, err := overrideInstance(ov, time.Unix(key, 0).UTC(), allDay)
		if err != nil {
			appLog.Debug("alarm: skip override with unusable start", "uid", uid, "err", err)
			continue
		}
		add(inst)
	}

	for _, occ := range occurrences {
		if !occ.After(now) {
			continue
		}
		if ov, ok := overrides[occ.Unix()]; ok {
			inst, err := overrideInstance(ov, occ, allDay)
			if err != nil {
				appLog.Debug("alarm: skip override with unusable start", "uid", uid, "err", err)
				continue
			}
			add(inst)
			continue
		}
		add(synthesizeInstance(master, occ, length, allDay))
	}
	return out
}

// alarmOf evaluates the first VALARM of inst. Only EMAIL alarms with a
// duration TRIGGER relative to the start are honored.
func alarmOf(uid string, inst instance, attendee string) (AlarmInstant, bool) {
	alarms := inst.event.Alarms()
	if len(alarms) == 0 {
		return AlarmInstant{}, false
	}
	va := alarms[0]

	action := va.GetProperty(ical.ComponentPropertyAction)
	if action == nil || !strings.EqualFold(strings.TrimSpace(action.Value), "EMAIL") {
		appLog.Debug("alarm: skip VALARM without EMAIL action", "uid", uid)
		return AlarmInstant{}, false
	}
	trigger := va.GetProperty(ical.ComponentPropertyTrigger)
	if trigger == nil {
		appLog.Debug("alarm: skip VALARM without TRIGGER", "uid", uid)
		return AlarmInstant{}, false
	}
	if related := firstParam(trigger, string(ical.ParameterRelated)); related != "" && !strings.EqualFold(related, "START") {
		appLog.Debug("alarm: skip VALARM not related to start", "uid", uid, "related", related)
		return AlarmInstant{}, false
	}
	offset, err := ParseDuration(trigger.Value)
	if err != nil {
		appLog.Debug("alarm: skip VALARM with non-duration TRIGGER", "uid", uid, "trigger", trigger.Value)
		return AlarmInstant{}, false
	}

	var recipients []string
	for _, p := range va.GetProperties(ical.ComponentPropertyAttendee) {
		if addr := model.NormalizeAddress(p.Value); addr != "" {
			recipients = append(recipients, addr)
		}
	}
	if len(recipients) == 0 {
		recipients = []string{model.NormalizeAddress(attendee)}
	}

	return AlarmInstant{
		AlarmTime:      inst.start.Add(offset).UTC(),
		EventStartTime: inst.start.UTC(),
		EventEndTime:   inst.end.UTC(),
		RecurrenceID:   inst.recurrenceID,
		Recipients:     recipients,
	}, true
}

// masterOf returns the VEVENT carrying the RRULE and no RECURRENCE-ID.
func masterOf(events []*ical.VEvent) *ical.VEvent {
	for _, ev := range events {
		if ev.HasProperty(ical.ComponentPropertyRrule) && !ev.HasProperty(ical.ComponentPropertyRecurrenceId) {
			return ev
		}
	}
	return nil
}

// latestVersion picks the VEVENT with the highest SEQUENCE; the first one
// wins ties.
func latestVersion(events []*ical.VEvent) *ical.VEvent {
	best := events[0]
	for _, ev := range events[1:] {
		if sequenceOf(ev) > sequenceOf(best) {
			best = ev
		}
	}
	return best
}
