package alarm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	ical "github.com/arran4/golang-ical"

	"calalarm/internal/ics"
	appLog "calalarm/internal/log"
	"calalarm/internal/model"
)

// Ingester turns calendar objects into pending AlarmEvents.
type Ingester struct {
	store   Store
	factory *ics.Factory
}

func NewIngester(store Store, factory *ics.Factory) *Ingester {
	return &Ingester{store: store, factory: factory}
}

// Schedule parses body and records the next alarm of attendee, one entry per
// alarm recipient. When nothing is left to notify, the attendee's pending
// entry is removed.
func (in *Ingester) Schedule(ctx context.Context, attendee string, body []byte) ([]model.AlarmEvent, error) {
	cal, err := ics.ParseCalendar(body)
	if err != nil {
		return nil, err
	}
	return in.ScheduleCalendar(ctx, attendee, cal, string(body))
}

// ScheduleCalendar is Schedule for an already parsed calendar; raw is stored
// as the AlarmEvent payload.
func (in *Ingester) ScheduleCalendar(ctx context.Context, attendee string, cal *ical.Calendar, raw string) ([]model.AlarmEvent, error) {
	uid := ics.EventUID(cal)
	if uid == "" {
		return nil, errors.New("alarm: calendar object has no UID")
	}
	if strings.TrimSpace(attendee) == "" {
		return nil, errors.New("alarm: attendee is empty")
	}

	ai, ok := in.factory.NextAlarmInstant(cal, attendee)
	if !ok {
		if err := in.store.Delete(ctx, uid, attendee); err != nil {
			return nil, fmt.Errorf("alarm: clear %s for %s: %w", uid, attendee, err)
		}
		appLog.Debug("no upcoming alarm", "uid", uid, "attendee", attendee)
		return nil, nil
	}

	events := EventsFor(uid, ics.IsRecurring(cal), raw, ai)
	for _, e := range events {
		if err := in.store.Upsert(ctx, e); err != nil {
			return nil, fmt.Errorf("alarm: store %s: %w", e.ShortString(), err)
		}
	}
	appLog.Info("alarm scheduled", "uid", uid, "attendee", attendee, "alarm_time", ai.AlarmTime, "recipients", len(events))
	return events, nil
}

// Cancel removes pending alarms of eventUID, for one recipient or for every
// recipient when recipient is empty.
func (in *Ingester) Cancel(ctx context.Context, eventUID, recipient string) error {
	if eventUID == "" {
		return errors.New("alarm: event uid is empty")
	}
	var err error
	if recipient == "" {
		err = in.store.DeleteEvent(ctx, eventUID)
	} else {
		err = in.store.Delete(ctx, eventUID, recipient)
	}
	if err != nil {
		return fmt.Errorf("alarm: cancel %s: %w", eventUID, err)
	}
	appLog.Info("alarm cancelled", "uid", eventUID, "recipient", recipient)
	return nil
}

// EventsFor expands an AlarmInstant into one AlarmEvent per recipient.
func EventsFor(uid string, recurring bool, raw string, ai ics.AlarmInstant) []model.AlarmEvent {
	out := make([]model.AlarmEvent, 0, len(ai.Recipients))
	for _, r := range ai.Recipients {
		out = append(out, model.AlarmEvent{
			EventUID:       uid,
			AlarmTime:      ai.AlarmTime.UTC(),
			EventStartTime: ai.EventStartTime.UTC(),
			EventEndTime:   ai.EventEndTime.UTC(),
			Recurring:      recurring,
			RecurrenceID:   ai.RecurrenceID,
			Recipient:      model.NormalizeAddress(r),
			ICS:            raw,
		})
	}
	return out
}
