// Package trigger sends due alarms and moves recurring ones forward.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
	"golang.org/x/time/rate"

	"calalarm/internal/alarm"
	"calalarm/internal/ics"
	appLog "calalarm/internal/log"
	"calalarm/internal/mail"
	"calalarm/internal/model"
	"calalarm/internal/render"
	"calalarm/internal/settings"
)

// Renderer produces the message for one alarm.
type Renderer interface {
	Render(kind render.Kind, locale string, m render.AlarmModel) (mail.Message, error)
}

// Result is the outcome of processing one AlarmEvent.
type Result string

const (
	ResultSent    Result = "sent"
	ResultSkipped Result = "skipped"
	ResultFailed  Result = "failed"
)

// Report counts what one TriggerDue pass did.
type Report struct {
	Due         int
	Sent        int
	Skipped     int
	Failed      int
	Rescheduled int
}

func (r *Report) add(res Result, rescheduled bool) {
	switch res {
	case ResultSent:
		r.Sent++
	case ResultSkipped:
		r.Skipped++
	case ResultFailed:
		r.Failed++
	}
	if rescheduled {
		r.Rescheduled++
	}
}

// Service sends due AlarmEvents.
type Service struct {
	store    alarm.Store
	factory  *ics.Factory
	settings settings.Resolver
	renderer Renderer
	sender   mail.Sender

	defaults settings.Settings
	limiter  *rate.Limiter
	now      func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithDefaults sets the settings used when a recipient's cannot be resolved.
func WithDefaults(s settings.Settings) Option {
	return func(svc *Service) { svc.defaults = settings.WithDefaults(s, settings.Default) }
}

// WithItemDelay spaces consecutive sends of one batch by at least d.
func WithItemDelay(d time.Duration) Option {
	return func(svc *Service) {
		if d > 0 {
			svc.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// NewService wires a Service. A nil resolver resolves every recipient to the
// defaults.
func NewService(store alarm.Store, factory *ics.Factory, resolver settings.Resolver, renderer Renderer, sender mail.Sender, opts ...Option) *Service {
	s := &Service{
		store:    store,
		factory:  factory,
		settings: resolver,
		renderer: renderer,
		sender:   sender,
		defaults: settings.Default,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// TriggerDue processes up to limit AlarmEvents due at now, earliest first.
// Items are independent: a failing item is logged and left for the next
// pass. Only a failure to list due items is returned.
func (s *Service) TriggerDue(ctx context.Context, now time.Time, limit int) (Report, error) {
	var rep Report
	due, err := s.store.FindDue(ctx, now, limit)
	if err != nil {
		return rep, fmt.Errorf("trigger: find due: %w", err)
	}
	rep.Due = len(due)

	for i, e := range due {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				appLog.Warn("trigger: batch interrupted", "processed", i, "due", len(due), "err", err)
				break
			}
		}
		if ctx.Err() != nil {
			appLog.Warn("trigger: batch interrupted", "processed", i, "due", len(due))
			break
		}
		res, rescheduled := s.ProcessOne(ctx, e, s.now())
		rep.add(res, rescheduled)
	}
	if rep.Due > 0 {
		appLog.Info("trigger pass completed", "due", rep.Due, "sent", rep.Sent, "skipped", rep.Skipped, "failed", rep.Failed, "rescheduled", rep.Rescheduled)
	}
	return rep, nil
}

// ProcessOne sends e unless it is stale or the recipient disabled alarms,
// then removes or reschedules it. A send failure leaves e untouched.
func (s *Service) ProcessOne(ctx context.Context, e model.AlarmEvent, now time.Time) (Result, bool) {
	cal, err := ics.ParseCalendar([]byte(e.ICS))
	if err != nil {
		appLog.Warn("trigger: dropping alarm with unreadable calendar data", "alarm", e.ShortString(), "err", err)
		if err := s.store.Delete(ctx, e.EventUID, e.Recipient); err != nil {
			appLog.Error("trigger: delete failed", err, "alarm", e.ShortString())
		}
		return ResultSkipped, false
	}

	res := ResultSkipped
	switch {
	case e.EventStartTime.Before(now):
		appLog.Debug("trigger: event already started; not sending", "alarm", e.ShortString(), "start", e.EventStartTime)
	default:
		st := s.resolve(ctx, e.Recipient)
		if !st.AlarmsEnabled {
			appLog.Debug("trigger: alarms disabled for recipient", "alarm", e.ShortString())
			break
		}
		if err := s.send(ctx, e, cal, st, now); err != nil {
			appLog.Error("trigger: send failed; will retry", err, "alarm", e.ShortString())
			return ResultFailed, false
		}
		res = ResultSent
	}

	rescheduled, err := s.cleanup(ctx, e, cal)
	if err != nil {
		if res == ResultSent {
			appLog.Warn("trigger: sent but not cleaned up; may be sent again", "alarm", e.ShortString(), "err", err)
		} else {
			appLog.Error("trigger: cleanup failed", err, "alarm", e.ShortString())
		}
		return res, false
	}
	if res == ResultSent {
		appLog.Info("alarm sent", "alarm", e.ShortString(), "start", e.EventStartTime, "rescheduled", rescheduled)
	}
	return res, rescheduled
}

func (s *Service) resolve(ctx context.Context, recipient string) settings.Settings {
	if s.settings == nil {
		return s.defaults
	}
	st, err := s.settings.Resolve(ctx, recipient)
	switch {
	case errors.Is(err, settings.ErrNotFound):
		return s.defaults
	case err != nil:
		appLog.Error("trigger: settings lookup failed; using defaults", err, "recipient", recipient)
		return s.defaults
	}
	return settings.WithDefaults(st, s.defaults)
}

func (s *Service) send(ctx context.Context, e model.AlarmEvent, cal *ical.Calendar, st settings.Settings, now time.Time) error {
	loc, err := time.LoadLocation(st.Timezone)
	if err != nil {
		appLog.Debug("trigger: unknown timezone; using UTC", "recipient", e.Recipient, "timezone", st.Timezone)
		loc = time.UTC
	}
	msg, err := s.renderer.Render(render.KindEventAlarm, st.Locale, render.AlarmModel{
		Event:    ics.DetailsOf(ics.ComponentForRecurrence(cal, e.RecurrenceID)),
		Start:    e.EventStartTime,
		Location: loc,
		Until:    e.EventStartTime.Sub(now),
	})
	if err != nil {
		return err
	}
	msg.To = []string{e.Recipient}
	return s.sender.Send(ctx, msg)
}

// cleanup deletes e, or for recurring events replaces it with the next
// alarm of the series.
func (s *Service) cleanup(ctx context.Context, e model.AlarmEvent, cal *ical.Calendar) (bool, error) {
	if !e.Recurring {
		return false, s.store.Delete(ctx, e.EventUID, e.Recipient)
	}
	ai, ok := s.factory.NextAlarmInstant(cal, e.Recipient)
	if !ok {
		return false, s.store.Delete(ctx, e.EventUID, e.Recipient)
	}

	superseded := false
	for _, next := range alarm.EventsFor(e.EventUID, true, e.ICS, ai) {
		if err := s.store.Upsert(ctx, next); err != nil {
			return false, err
		}
		if next.Key() == e.Key() {
			superseded = true
		}
	}
	if !superseded {
		if err := s.store.Delete(ctx, e.EventUID, e.Recipient); err != nil {
			return false, err
		}
	}
	return true, nil
}
