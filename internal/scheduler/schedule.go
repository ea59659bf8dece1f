package scheduler

import (
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"
)

// jitteredSchedule delays the first run of a fixed interval schedule so that
// cluster members started together do not tick in lockstep.
type jitteredSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *jitteredSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// everyWithJitter runs every interval, first at now+interval+[0,maxJitter).
func everyWithJitter(every, maxJitter time.Duration, now time.Time) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	if maxJitter <= 0 {
		return base, 0
	}
	jitter := time.Duration(rand.Int63n(int64(maxJitter)))
	return &jitteredSchedule{base: base, first: now.Add(every + jitter)}, jitter
}
