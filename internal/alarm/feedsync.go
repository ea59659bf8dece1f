package alarm

import (
	"context"
	"errors"
	"fmt"

	"calalarm/internal/config"
	"calalarm/internal/ics"
	appLog "calalarm/internal/log"
)

// FeedSync periodically schedules the events of subscribed calendar feeds.
type FeedSync struct {
	feeds    []config.FeedConfig
	fetcher  *ics.Fetcher
	ingester *Ingester
}

func NewFeedSync(feeds []config.FeedConfig, fetcher *ics.Fetcher, ingester *Ingester) *FeedSync {
	return &FeedSync{feeds: feeds, fetcher: fetcher, ingester: ingester}
}

// SyncReport counts what one SyncAll pass did.
type SyncReport struct {
	Feeds     int
	Events    int
	Scheduled int
	Failed    int
}

// SyncAll fetches every feed and schedules each event for the feed's
// attendees. Failures of one feed or event are logged and joined into the
// returned error; the pass always visits every feed.
func (s *FeedSync) SyncAll(ctx context.Context) (SyncReport, error) {
	var (
		rep  SyncReport
		errs []error
	)
	for _, feed := range s.feeds {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		src := ics.Source{ID: feed.ID, URL: feed.URL}
		res, err := s.fetcher.FetchOne(ctx, src)
		if err != nil {
			rep.Failed++
			errs = append(errs, fmt.Errorf("feed %s: %w", feed.ID, err))
			appLog.Error("feed sync: fetch failed", err, "feed", feed.ID)
			continue
		}
		cal, err := ics.ParseCalendar(res.Body)
		if err != nil {
			rep.Failed++
			errs = append(errs, fmt.Errorf("feed %s: %w", feed.ID, err))
			appLog.Error("feed sync: parse failed", err, "feed", feed.ID)
			continue
		}
		rep.Feeds++

		for _, part := range ics.SplitByUID(cal) {
			rep.Events++
			raw := part.Serialize()
			for _, attendee := range feed.Attendees {
				events, err := s.ingester.ScheduleCalendar(ctx, attendee, part, raw)
				if err != nil {
					rep.Failed++
					errs = append(errs, fmt.Errorf("feed %s: %w", feed.ID, err))
					appLog.Error("feed sync: schedule failed", err, "feed", feed.ID, "uid", ics.EventUID(part), "attendee", attendee)
					continue
				}
				rep.Scheduled += len(events)
			}
		}
	}
	appLog.Info("feed sync completed", "feeds", rep.Feeds, "events", rep.Events, "scheduled", rep.Scheduled, "failed", rep.Failed)
	return rep, errors.Join(errs...)
}
