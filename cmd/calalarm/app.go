package main

import (
	"context"
	"fmt"
	"path/filepath"

	"calalarm/internal/alarm"
	"calalarm/internal/config"
	"calalarm/internal/ics"
	appLog "calalarm/internal/log"
	"calalarm/internal/mail"
	"calalarm/internal/render"
	"calalarm/internal/settings"
	"calalarm/internal/storage"
	"calalarm/internal/trigger"
)

// app holds the wiring shared by every subcommand.
type app struct {
	cfg      *config.Config
	db       *storage.DB
	store    alarm.Store
	factory  *ics.Factory
	ingester *alarm.Ingester
	fetcher  *ics.Fetcher
	feeds    *alarm.FeedSync
}

func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &app{cfg: cfg, db: db, store: db.Alarms()}
	a.factory = ics.NewFactory(cfg.Scheduler.Horizon, nil)
	a.ingester = alarm.NewIngester(a.store, a.factory)
	a.fetcher = ics.NewFetcher(filepath.Join(filepath.Dir(cfg.Database.Path), "feed-cache"), 0)
	a.feeds = alarm.NewFeedSync(cfg.Feeds, a.fetcher, a.ingester)
	return a, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		appLog.Warn("database close failed", "err", err)
	}
}

func (a *app) settingsDefaults() settings.Settings {
	return settings.WithDefaults(settings.Settings{
		Locale:        a.cfg.Settings.DefaultLocale,
		Timezone:      a.cfg.Settings.DefaultTimezone,
		AlarmsEnabled: true,
	}, settings.Default)
}

// resolver returns the file-backed resolver when configured, or nil so every
// recipient gets the defaults.
func (a *app) resolver() (*settings.File, error) {
	if a.cfg.Settings.Path == "" {
		return nil, nil
	}
	return settings.NewFile(a.cfg.Settings.Path, a.settingsDefaults())
}

func (a *app) sender(dryRun bool) (mail.Sender, error) {
	if dryRun {
		return mail.LogSender{}, nil
	}
	return mail.NewSMTPSender(a.cfg.Mail)
}

func (a *app) triggerService(resolver settings.Resolver, sender mail.Sender) (*trigger.Service, error) {
	r, err := render.New()
	if err != nil {
		return nil, err
	}
	return trigger.NewService(a.store, a.factory, resolver, r, sender,
		trigger.WithDefaults(a.settingsDefaults()),
		trigger.WithItemDelay(a.cfg.Scheduler.ItemDelay),
	), nil
}
