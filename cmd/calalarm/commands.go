package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"calalarm/internal/config"
	"calalarm/internal/ics"
	"calalarm/internal/lease"
	appLog "calalarm/internal/log"
	"calalarm/internal/scheduler"
	"calalarm/internal/settings"
	"calalarm/internal/web"
)

const defaultConfigPath = "/etc/calalarm/config.yaml"

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "calalarm",
		Short:         "Send e-mail reminders for calendar events.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to configuration file")

	root.AddCommand(
		newRunCmd(&configPath),
		newTriggerCmd(&configPath),
		newComputeCmd(&configPath),
		newScheduleCmd(&configPath),
		newCancelCmd(&configPath),
		newListCmd(&configPath),
		newSyncCmd(&configPath),
	)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// newScheduler wires the trigger service, lease provider and scheduler.
func newScheduler(ctx context.Context, a *app, dryRun bool, reg prometheus.Registerer) (*scheduler.Scheduler, error) {
	var resolver settings.Resolver
	file, err := a.resolver()
	if err != nil {
		return nil, err
	}
	if file != nil {
		if err := file.Watch(ctx); err != nil {
			appLog.Warn("settings hot reload unavailable", "err", err)
		}
		resolver = file
	}

	sender, err := a.sender(dryRun)
	if err != nil {
		return nil, err
	}
	svc, err := a.triggerService(resolver, sender)
	if err != nil {
		return nil, err
	}

	var provider lease.Provider
	if a.cfg.Scheduler.Mode != config.ModeDisabled {
		provider, err = lease.ForMode(a.cfg.Scheduler, a.db.Leases())
		if err != nil {
			return nil, err
		}
	}

	var opts []scheduler.Option
	if len(a.cfg.Feeds) > 0 {
		opts = append(opts, scheduler.WithRefresh(a.cfg.FeedsRefresh, a.feeds))
	}
	return scheduler.New(a.cfg.Scheduler, svc, provider, reg, opts...)
}

func newRunCmd(configPath *string) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the alarm scheduler and HTTP server until interrupted.",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			sched, err := newScheduler(ctx, a, dryRun, reg)
			if err != nil {
				return err
			}
			defer sched.Close()

			if len(a.cfg.Feeds) > 0 {
				if _, err := a.feeds.SyncAll(ctx); err != nil {
					appLog.Warn("initial feed sync incomplete", "err", err)
				}
			}
			if err := sched.Start(); err != nil {
				return err
			}

			errCh := make(chan error, 1)
			if a.cfg.Listen != "" {
				srv := web.NewServer(a.cfg, web.Deps{
					Store:    a.store,
					Ingester: a.ingester,
					Feeds:    a.feeds,
					Gatherer: reg,
					Health:   a.db.Ping,
				})
				go func() { errCh <- srv.Run(ctx) }()
			}

			if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
				appLog.Warn("sd_notify ready failed", "err", err)
			} else if ok {
				appLog.Debug("sd_notify ready sent")
			}
			appLog.Info("calalarm running", "mode", a.cfg.Scheduler.Mode, "listen", a.cfg.Listen, "feeds", len(a.cfg.Feeds), "dry_run", dryRun)

			select {
			case <-ctx.Done():
				appLog.Info("signal received, shutting down")
			case err = <-errCh:
				if err != nil {
					appLog.Error("HTTP server stopped", err)
				}
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			stop()
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log notifications instead of sending them")
	return cmd
}

func newTriggerCmd(configPath *string) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Run one scheduling turn now and print what it did.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			cfg := a.cfg.Scheduler
			if cfg.Mode == config.ModeDisabled {
				return errors.New("scheduler.mode is DISABLED")
			}
			sched, err := newScheduler(ctx, a, dryRun, nil)
			if err != nil {
				return err
			}
			defer sched.Close()

			rep, out := sched.Tick(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: due=%d sent=%d skipped=%d failed=%d rescheduled=%d\n",
				out, rep.Due, rep.Sent, rep.Skipped, rep.Failed, rep.Rescheduled)
			if out == scheduler.OutcomeError || out == scheduler.OutcomeLeaseError {
				return fmt.Errorf("trigger: %s", out)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log notifications instead of sending them")
	return cmd
}

func newComputeCmd(configPath *string) *cobra.Command {
	var attendee, file string
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Print the next alarm of a calendar object without storing it.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			body, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			cal, err := ics.ParseCalendar(body)
			if err != nil {
				return err
			}
			factory := ics.NewFactory(cfg.Scheduler.Horizon, nil)
			out := cmd.OutOrStdout()
			for _, part := range ics.SplitByUID(cal) {
				ai, ok := factory.NextAlarmInstant(part, attendee)
				if !ok {
					fmt.Fprintf(out, "%s: no upcoming alarm\n", ics.EventUID(part))
					continue
				}
				fmt.Fprintf(out, "%s: alarm %s (%s), event %s - %s, recurrence %q, recipients %v\n",
					ics.EventUID(part),
					ai.AlarmTime.Format(time.RFC3339), humanize.Time(ai.AlarmTime),
					ai.EventStartTime.Format(time.RFC3339), ai.EventEndTime.Format(time.RFC3339),
					ai.RecurrenceID, ai.Recipients)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&attendee, "attendee", "", "attendee mail address")
	cmd.Flags().StringVar(&file, "file", "", "path to an .ics file")
	_ = cmd.MarkFlagRequired("attendee")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newScheduleCmd(configPath *string) *cobra.Command {
	var attendee, file, url string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Store the next alarm of every event in a calendar for one attendee.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			var body []byte
			switch {
			case file != "":
				body, err = os.ReadFile(file)
			case url != "":
				var res ics.FetchResult
				res, err = a.fetcher.FetchOne(ctx, ics.Source{ID: "cli", URL: url})
				body = res.Body
			default:
				err = errors.New("one of --file or --url is required")
			}
			if err != nil {
				return err
			}
			cal, err := ics.ParseCalendar(body)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, part := range ics.SplitByUID(cal) {
				events, err := a.ingester.ScheduleCalendar(ctx, attendee, part, part.Serialize())
				if err != nil {
					return err
				}
				for _, e := range events {
					fmt.Fprintf(out, "scheduled %s at %s\n", e.ShortString(), e.AlarmTime.Format(time.RFC3339))
				}
				if len(events) == 0 {
					fmt.Fprintf(out, "%s: no upcoming alarm\n", ics.EventUID(part))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&attendee, "attendee", "", "attendee mail address")
	cmd.Flags().StringVar(&file, "file", "", "path to an .ics file")
	cmd.Flags().StringVar(&url, "url", "", "calendar URL")
	_ = cmd.MarkFlagRequired("attendee")
	cmd.MarkFlagsMutuallyExclusive("file", "url")
	return cmd
}

func newCancelCmd(configPath *string) *cobra.Command {
	var uid, recipient string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Remove pending alarms of an event, for one recipient or all.",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()
			return a.ingester.Cancel(ctx, uid, recipient)
		},
	}
	cmd.Flags().StringVar(&uid, "uid", "", "event UID")
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient address (all recipients when empty)")
	_ = cmd.MarkFlagRequired("uid")
	return cmd
}

func newListCmd(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending alarms, earliest first.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			events, err := a.store.List(ctx, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ALARM\tWHEN\tEVENT\tRECIPIENT\tSTART")
			for _, e := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.AlarmTime.Format(time.RFC3339), humanize.Time(e.AlarmTime),
					e.EventUID, e.Recipient, e.EventStartTime.Format(time.RFC3339))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s pending\n", humanize.Comma(int64(len(events))))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of alarms (0 for all)")
	return cmd
}

func newSyncCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch every configured feed once and schedule its events.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			rep, err := a.feeds.SyncAll(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "feeds=%d events=%d scheduled=%d failed=%d\n", rep.Feeds, rep.Events, rep.Scheduled, rep.Failed)
			return err
		},
	}
}
