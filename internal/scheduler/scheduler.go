// Package scheduler drives periodic alarm triggering.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"calalarm/internal/alarm"
	"calalarm/internal/config"
	"calalarm/internal/lease"
	appLog "calalarm/internal/log"
	"calalarm/internal/model"
	"calalarm/internal/trigger"
)

const releaseTimeout = 5 * time.Second

// Outcome is how a tick ended.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeContended  Outcome = "contended"
	OutcomeLeaseError Outcome = "lease_error"
	OutcomeError      Outcome = "error"
	OutcomeClosed     Outcome = "closed"
)

// Triggerer processes due alarms.
type Triggerer interface {
	TriggerDue(ctx context.Context, now time.Time, limit int) (trigger.Report, error)
}

// Refresher re-reads upstream calendars.
type Refresher interface {
	SyncAll(ctx context.Context) (alarm.SyncReport, error)
}

// Scheduler ticks TriggerDue on a fixed interval, at most once at a time per
// lease holder.
type Scheduler struct {
	cfg     config.SchedulerConfig
	trigger Triggerer
	lease   lease.Provider
	metrics *metrics
	now     func() time.Time

	refreshSpec string
	refresher   Refresher

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	held    *model.Lease
	started bool

	closed    atomic.Bool
	closeOnce sync.Once
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithRefresh registers r on the cron spec (5 fields) next to the ticks.
func WithRefresh(spec string, r Refresher) Option {
	return func(s *Scheduler) { s.refreshSpec, s.refresher = spec, r }
}

// WithClock overrides time.Now for the instant passed to TriggerDue.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New builds a Scheduler. Metrics are registered on reg when non-nil.
// provider may be nil only in DISABLED mode.
func New(cfg config.SchedulerConfig, t Triggerer, provider lease.Provider, reg prometheus.Registerer, opts ...Option) (*Scheduler, error) {
	if cfg.Mode != config.ModeDisabled && provider == nil {
		return nil, errors.New("scheduler: lease provider is nil")
	}
	m, err := newMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("scheduler: metrics: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:     cfg,
		trigger: t,
		lease:   provider,
		metrics: m,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Start registers the jobs and starts the cron loop. It is a no-op in
// DISABLED mode.
func (s *Scheduler) Start() error {
	if s.cfg.Mode == config.ModeDisabled {
		appLog.Info("alarm scheduler disabled")
		return nil
	}
	if s.closed.Load() {
		return errors.New("scheduler: closed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler: already started")
	}

	logger := appLog.Cron()
	overlap := cron.SkipIfStillRunning(logger)
	if s.cfg.Overlap == config.OverlapDelay {
		overlap = cron.DelayIfStillRunning(logger)
	}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), overlap),
	)

	sched, jitter := everyWithJitter(s.cfg.PollInterval, s.cfg.InitialJitter, time.Now())
	c.Schedule(sched, cron.FuncJob(func() { s.Tick(s.ctx) }))

	if s.refresher != nil && s.refreshSpec != "" {
		if _, err := c.AddFunc(s.refreshSpec, func() { s.refresh(s.ctx) }); err != nil {
			return fmt.Errorf("scheduler: refresh schedule %q: %w", s.refreshSpec, err)
		}
	}

	c.Start()
	s.cron = c
	s.started = true
	appLog.Info("alarm scheduler started",
		"mode", s.cfg.Mode,
		"poll_interval", s.cfg.PollInterval,
		"first_tick_jitter", jitter,
		"batch_size", s.cfg.BatchSize,
		"overlap", s.cfg.Overlap,
		"refresh", s.refreshSpec,
	)
	return nil
}

// Tick runs one scheduling turn: acquire the lease, trigger due alarms,
// release the lease. Failures are logged and reflected in the Outcome.
func (s *Scheduler) Tick(ctx context.Context) (trigger.Report, Outcome) {
	began := time.Now()
	rep, out := s.tick(ctx)
	s.metrics.ticks.WithLabelValues(string(out)).Inc()
	s.metrics.tickDuration.Observe(time.Since(began).Seconds())
	return rep, out
}

func (s *Scheduler) tick(ctx context.Context) (trigger.Report, Outcome) {
	if s.closed.Load() || ctx.Err() != nil {
		return trigger.Report{}, OutcomeClosed
	}

	l, ok, err := s.lease.Acquire(ctx)
	if err != nil {
		s.metrics.lease.WithLabelValues("error").Inc()
		appLog.Error("scheduler: lease acquisition failed", err)
		return trigger.Report{}, OutcomeLeaseError
	}
	if !ok {
		s.metrics.lease.WithLabelValues("contended").Inc()
		appLog.Info("scheduler: lease held by another instance; skipping tick")
		return trigger.Report{}, OutcomeContended
	}
	s.metrics.lease.WithLabelValues("acquired").Inc()
	s.setHeld(&l)
	defer s.release(ctx, l)

	passCtx, cancel := passContext(ctx, l)
	defer cancel()
	rep, err := s.trigger.TriggerDue(passCtx, s.now(), s.cfg.BatchSize)
	if errors.Is(passCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		appLog.Info("scheduler: lease window elapsed; remaining alarms wait for the next tick", "lease", l.Name, "expires", l.ExpiresAt)
	}
	if err != nil {
		appLog.Error("scheduler: trigger pass failed", err)
		return rep, OutcomeError
	}
	s.metrics.processed.WithLabelValues(string(trigger.ResultSent)).Add(float64(rep.Sent))
	s.metrics.processed.WithLabelValues(string(trigger.ResultSkipped)).Add(float64(rep.Skipped))
	s.metrics.processed.WithLabelValues(string(trigger.ResultFailed)).Add(float64(rep.Failed))
	s.metrics.processed.WithLabelValues("rescheduled").Add(float64(rep.Rescheduled))
	return rep, OutcomeOK
}

// passContext ends the pass a quarter of the lease lifetime before the lease
// lapses, so no other instance can take the turn while this one still sends.
// Leases without a lifetime (Noop) leave ctx unbounded.
func passContext(ctx context.Context, l model.Lease) (context.Context, context.CancelFunc) {
	ttl := l.ExpiresAt.Sub(l.AcquiredAt)
	if ttl <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, l.ExpiresAt.Add(-ttl/4))
}

func (s *Scheduler) refresh(ctx context.Context) {
	if _, err := s.refresher.SyncAll(ctx); err != nil {
		appLog.Warn("scheduler: feed refresh incomplete", "err", err)
	}
}

func (s *Scheduler) setHeld(l *model.Lease) {
	s.mu.Lock()
	s.held = l
	s.mu.Unlock()
}

// release runs even when ctx is already cancelled.
func (s *Scheduler) release(ctx context.Context, l model.Lease) {
	s.mu.Lock()
	if s.held == nil || s.held.ID != l.ID {
		s.mu.Unlock()
		return
	}
	s.held = nil
	s.mu.Unlock()

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.lease.Release(rctx, l); err != nil {
		appLog.Warn("scheduler: lease release failed; it will lapse", "lease", l.Name, "err", err)
	}
}

// Close stops the cron loop, cancels in-flight ticks, waits for them and
// releases any lease still held. Safe to call more than once.
func (s *Scheduler) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()

		s.mu.Lock()
		c := s.cron
		s.mu.Unlock()
		if c != nil {
			<-c.Stop().Done()
		}

		s.mu.Lock()
		held := s.held
		s.mu.Unlock()
		if held != nil {
			s.release(context.Background(), *held)
		}
		appLog.Info("alarm scheduler closed")
	})
	return nil
}
