// Package lease decides which process runs a scheduling turn.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"calalarm/internal/config"
	"calalarm/internal/model"
	"calalarm/internal/storage"
)

// Provider hands out the scheduling turn. Acquire returns false with a nil
// error when another holder owns the turn.
type Provider interface {
	Acquire(ctx context.Context) (model.Lease, bool, error)
	Release(ctx context.Context, l model.Lease) error
}

// ForMode returns the Provider for the scheduler mode: Noop for SINGLE, a
// Ledger on ledger for CLUSTER. DISABLED has no provider.
func ForMode(cfg config.SchedulerConfig, ledger *storage.LeaseLedger) (Provider, error) {
	switch cfg.Mode {
	case config.ModeSingle:
		return NewNoop(cfg.LeaseName), nil
	case config.ModeCluster:
		if ledger == nil {
			return nil, errors.New("lease: CLUSTER mode needs a lease ledger")
		}
		return NewLedger(ledger, cfg.LeaseName, "", cfg.LeaseTTL), nil
	}
	return nil, fmt.Errorf("lease: no provider for mode %q", cfg.Mode)
}

// Noop always grants the turn. Used in SINGLE mode.
type Noop struct {
	name  string
	owner string
	now   func() time.Time
}

func NewNoop(name string) *Noop {
	return &Noop{name: name, owner: uuid.NewString(), now: time.Now}
}

func (n *Noop) Acquire(context.Context) (model.Lease, bool, error) {
	now := n.now().UTC()
	return model.Lease{
		Name:       n.name,
		Owner:      n.owner,
		ID:         uuid.NewString(),
		Epoch:      1,
		AcquiredAt: now,
		ExpiresAt:  now,
	}, true, nil
}

func (n *Noop) Release(context.Context, model.Lease) error { return nil }

// Ledger grants the turn through a shared lease ledger, so at most one
// process across the cluster holds it until it is released or lapses.
type Ledger struct {
	ledger *storage.LeaseLedger
	name   string
	owner  string
	ttl    time.Duration
	now    func() time.Time
}

// NewLedger returns a Provider for the named lease with the given TTL. An
// empty owner gets a random identity.
func NewLedger(ledger *storage.LeaseLedger, name, owner string, ttl time.Duration) *Ledger {
	if owner == "" {
		owner = uuid.NewString()
	}
	return &Ledger{ledger: ledger, name: name, owner: owner, ttl: ttl, now: time.Now}
}

// Owner is the identity this provider acquires leases under.
func (l *Ledger) Owner() string { return l.owner }

func (l *Ledger) Acquire(ctx context.Context) (model.Lease, bool, error) {
	now := l.now().UTC()
	got, ok, err := l.ledger.TryAcquire(ctx, model.Lease{
		Name:       l.name,
		Owner:      l.owner,
		ID:         uuid.NewString(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(l.ttl),
	})
	if err != nil {
		return model.Lease{}, false, fmt.Errorf("acquire lease %s: %w", l.name, err)
	}
	return got, ok, nil
}

func (l *Ledger) Release(ctx context.Context, lease model.Lease) error {
	if err := l.ledger.Release(ctx, lease, l.now().UTC()); err != nil {
		return fmt.Errorf("release lease %s: %w", lease.Name, err)
	}
	return nil
}
