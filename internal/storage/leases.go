package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"calalarm/internal/model"
)

// LeaseLedger stores named, expiring leases shared by every process using
// the same database.
type LeaseLedger struct {
	db *sql.DB
}

// Leases returns the lease ledger backed by d.
func (d *DB) Leases() *LeaseLedger {
	return &LeaseLedger{db: d.db}
}

// TryAcquire grants lease l.Name to l.Owner until l.ExpiresAt, in one
// conditional write: only when the current entry has expired at
// l.AcquiredAt or is already held by l.Owner. The epoch is bumped whenever
// the owner changes. Contention returns false with a nil error.
func (l *LeaseLedger) TryAcquire(ctx context.Context, req model.Lease) (model.Lease, bool, error) {
	var (
		got      model.Lease
		acquired bool
	)
	err := retryOnContention(ctx, func() error {
		var epoch int64
		err := l.db.QueryRowContext(ctx,
			`INSERT INTO leases (name, owner, lease_id, epoch, acquired_ms, expires_ms)
			 VALUES (?,?,?,1,?,?)
			 ON CONFLICT(name) DO UPDATE SET
			   epoch = CASE WHEN leases.owner = excluded.owner THEN leases.epoch ELSE leases.epoch + 1 END,
			   owner = excluded.owner,
			   lease_id = excluded.lease_id,
			   acquired_ms = excluded.acquired_ms,
			   expires_ms = excluded.expires_ms
			 WHERE leases.expires_ms <= excluded.acquired_ms OR leases.owner = excluded.owner
			 RETURNING epoch`,
			req.Name, req.Owner, req.ID, toMillis(req.AcquiredAt), toMillis(req.ExpiresAt),
		).Scan(&epoch)
		if errors.Is(err, sql.ErrNoRows) {
			acquired = false
			return nil
		}
		if err != nil {
			return err
		}
		got = req
		got.Epoch = epoch
		acquired = true
		return nil
	})
	if err != nil {
		return model.Lease{}, false, err
	}
	return got, acquired, nil
}

// Release expires the lease at now if lease still holds it. Releasing a
// lease that lapsed or changed hands is a no-op. The row is kept so the
// epoch keeps growing.
func (l *LeaseLedger) Release(ctx context.Context, lease model.Lease, now time.Time) error {
	return retryOnContention(ctx, func() error {
		_, err := l.db.ExecContext(ctx,
			`UPDATE leases SET expires_ms = ?
			 WHERE name = ? AND owner = ? AND lease_id = ? AND expires_ms > ?`,
			toMillis(now), lease.Name, lease.Owner, lease.ID, toMillis(now),
		)
		return err
	})
}

// Get returns the current ledger entry for name, expired or not.
func (l *LeaseLedger) Get(ctx context.Context, name string) (model.Lease, bool, error) {
	var (
		lease                 model.Lease
		acquiredMs, expiresMs int64
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT name, owner, lease_id, epoch, acquired_ms, expires_ms FROM leases WHERE name = ?`, name,
	).Scan(&lease.Name, &lease.Owner, &lease.ID, &lease.Epoch, &acquiredMs, &expiresMs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Lease{}, false, nil
	}
	if err != nil {
		return model.Lease{}, false, err
	}
	lease.AcquiredAt = fromMillis(acquiredMs)
	lease.ExpiresAt = fromMillis(expiresMs)
	return lease, true, nil
}
