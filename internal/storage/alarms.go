package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"calalarm/internal/model"
)

// AlarmStore is the SQLite implementation of alarm.Store.
type AlarmStore struct {
	db *sql.DB
}

// Alarms returns the AlarmEvent store backed by d.
func (d *DB) Alarms() *AlarmStore {
	return &AlarmStore{db: d.db}
}

const alarmColumns = `event_uid, recipient, alarm_ms, start_ms, end_ms, recurring, recurrence_id, ics`

func (s *AlarmStore) Upsert(ctx context.Context, e model.AlarmEvent) error {
	recipient := model.NormalizeAddress(e.Recipient)
	now := toMillis(time.Now())
	return retryOnContention(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO alarms (`+alarmColumns+`, updated_ms)
			 VALUES (?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(event_uid, recipient) DO UPDATE SET
			   alarm_ms = excluded.alarm_ms,
			   start_ms = excluded.start_ms,
			   end_ms = excluded.end_ms,
			   recurring = excluded.recurring,
			   recurrence_id = excluded.recurrence_id,
			   ics = excluded.ics,
			   updated_ms = excluded.updated_ms`,
			e.EventUID, recipient, toMillis(e.AlarmTime), toMillis(e.EventStartTime), toMillis(e.EventEndTime),
			e.Recurring, e.RecurrenceID, e.ICS, now,
		)
		return err
	})
}

func (s *AlarmStore) Find(ctx context.Context, eventUID, recipient string) (model.AlarmEvent, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+alarmColumns+` FROM alarms WHERE event_uid = ? AND recipient = ?`,
		eventUID, model.NormalizeAddress(recipient),
	)
	e, err := scanAlarm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AlarmEvent{}, false, nil
	}
	if err != nil {
		return model.AlarmEvent{}, false, err
	}
	return e, true, nil
}

func (s *AlarmStore) FindDue(ctx context.Context, now time.Time, limit int) ([]model.AlarmEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx,
		`SELECT `+alarmColumns+` FROM alarms WHERE alarm_ms <= ?
		 ORDER BY alarm_ms, event_uid, recipient LIMIT ?`,
		toMillis(now), limit,
	)
}

func (s *AlarmStore) Delete(ctx context.Context, eventUID, recipient string) error {
	return retryOnContention(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM alarms WHERE event_uid = ? AND recipient = ?`,
			eventUID, model.NormalizeAddress(recipient),
		)
		return err
	})
}

func (s *AlarmStore) DeleteEvent(ctx context.Context, eventUID string) error {
	return retryOnContention(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM alarms WHERE event_uid = ?`, eventUID)
		return err
	})
}

func (s *AlarmStore) List(ctx context.Context, limit int) ([]model.AlarmEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx,
		`SELECT `+alarmColumns+` FROM alarms ORDER BY alarm_ms, event_uid, recipient LIMIT ?`,
		limit,
	)
}

func (s *AlarmStore) query(ctx context.Context, q string, args ...any) ([]model.AlarmEvent, error) {
	var out []model.AlarmEvent
	err := retryOnContention(ctx, func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanAlarm(rows)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.AlarmEvent{}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlarm(row scanner) (model.AlarmEvent, error) {
	var (
		e                       model.AlarmEvent
		alarmMs, startMs, endMs int64
	)
	if err := row.Scan(&e.EventUID, &e.Recipient, &alarmMs, &startMs, &endMs, &e.Recurring, &e.RecurrenceID, &e.ICS); err != nil {
		return model.AlarmEvent{}, err
	}
	e.AlarmTime = fromMillis(alarmMs)
	e.EventStartTime = fromMillis(startMs)
	e.EventEndTime = fromMillis(endMs)
	return e, nil
}
