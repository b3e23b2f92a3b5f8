package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is one receiver run.
type Session struct {
	ID        uuid.UUID  `json:"id"`
	Transport string     `json:"transport"`
	Address   string     `json:"address"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Rollup is one frame type's counters over one stats interval.
type Rollup struct {
	SessionID      uuid.UUID     `json:"session_id"`
	At             time.Time     `json:"at"`
	Duration       time.Duration `json:"duration_ns"`
	FrameType      string        `json:"frame_type"`
	Frames         int64         `json:"frames"`
	Bytes          int64         `json:"bytes"`
	DecodeFailures int64         `json:"decode_failures"`
	Dropped        int64         `json:"dropped"`
	FPS            float64       `json:"fps"`
	JitterMS       float64       `json:"jitter_ms"`
}

// StartSession records a new session and returns its id.
func (db *DB) StartSession(ctx context.Context, transport, address string, at time.Time) (uuid.UUID, error) {
	id := uuid.New()
	_, err := db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, transport, address, started_at) VALUES (?, ?, ?, ?)`,
		id.String(), transport, address, at.UnixNano())
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to start session: %w", err)
	}
	return id, nil
}

// EndSession stamps the session's end time.
func (db *DB) EndSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := db.ExecContext(ctx, `UPDATE sessions SET ended_at = ? WHERE session_id = ?`, at.UnixNano(), id.String())
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("unknown session %s", id)
	}
	return nil
}

// Sessions lists sessions, newest first.
func (db *DB) Sessions(ctx context.Context, limit int) ([]Session, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT session_id, transport, address, started_at, ended_at FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			id      string
			s       Session
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&id, &s.Transport, &s.Address, &started, &ended); err != nil {
			return nil, err
		}
		if s.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("bad session id %q: %w", id, err)
		}
		s.StartedAt = time.Unix(0, started).UTC()
		if ended.Valid {
			t := time.Unix(0, ended.Int64).UTC()
			s.EndedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordRollups stores a batch of rollups in one transaction.
func (db *DB) RecordRollups(ctx context.Context, rollups []Rollup) error {
	if len(rollups) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO frame_rollups
			(session_id, ts, duration_ms, frame_type, frames, bytes, decode_failures, dropped, fps, jitter_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rollups {
		if _, err := stmt.ExecContext(ctx,
			r.SessionID.String(), r.At.UnixNano(), r.Duration.Milliseconds(), r.FrameType,
			r.Frames, r.Bytes, r.DecodeFailures, r.Dropped, r.FPS, r.JitterMS,
		); err != nil {
			return fmt.Errorf("failed to record %s rollup: %w", r.FrameType, err)
		}
	}
	return tx.Commit()
}

// Rollups returns a session's rollups in time order. An empty frameType
// matches every type.
func (db *DB) Rollups(ctx context.Context, session uuid.UUID, frameType string) ([]Rollup, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT ts, duration_ms, frame_type, frames, bytes, decode_failures, dropped, fps, jitter_ms
		FROM frame_rollups
		WHERE session_id = ? AND (? = '' OR frame_type = ?)
		ORDER BY ts, frame_type`, session.String(), frameType, frameType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rollup
	for rows.Next() {
		var ts, durMS int64
		r := Rollup{SessionID: session}
		if err := rows.Scan(&ts, &durMS, &r.FrameType, &r.Frames, &r.Bytes, &r.DecodeFailures, &r.Dropped, &r.FPS, &r.JitterMS); err != nil {
			return nil, err
		}
		r.At = time.Unix(0, ts).UTC()
		r.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}
