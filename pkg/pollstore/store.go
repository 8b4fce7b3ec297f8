// Package pollstore persists the tick history of one or more poll.Poll
// instances to SQLite, so an operator can inspect what a poll did after the
// fact. It is a passive observer: it never influences scheduling.
package pollstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rmax-ai/pollwatch/pkg/poll"
)

// Store manages the SQLite connection and schema for tick history.
type Store struct {
	db *sql.DB
}

// Open initializes the SQLite database at dbPath. It enables WAL mode for
// concurrency and durability.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("pollstore: open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pollstore: ping sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("pollstore: enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("pollstore: migrate schema: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const query = `
	CREATE TABLE IF NOT EXISTS poll_ticks (
		poll_name TEXT NOT NULL,
		tick_seq  INTEGER NOT NULL,
		tick_id   TEXT NOT NULL,
		phase     TEXT NOT NULL,
		interval_ms INTEGER NOT NULL,
		value_json  TEXT,
		error_text  TEXT,
		at          DATETIME NOT NULL,
		PRIMARY KEY (poll_name, tick_seq)
	);

	CREATE INDEX IF NOT EXISTS idx_poll_ticks_at ON poll_ticks(poll_name, at);
	`
	_, err := s.db.Exec(query)
	return err
}

// Record is one row of persisted tick history.
type Record struct {
	PollName string
	Seq      int64
	TickID   string
	Phase    poll.Phase
	Interval time.Duration
	Value    string
	Error    string
	At       time.Time
}

// Record appends a tick to the history table under (pollName, seq). The
// tick's Value is stored as-is and is empty for ticks that carry no value
// (e.g. a standby tick). If a row with the same (pollName, seq) already
// exists, it is left unchanged and no error is returned.
func (s *Store) Record(ctx context.Context, pollName string, seq int64, tick poll.Tick[string]) error {
	var errText string
	if tick.Err != nil {
		errText = tick.Err.Error()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO poll_ticks (poll_name, tick_seq, tick_id, phase, interval_ms, value_json, error_text, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(poll_name, tick_seq) DO NOTHING
	`, pollName, seq, tick.ID, string(tick.Phase), tick.Interval.Milliseconds(), tick.Value, errText, tick.At)
	if err != nil {
		return fmt.Errorf("pollstore: record tick: %w", err)
	}
	return nil
}

// Recent returns up to limit of the most recently recorded ticks for
// pollName, newest first.
func (s *Store) Recent(ctx context.Context, pollName string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT tick_seq, tick_id, phase, interval_ms, value_json, error_text, at
		FROM poll_ticks
		WHERE poll_name = ?
		ORDER BY tick_seq DESC
		LIMIT ?
	`, pollName, limit)
	if err != nil {
		return nil, fmt.Errorf("pollstore: query recent ticks: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var intervalMs int64
		var phase string
		r.PollName = pollName
		if err := rows.Scan(&r.Seq, &r.TickID, &phase, &intervalMs, &r.Value, &r.Error, &r.At); err != nil {
			return nil, fmt.Errorf("pollstore: scan tick row: %w", err)
		}
		r.Phase = poll.Phase(phase)
		r.Interval = time.Duration(intervalMs) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneOlderThan deletes recorded ticks older than the retention window and
// returns the number of rows removed.
func (s *Store) PruneOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res, err := s.db.ExecContext(ctx, `DELETE FROM poll_ticks WHERE at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pollstore: prune ticks: %w", err)
	}
	return res.RowsAffected()
}

// Watch subscribes to a poll's ticked broadcast and records every tick as it
// arrives, assigning it a locally-tracked sequence number. It runs until the
// subscription is closed (the poll is disposed) and logs recording failures
// rather than propagating them, matching the "best-effort background
// bookkeeping" style of this codebase's other passive observers.
func (s *Store) Watch(ctx context.Context, pollName string, p interface {
	Ticked() (<-chan poll.Tick[string], func())
}) {
	sub, unsub := p.Ticked()
	defer unsub()

	var seq int64
	for {
		select {
		case tick, ok := <-sub:
			if !ok {
				return
			}
			if err := s.Record(ctx, pollName, seq, tick); err != nil {
				fmt.Printf("pollstore: failed to record tick for %q: %v\n", pollName, err)
			}
			seq++
		case <-ctx.Done():
			return
		}
	}
}
