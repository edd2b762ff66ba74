// Package runlog keeps a SQLite ledger of pipeline runs: one row per run
// updated at every recorded transition, plus the time each stage took.
package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/spikesort/internal/pipeline"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Ledger is the run history database.
type Ledger struct {
	db *sql.DB
}

// Entry is one run as stored in the ledger.
type Entry struct {
	RunID        string
	Folder       string
	Sorter       string
	State        string
	TriggerCount int
	NumUnits     int
	NumSpikes    int
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
	Protocol     string
	Stages       []Stage
}

// Stage is the duration of one transition of a run.
type Stage struct {
	State    string
	Duration time.Duration
}

// Open opens (creating if needed) the ledger at path and applies pending
// migrations.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps pragmas and writes on one handle.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	l := &Ledger{db: db}
	if err := l.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record upserts run and replaces its stage timings. It satisfies
// pipeline.RunRecorder.
func (l *Ledger) Record(ctx context.Context, run *pipeline.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("record: run id is required")
	}
	sorter := ""
	if run.Sorter != nil {
		sorter = run.Sorter.Name
	}
	errText := ""
	if run.Err != nil {
		errText = run.Err.Error()
	}
	protocolText := ""
	if run.Protocol != nil {
		data, err := run.Protocol.YAML()
		if err != nil {
			return fmt.Errorf("record %s: encode protocol: %w", run.ID, err)
		}
		protocolText = string(data)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, folder, sorter, state, trigger_count, num_units,
			num_spikes, error, started_at, finished_at, protocol)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			folder = excluded.folder,
			sorter = excluded.sorter,
			state = excluded.state,
			trigger_count = excluded.trigger_count,
			num_units = excluded.num_units,
			num_spikes = excluded.num_spikes,
			error = excluded.error,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			protocol = excluded.protocol`,
		run.ID, run.Folder, sorter, run.State.String(), len(run.Triggers),
		run.NumUnits(), run.NumSpikes(), errText,
		formatTime(run.StartedAt), formatTime(run.FinishedAt), protocolText)
	if err != nil {
		return fmt.Errorf("record %s: %w", run.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_stages WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("record %s stages: %w", run.ID, err)
	}
	for i, st := range run.Stages {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_stages (run_id, seq, state, duration_ms) VALUES (?, ?, ?, ?)`,
			run.ID, i, st.State.String(), float64(st.Duration)/float64(time.Millisecond))
		if err != nil {
			return fmt.Errorf("record %s stages: %w", run.ID, err)
		}
	}
	return tx.Commit()
}

// List returns the most recent runs first. A limit of zero or less lists
// every run. Stage timings are not loaded.
func (l *Ledger) List(ctx context.Context, limit int) ([]Entry, error) {
	q := `SELECT run_id, folder, sorter, state, trigger_count, num_units, num_spikes,
		error, started_at, finished_at, protocol FROM runs ORDER BY started_at DESC, run_id`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns one run with its stage timings.
func (l *Ledger) Get(ctx context.Context, runID string) (Entry, error) {
	row := l.db.QueryRowContext(ctx, `SELECT run_id, folder, sorter, state, trigger_count,
		num_units, num_spikes, error, started_at, finished_at, protocol
		FROM runs WHERE run_id = ?`, runID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return Entry{}, err
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT state, duration_ms FROM run_stages WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return Entry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var st Stage
		var ms float64
		if err := rows.Scan(&st.State, &ms); err != nil {
			return Entry{}, err
		}
		st.Duration = time.Duration(ms * float64(time.Millisecond))
		e.Stages = append(e.Stages, st)
	}
	return e, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	var started, finished string
	err := s.Scan(&e.RunID, &e.Folder, &e.Sorter, &e.State, &e.TriggerCount,
		&e.NumUnits, &e.NumSpikes, &e.Error, &started, &finished, &e.Protocol)
	if err != nil {
		return Entry{}, err
	}
	if e.StartedAt, err = parseTime(started); err != nil {
		return Entry{}, fmt.Errorf("run %s started_at: %w", e.RunID, err)
	}
	if e.FinishedAt, err = parseTime(finished); err != nil {
		return Entry{}, fmt.Errorf("run %s finished_at: %w", e.RunID, err)
	}
	return e, nil
}

// Times are stored as fixed-width UTC text so they sort lexically; the zero
// time is stored as the empty string.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
