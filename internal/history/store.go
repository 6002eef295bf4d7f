// Package history persists rule fires to SQLite so operators can audit
// what triggered and when across restarts.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	_ "modernc.org/sqlite"

	"github.com/visualcue/engine/internal/errors"
	"github.com/visualcue/engine/internal/rules"
	"github.com/visualcue/engine/internal/trigger/dispatch"
)

//go:embed schema.sql
var schema string

// Event is one recorded fire.
type Event struct {
	ID         int64
	RuleName   string
	TargetKind rules.TargetKind
	TargetName string
	Percent    float64
	FiredAt    time.Time
}

// Store is a SQLite-backed fire log.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFault, "open history db")
	}
	// modernc sqlite serializes writers; one connection avoids lock errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.StorageFault, "apply history schema")
	}
	return &Store{db: db}, nil
}

// RecordFire appends a fire to the log.
func (s *Store) RecordFire(ctx context.Context, rec dispatch.Record) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fires (rule_name, target_kind, target_name, percent, fired_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.RuleName, int(rec.TargetKind), rec.TargetName, rec.Percent, at.UTC())
	if err != nil {
		return errors.Wrap(err, errors.StorageFault, "record fire")
	}
	return nil
}

// RecordComboRun appends a completed combo run to the log.
func (s *Store) RecordComboRun(ctx context.Context, runID, combo string, steps int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO combo_runs (run_id, combo_name, steps, completed_at)
		 VALUES (?, ?, ?, ?)`,
		runID, combo, steps, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, errors.StorageFault, "record combo run")
	}
	return nil
}

// ComboRun is one recorded combo completion.
type ComboRun struct {
	ID          int64
	RunID       string
	ComboName   string
	Steps       int
	CompletedAt time.Time
}

// RecentComboRuns returns the latest completed combo runs, newest first.
func (s *Store) RecentComboRuns(ctx context.Context, limit int) ([]ComboRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, combo_name, steps, completed_at
		 FROM combo_runs ORDER BY completed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFault, "query combo runs")
	}
	defer rows.Close()

	var out []ComboRun
	for rows.Next() {
		var cr ComboRun
		if err := rows.Scan(&cr.ID, &cr.RunID, &cr.ComboName, &cr.Steps, &cr.CompletedAt); err != nil {
			return nil, errors.Wrap(err, errors.StorageFault, "scan combo run row")
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

// Recent returns the latest fires, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, rule_name, target_kind, target_name, percent, fired_at
		 FROM fires ORDER BY fired_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFault, "query history")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var kind int
		if err := rows.Scan(&ev.ID, &ev.RuleName, &kind, &ev.TargetName, &ev.Percent, &ev.FiredAt); err != nil {
			return nil, errors.Wrap(err, errors.StorageFault, "scan history row")
		}
		ev.TargetKind = rules.TargetKind(kind)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.StorageFault, "iterate history rows")
	}
	return out, nil
}

// ByRule returns the latest fires for one rule, newest first.
func (s *Store) ByRule(ctx context.Context, ruleName string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, rule_name, target_kind, target_name, percent, fired_at
		 FROM fires WHERE rule_name = ? ORDER BY fired_at DESC, id DESC LIMIT ?`, ruleName, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFault, "query history")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var kind int
		if err := rows.Scan(&ev.ID, &ev.RuleName, &kind, &ev.TargetName, &ev.Percent, &ev.FiredAt); err != nil {
			return nil, errors.Wrap(err, errors.StorageFault, "scan history row")
		}
		ev.TargetKind = rules.TargetKind(kind)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
