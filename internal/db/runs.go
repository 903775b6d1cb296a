package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRunNotFound is returned by RunSteps for unknown ids.
var ErrRunNotFound = errors.New("run not found")

// Fixed-width so that text comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Run is one recorded scenario execution.
type Run struct {
	ID        int64
	Scenario  string
	Path      string
	Passed    bool
	StartedAt time.Time
	Duration  time.Duration
	Skipped   int
	Steps     []Step
}

// Step is one recorded step of a run.
type Step struct {
	Step     int
	Kind     string
	Session  string
	Output   string
	Error    string
	Duration time.Duration
}

// RunFilter narrows RecentRuns. A zero Limit means 20.
type RunFilter struct {
	Limit      int
	FailedOnly bool
	Scenario   string
}

// RecordRun stores r and its steps and returns the new run id.
func (d *DB) RecordRun(ctx context.Context, r Run) (int64, error) {
	if d == nil || d.conn == nil {
		return 0, fmt.Errorf("db is not open")
	}
	if r.Scenario == "" {
		return 0, fmt.Errorf("scenario is required")
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (scenario, path, passed, started_at, duration_ms, skipped) VALUES (?, ?, ?, ?, ?, ?)`,
		r.Scenario, nullString(r.Path), boolInt(r.Passed), r.StartedAt.UTC().Format(timeLayout),
		r.Duration.Milliseconds(), r.Skipped)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run id: %w", err)
	}

	for _, s := range r.Steps {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_steps (run_id, step, kind, session, output, error, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, s.Step, s.Kind, nullString(s.Session), nullString(s.Output), nullString(s.Error), s.Duration.Milliseconds()); err != nil {
			return 0, fmt.Errorf("insert step %d: %w", s.Step, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// RecentRuns returns runs newest first, without their steps.
func (d *DB) RecentRuns(ctx context.Context, f RunFilter) ([]Run, error) {
	if d == nil || d.conn == nil {
		return nil, fmt.Errorf("db is not open")
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}

	var where []string
	var args []any
	if f.FailedOnly {
		where = append(where, "passed = 0")
	}
	if f.Scenario != "" {
		where = append(where, "scenario = ?")
		args = append(args, f.Scenario)
	}
	query := `SELECT id, scenario, COALESCE(path, ''), passed, started_at, duration_ms, skipped FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r       Run
			passed  int
			started string
			ms      int64
		)
		if err := rows.Scan(&r.ID, &r.Scenario, &r.Path, &passed, &started, &ms, &r.Skipped); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Passed = passed != 0
		r.Duration = time.Duration(ms) * time.Millisecond
		if t, err := time.Parse(timeLayout, started); err == nil {
			r.StartedAt = t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// RunSteps returns the steps recorded for run id, in order.
func (d *DB) RunSteps(ctx context.Context, id int64) ([]Step, error) {
	if d == nil || d.conn == nil {
		return nil, fmt.Errorf("db is not open")
	}

	var exists int
	err := d.conn.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup run: %w", err)
	}

	rows, err := d.conn.QueryContext(ctx,
		`SELECT step, kind, COALESCE(session, ''), COALESCE(output, ''), COALESCE(error, ''), duration_ms
		 FROM run_steps WHERE run_id = ? ORDER BY step`, id)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var out []Step
	for rows.Next() {
		var s Step
		var ms int64
		if err := rows.Scan(&s.Step, &s.Kind, &s.Session, &s.Output, &s.Error, &ms); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		s.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, s)
	}
	return out, rows.Err()
}

// PruneRuns deletes runs started before cutoff and returns how many went.
func (d *DB) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	if d == nil || d.conn == nil {
		return 0, fmt.Errorf("db is not open")
	}
	res, err := d.conn.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
