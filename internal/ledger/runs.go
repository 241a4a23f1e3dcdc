package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusError   = "error"
)

// Run is one recorded stage invocation.
type Run struct {
	ID         string
	Stage      string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	Processed  int
	Succeeded  int
	Failed     int
	Note       string
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Filter narrows Recent.
type Filter struct {
	Stage  string
	Status string
	Since  time.Time
	Limit  int
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var runColumns = []string{
	"id", "stage", "status", "started_at", "finished_at",
	"processed", "succeeded", "failed", "note",
}

// Begin records the start of a stage run and returns it with a fresh id.
func (db *DB) Begin(ctx context.Context, stage string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Stage:     stage,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	query, args, err := sq.Insert("stage_runs").
		Columns("id", "stage", "status", "started_at").
		Values(run.ID, run.Stage, run.Status, run.StartedAt.Format(timeLayout)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("recording run start: %w", err)
	}
	return run, nil
}

// Finish stores the final counters and status of run.
func (db *DB) Finish(ctx context.Context, run *Run) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	if run.Status == "" || run.Status == StatusRunning {
		run.Status = StatusOK
	}
	query, args, err := sq.Update("stage_runs").
		Set("status", run.Status).
		Set("finished_at", run.FinishedAt.Format(timeLayout)).
		Set("processed", run.Processed).
		Set("succeeded", run.Succeeded).
		Set("failed", run.Failed).
		Set("note", run.Note).
		Where(sq.Eq{"id": run.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

// Recent returns runs newest first.
func (db *DB) Recent(ctx context.Context, f Filter) ([]Run, error) {
	b := sq.Select(runColumns...).From("stage_runs").OrderBy("started_at DESC")
	if f.Stage != "" {
		b = b.Where(sq.Eq{"stage": f.Stage})
	}
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": f.Status})
	}
	if !f.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"started_at": f.Since.UTC().Format(timeLayout)})
	}
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Stage, &r.Status, &started, &finished,
			&r.Processed, &r.Succeeded, &r.Failed, &r.Note); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.StartedAt, _ = time.Parse(timeLayout, started)
		if finished.Valid {
			r.FinishedAt, _ = time.Parse(timeLayout, finished.String)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
