package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"taskpilot/internal/core"
)

var ErrRunNotFound = errors.New("run not found")

// RunRepo keeps a bounded per-task execution history in the runs table.
type RunRepo struct {
	store     *Store
	logger    *slog.Logger
	retention int // runs kept per task
}

// NewRunRepo constructs a run repository retaining the given number of
// runs per task.
func NewRunRepo(store *Store, logger *slog.Logger, retention int) *RunRepo {
	if retention < 1 {
		retention = 20
	}
	return &RunRepo{store: store, logger: logger, retention: retention}
}

// RecordRun persists a dispatch outcome and prunes history beyond the
// retention limit. Failures are logged, never surfaced to the engine.
func (r *RunRepo) RecordRun(ctx context.Context, run *core.Run) {
	if run.ID == "" {
		run.ID = core.NewID()
	}
	run.CreatedAt = time.Now().UTC()
	_, err := r.store.DB.ExecContext(ctx, `
		INSERT INTO runs (id, task_id, task_name, status, started_at, ended_at, error, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.TaskID, run.TaskName, run.Status,
		run.StartedAt.UTC().Format(time.RFC3339Nano), nullableTime(run.EndedAt),
		nullableString(run.Error), nullableString(run.Result),
		run.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		r.logger.Error("record run", "task_id", run.TaskID, "err", err)
		return
	}
	r.prune(ctx, run.TaskID)
}

// List returns recent runs for a task, newest first.
func (r *RunRepo) List(ctx context.Context, taskID string, limit, offset int) ([]*core.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.store.DB.QueryContext(ctx, `
		SELECT id, task_id, task_name, status, started_at, ended_at, error, result, created_at
		FROM runs
		WHERE task_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, taskID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Get returns a single run by ID.
func (r *RunRepo) Get(ctx context.Context, id string) (*core.Run, error) {
	row := r.store.DB.QueryRowContext(ctx, `
		SELECT id, task_id, task_name, status, started_at, ended_at, error, result, created_at
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

func (r *RunRepo) prune(ctx context.Context, taskID string) {
	_, err := r.store.DB.ExecContext(ctx, `
		DELETE FROM runs
		WHERE task_id = ? AND id NOT IN (
			SELECT id FROM runs WHERE task_id = ? ORDER BY created_at DESC LIMIT ?
		)
	`, taskID, taskID, r.retention)
	if err != nil {
		r.logger.Warn("prune runs", "task_id", taskID, "err", err)
	}
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*core.Run, error) {
	var (
		id        string
		taskID    string
		taskName  string
		status    string
		startedAt string
		endedAt   sql.NullString
		errMsg    sql.NullString
		result    sql.NullString
		createdAt string
	)
	if err := scanner.Scan(&id, &taskID, &taskName, &status, &startedAt, &endedAt, &errMsg, &result, &createdAt); err != nil {
		return nil, err
	}
	run := &core.Run{
		ID:       id,
		TaskID:   taskID,
		TaskName: taskName,
		Status:   core.RunStatus(status),
	}
	if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		run.StartedAt = t
	}
	if endedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, endedAt.String); err == nil {
			run.EndedAt = &t
		}
	}
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	if result.Valid {
		run.Result = &result.String
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		run.CreatedAt = t
	}
	return run, nil
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}
