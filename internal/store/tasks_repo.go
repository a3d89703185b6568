package store

import (
	"context"
	"log/slog"
	"time"

	"taskpilot/internal/core"
)

// tasksKey is the key-value blob holding the full task list, in insertion
// order.
const tasksKey = "scheduled_tasks"

// TaskRepo provides durable CRUD for tasks over the key-value store and
// owns next-run computation at write time. Storage failures degrade to
// empty results or false returns; they are logged, never propagated.
type TaskRepo struct {
	store    *Store
	logger   *slog.Logger
	location *time.Location

	now func() time.Time
}

// NewTaskRepo constructs a task repository evaluating schedules in the
// given location.
func NewTaskRepo(store *Store, logger *slog.Logger, location *time.Location) *TaskRepo {
	if location == nil {
		location = time.Local
	}
	return &TaskRepo{
		store:    store,
		logger:   logger,
		location: location,
		now:      time.Now,
	}
}

// ListAll returns every persisted task in storage order. A missing or
// corrupt payload yields an empty list.
func (r *TaskRepo) ListAll(ctx context.Context) []core.Task {
	var tasks []core.Task
	if _, err := r.store.Get(ctx, tasksKey, &tasks); err != nil {
		r.logger.Error("load scheduled tasks", "err", err)
		return nil
	}
	return tasks
}

// Get returns the task with the given ID, if present.
func (r *TaskRepo) Get(ctx context.Context, id string) (*core.Task, bool) {
	for _, t := range r.ListAll(ctx) {
		if t.ID == id {
			t := t
			return &t, true
		}
	}
	return nil, false
}

// Add appends a task, assigning missing identity fields and computing
// NextRun from the schedule when absent. Returns nil if persistence fails.
func (r *TaskRepo) Add(ctx context.Context, task *core.Task) *core.Task {
	if task.ID == "" {
		task.ID = core.NewID()
	}
	if task.CreateTime.IsZero() {
		task.CreateTime = r.now().UTC()
	}
	if task.NextRun.IsZero() {
		task.NextRun = core.NextRun(task.Schedule, r.now().In(r.location))
	}
	tasks := r.ListAll(ctx)
	tasks = append(tasks, *task)
	if !r.save(ctx, tasks) {
		return nil
	}
	return task
}

// Remove deletes the task by ID. Removing an absent ID is a no-op, not an
// error.
func (r *TaskRepo) Remove(ctx context.Context, id string) bool {
	tasks := r.ListAll(ctx)
	filtered := tasks[:0]
	for _, t := range tasks {
		if t.ID != id {
			filtered = append(filtered, t)
		}
	}
	return r.save(ctx, filtered)
}

// Update merges partial fields into the matching task. Changing the
// schedule recomputes NextRun unless the patch pins one explicitly.
// Returns false when the ID is unknown or persistence fails.
func (r *TaskRepo) Update(ctx context.Context, id string, patch core.TaskPatch) bool {
	tasks := r.ListAll(ctx)
	for i := range tasks {
		if tasks[i].ID != id {
			continue
		}
		patch.Apply(&tasks[i])
		if patch.Schedule != nil && patch.NextRun == nil {
			tasks[i].NextRun = core.NextRun(*patch.Schedule, r.now().In(r.location))
		}
		return r.save(ctx, tasks)
	}
	return false
}

// ReplaceAll overwrites the stored task list, used by import.
func (r *TaskRepo) ReplaceAll(ctx context.Context, tasks []core.Task) bool {
	return r.save(ctx, tasks)
}

func (r *TaskRepo) save(ctx context.Context, tasks []core.Task) bool {
	if tasks == nil {
		tasks = []core.Task{}
	}
	if err := r.store.Set(ctx, tasksKey, tasks); err != nil {
		r.logger.Error("save scheduled tasks", "err", err)
		return false
	}
	return true
}
