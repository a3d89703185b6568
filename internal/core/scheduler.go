package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"
)

// Poll granularity and the lifetime of the per-minute dedup tag. The tag
// outlives the minute it marks so a 10s poll cannot double-fire the daily
// callbacks across an uneven minute boundary.
const (
	DefaultPollInterval = 10 * time.Second
	minuteTagTTL        = 65 * time.Second
)

// TaskStore is the persistence surface the engine needs.
type TaskStore interface {
	ListAll(ctx context.Context) []Task
	Update(ctx context.Context, id string, patch TaskPatch) bool
}

// CommandSource resolves command references at dispatch time. The merged
// list is fetched fresh on every dispatch so command edits are picked up
// on the task's next run.
type CommandSource interface {
	GetAll(ctx context.Context) []Command
}

// Executor runs a command's code and returns its result.
type Executor interface {
	Execute(ctx context.Context, code string) (any, error)
}

// RunRecorder persists dispatch outcomes.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *Run)
}

// SessionTags is a short-lived marker store used for tick deduplication.
type SessionTags interface {
	Has(key string) bool
	Put(key string, ttl time.Duration)
}

// Notifier is the user-facing notification surface (the toast analog).
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// EngineDeps groups the engine's collaborators.
type EngineDeps struct {
	Tasks    TaskStore
	Commands CommandSource
	Executor Executor
	Runs     RunRecorder
	Session  SessionTags
	Notifier Notifier
	Logger   *slog.Logger
}

// EngineConfig holds the engine tunables.
type EngineConfig struct {
	PollInterval time.Duration  // defaults to DefaultPollInterval
	ExecTimeout  time.Duration  // 0 means no timeout on sandboxed code
	Location     *time.Location // defaults to time.Local
}

type dailyJob struct {
	time string // "HH:MM"
	fn   func()
}

// ErrTaskRunning is returned by RunNow when a dispatch is already in
// flight for the task.
var ErrTaskRunning = errors.New("task is already running")

// ErrTaskNotFound is returned by RunNow for an unknown task ID.
var ErrTaskNotFound = errors.New("task not found")

// Engine owns the in-memory active task set and the poll loop. It goes
// through two states: stopped (initial) and running. Start is idempotent;
// after Stop the engine cannot be restarted, construct a new one.
//
// The active set reflects persisted state only as of the last
// LoadScheduledTasks call; writes made outside the engine's own mutation
// methods require an explicit reload.
type Engine struct {
	deps EngineDeps
	cfg  EngineConfig

	mu       sync.Mutex
	active   map[string]*Task
	inflight map[string]struct{}
	daily    map[string]dailyJob

	started bool
	stopped bool
	stopCh  chan struct{}
	runCtx  context.Context

	now func() time.Time // clock seam for tests
}

// NewEngine constructs a stopped engine.
func NewEngine(deps EngineDeps, cfg EngineConfig) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Engine{
		deps:     deps,
		cfg:      cfg,
		active:   make(map[string]*Task),
		inflight: make(map[string]struct{}),
		daily:    make(map[string]dailyJob),
		now:      time.Now,
	}
}

// Start loads the enabled tasks and begins the poll loop. Calling Start
// while running is a no-op, as is calling it after Stop.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.stopCh = make(chan struct{})
	e.runCtx = ctx
	e.mu.Unlock()

	e.LoadScheduledTasks(ctx)
	go e.loop(ctx)
	e.deps.Logger.Info("scheduler started", "poll_interval", e.cfg.PollInterval.String())
}

// Stop halts the poll loop. Dispatches already in flight run to
// completion; no new ticks fire.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.stopped {
		e.stopped = true
		return
	}
	e.stopped = true
	close(e.stopCh)
	e.deps.Logger.Info("scheduler stopped")
}

func (e *Engine) loop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.tick(e.now().In(e.cfg.Location))
		}
	}
}

// tick runs one poll cycle: minute-deduplicated daily callbacks first,
// then the due-scan over the active task set.
func (e *Engine) tick(now time.Time) {
	hhmm := now.Format("15:04")
	tag := "tick." + hhmm
	if !e.deps.Session.Has(tag) {
		e.deps.Session.Put(tag, minuteTagTTL)
		e.runDailyCallbacks(hhmm)
	}
	e.checkScheduledTasks(now)
}

// LoadScheduledTasks rebuilds the active set from persisted storage.
// Must be called after any external mutation to keep memory consistent.
func (e *Engine) LoadScheduledTasks(ctx context.Context) {
	tasks := e.deps.Tasks.ListAll(ctx)
	e.mu.Lock()
	e.active = make(map[string]*Task, len(tasks))
	for i := range tasks {
		if tasks[i].Enabled {
			t := tasks[i]
			e.active[t.ID] = &t
		}
	}
	loaded := len(e.active)
	e.mu.Unlock()
	e.deps.Logger.Info("scheduled tasks loaded", "total", len(tasks), "active", loaded)
}

// AddScheduledTask places an enabled task into the active set without a
// full reload.
func (e *Engine) AddScheduledTask(task Task) {
	if !task.Enabled {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[task.ID] = &task
}

// RemoveScheduledTask evicts a task from the active set.
func (e *Engine) RemoveScheduledTask(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, id)
}

// UpdateScheduledTask patches the in-memory copy; disabling a task evicts
// it from the active set. IDs absent from the active set are ignored, so
// re-enabling a task goes through AddScheduledTask with the stored record.
func (e *Engine) UpdateScheduledTask(id string, patch TaskPatch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	task, ok := e.active[id]
	if !ok {
		return
	}
	patch.Apply(task)
	if !task.Enabled {
		delete(e.active, id)
	}
}

// RegisterDaily registers a fixed time-of-day callback independent of the
// persisted tasks. An empty key defaults to the time itself.
func (e *Engine) RegisterDaily(hhmm string, fn func(), key string) {
	if key == "" {
		key = hhmm
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.daily[key] = dailyJob{time: hhmm, fn: fn}
}

// Unregister removes a daily callback by key.
func (e *Engine) Unregister(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.daily, key)
}

// RunNow dispatches a task immediately, bypassing its schedule. The
// task's timestamps advance exactly as they would for a scheduled run.
func (e *Engine) RunNow(ctx context.Context, id string) error {
	e.mu.Lock()
	task, ok := e.active[id]
	if ok {
		snapshot := *task
		e.mu.Unlock()
		return e.dispatchNow(id, snapshot)
	}
	e.mu.Unlock()

	// Disabled tasks are absent from the active set but still runnable on
	// demand; they take the same in-flight marker as scheduled dispatches.
	for _, t := range e.deps.Tasks.ListAll(ctx) {
		if t.ID == id {
			return e.dispatchNow(id, t)
		}
	}
	return ErrTaskNotFound
}

func (e *Engine) dispatchNow(id string, task Task) error {
	e.mu.Lock()
	if _, busy := e.inflight[id]; busy {
		e.mu.Unlock()
		return ErrTaskRunning
	}
	e.inflight[id] = struct{}{}
	e.mu.Unlock()
	go func() {
		defer e.clearInflight(id)
		e.executeScheduledTask(task)
	}()
	return nil
}

func (e *Engine) runDailyCallbacks(hhmm string) {
	e.mu.Lock()
	var due []dailyJob
	for _, job := range e.daily {
		if job.time == hhmm {
			due = append(due, job)
		}
	}
	e.mu.Unlock()
	for _, job := range due {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.deps.Logger.Error("daily callback panicked", "time", hhmm, "panic", fmt.Sprint(r))
				}
			}()
			job.fn()
		}()
	}
}

// checkScheduledTasks scans the active set and dispatches every due task.
// A task with a dispatch still in flight is skipped until its completion
// handler clears the marker, so a slow run cannot be double-fired by the
// next tick.
func (e *Engine) checkScheduledTasks(now time.Time) {
	e.mu.Lock()
	var due []Task
	for id, task := range e.active {
		if !task.Enabled {
			continue
		}
		if _, busy := e.inflight[id]; busy {
			continue
		}
		if !task.NextRun.After(now) {
			e.inflight[id] = struct{}{}
			due = append(due, *task)
		}
	}
	e.mu.Unlock()

	for _, task := range due {
		task := task
		go func() {
			defer e.clearInflight(task.ID)
			e.executeScheduledTask(task)
		}()
	}
}

func (e *Engine) clearInflight(id string) {
	e.mu.Lock()
	delete(e.inflight, id)
	e.mu.Unlock()
}

// executeScheduledTask resolves the task's command and dispatches it to
// the executor. An unresolved command leaves the task untouched, so it is
// retried every tick until the command reappears or the task is disabled.
// Any execution outcome, success or failure, advances lastRun and nextRun;
// a permanently failing task keeps its cadence instead of retry-storming.
func (e *Engine) executeScheduledTask(task Task) {
	ctx := e.execContext()
	started := e.now().UTC()
	run := &Run{
		ID:        NewID(),
		TaskID:    task.ID,
		TaskName:  task.Name,
		StartedAt: started,
	}

	var command *Command
	for _, c := range e.deps.Commands.GetAll(ctx) {
		if c.ID == task.CommandID {
			c := c
			command = &c
			break
		}
	}
	if command == nil {
		e.deps.Logger.Error("command not found for task",
			"task", task.Name, "task_id", task.ID, "command_id", task.CommandID)
		run.Status = RunStatusSkipped
		msg := "command not found: " + task.CommandID
		run.Error = &msg
		e.recordRun(ctx, run)
		return
	}

	e.deps.Logger.Info("dispatching scheduled task", "task", task.Name, "task_id", task.ID)

	execCtx := ctx
	if e.cfg.ExecTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.cfg.ExecTimeout)
		defer cancel()
	}
	result, execErr := e.deps.Executor.Execute(execCtx, command.Code)

	// Timestamps advance regardless of outcome; the failure path does not
	// roll them back.
	now := e.now().In(e.cfg.Location)
	last := now.UTC()
	next := NextRun(task.Schedule, now)
	if ok := e.deps.Tasks.Update(ctx, task.ID, TaskPatch{LastRun: &last, NextRun: &next}); !ok {
		e.deps.Logger.Warn("persisting run timestamps failed", "task_id", task.ID)
	}
	e.mu.Lock()
	if cur, ok := e.active[task.ID]; ok {
		cur.LastRun = &last
		cur.NextRun = next
	}
	e.mu.Unlock()

	ended := e.now().UTC()
	run.EndedAt = &ended
	if execErr != nil {
		run.Status = RunStatusFailed
		msg := execErr.Error()
		run.Error = &msg
		e.deps.Logger.Error("scheduled task failed", "task", task.Name, "task_id", task.ID, "err", execErr)
		e.notify(ctx, "Scheduled task failed", fmt.Sprintf("%s: %s", task.Name, msg))
	} else {
		run.Status = RunStatusSucceeded
		if result != nil {
			snippet := truncate(fmt.Sprint(result), 500)
			run.Result = &snippet
		}
		e.deps.Logger.Info("scheduled task completed", "task", task.Name, "task_id", task.ID)
		e.notify(ctx, "Scheduled task completed", task.Name)
	}
	e.recordRun(ctx, run)
}

func (e *Engine) recordRun(ctx context.Context, run *Run) {
	if e.deps.Runs == nil {
		return
	}
	e.deps.Runs.RecordRun(ctx, run)
}

func (e *Engine) notify(ctx context.Context, title, body string) {
	if e.deps.Notifier == nil {
		return
	}
	if err := e.deps.Notifier.Send(ctx, title, body); err != nil {
		e.deps.Logger.Warn("notification failed", "err", err)
	}
}

func (e *Engine) execContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runCtx != nil {
		return e.runCtx
	}
	return context.Background()
}

// truncate shortens s to at most max bytes plus an ellipsis, cutting on a
// rune boundary so the result stays valid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
