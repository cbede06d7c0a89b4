// Package tasks tracks background work so the health probe can report the
// process as busy while any of it is running. Records live in memory and die
// with the process; only work registered here counts toward busyness.
package tasks

import (
	"context"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/theumbrella1/agentcore/internal/observability"
)

// ContextKey is the type for context keys published by this package.
type ContextKey string

// TaskIDKey carries the id of the task a function is running under.
const TaskIDKey ContextKey = "task_id"

// IDFromContext returns the task id of the surrounding Track or Submit call,
// or an empty string.
func IDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(TaskIDKey).(string); ok {
		return id
	}
	return ""
}

type record struct {
	id        string
	name      string
	metadata  map[string]any
	startedAt time.Time
}

// Job describes one running task in a snapshot.
type Job struct {
	Name     string  `json:"name"`
	Duration float64 `json:"duration"`
}

// Snapshot is a point-in-time view of the active tasks.
type Snapshot struct {
	ActiveCount int   `json:"active_count"`
	RunningJobs []Job `json:"running_jobs"`
}

// Tracker records active background tasks. All methods are safe for
// concurrent use.
type Tracker struct {
	mu     sync.Mutex
	active map[string]record
	order  []string
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		active: make(map[string]record),
		logger: logger,
		now:    time.Now,
	}
}

// Register records a task as active and returns its id.
func (t *Tracker) Register(name string, metadata map[string]any) string {
	id, _ := gonanoid.New()

	t.mu.Lock()
	t.active[id] = record{id: id, name: name, metadata: metadata, startedAt: t.now()}
	t.order = append(t.order, id)
	size := len(t.active)
	t.mu.Unlock()

	observability.SetActiveTasks(size)
	t.logger.Debug().
		Str("task_id", id).
		Str("task_name", name).
		Msg("Task registered")
	return id
}

// Complete removes an active task. It returns false when the id is unknown,
// which includes completing the same id twice.
func (t *Tracker) Complete(id string) bool {
	t.mu.Lock()
	rec, ok := t.active[id]
	if ok {
		delete(t.active, id)
		for i, oid := range t.order {
			if oid == id {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
	size := len(t.active)
	t.mu.Unlock()

	if !ok {
		t.logger.Warn().Str("task_id", id).Msg("Completion for unknown task")
		return false
	}

	elapsed := t.now().Sub(rec.startedAt)
	observability.SetActiveTasks(size)
	observability.RecordTaskCompletion(rec.name, elapsed)
	t.logger.Info().
		Str("task_id", id).
		Str("task_name", rec.name).
		Dur("elapsed", elapsed).
		Msg("Task completed")
	return true
}

// ActiveCount returns the number of active tasks.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Snapshot lists the active tasks in registration order with their elapsed
// durations in seconds.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	jobs := make([]Job, 0, len(t.active))
	for _, id := range t.order {
		rec := t.active[id]
		jobs = append(jobs, Job{
			Name:     rec.name,
			Duration: t.now().Sub(rec.startedAt).Seconds(),
		})
	}
	return Snapshot{ActiveCount: len(jobs), RunningJobs: jobs}
}

// Track runs fn as a registered task. The task completes in every outcome:
// success, error and panic (the panic is re-raised after completion). Inside
// fn the task id is available through IDFromContext.
func (t *Tracker) Track(ctx context.Context, name string, metadata map[string]any, fn func(context.Context) error) error {
	id := t.Register(name, metadata)
	defer t.Complete(id)

	err := fn(context.WithValue(ctx, TaskIDKey, id))
	if err != nil {
		t.logger.Warn().
			Str("task_id", id).
			Str("task_name", name).
			Err(err).
			Msg("Task failed")
	}
	return err
}
