package tasks

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/theumbrella1/agentcore/internal/tracing"
)

// ErrRunnerClosed is returned by Submit after Close.
var ErrRunnerClosed = errors.New("tasks: runner is closed")

// TaskFunc is a unit of background work.
type TaskFunc func(ctx context.Context) error

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// Workers bounds how many tasks run concurrently. Defaults to 8.
	Workers int
}

// Runner executes tracked tasks on a bounded pool of goroutines. Each
// submitted task is registered with the tracker before it starts and
// completed when it finishes, whatever the outcome.
type Runner struct {
	tracker *Tracker
	logger  zerolog.Logger
	sem     chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewRunner creates a runner over the given tracker.
func NewRunner(tracker *Tracker, opts RunnerOptions, logger zerolog.Logger) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	return &Runner{
		tracker: tracker,
		logger:  logger,
		sem:     make(chan struct{}, opts.Workers),
	}
}

// Submit registers the task and schedules fn on the pool. It returns the task
// id immediately; fn runs in the background once a worker slot frees up.
func (r *Runner) Submit(ctx context.Context, name string, metadata map[string]any, fn TaskFunc) (string, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrRunnerClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()

	id := r.tracker.Register(name, metadata)
	taskCtx := context.WithValue(ctx, TaskIDKey, id)

	go func() {
		defer r.wg.Done()

		select {
		case r.sem <- struct{}{}:
		case <-ctx.Done():
			r.tracker.Complete(id)
			r.logger.Warn().
				Str("task_id", id).
				Str("task_name", name).
				Err(ctx.Err()).
				Msg("Task canceled before it started")
			return
		}
		defer func() { <-r.sem }()

		r.run(taskCtx, id, name, fn)
	}()

	return id, nil
}

func (r *Runner) run(ctx context.Context, id, name string, fn TaskFunc) {
	ctx, span := tracing.StartSpan(ctx, "agentcore/tasks", "tasks.run",
		attribute.String("task_id", id),
		attribute.String("task_name", name),
	)
	defer span.End()

	defer r.tracker.Complete(id)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("task_id", id).
				Str("task_name", name).
				Interface("panic", rec).
				Msg("Task panicked")
		}
	}()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		r.logger.Warn().
			Str("task_id", id).
			Str("task_name", name).
			Err(err).
			Msg("Task failed")
	}
}

// Close stops intake and waits for all submitted tasks to finish.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}
