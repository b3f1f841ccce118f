// Package runner consumes published workers from a dispatch queue and
// drives them through the engine, one step at a time.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/tyrvik/weft/internal/dispatch"
	"github.com/tyrvik/weft/pkg/api"
)

// Runner pulls tasks for one routing category and executes them using an
// Engine. A deployment typically runs one Runner (with several goroutines)
// per category it serves.
type Runner struct {
	engine   api.Engine
	queue    dispatch.Queue
	category string
	logger   *slog.Logger
}

// New creates a Runner for the given category. An empty category consumes
// the default route.
func New(engine api.Engine, queue dispatch.Queue, category string) *Runner {
	if category == "" {
		category = "default"
	}
	return &Runner{
		engine:   engine,
		queue:    queue,
		category: category,
		logger:   slog.Default(),
	}
}

// WithLogger replaces the runner's logger and returns the runner.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// ProcessOne pulls a single task from the queue and executes its step.
// Returns (processed, error):
//   - processed == false: no task was obtained (context cancelled)
//   - processed == true: a task was executed; err is the step outcome
func (r *Runner) ProcessOne(ctx context.Context) (bool, error) {
	task, err := r.queue.Dequeue(ctx, r.category)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	return true, r.engine.ExecuteStep(ctx, task.WorkOrderURI, task.WorkerID)
}

// Run processes tasks until ctx is cancelled. Step failures are logged and
// do not stop the loop; the failing worker has already been driven to a
// terminal state by the engine.
func (r *Runner) Run(ctx context.Context) error {
	for {
		processed, err := r.ProcessOne(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ctx.Err()
		}
		if err != nil && processed {
			r.logger.Error("step execution failed", "category", r.category, "error", err)
		}
	}
}

// Pool runs n copies of Run concurrently and blocks until all exit.
func (r *Runner) Pool(ctx context.Context, n int) {
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Run(ctx)
		}()
	}
	wg.Wait()
}
