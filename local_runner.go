package weft

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tyrvik/weft/pkg/runner"
)

// LocalRunner bundles an in-memory Engine, an in-memory dispatch queue and
// a Runner pool into a simple single-process deployment for development,
// tests and small jobs.
//
// Typical usage:
//
//	lr := weft.NewLocalRunner()
//	weft.Define("wf:demo", "demo").
//	    Step("hello", "script:hello").
//	    MustRegister(ctx, lr.Engine)
//
//	_ = lr.StartWorkers(ctx, 2)
//	wo, _ := lr.Engine.StartWorkOrder(ctx, "wf:demo", nil)
//	...
//	lr.Stop()
type LocalRunner struct {
	// Engine is the in-memory engine used by this runner.
	Engine Engine

	// Queue is the in-memory dispatch queue the engine publishes to.
	Queue Queue

	// Runner consumes the default category from Queue.
	Runner *runner.Runner

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner backed by an in-memory engine
// and queue.
func NewLocalRunner(opts ...Option) *LocalRunner {
	q := NewInMemoryQueue(1024)
	eng := NewInMemoryEngine(q, opts...)
	return &LocalRunner{
		Engine: eng,
		Queue:  q,
		Runner: runner.New(eng, q, ""),
	}
}

// StartWorkers starts 'concurrency' goroutines that continuously process
// published workers until Stop is called.
//
// If StartWorkers is called again without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("weft: LocalRunner already started")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	for i := 0; i < concurrency; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			_ = r.Runner.Run(ctx)
		}()
	}
	return nil
}

// Stop cancels the worker goroutines and waits for them to exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	r.cancel()
	r.wg.Wait()
	r.running = false
	r.cancel = nil
}

// WaitFinalized polls until the work order's end time is set or the
// timeout elapses. Intended for tests and scripts; production callers
// should react to Observer events instead.
func (r *LocalRunner) WaitFinalized(ctx context.Context, workOrderURI string, timeout time.Duration) (*WorkOrder, error) {
	deadline := time.Now().Add(timeout)
	for {
		wo, err := r.Engine.GetWorkOrder(ctx, workOrderURI)
		if err != nil {
			return nil, err
		}
		if wo.Finalized() {
			return wo, nil
		}
		if time.Now().After(deadline) {
			return wo, errors.New("weft: work order did not finalize in time")
		}
		select {
		case <-ctx.Done():
			return wo, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}
