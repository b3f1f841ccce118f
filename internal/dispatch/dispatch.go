// Package dispatch is the transport that hands runnable workers to
// whatever node picks them up next. The engine publishes a worker under a
// routing category; consumer pools dequeue per category and drive
// Engine.ExecuteStep. Publishing must happen only after the bookkeeping
// that describes the worker is durably committed.
package dispatch

import (
	"context"
	"time"
)

// Task is one published worker pickup.
type Task struct {
	ID           string
	WorkOrderURI string
	WorkerID     string
	Category     string
	EnqueuedAt   time.Time
}

// Queue is the transport contract.
type Queue interface {
	// Enqueue publishes a task under its category. It should respect ctx
	// for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next task of the given category,
	// blocking until one is available or the context is cancelled.
	Dequeue(ctx context.Context, category string) (*Task, error)

	// Len returns the approximate number of tasks queued for a category.
	Len(category string) int
}
