package dispatch

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueFull is returned when an in-memory category buffer overflows.
var ErrQueueFull = errors.New("dispatch queue full")

// InMemoryQueue is a Queue backed by one buffered channel per category.
// Useful for tests and single-process deployments.
type InMemoryQueue struct {
	mu       sync.Mutex
	channels map[string]chan Task
	capacity int
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates an InMemoryQueue. capacity bounds each
// category's buffer; zero or negative selects a sensible default.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &InMemoryQueue{
		channels: make(map[string]chan Task),
		capacity: capacity,
	}
}

func (q *InMemoryQueue) channel(category string) chan Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch, ok := q.channels[category]
	if !ok {
		ch = make(chan Task, q.capacity)
		q.channels[category] = ch
	}
	return ch
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.channel(t.Category) <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *InMemoryQueue) Dequeue(ctx context.Context, category string) (*Task, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case t := <-q.channel(category):
		return &t, nil
	}
}

func (q *InMemoryQueue) Len(category string) int {
	return len(q.channel(category))
}
