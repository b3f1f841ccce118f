// Package lockwork provides the advisory lock service that serializes
// mutations of shared work-order state across nodes. Acquisition returns an
// explicit Guard threaded through to the release site, so no process-wide
// handle table is needed.
package lockwork

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned when the lock could not be acquired within the
// caller's wait budget.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out named advisory locks with a bounded wait and a bounded
// hold time (ttl). A lock abandoned by a crashed holder frees itself when
// its ttl lapses.
type Locker interface {
	Acquire(ctx context.Context, name string, wait, ttl time.Duration) (*Guard, error)
}

// Guard is one held lock. Release is idempotent and must be called on
// every exit path, typically via defer.
type Guard struct {
	name     string
	token    string
	released bool
	release  func(ctx context.Context, name, token string) error
}

// NewGuard is used by Locker implementations.
func NewGuard(name, token string, release func(ctx context.Context, name, token string) error) *Guard {
	return &Guard{name: name, token: token, release: release}
}

// Name returns the lock name this guard holds.
func (g *Guard) Name() string { return g.name }

// Release frees the lock if this guard still owns it.
func (g *Guard) Release(ctx context.Context) error {
	if g == nil || g.released {
		return nil
	}
	g.released = true
	return g.release(ctx, g.name, g.token)
}
