package lockwork

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryHold struct {
	token   string
	expires time.Time
}

// MemoryLocker is an in-process Locker for tests and single-node
// deployments. Expired holds are treated as free.
type MemoryLocker struct {
	mu           sync.Mutex
	holds        map[string]memoryHold
	pollInterval time.Duration
}

var _ Locker = (*MemoryLocker)(nil)

// NewMemoryLocker creates a MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		holds:        make(map[string]memoryHold),
		pollInterval: 5 * time.Millisecond,
	}
}

func (l *MemoryLocker) tryAcquire(name, token string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if hold, ok := l.holds[name]; ok && hold.expires.After(now) {
		return false
	}
	l.holds[name] = memoryHold{token: token, expires: now.Add(ttl)}
	return true
}

func (l *MemoryLocker) Acquire(ctx context.Context, name string, wait, ttl time.Duration) (*Guard, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		if l.tryAcquire(name, token, ttl) {
			return NewGuard(name, token, l.releaseToken), nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}

func (l *MemoryLocker) releaseToken(ctx context.Context, name, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Only the current owner may free the lock; a ttl-expired hold may
	// already belong to someone else.
	if hold, ok := l.holds[name]; ok && hold.token == token {
		delete(l.holds, name)
	}
	return nil
}
