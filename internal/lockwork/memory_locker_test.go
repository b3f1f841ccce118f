package lockwork

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryLockerExclusion(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	g1, err := l.Acquire(ctx, "wo/wo:1", 50*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// A second acquire of the same name must time out while g1 is held.
	if _, err := l.Acquire(ctx, "wo/wo:1", 30*time.Millisecond, time.Second); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}

	// A different name is independent.
	g2, err := l.Acquire(ctx, "wo/wo:2", 30*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("Acquire of unrelated lock failed: %v", err)
	}
	_ = g2.Release(ctx)

	if err := g1.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	g3, err := l.Acquire(ctx, "wo/wo:1", 30*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	_ = g3.Release(ctx)
}

func TestMemoryLockerTTLExpiry(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	abandoned, err := l.Acquire(ctx, "wo/wo:1", 10*time.Millisecond, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// The hold frees itself when its ttl lapses, even without a release.
	g, err := l.Acquire(ctx, "wo/wo:1", 200*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("Acquire after ttl expiry failed: %v", err)
	}

	// The abandoned guard no longer owns the lock; releasing it must not
	// free the new holder's lock.
	_ = abandoned.Release(ctx)
	if _, err := l.Acquire(ctx, "wo/wo:1", 20*time.Millisecond, time.Second); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("stale release freed a lock it no longer owned: %v", err)
	}
	_ = g.Release(ctx)
}

func TestGuardReleaseIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	g, err := l.Acquire(ctx, "wo/wo:1", 10*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := g.Release(ctx); err != nil {
		t.Fatalf("first Release failed: %v", err)
	}
	if err := g.Release(ctx); err != nil {
		t.Fatalf("second Release must be a no-op, got %v", err)
	}

	// Releasing twice must not free a lock acquired in between.
	g2, err := l.Acquire(ctx, "wo/wo:1", 10*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	_ = g.Release(ctx)
	if _, err := l.Acquire(ctx, "wo/wo:1", 20*time.Millisecond, time.Second); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("double release freed someone else's lock: %v", err)
	}
	_ = g2.Release(ctx)
}
