package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestSQLiteQueue(t *testing.T) *SQLiteQueue {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	q, err := NewSQLiteQueue(db)
	if err != nil {
		t.Fatalf("NewSQLiteQueue failed: %v", err)
	}
	return q
}

func TestSQLiteQueueClaimByDelete(t *testing.T) {
	ctx := context.Background()
	q := newTestSQLiteQueue(t)

	for _, id := range []string{"t1", "t2"} {
		err := q.Enqueue(ctx, Task{ID: id, WorkOrderURI: "wo:1", WorkerID: "0", Category: "default", EnqueuedAt: time.Now()})
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if q.Len("default") != 2 {
		t.Fatalf("expected 2 queued tasks, got %d", q.Len("default"))
	}

	got, err := q.Dequeue(ctx, "default")
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if got.ID != "t1" || got.WorkOrderURI != "wo:1" || got.WorkerID != "0" {
		t.Fatalf("unexpected task: %+v", got)
	}

	// The claimed row must be gone; the same task cannot be claimed twice.
	if q.Len("default") != 1 {
		t.Fatalf("claimed task not deleted, len=%d", q.Len("default"))
	}
	got, err = q.Dequeue(ctx, "default")
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if got.ID != "t2" {
		t.Fatalf("expected t2, got %q", got.ID)
	}
}

func TestSQLiteQueueDequeueHonorsContext(t *testing.T) {
	q := newTestSQLiteQueue(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx, "default"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
