package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLiteQueue is a persistent Queue backed by SQLite. It uses simple FIFO
// semantics per category based on an auto-incrementing id, claiming a row
// by deleting it inside the same transaction that read it.
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

var _ Queue = (*SQLiteQueue)(nil)

// NewSQLiteQueue initializes the dispatch table in the given DB and
// returns a new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS dispatch_tasks (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			work_order_uri TEXT NOT NULL,
			worker_id TEXT NOT NULL,
			category TEXT NOT NULL,
			enqueued_at INTEGER NOT NULL
		);
	`)
	return err
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, t Task) error {
	enqueuedAt := t.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO dispatch_tasks (id, work_order_uri, worker_id, category, enqueued_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.ID,
		t.WorkOrderURI,
		t.WorkerID,
		t.Category,
		enqueuedAt.UnixNano(),
	)
	return err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context, category string) (*Task, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		tx, err := q.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}

		var (
			seq         int64
			id          string
			workOrder   string
			workerID    string
			enqueuedInt int64
		)

		row := tx.QueryRowContext(ctx, `
			SELECT seq, id, work_order_uri, worker_id, enqueued_at
			FROM dispatch_tasks
			WHERE category = ?
			ORDER BY seq
			LIMIT 1`, category)
		err = row.Scan(&seq, &id, &workOrder, &workerID, &enqueuedInt)
		if err != nil {
			_ = tx.Rollback()
			if errors.Is(err, sql.ErrNoRows) {
				// Nothing available: sleep a bit and retry.
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(q.pollInterval):
					continue
				}
			}
			return nil, err
		}

		// Delete the row we just claimed.
		if _, err := tx.ExecContext(ctx, `DELETE FROM dispatch_tasks WHERE seq = ?`, seq); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}

		return &Task{
			ID:           id,
			WorkOrderURI: workOrder,
			WorkerID:     workerID,
			Category:     category,
			EnqueuedAt:   time.Unix(0, enqueuedInt),
		}, nil
	}
}

func (q *SQLiteQueue) Len(category string) int {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM dispatch_tasks WHERE category = ?`, category).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}
