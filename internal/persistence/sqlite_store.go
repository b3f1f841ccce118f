package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tyrvik/weft/pkg/api"
)

// SQLiteStore implements the work-order side stores on a SQLite database.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//
// Workflow definitions are not stored here; they stay in an in-memory
// WorkflowStore the way definitions are registered at process start.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ WorkOrderStore  = (*SQLiteStore)(nil)
	_ WorkerStore     = (*SQLiteStore)(nil)
	_ StepRecordStore = (*SQLiteStore)(nil)
	_ CountdownStore  = (*SQLiteStore)(nil)
)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS work_orders (
			uri TEXT PRIMARY KEY,
			workflow_uri TEXT NOT NULL,
			status TEXT NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL,
			cancel_requested INTEGER NOT NULL,
			worker_ids BLOB,
			pending_ids BLOB,
			args BLOB,
			output BLOB
		);`,
		`CREATE TABLE IF NOT EXISTS workers (
			work_order_uri TEXT NOT NULL,
			id TEXT NOT NULL,
			status TEXT NOT NULL,
			parent_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (work_order_uri, id)
		);`,
		`CREATE TABLE IF NOT EXISTS step_records (
			id TEXT PRIMARY KEY,
			work_order_uri TEXT NOT NULL,
			worker_id TEXT NOT NULL,
			step_name TEXT NOT NULL,
			step_uri TEXT NOT NULL,
			status TEXT NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL,
			host TEXT,
			return_code TEXT,
			error TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS join_countdowns (
			work_order_uri TEXT NOT NULL,
			parent_id TEXT NOT NULL,
			wait_count INTEGER NOT NULL,
			PRIMARY KEY (work_order_uri, parent_id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Bundle returns a Persistence using this store for everything except
// workflow definitions, which live in the supplied WorkflowStore.
func (s *SQLiteStore) Bundle(workflows WorkflowStore) Persistence {
	return Persistence{
		Workflows:  workflows,
		WorkOrders: s,
		Workers:    s,
		Records:    s,
		Countdowns: s,
	}
}

func (s *SQLiteStore) SaveWorkOrder(ctx context.Context, wo *api.WorkOrder) error {
	workerIDs, err := EncodeValue(wo.WorkerIDs)
	if err != nil {
		return err
	}
	pendingIDs, err := EncodeValue(wo.PendingIDs)
	if err != nil {
		return err
	}
	args, err := EncodeValue(wo.Args)
	if err != nil {
		return err
	}
	output, err := EncodeValue(wo.Output)
	if err != nil {
		return err
	}

	cancel := 0
	if wo.CancelRequested {
		cancel = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO work_orders (uri, workflow_uri, status, start_time, end_time, cancel_requested, worker_ids, pending_ids, args, output)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			workflow_uri = excluded.workflow_uri,
			status = excluded.status,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			cancel_requested = excluded.cancel_requested,
			worker_ids = excluded.worker_ids,
			pending_ids = excluded.pending_ids,
			args = excluded.args,
			output = excluded.output`,
		wo.URI,
		wo.WorkflowURI,
		string(wo.Status),
		wo.StartTime.UnixNano(),
		endTimeNanos(wo.EndTime),
		cancel,
		workerIDs,
		pendingIDs,
		args,
		output,
	)
	return err
}

func endTimeNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func timeFromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (s *SQLiteStore) scanWorkOrder(row interface{ Scan(...any) error }) (*api.WorkOrder, error) {
	var (
		wo         api.WorkOrder
		statusStr  string
		startNanos int64
		endNanos   int64
		cancel     int
		workerIDs  []byte
		pendingIDs []byte
		args       []byte
		output     []byte
	)
	if err := row.Scan(&wo.URI, &wo.WorkflowURI, &statusStr, &startNanos, &endNanos, &cancel, &workerIDs, &pendingIDs, &args, &output); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWorkOrderNotFound
		}
		return nil, err
	}

	var err error
	if wo.WorkerIDs, err = DecodeValue[[]string](workerIDs); err != nil {
		return nil, err
	}
	if wo.PendingIDs, err = DecodeValue[[]string](pendingIDs); err != nil {
		return nil, err
	}
	if wo.Args, err = DecodeValue[map[string]string](args); err != nil {
		return nil, err
	}
	if wo.Output, err = DecodeValue[map[string]string](output); err != nil {
		return nil, err
	}

	wo.Status = api.Status(statusStr)
	wo.StartTime = timeFromNanos(startNanos)
	wo.EndTime = timeFromNanos(endNanos)
	wo.CancelRequested = cancel != 0
	return &wo, nil
}

func (s *SQLiteStore) GetWorkOrder(ctx context.Context, uri string) (*api.WorkOrder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT uri, workflow_uri, status, start_time, end_time, cancel_requested, worker_ids, pending_ids, args, output
		FROM work_orders
		WHERE uri = ?`,
		uri,
	)
	return s.scanWorkOrder(row)
}

func (s *SQLiteStore) ListWorkOrders(ctx context.Context, filter WorkOrderFilter) ([]*api.WorkOrder, error) {
	query := `
		SELECT uri, workflow_uri, status, start_time, end_time, cancel_requested, worker_ids, pending_ids, args, output
		FROM work_orders
		WHERE 1=1`
	var argv []any
	if filter.WorkflowURI != "" {
		query += ` AND workflow_uri = ?`
		argv = append(argv, filter.WorkflowURI)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		argv = append(argv, string(filter.Status))
	}
	query += ` ORDER BY uri`

	rows, err := s.db.QueryContext(ctx, query, argv...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*api.WorkOrder
	for rows.Next() {
		wo, err := s.scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, wo)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) SaveWorker(ctx context.Context, w *api.Worker) error {
	payload, err := EncodeValue(*w)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workers (work_order_uri, id, status, parent_id, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(work_order_uri, id) DO UPDATE SET
			status = excluded.status,
			parent_id = excluded.parent_id,
			payload = excluded.payload`,
		w.WorkOrderURI,
		w.ID,
		string(w.Status),
		w.ParentID,
		payload,
	)
	return err
}

func (s *SQLiteStore) GetWorker(ctx context.Context, workOrderURI, id string) (*api.Worker, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM workers WHERE work_order_uri = ? AND id = ?`,
		workOrderURI, id,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWorkerNotFound
		}
		return nil, err
	}

	w, err := DecodeValue[api.Worker](payload)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *SQLiteStore) ListWorkers(ctx context.Context, workOrderURI string) ([]*api.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM workers WHERE work_order_uri = ? ORDER BY id`,
		workOrderURI,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*api.Worker
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		w, err := DecodeValue[api.Worker](payload)
		if err != nil {
			return nil, err
		}
		result = append(result, &w)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) SaveStepRecord(ctx context.Context, rec *api.StepRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO step_records (id, work_order_uri, worker_id, step_name, step_uri, status, start_time, end_time, host, return_code, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			end_time = excluded.end_time,
			return_code = excluded.return_code,
			error = excluded.error`,
		rec.ID,
		rec.WorkOrderURI,
		rec.WorkerID,
		rec.StepName,
		rec.StepURI,
		string(rec.Status),
		rec.StartTime.UnixNano(),
		endTimeNanos(rec.EndTime),
		rec.Host,
		rec.ReturnCode,
		rec.Error,
	)
	return err
}

func (s *SQLiteStore) ListStepRecords(ctx context.Context, workOrderURI, workerID string) ([]*api.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, work_order_uri, worker_id, step_name, step_uri, status, start_time, end_time, host, return_code, error
		FROM step_records
		WHERE work_order_uri = ? AND worker_id = ?
		ORDER BY start_time, id`,
		workOrderURI, workerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*api.StepRecord
	for rows.Next() {
		var (
			rec        api.StepRecord
			statusStr  string
			startNanos int64
			endNanos   int64
		)
		if err := rows.Scan(&rec.ID, &rec.WorkOrderURI, &rec.WorkerID, &rec.StepName, &rec.StepURI, &statusStr, &startNanos, &endNanos, &rec.Host, &rec.ReturnCode, &rec.Error); err != nil {
			return nil, err
		}
		rec.Status = api.Status(statusStr)
		rec.StartTime = timeFromNanos(startNanos)
		rec.EndTime = timeFromNanos(endNanos)
		result = append(result, &rec)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) SaveCountdown(ctx context.Context, cd *api.JoinCountdown) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO join_countdowns (work_order_uri, parent_id, wait_count)
		VALUES (?, ?, ?)
		ON CONFLICT(work_order_uri, parent_id) DO UPDATE SET
			wait_count = excluded.wait_count`,
		cd.WorkOrderURI,
		cd.ParentID,
		cd.WaitCount,
	)
	return err
}

func (s *SQLiteStore) GetCountdown(ctx context.Context, workOrderURI, parentID string) (*api.JoinCountdown, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT wait_count FROM join_countdowns WHERE work_order_uri = ? AND parent_id = ?`,
		workOrderURI, parentID,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCountdownNotFound
		}
		return nil, err
	}
	return &api.JoinCountdown{
		WorkOrderURI: workOrderURI,
		ParentID:     parentID,
		WaitCount:    count,
	}, nil
}

func (s *SQLiteStore) DeleteCountdown(ctx context.Context, workOrderURI, parentID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM join_countdowns WHERE work_order_uri = ? AND parent_id = ?`,
		workOrderURI, parentID,
	)
	return err
}
