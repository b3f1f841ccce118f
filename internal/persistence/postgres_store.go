package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tyrvik/weft/pkg/api"
)

// PostgresStore implements the work-order side stores on PostgreSQL.
//
// It expects an *sql.DB backed by a Postgres driver (for example,
// "github.com/jackc/pgx/v5/stdlib"). The schema mirrors the SQLite store;
// only placeholders and column types differ.
type PostgresStore struct {
	db *sql.DB
}

var (
	_ WorkOrderStore  = (*PostgresStore)(nil)
	_ WorkerStore     = (*PostgresStore)(nil)
	_ StepRecordStore = (*PostgresStore)(nil)
	_ CountdownStore  = (*PostgresStore)(nil)
)

// NewPostgresStore initializes the required schema in the given database
// and returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS work_orders (
			uri TEXT PRIMARY KEY,
			workflow_uri TEXT NOT NULL,
			status TEXT NOT NULL,
			start_time BIGINT NOT NULL,
			end_time BIGINT NOT NULL,
			cancel_requested BOOLEAN NOT NULL,
			worker_ids BYTEA,
			pending_ids BYTEA,
			args BYTEA,
			output BYTEA
		);`,
		`CREATE TABLE IF NOT EXISTS workers (
			work_order_uri TEXT NOT NULL,
			id TEXT NOT NULL,
			status TEXT NOT NULL,
			parent_id TEXT NOT NULL,
			payload BYTEA NOT NULL,
			PRIMARY KEY (work_order_uri, id)
		);`,
		`CREATE TABLE IF NOT EXISTS step_records (
			id TEXT PRIMARY KEY,
			work_order_uri TEXT NOT NULL,
			worker_id TEXT NOT NULL,
			step_name TEXT NOT NULL,
			step_uri TEXT NOT NULL,
			status TEXT NOT NULL,
			start_time BIGINT NOT NULL,
			end_time BIGINT NOT NULL,
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
// workflow definitions.
func (s *PostgresStore) Bundle(workflows WorkflowStore) Persistence {
	return Persistence{
		Workflows:  workflows,
		WorkOrders: s,
		Workers:    s,
		Records:    s,
		Countdowns: s,
	}
}

func (s *PostgresStore) SaveWorkOrder(ctx context.Context, wo *api.WorkOrder) error {
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO work_orders (uri, workflow_uri, status, start_time, end_time, cancel_requested, worker_ids, pending_ids, args, output)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (uri) DO UPDATE SET
			workflow_uri = EXCLUDED.workflow_uri,
			status = EXCLUDED.status,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			cancel_requested = EXCLUDED.cancel_requested,
			worker_ids = EXCLUDED.worker_ids,
			pending_ids = EXCLUDED.pending_ids,
			args = EXCLUDED.args,
			output = EXCLUDED.output`,
		wo.URI,
		wo.WorkflowURI,
		string(wo.Status),
		wo.StartTime.UnixNano(),
		endTimeNanos(wo.EndTime),
		wo.CancelRequested,
		workerIDs,
		pendingIDs,
		args,
		output,
	)
	return err
}

func (s *PostgresStore) scanWorkOrder(row interface{ Scan(...any) error }) (*api.WorkOrder, error) {
	var (
		wo         api.WorkOrder
		statusStr  string
		startNanos int64
		endNanos   int64
		workerIDs  []byte
		pendingIDs []byte
		args       []byte
		output     []byte
	)
	if err := row.Scan(&wo.URI, &wo.WorkflowURI, &statusStr, &startNanos, &endNanos, &wo.CancelRequested, &workerIDs, &pendingIDs, &args, &output); err != nil {
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
	return &wo, nil
}

func (s *PostgresStore) GetWorkOrder(ctx context.Context, uri string) (*api.WorkOrder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT uri, workflow_uri, status, start_time, end_time, cancel_requested, worker_ids, pending_ids, args, output
		FROM work_orders
		WHERE uri = $1`,
		uri,
	)
	return s.scanWorkOrder(row)
}

func (s *PostgresStore) ListWorkOrders(ctx context.Context, filter WorkOrderFilter) ([]*api.WorkOrder, error) {
	query := `
		SELECT uri, workflow_uri, status, start_time, end_time, cancel_requested, worker_ids, pending_ids, args, output
		FROM work_orders
		WHERE 1=1`
	var argv []any
	if filter.WorkflowURI != "" {
		argv = append(argv, filter.WorkflowURI)
		query += ` AND workflow_uri = $1`
	}
	if filter.Status != "" {
		argv = append(argv, string(filter.Status))
		if len(argv) == 1 {
			query += ` AND status = $1`
		} else {
			query += ` AND status = $2`
		}
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

func (s *PostgresStore) SaveWorker(ctx context.Context, w *api.Worker) error {
	payload, err := EncodeValue(*w)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workers (work_order_uri, id, status, parent_id, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (work_order_uri, id) DO UPDATE SET
			status = EXCLUDED.status,
			parent_id = EXCLUDED.parent_id,
			payload = EXCLUDED.payload`,
		w.WorkOrderURI,
		w.ID,
		string(w.Status),
		w.ParentID,
		payload,
	)
	return err
}

func (s *PostgresStore) GetWorker(ctx context.Context, workOrderURI, id string) (*api.Worker, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM workers WHERE work_order_uri = $1 AND id = $2`,
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

func (s *PostgresStore) ListWorkers(ctx context.Context, workOrderURI string) ([]*api.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM workers WHERE work_order_uri = $1 ORDER BY id`,
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

func (s *PostgresStore) SaveStepRecord(ctx context.Context, rec *api.StepRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO step_records (id, work_order_uri, worker_id, step_name, step_uri, status, start_time, end_time, host, return_code, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			end_time = EXCLUDED.end_time,
			return_code = EXCLUDED.return_code,
			error = EXCLUDED.error`,
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

func (s *PostgresStore) ListStepRecords(ctx context.Context, workOrderURI, workerID string) ([]*api.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, work_order_uri, worker_id, step_name, step_uri, status, start_time, end_time, host, return_code, error
		FROM step_records
		WHERE work_order_uri = $1 AND worker_id = $2
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

func (s *PostgresStore) SaveCountdown(ctx context.Context, cd *api.JoinCountdown) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO join_countdowns (work_order_uri, parent_id, wait_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (work_order_uri, parent_id) DO UPDATE SET
			wait_count = EXCLUDED.wait_count`,
		cd.WorkOrderURI,
		cd.ParentID,
		cd.WaitCount,
	)
	return err
}

func (s *PostgresStore) GetCountdown(ctx context.Context, workOrderURI, parentID string) (*api.JoinCountdown, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT wait_count FROM join_countdowns WHERE work_order_uri = $1 AND parent_id = $2`,
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

func (s *PostgresStore) DeleteCountdown(ctx context.Context, workOrderURI, parentID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM join_countdowns WHERE work_order_uri = $1 AND parent_id = $2`,
		workOrderURI, parentID,
	)
	return err
}
