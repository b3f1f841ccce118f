package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tyrvik/weft/internal/dispatch"
	"github.com/tyrvik/weft/internal/lockwork"
	"github.com/tyrvik/weft/internal/persistence"
	"github.com/tyrvik/weft/pkg/api"
)

// DefaultCategory routes published workers when neither the step nor the
// workflow declares one.
const DefaultCategory = "default"

// lockBudget bounds both the wait for and the hold of the work-order lock.
const lockBudget = 10 * time.Second

// Config describes how to construct an engine. Zero-valued fields get
// in-process defaults, so tests can wire only what they exercise.
type Config struct {
	Persistence persistence.Persistence
	Queue       dispatch.Queue
	Locker      lockwork.Locker
	Observer    api.Observer
	Runtimes    *RuntimeRegistry
	Logger      *slog.Logger
}

type engineImpl struct {
	store    persistence.Persistence
	queue    dispatch.Queue
	locker   lockwork.Locker
	observer api.Observer
	runtimes *RuntimeRegistry
	logger   *slog.Logger
	host     string
}

var _ api.Engine = (*engineImpl)(nil)

// NewEngine creates an Engine from the given configuration.
func NewEngine(cfg Config) api.Engine {
	if cfg.Queue == nil {
		cfg.Queue = dispatch.NewInMemoryQueue(0)
	}
	if cfg.Locker == nil {
		cfg.Locker = lockwork.NewMemoryLocker()
	}
	if cfg.Observer == nil {
		cfg.Observer = api.NoopObserver{}
	}
	if cfg.Runtimes == nil {
		cfg.Runtimes = NewRuntimeRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	host, _ := os.Hostname()
	return &engineImpl{
		store:    cfg.Persistence,
		queue:    cfg.Queue,
		locker:   cfg.Locker,
		observer: cfg.Observer,
		runtimes: cfg.Runtimes,
		logger:   cfg.Logger,
		host:     host,
	}
}

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores,
// sharing the given queue so a consumer can drain it.
func NewInMemoryEngine(queue dispatch.Queue, opts ...func(*Config)) api.Engine {
	cfg := Config{
		Persistence: persistence.NewInMemoryStore().Bundle(),
		Queue:       queue,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewEngine(cfg)
}

// NewSQLiteEngine returns an Engine that persists work-order state in a
// SQLite database and dispatches through a SQLite-backed queue. Workflow
// definitions are kept in-memory.
func NewSQLiteEngine(db *sql.DB, opts ...func(*Config)) (api.Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	queue, err := dispatch.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}
	cfg := Config{
		Persistence: store.Bundle(persistence.NewInMemoryStore()),
		Queue:       queue,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewEngine(cfg), nil
}

// NewRedisEngine returns an Engine that persists work-order state in
// Redis, dispatches through Redis lists and serializes shared-state
// mutations through a Redis lock. Workflow definitions are kept in-memory.
func NewRedisEngine(client *redis.Client, prefix string, opts ...func(*Config)) api.Engine {
	cfg := Config{
		Persistence: persistence.NewRedisStore(client, prefix).Bundle(persistence.NewInMemoryStore()),
		Queue:       dispatch.NewRedisQueue(client, prefix),
		Locker:      lockwork.NewRedisLocker(client, prefix),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewEngine(cfg)
}

// NewPostgresEngine returns an Engine that persists work-order state in
// PostgreSQL. The dispatch queue and locker default to in-process
// implementations unless overridden.
func NewPostgresEngine(db *sql.DB, opts ...func(*Config)) (api.Engine, error) {
	store, err := persistence.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	cfg := Config{
		Persistence: store.Bundle(persistence.NewInMemoryStore()),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewEngine(cfg), nil
}

func (e *engineImpl) RegisterWorkflow(ctx context.Context, def api.Workflow) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if _, err := e.store.Workflows.GetWorkflow(ctx, def.URI); err == nil {
		return fmt.Errorf("workflow already registered: %s", def.URI)
	} else if !errors.Is(err, persistence.ErrWorkflowNotFound) {
		return err
	}
	return e.store.Workflows.SaveWorkflow(ctx, def)
}

func (e *engineImpl) GetWorkOrder(ctx context.Context, uri string) (*api.WorkOrder, error) {
	wo, err := e.store.WorkOrders.GetWorkOrder(ctx, uri)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkOrderNotFound) {
			return nil, fmt.Errorf("work order not found: %s", uri)
		}
		return nil, err
	}
	return wo, nil
}

func (e *engineImpl) GetWorker(ctx context.Context, workOrderURI, workerID string) (*api.Worker, error) {
	w, err := e.store.Workers.GetWorker(ctx, workOrderURI, workerID)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkerNotFound) {
			return nil, fmt.Errorf("worker not found: %s/%s", workOrderURI, workerID)
		}
		return nil, err
	}
	return w, nil
}

func (e *engineImpl) ListWorkOrders(ctx context.Context, opts api.WorkOrderListOptions) ([]*api.WorkOrder, error) {
	return e.store.WorkOrders.ListWorkOrders(ctx, persistence.WorkOrderFilter{
		WorkflowURI: opts.WorkflowURI,
		Status:      opts.Status,
	})
}

func (e *engineImpl) ListStepRecords(ctx context.Context, workOrderURI, workerID string) ([]*api.StepRecord, error) {
	return e.store.Records.ListStepRecords(ctx, workOrderURI, workerID)
}

// lockName builds the advisory lock key for a work order. It is the single
// place the key shape is decided, so a finer-grained key (per join group)
// can be substituted without touching call sites.
func lockName(workOrderURI string) string {
	return "wo/" + workOrderURI
}

// lockRequired reports whether a mutation of shared work-order state needs
// the advisory lock: only when more than one worker is registered or the
// acting worker belongs to a join group.
func (e *engineImpl) lockRequired(wo *api.WorkOrder, worker *api.Worker) bool {
	return len(wo.WorkerIDs) > 1 || worker.ParentID != ""
}

// withLock runs fn inside the work-order lock window when required. The
// guard is released on every exit path, including panics in fn.
func (e *engineImpl) withLock(ctx context.Context, workOrderURI string, required bool, fn func(context.Context) error) error {
	if !required {
		return fn(ctx)
	}
	guard, err := e.locker.Acquire(ctx, lockName(workOrderURI), lockBudget, lockBudget)
	if err != nil {
		return fmt.Errorf("lock work order %s: %w", workOrderURI, err)
	}
	defer guard.Release(ctx)
	return fn(ctx)
}

func (e *engineImpl) publish(ctx context.Context, worker *api.Worker, category string) error {
	if category == "" {
		category = DefaultCategory
	}
	return e.queue.Enqueue(ctx, dispatch.Task{
		ID:           uuid.NewString(),
		WorkOrderURI: worker.WorkOrderURI,
		WorkerID:     worker.ID,
		Category:     category,
		EnqueuedAt:   time.Now(),
	})
}

func categoryFor(wf *api.Workflow, step api.Step) string {
	if step.Category != "" {
		return step.Category
	}
	if wf.Category != "" {
		return wf.Category
	}
	return DefaultCategory
}

// resolveStep loads the workflow and step a fully qualified step URI
// points at.
func (e *engineImpl) resolveStep(ctx context.Context, stepURI string) (*api.Workflow, api.Step, error) {
	wfURI, stepName, err := api.SplitStepURI(stepURI)
	if err != nil {
		return nil, api.Step{}, err
	}
	wf, err := e.store.Workflows.GetWorkflow(ctx, wfURI)
	if err != nil {
		return nil, api.Step{}, fmt.Errorf("workflow %s: %w", wfURI, err)
	}
	step, ok := wf.FindStep(stepName)
	if !ok {
		return nil, api.Step{}, fmt.Errorf("workflow %s has no step %q", wfURI, stepName)
	}
	return &wf, step, nil
}

func cloneMap(m map[string]string) map[string]string {
	return maps.Clone(m)
}
