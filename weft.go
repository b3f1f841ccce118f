package weft

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/tyrvik/weft/internal/dispatch"
	"github.com/tyrvik/weft/internal/engine"
	"github.com/tyrvik/weft/internal/lockwork"
	"github.com/tyrvik/weft/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	Workflow             = api.Workflow
	Step                 = api.Step
	Transition           = api.Transition
	WorkOrder            = api.WorkOrder
	Worker               = api.Worker
	CallFrame            = api.CallFrame
	StepRecord           = api.StepRecord
	Status               = api.Status
	Runtime              = api.Runtime
	RuntimeFunc          = api.RuntimeFunc
	ExecContext          = api.ExecContext
	WorkOrderListOptions = api.WorkOrderListOptions
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Queue and Locker are the pluggable transport and coordination
// contracts. Implementations live in internal packages and are reached
// through the constructors below.
type (
	Queue  = dispatch.Queue
	Locker = lockwork.Locker
	Task   = dispatch.Task
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export status values for convenience.

const (
	StatusReady     = api.StatusReady
	StatusRunning   = api.StatusRunning
	StatusBlocked   = api.StatusBlocked
	StatusFinished  = api.StatusFinished
	StatusError     = api.StatusError
	StatusCancelled = api.StatusCancelled
)

// Re-export the reserved transition targets and wake codes used when
// building workflow definitions by hand.

const (
	Return    = api.FormReturn
	Fail      = api.FormFail
	Cancel    = api.FormCancel
	WakeOK    = api.WakeOK
	WakeError = api.WakeError
)

// Option tweaks an engine configuration before construction.
type Option func(*engine.Config)

// WithObserver sets the engine's observer.
func WithObserver(obs Observer) Option {
	return func(cfg *engine.Config) { cfg.Observer = obs }
}

// WithRuntime registers a runtime for an executable-URI scheme.
func WithRuntime(scheme string, rt Runtime) Option {
	return func(cfg *engine.Config) {
		if cfg.Runtimes == nil {
			cfg.Runtimes = engine.NewRuntimeRegistry()
		}
		cfg.Runtimes.Register(scheme, rt)
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *engine.Config) { cfg.Logger = logger }
}

// WithQueue overrides the dispatch queue.
func WithQueue(q Queue) Option {
	return func(cfg *engine.Config) { cfg.Queue = q }
}

// WithLocker overrides the lock service.
func WithLocker(l Locker) Option {
	return func(cfg *engine.Config) { cfg.Locker = l }
}

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryQueue returns an in-process dispatch queue. A zero capacity
// picks a sensible default.
func NewInMemoryQueue(capacity int) Queue {
	return dispatch.NewInMemoryQueue(capacity)
}

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores,
// publishing to the given queue.
func NewInMemoryEngine(queue Queue, opts ...Option) Engine {
	return engine.NewInMemoryEngine(queue, optFuncs(opts)...)
}

// NewSQLiteEngine returns an Engine that persists work orders in a SQLite
// database and dispatches through a SQLite-backed queue. Workflow
// definitions are kept in-memory.
func NewSQLiteEngine(db *sql.DB, opts ...Option) (Engine, error) {
	return engine.NewSQLiteEngine(db, optFuncs(opts)...)
}

// NewPostgresEngine returns an Engine that persists work orders in
// PostgreSQL.
func NewPostgresEngine(db *sql.DB, opts ...Option) (Engine, error) {
	return engine.NewPostgresEngine(db, optFuncs(opts)...)
}

// NewRedisEngine returns an Engine that persists work orders in Redis and
// coordinates shared state through Redis locks. All keys are namespaced
// under prefix.
func NewRedisEngine(client *redis.Client, prefix string, opts ...Option) Engine {
	return engine.NewRedisEngine(client, prefix, optFuncs(opts)...)
}

func optFuncs(opts []Option) []func(*engine.Config) {
	fns := make([]func(*engine.Config), len(opts))
	for i, o := range opts {
		fns[i] = o
	}
	return fns
}

// Convenience helpers that just forward to the underlying Engine.

// Start creates and publishes a work order for a registered workflow.
func Start(ctx context.Context, eng Engine, workflowURI string, args map[string]string) (*WorkOrder, error) {
	return eng.StartWorkOrder(ctx, workflowURI, args)
}

// CancelWorkOrder requests cooperative cancellation of a work order.
func CancelWorkOrder(ctx context.Context, eng Engine, workOrderURI string) error {
	return eng.CancelWorkOrder(ctx, workOrderURI)
}

// ResumeWorker wakes a blocked worker with the given transition code.
func ResumeWorker(ctx context.Context, eng Engine, workOrderURI, workerID, code string) error {
	return eng.ResumeWorker(ctx, workOrderURI, workerID, code)
}

// GetWorkOrder fetches a work order by URI.
func GetWorkOrder(ctx context.Context, eng Engine, uri string) (*WorkOrder, error) {
	return eng.GetWorkOrder(ctx, uri)
}

// ListWorkOrders lists work orders according to the given options.
func ListWorkOrders(ctx context.Context, eng Engine, opts WorkOrderListOptions) ([]*WorkOrder, error) {
	return eng.ListWorkOrders(ctx, opts)
}
