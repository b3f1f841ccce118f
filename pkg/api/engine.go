package api

import (
	"context"
	"time"
)

// ExecContext carries the variables the engine injects into every
// executable invocation.
type ExecContext struct {
	WorkOrderURI string
	WorkerURI    string
	WorkerID     string
	AuditLogURI  string
	StepName     string
	StepStart    time.Time

	// Vars is the worker's execution context. Runtimes may read and write
	// it; changes are persisted with the worker after the step completes.
	Vars map[string]string
}

// Runtime executes one step to completion and returns its transition code.
// Runtimes are registered per executable-URI scheme; an empty returned code
// selects the step's default transition.
type Runtime interface {
	Run(ctx context.Context, step Step, ec ExecContext) (string, error)
}

// RuntimeFunc adapts a function to the Runtime interface.
type RuntimeFunc func(ctx context.Context, step Step, ec ExecContext) (string, error)

func (f RuntimeFunc) Run(ctx context.Context, step Step, ec ExecContext) (string, error) {
	return f(ctx, step, ec)
}

// WorkOrderListOptions controls how work orders are listed.
// Zero values mean "no filter" for that field.
type WorkOrderListOptions struct {
	WorkflowURI string
	Status      Status
}

// Engine is the work-order execution engine. It is message-driven and
// stateless between steps: ExecuteStep is invoked by an external consumer
// that picked a published worker off the dispatch queue, and all durable
// state lives in the persisted work-order, worker and countdown records.
type Engine interface {
	// RegisterWorkflow registers a definition by URI.
	RegisterWorkflow(ctx context.Context, def Workflow) error

	// StartWorkOrder instantiates a workflow: it creates the work order and
	// its root worker, persists both and publishes the root worker for
	// pickup at the workflow's start step.
	StartWorkOrder(ctx context.Context, workflowURI string, args map[string]string) (*WorkOrder, error)

	// ExecuteStep runs the step on top of the worker's call stack to
	// completion and advances, suspends or terminates the worker.
	ExecuteStep(ctx context.Context, workOrderURI, workerID string) error

	// CancelWorkOrder requests cooperative cancellation. A step already in
	// flight runs to completion; the flag only prevents the next one.
	CancelWorkOrder(ctx context.Context, workOrderURI string) error

	// ResumeWorker wakes a BLOCKED worker with the given transition code,
	// resolved against the step it suspended on.
	ResumeWorker(ctx context.Context, workOrderURI, workerID, code string) error

	// GetWorkOrder looks up a work order by URI.
	GetWorkOrder(ctx context.Context, workOrderURI string) (*WorkOrder, error)

	// GetWorker looks up a worker by work order URI and worker id.
	GetWorker(ctx context.Context, workOrderURI, workerID string) (*Worker, error)

	// ListWorkOrders returns work orders matching the given options.
	ListWorkOrders(ctx context.Context, opts WorkOrderListOptions) ([]*WorkOrder, error)

	// ListStepRecords returns the execution history of one worker in
	// chronological order.
	ListStepRecords(ctx context.Context, workOrderURI, workerID string) ([]*StepRecord, error)
}
