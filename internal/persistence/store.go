package persistence

import (
	"context"
	"errors"

	"github.com/tyrvik/weft/pkg/api"
)

var (
	// ErrWorkflowNotFound is returned when a workflow definition is not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkOrderNotFound is returned when a work order is not found.
	ErrWorkOrderNotFound = errors.New("work order not found")

	// ErrWorkerNotFound is returned when a worker is not found.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrCountdownNotFound is returned when a join countdown is not found.
	ErrCountdownNotFound = errors.New("join countdown not found")
)

// WorkflowStore handles storage of workflow definitions.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, def api.Workflow) error
	GetWorkflow(ctx context.Context, uri string) (api.Workflow, error)
	ListWorkflows(ctx context.Context) ([]api.Workflow, error)
}

// WorkOrderFilter selects work orders from the store.
// Empty string / zero status mean "no filter" for that field.
type WorkOrderFilter struct {
	WorkflowURI string
	Status      api.Status
}

// WorkOrderStore handles storage of work orders. Saves are last-write-wins
// upserts; callers serialize conflicting writers through the lock service.
type WorkOrderStore interface {
	SaveWorkOrder(ctx context.Context, wo *api.WorkOrder) error
	GetWorkOrder(ctx context.Context, uri string) (*api.WorkOrder, error)
	ListWorkOrders(ctx context.Context, filter WorkOrderFilter) ([]*api.WorkOrder, error)
}

// WorkerStore handles storage of workers, keyed by (work order URI, id).
type WorkerStore interface {
	SaveWorker(ctx context.Context, w *api.Worker) error
	GetWorker(ctx context.Context, workOrderURI, id string) (*api.Worker, error)
	ListWorkers(ctx context.Context, workOrderURI string) ([]*api.Worker, error)
}

// StepRecordStore handles storage of step execution records.
type StepRecordStore interface {
	SaveStepRecord(ctx context.Context, rec *api.StepRecord) error
	// ListStepRecords returns a worker's records in start-time order.
	ListStepRecords(ctx context.Context, workOrderURI, workerID string) ([]*api.StepRecord, error)
}

// CountdownStore handles storage of join countdowns, keyed by
// (work order URI, parent worker id).
type CountdownStore interface {
	SaveCountdown(ctx context.Context, cd *api.JoinCountdown) error
	GetCountdown(ctx context.Context, workOrderURI, parentID string) (*api.JoinCountdown, error)
	DeleteCountdown(ctx context.Context, workOrderURI, parentID string) error
}

// Persistence bundles the stores an engine needs.
type Persistence struct {
	Workflows  WorkflowStore
	WorkOrders WorkOrderStore
	Workers    WorkerStore
	Records    StepRecordStore
	Countdowns CountdownStore
}
