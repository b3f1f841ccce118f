package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tyrvik/weft/internal/persistence"
	"github.com/tyrvik/weft/pkg/api"
)

// RootWorkerID is the id of the worker created with every work order.
const RootWorkerID = "0"

func (e *engineImpl) StartWorkOrder(ctx context.Context, workflowURI string, args map[string]string) (*api.WorkOrder, error) {
	wf, err := e.store.Workflows.GetWorkflow(ctx, workflowURI)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", workflowURI, err)
	}
	start, ok := wf.FindStep(wf.StartStep)
	if !ok {
		return nil, fmt.Errorf("workflow %s: start step %q not defined", workflowURI, wf.StartStep)
	}

	wo := &api.WorkOrder{
		URI:         "wo:" + uuid.NewString(),
		WorkflowURI: workflowURI,
		Status:      api.StatusReady,
		StartTime:   time.Now(),
		Args:        cloneMap(args),
		Output:      make(map[string]string),
	}
	root := &api.Worker{
		ID:           RootWorkerID,
		WorkOrderURI: wo.URI,
		Frames: []api.CallFrame{{
			StepURI:       wf.StepURI(wf.StartStep),
			View:          cloneMap(wf.View),
			AppStatusName: wf.Name,
		}},
		Status:  api.StatusReady,
		Context: cloneMap(args),
	}
	wo.AddWorker(root.ID, true)

	if err := e.store.WorkOrders.SaveWorkOrder(ctx, wo); err != nil {
		return nil, err
	}
	if err := e.store.Workers.SaveWorker(ctx, root); err != nil {
		return nil, err
	}
	e.observer.OnWorkOrderStart(ctx, wo)

	if err := e.publish(ctx, root, categoryFor(&wf, start)); err != nil {
		return nil, err
	}
	return wo, nil
}

func (e *engineImpl) CancelWorkOrder(ctx context.Context, workOrderURI string) error {
	wo, err := e.store.WorkOrders.GetWorkOrder(ctx, workOrderURI)
	if err != nil {
		return err
	}
	if wo.Finalized() {
		return fmt.Errorf("work order %s already finished (%s)", workOrderURI, wo.Status)
	}
	return e.withLock(ctx, workOrderURI, len(wo.WorkerIDs) > 1, func(ctx context.Context) error {
		fresh, err := e.store.WorkOrders.GetWorkOrder(ctx, workOrderURI)
		if err != nil {
			return err
		}
		fresh.CancelRequested = true
		return e.store.WorkOrders.SaveWorkOrder(ctx, fresh)
	})
}

// ResumeWorker wakes a BLOCKED worker, resolving code against the step it
// suspended on. It is the entry point for external completions (human
// approval, callbacks from long-running systems).
func (e *engineImpl) ResumeWorker(ctx context.Context, workOrderURI, workerID, code string) error {
	wo, err := e.store.WorkOrders.GetWorkOrder(ctx, workOrderURI)
	if err != nil {
		return err
	}
	worker, err := e.store.Workers.GetWorker(ctx, workOrderURI, workerID)
	if err != nil {
		return err
	}
	if worker.Status != api.StatusBlocked {
		return fmt.Errorf("worker %s is not blocked (%s)", worker.URI(), worker.Status)
	}
	if worker.WaitCount > 0 {
		return fmt.Errorf("worker %s is waiting on %d split children", worker.URI(), worker.WaitCount)
	}
	wf, step, err := e.resolveStep(ctx, worker.CurrentStepURI())
	if err != nil {
		return e.failWorker(ctx, wo, worker, err)
	}
	return e.followTransition(ctx, wo, worker, wf, step, code)
}

// aggregateStatus derives a work order's status from its workers. The
// worst state dominates; a fully drained order is FINISHED.
func aggregateStatus(workers []*api.Worker) api.Status {
	rank := map[api.Status]int{
		api.StatusError:     5,
		api.StatusCancelled: 4,
		api.StatusRunning:   3,
		api.StatusBlocked:   2,
		api.StatusReady:     1,
	}
	best := api.StatusFinished
	bestRank := 0
	for _, w := range workers {
		if r := rank[w.Status]; r > bestRank {
			best, bestRank = w.Status, r
		}
	}
	return best
}

// refreshStatus recomputes the work order's aggregate status. Called when
// a worker changes state without reaching a terminal one.
func (e *engineImpl) refreshStatus(ctx context.Context, wo *api.WorkOrder, worker *api.Worker) error {
	return e.withLock(ctx, wo.URI, e.lockRequired(wo, worker), func(ctx context.Context) error {
		fresh, err := e.store.WorkOrders.GetWorkOrder(ctx, wo.URI)
		if err != nil {
			return err
		}
		workers, err := e.store.Workers.ListWorkers(ctx, wo.URI)
		if err != nil {
			return err
		}
		status := aggregateStatus(workers)
		if fresh.Status == status {
			*wo = *fresh
			return nil
		}
		fresh.Status = status
		if err := e.store.WorkOrders.SaveWorkOrder(ctx, fresh); err != nil {
			return err
		}
		*wo = *fresh
		return nil
	})
}

// markFinished drives a worker into a terminal state and performs the
// shared bookkeeping: pending-set removal, output merge, join-countdown
// decrement and work-order finalization. All of it happens inside the
// work-order lock; the parent wake-up and observer events fire after the
// lock is released so they can re-enter.
func (e *engineImpl) markFinished(ctx context.Context, wo *api.WorkOrder, worker *api.Worker, status api.Status, cause error) error {
	worker.Status = status
	worker.WaitCount = 0
	if cause != nil && worker.ExceptionInfo == "" {
		worker.ExceptionInfo = cause.Error()
	}

	wakeParent := false
	finalized := false
	err := e.withLock(ctx, wo.URI, true, func(ctx context.Context) error {
		fresh, err := e.store.WorkOrders.GetWorkOrder(ctx, wo.URI)
		if err != nil {
			return err
		}
		*wo = *fresh

		if err := e.store.Workers.SaveWorker(ctx, worker); err != nil {
			return err
		}

		wo.RemovePending(worker.ID)
		if len(worker.Output) > 0 {
			if wo.Output == nil {
				wo.Output = make(map[string]string, len(worker.Output))
			}
			for k, v := range worker.Output {
				wo.Output[k] = v
			}
		}

		if worker.ParentID != "" {
			cd, err := e.store.Countdowns.GetCountdown(ctx, wo.URI, worker.ParentID)
			switch {
			case errors.Is(err, persistence.ErrCountdownNotFound):
				// Already consumed; a fork child or a re-delivered task.
			case err != nil:
				return err
			default:
				cd.WaitCount--
				if cd.WaitCount <= 0 {
					if err := e.store.Countdowns.DeleteCountdown(ctx, wo.URI, worker.ParentID); err != nil {
						return err
					}
					wakeParent = true
				} else if err := e.store.Countdowns.SaveCountdown(ctx, cd); err != nil {
					return err
				}
			}
		}

		workers, err := e.store.Workers.ListWorkers(ctx, wo.URI)
		if err != nil {
			return err
		}
		wo.Status = aggregateStatus(workers)
		if len(wo.PendingIDs) == 0 && !wo.Finalized() {
			wo.EndTime = time.Now()
			finalized = true
		}
		return e.store.WorkOrders.SaveWorkOrder(ctx, wo)
	})
	if err != nil {
		return err
	}

	e.observer.OnWorkerEvent(ctx, wo, worker, api.SeverityFor(status))

	if wakeParent {
		if err := e.awakenWorker(ctx, wo, worker.ParentID); err != nil {
			return err
		}
	}

	if finalized {
		finishedCtx := context.WithoutCancel(ctx)
		snapshot := *wo
		go e.observer.OnWorkOrderFinished(finishedCtx, &snapshot, snapshot.ArgsHash())
	}
	return nil
}

// awakenWorker resumes the blocked head of a fully drained split group.
// The wake code is "ok" only when every sibling finished cleanly; the
// split step's transitions decide what either outcome means.
func (e *engineImpl) awakenWorker(ctx context.Context, wo *api.WorkOrder, parentID string) error {
	parent, err := e.store.Workers.GetWorker(ctx, wo.URI, parentID)
	if err != nil {
		return err
	}
	if parent.Status != api.StatusBlocked {
		e.logger.Warn("join group drained but parent is not blocked",
			"work_order", wo.URI, "parent", parentID, "status", string(parent.Status))
		return nil
	}

	code := api.WakeOK
	first, err := e.store.Workers.GetWorker(ctx, wo.URI, ChildName(parentID, 0))
	if err != nil {
		return err
	}
	for i := 0; i < first.SiblingCount; i++ {
		child, err := e.store.Workers.GetWorker(ctx, wo.URI, ChildName(parentID, i))
		if err != nil {
			return err
		}
		if child.Status != api.StatusFinished {
			code = api.WakeError
			break
		}
	}

	parent.WaitCount = 0
	wf, step, err := e.resolveStep(ctx, parent.CurrentStepURI())
	if err != nil {
		return e.failWorker(ctx, wo, parent, err)
	}
	return e.followTransition(ctx, wo, parent, wf, step, code)
}
