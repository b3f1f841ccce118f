package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tyrvik/weft/pkg/api"
)

func splitTargets(exe, prefix string) []string {
	raw := strings.Split(strings.TrimPrefix(exe, prefix), ",")
	targets := make([]string, 0, len(raw))
	for _, t := range raw {
		if t = strings.TrimSpace(t); t != "" {
			targets = append(targets, t)
		}
	}
	return targets
}

// buildChild creates a child worker positioned at stepURI. The child
// inherits the parent's execution context by value and the parent's
// current view overlay, so sibling writes never bleed into each other.
func buildChild(parent *api.Worker, id, stepURI string, pos, count int, parentID string) *api.Worker {
	var view map[string]string
	if f := parent.Top(); f != nil {
		view = cloneMap(f.View)
	}
	return &api.Worker{
		ID:           id,
		WorkOrderURI: parent.WorkOrderURI,
		Frames: []api.CallFrame{{
			StepURI: stepURI,
			View:    view,
		}},
		Status:         api.StatusReady,
		ParentID:       parentID,
		SiblingPos:     pos,
		SiblingCount:   count,
		Context:        cloneMap(parent.Context),
		EffectiveUser:  parent.EffectiveUser,
		CallingContext: parent.CallingContext,
		Priority:       parent.Priority,
		ActivityID:     parent.ActivityID,
	}
}

// publishSplitChildren blocks the parent and fans out one child per
// target, synchronized by a join countdown. Targets that do not resolve
// to a step are stillborn: persisted terminal ERROR, never published, and
// excluded from the wait count before anything is committed. Children are
// published only after every record is durable, so a consumer can never
// observe a child the countdown does not account for.
func (e *engineImpl) publishSplitChildren(ctx context.Context, wo *api.WorkOrder, worker *api.Worker, wf *api.Workflow, step api.Step, targets []string) error {
	if len(targets) == 0 {
		return fmt.Errorf("workflow %s step %q: split with no targets", wf.URI, step.Name)
	}

	var viable, stillborn []*api.Worker
	err := e.withLock(ctx, wo.URI, true, func(ctx context.Context) error {
		fresh, err := e.store.WorkOrders.GetWorkOrder(ctx, wo.URI)
		if err != nil {
			return err
		}
		*wo = *fresh

		for i, target := range targets {
			id := ChildName(worker.ID, i)
			child := buildChild(worker, id, wf.StepURI(target), i, len(targets), worker.ID)
			if _, ok := wf.FindStep(target); !ok {
				child.Status = api.StatusError
				child.Detail = step.Name
				child.ExceptionInfo = fmt.Sprintf("split target %q is not a step of %s", target, wf.URI)
				stillborn = append(stillborn, child)
				continue
			}
			viable = append(viable, child)
		}

		worker.Status = api.StatusBlocked
		worker.WaitCount = len(viable)
		if err := e.store.Workers.SaveWorker(ctx, worker); err != nil {
			return err
		}

		if len(viable) > 0 {
			cd := &api.JoinCountdown{
				WorkOrderURI: wo.URI,
				ParentID:     worker.ID,
				WaitCount:    len(viable),
			}
			if err := e.store.Countdowns.SaveCountdown(ctx, cd); err != nil {
				return err
			}
		}

		for _, child := range viable {
			wo.AddWorker(child.ID, true)
		}
		for _, child := range stillborn {
			wo.AddWorker(child.ID, false)
		}
		if err := e.store.WorkOrders.SaveWorkOrder(ctx, wo); err != nil {
			return err
		}

		for _, child := range append(viable, stillborn...) {
			if err := e.store.Workers.SaveWorker(ctx, child); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, child := range stillborn {
		e.observer.OnWorkerEvent(ctx, wo, child, api.SeverityError)
		e.logger.Warn("split child stillborn",
			"work_order", wo.URI, "child", child.ID, "reason", child.ExceptionInfo)
	}

	if len(viable) == 0 {
		// Nothing will ever count the parent down; resume it here with the
		// error wake code against the split step's transitions.
		return e.followTransition(ctx, wo, worker, wf, step, api.WakeError)
	}

	for _, child := range viable {
		tstep, _ := wf.FindStep(targets[child.SiblingPos])
		if err := e.publish(ctx, child, categoryFor(wf, tstep)); err != nil {
			return err
		}
	}
	return nil
}

// publishForkChildren fans out one independent child per target. Fork
// children have no parent link and no countdown; they count toward the
// work order's pending set like any other worker, and their ids are flat
// order-scoped sequence numbers rather than derived names.
func (e *engineImpl) publishForkChildren(ctx context.Context, wo *api.WorkOrder, worker *api.Worker, wf *api.Workflow, targets []string) error {
	if len(targets) == 0 {
		return fmt.Errorf("workflow %s: fork with no targets", wf.URI)
	}

	var viable, stillborn []*api.Worker
	err := e.withLock(ctx, wo.URI, true, func(ctx context.Context) error {
		fresh, err := e.store.WorkOrders.GetWorkOrder(ctx, wo.URI)
		if err != nil {
			return err
		}
		*wo = *fresh

		for i, target := range targets {
			id := strconv.Itoa(len(wo.WorkerIDs))
			child := buildChild(worker, id, wf.StepURI(target), i, len(targets), "")
			if _, ok := wf.FindStep(target); !ok {
				child.Status = api.StatusError
				child.ExceptionInfo = fmt.Sprintf("fork target %q is not a step of %s", target, wf.URI)
				stillborn = append(stillborn, child)
				wo.AddWorker(child.ID, false)
				continue
			}
			viable = append(viable, child)
			wo.AddWorker(child.ID, true)
		}

		if err := e.store.WorkOrders.SaveWorkOrder(ctx, wo); err != nil {
			return err
		}
		for _, child := range append(viable, stillborn...) {
			if err := e.store.Workers.SaveWorker(ctx, child); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, child := range stillborn {
		e.observer.OnWorkerEvent(ctx, wo, child, api.SeverityError)
		e.logger.Warn("fork child stillborn",
			"work_order", wo.URI, "child", child.ID, "reason", child.ExceptionInfo)
	}

	for _, child := range viable {
		tstep, _ := wf.FindStep(targets[child.SiblingPos])
		if err := e.publish(ctx, child, categoryFor(wf, tstep)); err != nil {
			return err
		}
	}
	return nil
}
