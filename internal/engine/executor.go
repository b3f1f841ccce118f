package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tyrvik/weft/pkg/api"
)

// Nested-workflow executables are step URIs in another workflow:
// "wf:billing" or "wf:billing#reconcile". The scheme doubles as the
// workflow-URI scheme, so the executable is the target URI itself.
const (
	nestedScheme     = "wf"
	nestedSchemeLong = "workflow"
)

// ExecuteStep runs the step on top of the worker's call stack to
// completion. It is invoked by the dispatch consumer that picked the
// published worker up; all progress is persisted before the call returns,
// so a crash between steps loses at most one step's work.
func (e *engineImpl) ExecuteStep(ctx context.Context, workOrderURI, workerID string) error {
	wo, err := e.store.WorkOrders.GetWorkOrder(ctx, workOrderURI)
	if err != nil {
		return err
	}
	worker, err := e.store.Workers.GetWorker(ctx, workOrderURI, workerID)
	if err != nil {
		return err
	}

	if worker.Status.Terminal() {
		return fmt.Errorf("worker %s is terminal (%s)", worker.URI(), worker.Status)
	}
	frame := worker.Top()
	if frame == nil {
		return fmt.Errorf("worker %s has an empty call stack", worker.URI())
	}

	// Cooperative cancellation: a cancel requested before this step was
	// picked up stops the worker here, before anything runs.
	if wo.CancelRequested {
		return e.markFinished(ctx, wo, worker, api.StatusCancelled, nil)
	}

	worker.Status = api.StatusRunning
	if err := e.store.Workers.SaveWorker(ctx, worker); err != nil {
		return err
	}
	if err := e.refreshStatus(ctx, wo, worker); err != nil {
		return err
	}

	wf, step, err := e.resolveStep(ctx, frame.StepURI)
	if err != nil {
		// Unresolvable step: definition error, fatal for the worker.
		return e.failWorker(ctx, wo, worker, err)
	}

	// Pre-step: apply the step's view overlay and open the step record.
	applyOverlay(frame, step.View)
	rec := &api.StepRecord{
		ID:           uuid.NewString(),
		WorkOrderURI: wo.URI,
		WorkerID:     worker.ID,
		StepName:     step.Name,
		StepURI:      frame.StepURI,
		Status:       api.StatusActive,
		StartTime:    time.Now(),
		Host:         e.host,
	}
	if err := e.store.Workers.SaveWorker(ctx, worker); err != nil {
		return err
	}
	if err := e.store.Records.SaveStepRecord(ctx, rec); err != nil {
		return err
	}
	e.observer.OnStepStart(ctx, wo, worker, step.Name)

	// Run. Nothing propagates out of this step without being recorded
	// against the worker first.
	code, runErr := e.runExecutable(ctx, wo, worker, wf, step, rec)

	// Post-step: always attempted, even on error.
	rec.EndTime = time.Now()
	rec.ReturnCode = code
	rec.Status = api.StatusFinished
	if runErr != nil {
		rec.Status = api.StatusError
		rec.Error = runErr.Error()
	} else if !sentinelCode(code) && resolveTransition(step, code).Target == api.FormFail {
		rec.Status = api.StatusError
	}
	if err := e.store.Records.SaveStepRecord(ctx, rec); err != nil && runErr == nil {
		runErr = fmt.Errorf("finish step record: %w", err)
	}
	e.observer.OnStepCompleted(ctx, wo, worker, step.Name, runErr, rec.EndTime.Sub(rec.StartTime))

	// Persist any context/view changes the executable made. A republished
	// worker was already saved before its re-enqueue (blocked split head,
	// or the pushed nested frame); saving this copy again could overwrite
	// progress a consumer has made in the meantime.
	if code != api.CodeRepublished {
		if err := e.store.Workers.SaveWorker(ctx, worker); err != nil && runErr == nil {
			runErr = fmt.Errorf("persist worker after step: %w", err)
		}
	}

	if runErr != nil {
		worker.Detail = step.Name
		worker.ExceptionInfo = runErr.Error()
		if ferr := e.markFinished(ctx, wo, worker, api.StatusError, runErr); ferr != nil {
			return errors.Join(runErr, ferr)
		}
		return runErr
	}

	// Cancellation checkpoint: cooperative, once per step boundary. A step
	// already in flight always ran to completion above.
	if fresh, err := e.store.WorkOrders.GetWorkOrder(ctx, wo.URI); err == nil {
		wo = fresh
	} else {
		e.logger.Warn("cancel check could not reload work order",
			"workOrder", wo.URI, "error", err)
	}
	if wo.CancelRequested {
		return e.markFinished(ctx, wo, worker, api.StatusCancelled, nil)
	}

	switch code {
	case api.CodeRepublished:
		// Split dispatch or nested-workflow entry already re-enqueued the
		// worker; transitioning it again would double-run the step.
		return nil
	case api.CodeSuspend:
		worker.Status = api.StatusBlocked
		return e.store.Workers.SaveWorker(ctx, worker)
	case api.CodeJoin:
		return e.markFinished(ctx, wo, worker, api.StatusFinished, nil)
	default:
		return e.followTransition(ctx, wo, worker, wf, step, code)
	}
}

func sentinelCode(code string) bool {
	return code == api.CodeSuspend || code == api.CodeRepublished || code == api.CodeJoin
}

func applyOverlay(frame *api.CallFrame, overlay map[string]string) {
	if len(overlay) == 0 {
		return
	}
	if frame.View == nil {
		frame.View = make(map[string]string, len(overlay))
	}
	for k, v := range overlay {
		frame.View[k] = v
	}
}

// runExecutable dispatches on the step executable's special form or
// scheme and returns the transition code.
func (e *engineImpl) runExecutable(ctx context.Context, wo *api.WorkOrder, worker *api.Worker, wf *api.Workflow, step api.Step, rec *api.StepRecord) (string, error) {
	exe := step.Executable

	switch {
	case strings.HasPrefix(exe, api.FormSplitPrefix):
		targets := splitTargets(exe, api.FormSplitPrefix)
		return api.CodeRepublished, e.publishSplitChildren(ctx, wo, worker, wf, step, targets)
	case strings.HasPrefix(exe, api.FormForkPrefix):
		targets := splitTargets(exe, api.FormForkPrefix)
		// Fork children run independently; the parent continues on its
		// normal (default) transition.
		return "", e.publishForkChildren(ctx, wo, worker, wf, targets)
	case exe == api.FormJoin:
		return api.CodeJoin, nil
	case exe == api.FormReturn:
		return "", nil
	case strings.HasPrefix(exe, api.FormReturnPrefix):
		lit := strings.TrimPrefix(exe, api.FormReturnPrefix)
		if v, ok := worker.Context[lit]; ok {
			return v, nil
		}
		return lit, nil
	}

	scheme, _, ok := strings.Cut(exe, ":")
	if !ok {
		e.logger.Warn("executable has no scheme, suspending worker",
			"executable", exe, "worker", worker.URI())
		return api.CodeSuspend, nil
	}
	if scheme == nestedScheme || scheme == nestedSchemeLong {
		return api.CodeRepublished, e.enterNested(ctx, worker, exe)
	}

	rt, ok := e.runtimes.Lookup(scheme)
	if !ok {
		e.logger.Warn("no runtime registered for scheme, suspending worker",
			"scheme", scheme, "worker", worker.URI())
		return api.CodeSuspend, nil
	}

	if worker.Context == nil {
		worker.Context = make(map[string]string)
	}
	ec := api.ExecContext{
		WorkOrderURI: wo.URI,
		WorkerURI:    worker.URI(),
		WorkerID:     worker.ID,
		AuditLogURI:  wo.URI + "/audit",
		StepName:     step.Name,
		StepStart:    rec.StartTime,
		Vars:         worker.Context,
	}

	runCtx := ctx
	if step.TimeLimit > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, step.TimeLimit)
		defer cancel()
	}
	return rt.Run(runCtx, step, ec)
}

// enterNested pushes a call frame for a nested-workflow executable and
// republishes the worker at the nested start step. The frame left behind
// on the stack is the return address.
func (e *engineImpl) enterNested(ctx context.Context, worker *api.Worker, exe string) error {
	wfURI, stepName, _ := strings.Cut(exe, "#")
	nested, err := e.store.Workflows.GetWorkflow(ctx, wfURI)
	if err != nil {
		return fmt.Errorf("nested workflow %s: %w", wfURI, err)
	}
	if stepName == "" {
		stepName = nested.StartStep
	}
	start, ok := nested.FindStep(stepName)
	if !ok {
		return fmt.Errorf("nested workflow %s has no step %q", wfURI, stepName)
	}

	worker.PushFrame(api.CallFrame{
		StepURI:       nested.StepURI(stepName),
		View:          cloneMap(nested.View),
		AppStatusName: nested.Name,
	})
	worker.Status = api.StatusReady
	if err := e.store.Workers.SaveWorker(ctx, worker); err != nil {
		return err
	}
	return e.publish(ctx, worker, categoryFor(&nested, start))
}
