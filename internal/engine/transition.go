package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tyrvik/weft/pkg/api"
)

// implicitReturn is the open-world default: an unrecognized return code
// never fails a step by itself, it falls through to the step's caller.
var implicitReturn = api.Transition{Name: "", Target: api.FormReturn}

// resolveTransition finds the transition matching a step's return code.
// Transitions are scanned in declaration order: an exact name match wins
// immediately; the first transition with an empty name is remembered as
// the default and used only if no exact match exists. A step with no
// transitions, or no match at all, yields the implicit $RETURN.
func resolveTransition(step api.Step, code string) api.Transition {
	if len(step.Transitions) == 0 {
		return implicitReturn
	}
	var def *api.Transition
	for i := range step.Transitions {
		t := &step.Transitions[i]
		if t.Name == code {
			return *t
		}
		if t.Name == "" && def == nil {
			def = t
		}
	}
	if def != nil {
		return *def
	}
	return implicitReturn
}

// followTransition acts on the transition a step's return code resolves
// to: advance to the named step, pop the call stack on $RETURN, or drive
// the worker to a terminal state.
func (e *engineImpl) followTransition(ctx context.Context, wo *api.WorkOrder, worker *api.Worker, wf *api.Workflow, step api.Step, code string) error {
	t := resolveTransition(step, code)

	// A declared transition with no target is a configuration error, not a
	// silent no-op.
	if t.Target == "" {
		err := fmt.Errorf("workflow %s step %q: transition %q has no target", wf.URI, step.Name, t.Name)
		return e.failWorker(ctx, wo, worker, err)
	}

	switch {
	case strings.HasPrefix(t.Target, api.FormReturn):
		return e.handleReturn(ctx, wo, worker, t.Target, code)
	case t.Target == api.FormFail:
		worker.Detail = step.Name
		return e.markFinished(ctx, wo, worker, api.StatusError,
			fmt.Errorf("step %q routed to %s", step.Name, api.FormFail))
	case t.Target == api.FormCancel:
		return e.markFinished(ctx, wo, worker, api.StatusCancelled, nil)
	case t.Target == api.FormJoin:
		return e.markFinished(ctx, wo, worker, api.StatusFinished, nil)
	default:
		next, ok := wf.FindStep(t.Target)
		if !ok {
			err := fmt.Errorf("workflow %s: transition %q targets unknown step %q", wf.URI, t.Name, t.Target)
			return e.failWorker(ctx, wo, worker, err)
		}
		// In-workflow advance rewrites the top frame in place; only
		// nested-workflow entry and return change the stack depth.
		worker.Top().StepURI = wf.StepURI(t.Target)
		worker.Status = api.StatusReady
		if err := e.store.Workers.SaveWorker(ctx, worker); err != nil {
			return err
		}
		return e.publish(ctx, worker, categoryFor(wf, next))
	}
}

// handleReturn pops the call stack. An empty stack afterwards is the
// top-level return: the worker finished successfully. Otherwise the caller
// step becomes current and transition handling continues against it. A
// bare $RETURN carries the in-flight code up the stack, so a code no step
// in a nested workflow handles keeps bubbling until some caller does; a
// $RETURN:<var> target replaces it with a value from the worker's
// execution context.
func (e *engineImpl) handleReturn(ctx context.Context, wo *api.WorkOrder, worker *api.Worker, target, code string) error {
	if v, ok := strings.CutPrefix(target, api.FormReturnPrefix); ok {
		code = worker.Context[v]
	}

	worker.PopFrame()
	if len(worker.Frames) == 0 {
		return e.markFinished(ctx, wo, worker, api.StatusFinished, nil)
	}

	wf, step, err := e.resolveStep(ctx, worker.CurrentStepURI())
	if err != nil {
		return e.failWorker(ctx, wo, worker, err)
	}
	return e.followTransition(ctx, wo, worker, wf, step, code)
}

// failWorker terminates the worker as ERROR for a definition error and
// re-raises the cause after bookkeeping completes.
func (e *engineImpl) failWorker(ctx context.Context, wo *api.WorkOrder, worker *api.Worker, cause error) error {
	if ferr := e.markFinished(ctx, wo, worker, api.StatusError, cause); ferr != nil {
		return errors.Join(cause, ferr)
	}
	return cause
}
