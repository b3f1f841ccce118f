package api

import (
	"fmt"
	"strings"
	"time"
)

// Reserved executable forms. A step whose Executable is one of these is
// handled by the engine itself instead of an external runtime.
const (
	FormSplitPrefix = "$SPLIT:"
	FormForkPrefix  = "$FORK:"
	FormJoin        = "$JOIN"
	FormReturn      = "$RETURN"
	FormFail        = "$FAIL"
	FormCancel      = "$CANCEL"
)

// FormReturnPrefix prefixes a parameterised return, e.g. "$RETURN:code".
// As an executable the suffix is a literal (or context variable) evaluated
// into the transition code; as a transition target the suffix names a
// context variable holding the code to resolve against the calling step.
const FormReturnPrefix = FormReturn + ":"

// Sentinel transition codes exchanged between the executor and executable
// dispatch. They never appear in workflow definitions.
const (
	// CodeSuspend tells the executor to park the worker (BLOCKED) until an
	// external actor republishes it.
	CodeSuspend = "$suspend"

	// CodeRepublished tells the executor that the worker has already been
	// re-enqueued (split dispatch, nested-workflow entry) and must not be
	// transitioned again.
	CodeRepublished = "$republished"

	// CodeJoin terminates the worker as FINISHED at this point. Returned by
	// the $JOIN executable at the end of a split branch.
	CodeJoin = "$join"
)

// Wake codes handed to the split step's transitions when all children of a
// join group have reached a terminal state.
const (
	WakeOK    = "ok"
	WakeError = "error"
)

// Transition maps a step's return code to the next step or terminal action.
// An empty Name matches any code (default transition). Target is either a
// step name in the same workflow or one of the reserved targets $RETURN,
// $RETURN:<var>, $FAIL, $CANCEL, $JOIN.
type Transition struct {
	Name   string `yaml:"name"`
	Target string `yaml:"target"`
}

// Step is one node of a workflow graph.
type Step struct {
	Name        string            `yaml:"name"`
	Executable  string            `yaml:"executable"`
	Transitions []Transition      `yaml:"transitions"`
	TimeLimit   time.Duration     `yaml:"timeLimit"`
	Category    string            `yaml:"category"`
	View        map[string]string `yaml:"view"`
}

// Workflow is an immutable workflow definition.
type Workflow struct {
	URI       string            `yaml:"uri"`
	Name      string            `yaml:"name"`
	StartStep string            `yaml:"start"`
	Category  string            `yaml:"category"`
	Steps     []Step            `yaml:"steps"`
	View      map[string]string `yaml:"view"`
}

// FindStep returns the step with the given name.
func (w *Workflow) FindStep(name string) (Step, bool) {
	for _, s := range w.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// StepURI returns the fully qualified URI of a step in this workflow.
func (w *Workflow) StepURI(name string) string {
	return JoinStepURI(w.URI, name)
}

// Validate checks the definition for the errors the engine would otherwise
// only hit at execution time.
func (w *Workflow) Validate() error {
	if w.URI == "" {
		return fmt.Errorf("workflow URI is required")
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %s: at least one step is required", w.URI)
	}
	if w.StartStep == "" {
		return fmt.Errorf("workflow %s: start step is required", w.URI)
	}
	if _, ok := w.FindStep(w.StartStep); !ok {
		return fmt.Errorf("workflow %s: start step %q not defined", w.URI, w.StartStep)
	}
	seen := make(map[string]bool, len(w.Steps))
	for _, s := range w.Steps {
		if s.Name == "" {
			return fmt.Errorf("workflow %s: step with empty name", w.URI)
		}
		if seen[s.Name] {
			return fmt.Errorf("workflow %s: duplicate step %q", w.URI, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// JoinStepURI builds a step URI from a workflow URI and a step name.
func JoinStepURI(workflowURI, stepName string) string {
	return workflowURI + "#" + stepName
}

// SplitStepURI splits a step URI back into workflow URI and step name.
func SplitStepURI(stepURI string) (workflowURI, stepName string, err error) {
	wf, step, ok := strings.Cut(stepURI, "#")
	if !ok || wf == "" || step == "" {
		return "", "", fmt.Errorf("malformed step URI: %q", stepURI)
	}
	return wf, step, nil
}
