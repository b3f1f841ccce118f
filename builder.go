package weft

import (
	"context"
	"fmt"
	"strings"

	"github.com/tyrvik/weft/pkg/api"
)

// FlowBuilder provides a fluent API for defining workflows:
//
//	flow := weft.Define("wf:payment", "payment").
//	    Step("charge", "script:charge.sh",
//	        weft.On("ok", "fanout"),
//	        weft.Else(weft.Fail)).
//	    Split("fanout", []string{"ship", "bill"},
//	        weft.On(weft.WakeOK, "close"),
//	        weft.On(weft.WakeError, weft.Fail)).
//	    Step("ship", "script:ship.sh").
//	    Step("bill", "script:bill.sh").
//	    Step("close", "script:close.sh")
//
//	if err := flow.Register(ctx, engine); err != nil {
//	    log.Fatal(err)
//	}
//
// The first step added becomes the start step unless Start overrides it.
// A step without transitions on the $SPLIT/$FORK branch tail implicitly
// returns, which inside a split means the branch rejoins its group.
type FlowBuilder struct {
	def api.Workflow
}

// Define creates a new workflow builder for the given URI.
func Define(uri, name string) *FlowBuilder {
	return &FlowBuilder{
		def: api.Workflow{
			URI:   uri,
			Name:  name,
			Steps: make([]api.Step, 0),
		},
	}
}

// On builds a transition matching one return code.
func On(code, target string) Transition {
	return Transition{Name: code, Target: target}
}

// Else builds a default transition, matched when no named one is.
func Else(target string) Transition {
	return Transition{Target: target}
}

// URI returns the workflow URI.
func (b *FlowBuilder) URI() string {
	return b.def.URI
}

// Definition returns the underlying Workflow.
// Typically used when interacting with lower-level APIs.
func (b *FlowBuilder) Definition() Workflow {
	return b.def
}

// Start overrides the workflow's start step.
func (b *FlowBuilder) Start(step string) *FlowBuilder {
	b.def.StartStep = step
	return b
}

// Category sets the workflow's default routing category.
func (b *FlowBuilder) Category(category string) *FlowBuilder {
	b.def.Category = category
	return b
}

// View sets a workflow-level view variable, visible to every worker.
func (b *FlowBuilder) View(key, value string) *FlowBuilder {
	if b.def.View == nil {
		b.def.View = make(map[string]string)
	}
	b.def.View[key] = value
	return b
}

// Step appends a step to the workflow.
func (b *FlowBuilder) Step(name, executable string, transitions ...Transition) *FlowBuilder {
	if name == "" {
		panic("weft: step name must not be empty")
	}
	if executable == "" {
		panic(fmt.Sprintf("weft: step %q has no executable", name))
	}

	b.def.Steps = append(b.def.Steps, api.Step{
		Name:        name,
		Executable:  executable,
		Transitions: transitions,
	})
	if b.def.StartStep == "" {
		b.def.StartStep = name
	}
	return b
}

// Split appends a synchronized fan-out step. The worker blocks until
// every target branch reaches a terminal state, then resumes through the
// given transitions with code "ok" or "error".
func (b *FlowBuilder) Split(name string, targets []string, transitions ...Transition) *FlowBuilder {
	if len(targets) == 0 {
		panic(fmt.Sprintf("weft: split %q has no targets", name))
	}
	return b.Step(name, api.FormSplitPrefix+strings.Join(targets, ","), transitions...)
}

// Fork appends an unsynchronized fan-out step. Target branches run as
// independent workers and the forking worker continues immediately.
func (b *FlowBuilder) Fork(name string, targets []string, transitions ...Transition) *FlowBuilder {
	if len(targets) == 0 {
		panic(fmt.Sprintf("weft: fork %q has no targets", name))
	}
	return b.Step(name, api.FormForkPrefix+strings.Join(targets, ","), transitions...)
}

// Join appends a branch terminator: the worker reaching it finishes and
// counts its split group down.
func (b *FlowBuilder) Join(name string) *FlowBuilder {
	return b.Step(name, api.FormJoin)
}

// Register validates the definition and registers it with the engine.
func (b *FlowBuilder) Register(ctx context.Context, eng Engine) error {
	return eng.RegisterWorkflow(ctx, b.def)
}

// MustRegister is Register, panicking on error. Intended for program
// start-up where a bad definition is fatal anyway.
func (b *FlowBuilder) MustRegister(ctx context.Context, eng Engine) {
	if err := b.Register(ctx, eng); err != nil {
		panic(fmt.Sprintf("weft: register %s: %v", b.def.URI, err))
	}
}
