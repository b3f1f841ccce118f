// Package weft is an embeddable, message-driven work-order execution
// engine for Go.
//
// Weft runs workflow definitions as durable work orders: every step of
// every worker is persisted before and after it executes, so a process
// crash between steps loses at most the step in flight. Execution is
// driven by a dispatch queue rather than in-process goroutine state,
// which lets any node of a deployment pick up any runnable worker.
//
// # Core Concepts
//
//  1. Workflow - an immutable definition: named steps, their executables
//     and the transitions between them.
//  2. WorkOrder - one running instance of a workflow.
//  3. Worker - one thread of control within a work order, carrying a call
//     stack of the nested workflows it has entered.
//  4. Engine - registers definitions, starts orders, executes steps and
//     performs the shared bookkeeping under a work-order lock.
//  5. Runner - consumes published workers from the dispatch queue and
//     drives them through the engine.
//
// # Parallelism
//
// A step whose executable is "$SPLIT:a,b" blocks its worker and fans out
// one child worker per target; the parent resumes when every child has
// reached a terminal state, through its "ok" or "error" transition.
// "$FORK:a,b" fans out without synchronization. "$JOIN" ends a branch.
//
// # Backends
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//
// Each backend includes a matching dispatch queue implementation, and the
// Redis backend adds a distributed lock so multiple nodes can share one
// set of work orders.
//
// # Getting Started
//
//	lr := weft.NewLocalRunner(
//	    weft.WithRuntime("script", myScriptRuntime),
//	)
//	weft.Define("wf:greet", "greet").
//	    Step("hello", "script:hello",
//	        weft.On("ok", "bye"),
//	        weft.Else(weft.Fail)).
//	    Step("bye", "script:bye").
//	    MustRegister(ctx, lr.Engine)
//
//	_ = lr.StartWorkers(ctx, 2)
//	defer lr.Stop()
//
//	wo, err := weft.Start(ctx, lr.Engine, "wf:greet", map[string]string{"who": "world"})
package weft
