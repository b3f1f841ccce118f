package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging, auditing and
// metrics. Implementations should be fast and non-blocking; heavy work
// should be done asynchronously so as not to delay step execution.
type Observer interface {
	// OnWorkOrderStart is called once when a work order is created, before
	// its root worker is published.
	OnWorkOrderStart(ctx context.Context, wo *WorkOrder)

	// OnWorkOrderFinished is called once when the work order's end time is
	// set. argsHash is the initial-arguments hash correlating metrics
	// across repeated runs of the same logical job. The engine invokes it
	// asynchronously.
	OnWorkOrderFinished(ctx context.Context, wo *WorkOrder, argsHash string)

	// OnStepStart is called before a step's executable is dispatched.
	OnStepStart(ctx context.Context, wo *WorkOrder, worker *Worker, stepName string)

	// OnStepCompleted is called after a step's executable returns, for both
	// successes and failures (err != nil).
	OnStepCompleted(ctx context.Context, wo *WorkOrder, worker *Worker, stepName string, err error, duration time.Duration)

	// OnWorkerEvent is the status-update event fired after a worker reaches
	// a terminal state, keyed by severity.
	OnWorkerEvent(ctx context.Context, wo *WorkOrder, worker *Worker, sev Severity)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnWorkOrderStart(ctx context.Context, wo *WorkOrder)                     {}
func (NoopObserver) OnWorkOrderFinished(ctx context.Context, wo *WorkOrder, argsHash string) {}
func (NoopObserver) OnStepStart(ctx context.Context, wo *WorkOrder, w *Worker, stepName string) {
}
func (NoopObserver) OnStepCompleted(ctx context.Context, wo *WorkOrder, w *Worker, stepName string, err error, d time.Duration) {
}
func (NoopObserver) OnWorkerEvent(ctx context.Context, wo *WorkOrder, w *Worker, sev Severity) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnWorkOrderStart(ctx context.Context, wo *WorkOrder) {
	for _, o := range c.observers {
		o.OnWorkOrderStart(ctx, wo)
	}
}

func (c *CompositeObserver) OnWorkOrderFinished(ctx context.Context, wo *WorkOrder, argsHash string) {
	for _, o := range c.observers {
		o.OnWorkOrderFinished(ctx, wo, argsHash)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, wo *WorkOrder, w *Worker, stepName string) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, wo, w, stepName)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, wo *WorkOrder, w *Worker, stepName string, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, wo, w, stepName, err, d)
	}
}

func (c *CompositeObserver) OnWorkerEvent(ctx context.Context, wo *WorkOrder, w *Worker, sev Severity) {
	for _, o := range c.observers {
		o.OnWorkerEvent(ctx, wo, w, sev)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs work-order / step
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnWorkOrderStart(ctx context.Context, wo *WorkOrder) {
	o.Logger.InfoContext(ctx, "work_order_start",
		slog.String("work_order", wo.URI),
		slog.String("workflow", wo.WorkflowURI),
	)
}

func (o *LoggingObserver) OnWorkOrderFinished(ctx context.Context, wo *WorkOrder, argsHash string) {
	o.Logger.InfoContext(ctx, "work_order_finished",
		slog.String("work_order", wo.URI),
		slog.String("status", string(wo.Status)),
		slog.String("args_hash", argsHash),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, wo *WorkOrder, w *Worker, stepName string) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("work_order", wo.URI),
		slog.String("worker", w.ID),
		slog.String("step", stepName),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, wo *WorkOrder, w *Worker, stepName string, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("work_order", wo.URI),
		slog.String("worker", w.ID),
		slog.String("step", stepName),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnWorkerEvent(ctx context.Context, wo *WorkOrder, w *Worker, sev Severity) {
	level := slog.LevelInfo
	switch sev {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityError:
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "worker_event",
		slog.String("work_order", wo.URI),
		slog.String("worker", w.ID),
		slog.String("status", string(w.Status)),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	ordersStarted  atomic.Int64
	ordersFinished atomic.Int64
	workersFailed  atomic.Int64
	stepsCompleted atomic.Int64
	totalStepNanos atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	WorkOrdersStarted  int64
	WorkOrdersFinished int64
	WorkOrdersPending  int64
	WorkersFailed      int64

	StepsCompleted  int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnWorkOrderStart(ctx context.Context, wo *WorkOrder) {
	m.ordersStarted.Add(1)
}

func (m *BasicMetrics) OnWorkOrderFinished(ctx context.Context, wo *WorkOrder, argsHash string) {
	m.ordersFinished.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, wo *WorkOrder, w *Worker, stepName string, err error, d time.Duration) {
	// Only count successful steps for average duration.
	if err == nil {
		m.stepsCompleted.Add(1)
		m.totalStepNanos.Add(d.Nanoseconds())
	}
}

func (m *BasicMetrics) OnWorkerEvent(ctx context.Context, wo *WorkOrder, w *Worker, sev Severity) {
	if sev == SeverityError {
		m.workersFailed.Add(1)
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.ordersStarted.Load()
	finished := m.ordersFinished.Load()
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepNanos.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		WorkOrdersStarted:  started,
		WorkOrdersFinished: finished,
		WorkOrdersPending:  started - finished,
		WorkersFailed:      m.workersFailed.Load(),
		StepsCompleted:     steps,
		AvgStepDuration:    avg,
	}
}
