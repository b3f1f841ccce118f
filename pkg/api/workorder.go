package api

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"
)

// Status is the lifecycle state of a worker, a work order, or a step record.
type Status string

const (
	StatusReady     Status = "READY"
	StatusRunning   Status = "RUNNING"
	StatusBlocked   Status = "BLOCKED"
	StatusFinished  Status = "FINISHED"
	StatusError     Status = "ERROR"
	StatusCancelled Status = "CANCELLED"

	// StatusActive is used by step records while the step is in flight.
	StatusActive Status = "ACTIVE"
)

// Terminal reports whether no further steps will ever run for this status.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusError || s == StatusCancelled
}

// Severity classifies worker status events for external sinks.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// SeverityFor maps a worker status to an event severity.
func SeverityFor(s Status) Severity {
	switch s {
	case StatusError:
		return SeverityError
	case StatusBlocked:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// CallFrame is one entry of a worker's call stack. Entering a nested
// workflow pushes a frame; returning pops it. Keeping the view overlay and
// app-status name on the frame makes the push/pop pairing structural
// instead of convention across three parallel stacks.
type CallFrame struct {
	StepURI       string
	View          map[string]string
	AppStatusName string
}

// Worker is one thread of control within a work order.
type Worker struct {
	ID           string
	WorkOrderURI string

	// Frames is the call stack; the last element is the step currently
	// executing, deeper entries are return addresses left behind by
	// nested-workflow calls.
	Frames []CallFrame

	Status Status

	// ParentID is set for split children; it names the blocked worker that
	// waits on this child's join group.
	ParentID     string
	SiblingPos   int
	SiblingCount int

	// WaitCount is the number of split children this worker still waits on
	// while it is the blocked head of a split group.
	WaitCount int

	// Context holds the worker's execution context variables. Output is the
	// ephemeral output document merged into the work order on completion.
	Context map[string]string
	Output  map[string]string

	EffectiveUser  string
	CallingContext string
	Priority       int
	ActivityID     string

	// Detail and ExceptionInfo are set once the worker reaches a terminal
	// failure state.
	Detail        string
	ExceptionInfo string
}

// URI returns the worker's persistent identifier.
func (w *Worker) URI() string {
	return w.WorkOrderURI + "/" + w.ID
}

// CurrentStepURI returns the step URI on top of the call stack, or "" if
// the stack is empty.
func (w *Worker) CurrentStepURI() string {
	if len(w.Frames) == 0 {
		return ""
	}
	return w.Frames[len(w.Frames)-1].StepURI
}

// Top returns a pointer to the top call frame, or nil for an empty stack.
func (w *Worker) Top() *CallFrame {
	if len(w.Frames) == 0 {
		return nil
	}
	return &w.Frames[len(w.Frames)-1]
}

// PushFrame pushes a call frame for a nested-workflow entry.
func (w *Worker) PushFrame(f CallFrame) {
	w.Frames = append(w.Frames, f)
}

// PopFrame removes the top call frame. It is a no-op on an empty stack.
func (w *Worker) PopFrame() {
	if len(w.Frames) > 0 {
		w.Frames = w.Frames[:len(w.Frames)-1]
	}
}

// WorkOrder is one running instance of a workflow definition.
type WorkOrder struct {
	URI         string
	WorkflowURI string

	// WorkerIDs is every worker ever created for this order; PendingIDs is
	// the subset that has not yet reached a terminal state.
	WorkerIDs  []string
	PendingIDs []string

	Status    Status
	StartTime time.Time

	// EndTime is zero until the order is finalized, and is set exactly once.
	EndTime time.Time

	// Args are the starting parameters; they feed the initial-arguments
	// hash used to correlate metrics across runs of the same logical job.
	Args map[string]string

	// Output collects the final output documents of completed workers.
	Output map[string]string

	// CancelRequested is the cooperative cancellation flag checked at step
	// boundaries.
	CancelRequested bool
}

// HasWorker reports whether id is registered on this order.
func (o *WorkOrder) HasWorker(id string) bool {
	for _, w := range o.WorkerIDs {
		if w == id {
			return true
		}
	}
	return false
}

// AddWorker registers a worker id, optionally as pending.
func (o *WorkOrder) AddWorker(id string, pending bool) {
	if !o.HasWorker(id) {
		o.WorkerIDs = append(o.WorkerIDs, id)
	}
	if pending && !o.IsPending(id) {
		o.PendingIDs = append(o.PendingIDs, id)
	}
}

// IsPending reports whether id is still pending on this order.
func (o *WorkOrder) IsPending(id string) bool {
	for _, w := range o.PendingIDs {
		if w == id {
			return true
		}
	}
	return false
}

// RemovePending removes id from the pending set.
func (o *WorkOrder) RemovePending(id string) {
	for i, w := range o.PendingIDs {
		if w == id {
			o.PendingIDs = append(o.PendingIDs[:i], o.PendingIDs[i+1:]...)
			return
		}
	}
}

// Finalized reports whether the order's end time has been set.
func (o *WorkOrder) Finalized() bool {
	return !o.EndTime.IsZero()
}

// ArgsHash returns a stable digest of the order's starting parameters.
// Timestamps never participate, so repeated runs of the same logical job
// hash identically.
func (o *WorkOrder) ArgsHash() string {
	keys := make([]string, 0, len(o.Args))
	for k := range o.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(o.WorkflowURI))
	for _, k := range keys {
		h.Write([]byte("\x00" + k + "=" + o.Args[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// StepRecord is the persisted execution history of a single step run.
type StepRecord struct {
	ID           string
	WorkOrderURI string
	WorkerID     string
	StepName     string
	StepURI      string
	Status       Status
	StartTime    time.Time
	EndTime      time.Time
	Host         string
	ReturnCode   string
	Error        string
}

// JoinCountdown tracks how many children of a split group must still reach
// a terminal state before the parent worker resumes. At most one countdown
// exists per outstanding split group.
type JoinCountdown struct {
	WorkOrderURI string
	ParentID     string
	WaitCount    int
}
