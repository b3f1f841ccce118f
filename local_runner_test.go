package weft

import (
	"context"
	"sync"
	"testing"
	"time"
)

// recordingRuntime remembers which steps ran, in a goroutine-safe way
// since LocalRunner drives steps from worker goroutines.
type recordingRuntime struct {
	mu    sync.Mutex
	steps []string
	codes map[string]string
}

func (r *recordingRuntime) Run(ctx context.Context, step Step, ec ExecContext) (string, error) {
	r.mu.Lock()
	r.steps = append(r.steps, step.Name)
	r.mu.Unlock()
	if c, ok := r.codes[step.Name]; ok {
		return c, nil
	}
	return "ok", nil
}

func (r *recordingRuntime) ran(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.steps {
		if s == name {
			return true
		}
	}
	return false
}

func TestLocalRunnerRunsWorkOrderEndToEnd(t *testing.T) {
	ctx := context.Background()
	rt := &recordingRuntime{codes: map[string]string{"charge": "ok"}}
	lr := NewLocalRunner(WithRuntime("test", rt))

	Define("wf:payment", "payment").
		Step("charge", "test:charge",
			On("ok", "fan"),
			Else(Fail)).
		Split("fan", []string{"ship", "bill"},
			On(WakeOK, "close"),
			On(WakeError, Fail)).
		Step("ship", "test:ship").
		Step("bill", "test:bill").
		Step("close", "test:close").
		MustRegister(ctx, lr.Engine)

	if err := lr.StartWorkers(ctx, 2); err != nil {
		t.Fatalf("StartWorkers failed: %v", err)
	}
	defer lr.Stop()

	wo, err := Start(ctx, lr.Engine, "wf:payment", map[string]string{"amount": "10"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	final, err := lr.WaitFinalized(ctx, wo.URI, 5*time.Second)
	if err != nil {
		t.Fatalf("work order did not finish: %v (status %s)", err, final.Status)
	}
	if final.Status != StatusFinished {
		t.Fatalf("expected FINISHED, got %s", final.Status)
	}
	for _, step := range []string{"charge", "ship", "bill", "close"} {
		if !rt.ran(step) {
			t.Fatalf("step %q never ran; ran: %v", step, rt.steps)
		}
	}
	if len(final.WorkerIDs) != 3 {
		t.Fatalf("expected root plus two split children, got %v", final.WorkerIDs)
	}
}

func TestLocalRunnerDoubleStartFails(t *testing.T) {
	ctx := context.Background()
	lr := NewLocalRunner()

	if err := lr.StartWorkers(ctx, 1); err != nil {
		t.Fatalf("StartWorkers failed: %v", err)
	}
	defer lr.Stop()

	if err := lr.StartWorkers(ctx, 1); err == nil {
		t.Fatalf("expected second StartWorkers to fail")
	}
}

func TestLocalRunnerStopIsIdempotent(t *testing.T) {
	lr := NewLocalRunner()
	lr.Stop()

	if err := lr.StartWorkers(context.Background(), 1); err != nil {
		t.Fatalf("StartWorkers after no-op Stop failed: %v", err)
	}
	lr.Stop()
	lr.Stop()
}
