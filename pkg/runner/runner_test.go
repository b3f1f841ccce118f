package runner

import (
	"context"
	"testing"
	"time"

	"github.com/tyrvik/weft/internal/dispatch"
	"github.com/tyrvik/weft/internal/engine"
	"github.com/tyrvik/weft/pkg/api"
)

func TestProcessOneDrivesOneStep(t *testing.T) {
	ctx := context.Background()

	q := dispatch.NewInMemoryQueue(0)
	eng := engine.NewInMemoryEngine(q, func(cfg *engine.Config) {
		reg := engine.NewRuntimeRegistry()
		reg.Register("test", api.RuntimeFunc(func(ctx context.Context, step api.Step, ec api.ExecContext) (string, error) {
			return "ok", nil
		}))
		cfg.Runtimes = reg
	})

	err := eng.RegisterWorkflow(ctx, api.Workflow{
		URI:       "wf:two",
		Name:      "two",
		StartStep: "a",
		Steps: []api.Step{
			{Name: "a", Executable: "test:a", Transitions: []api.Transition{{Name: "ok", Target: "b"}}},
			{Name: "b", Executable: "test:b"},
		},
	})
	if err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	wo, err := eng.StartWorkOrder(ctx, "wf:two", nil)
	if err != nil {
		t.Fatalf("StartWorkOrder failed: %v", err)
	}

	r := New(eng, q, "")
	for i := 0; i < 2; i++ {
		dctx, cancel := context.WithTimeout(ctx, time.Second)
		processed, err := r.ProcessOne(dctx)
		cancel()
		if err != nil {
			t.Fatalf("ProcessOne %d failed: %v", i, err)
		}
		if !processed {
			t.Fatalf("ProcessOne %d processed nothing", i)
		}
	}

	got, err := eng.GetWorkOrder(ctx, wo.URI)
	if err != nil {
		t.Fatalf("GetWorkOrder failed: %v", err)
	}
	if got.Status != api.StatusFinished {
		t.Fatalf("expected FINISHED after two steps, got %s", got.Status)
	}
}

func TestProcessOneReturnsOnCancelledContext(t *testing.T) {
	q := dispatch.NewInMemoryQueue(0)
	eng := engine.NewInMemoryEngine(q)
	r := New(eng, q, "")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	processed, err := r.ProcessOne(ctx)
	if processed || err == nil {
		t.Fatalf("expected (false, error) on cancelled context, got (%v, %v)", processed, err)
	}
}
