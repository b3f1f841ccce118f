package weft_test

import (
	"context"
	"fmt"
	"time"

	"github.com/tyrvik/weft"
)

// A minimal approval pipeline: one scripted step, then a synchronized
// fan-out whose branches rejoin before the order closes.
func Example() {
	ctx := context.Background()

	rt := weft.RuntimeFunc(func(ctx context.Context, step weft.Step, ec weft.ExecContext) (string, error) {
		return "ok", nil
	})
	lr := weft.NewLocalRunner(weft.WithRuntime("script", rt))

	weft.Define("wf:release", "release").
		Step("build", "script:build",
			weft.On("ok", "verify"),
			weft.Else(weft.Fail)).
		Split("verify", []string{"lint", "unit"},
			weft.On(weft.WakeOK, "publish"),
			weft.On(weft.WakeError, weft.Fail)).
		Step("lint", "script:lint").
		Step("unit", "script:unit").
		Step("publish", "script:publish").
		MustRegister(ctx, lr.Engine)

	if err := lr.StartWorkers(ctx, 2); err != nil {
		panic(err)
	}
	defer lr.Stop()

	wo, err := weft.Start(ctx, lr.Engine, "wf:release", map[string]string{"tag": "v1.2.3"})
	if err != nil {
		panic(err)
	}
	final, err := lr.WaitFinalized(ctx, wo.URI, 5*time.Second)
	if err != nil {
		panic(err)
	}

	fmt.Println(final.Status)
	// Output: FINISHED
}
