package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkOrderWorkerBookkeeping(t *testing.T) {
	wo := &WorkOrder{URI: "wo:1"}

	wo.AddWorker("0", true)
	wo.AddWorker("0A", true)
	wo.AddWorker("0B", false)
	wo.AddWorker("0", true) // duplicate is a no-op

	require.Equal(t, []string{"0", "0A", "0B"}, wo.WorkerIDs)
	require.Equal(t, []string{"0", "0A"}, wo.PendingIDs)
	require.True(t, wo.HasWorker("0B"))
	require.False(t, wo.IsPending("0B"))

	wo.RemovePending("0A")
	wo.RemovePending("0A") // already gone
	require.Equal(t, []string{"0"}, wo.PendingIDs)
}

func TestArgsHashIgnoresTimestamps(t *testing.T) {
	a := &WorkOrder{
		URI:         "wo:1",
		WorkflowURI: "wf:payment",
		StartTime:   time.Now(),
		Args:        map[string]string{"amount": "10", "currency": "EUR"},
	}
	b := &WorkOrder{
		URI:         "wo:2",
		WorkflowURI: "wf:payment",
		StartTime:   time.Now().Add(time.Hour),
		Args:        map[string]string{"currency": "EUR", "amount": "10"},
	}
	require.Equal(t, a.ArgsHash(), b.ArgsHash(),
		"same logical job must hash identically across runs")

	c := &WorkOrder{WorkflowURI: "wf:payment", Args: map[string]string{"amount": "11", "currency": "EUR"}}
	require.NotEqual(t, a.ArgsHash(), c.ArgsHash())

	d := &WorkOrder{WorkflowURI: "wf:refund", Args: a.Args}
	require.NotEqual(t, a.ArgsHash(), d.ArgsHash(),
		"workflow URI participates in the hash")
}

func TestWorkerCallStack(t *testing.T) {
	w := &Worker{ID: "0", WorkOrderURI: "wo:1"}
	require.Equal(t, "wo:1/0", w.URI())
	require.Nil(t, w.Top())
	require.Empty(t, w.CurrentStepURI())

	w.PushFrame(CallFrame{StepURI: "wf:outer#call"})
	w.PushFrame(CallFrame{StepURI: "wf:inner#start", AppStatusName: "inner"})
	require.Equal(t, "wf:inner#start", w.CurrentStepURI())

	// Advancing rewrites the top frame without changing depth.
	w.Top().StepURI = "wf:inner#next"
	require.Len(t, w.Frames, 2)
	require.Equal(t, "wf:inner#next", w.CurrentStepURI())

	w.PopFrame()
	require.Equal(t, "wf:outer#call", w.CurrentStepURI())
	w.PopFrame()
	w.PopFrame() // empty pop is a no-op
	require.Empty(t, w.Frames)
}

func TestStatusTerminalAndSeverity(t *testing.T) {
	for _, s := range []Status{StatusFinished, StatusError, StatusCancelled} {
		require.True(t, s.Terminal(), "%s", s)
	}
	for _, s := range []Status{StatusReady, StatusRunning, StatusBlocked} {
		require.False(t, s.Terminal(), "%s", s)
	}

	require.Equal(t, SeverityError, SeverityFor(StatusError))
	require.Equal(t, SeverityWarning, SeverityFor(StatusBlocked))
	require.Equal(t, SeverityInfo, SeverityFor(StatusFinished))
}

func TestWorkflowValidate(t *testing.T) {
	valid := Workflow{
		URI:       "wf:x",
		Name:      "x",
		StartStep: "a",
		Steps: []Step{
			{Name: "a", Executable: "test:a"},
		},
	}
	require.NoError(t, valid.Validate())

	cases := map[string]Workflow{
		"no uri":        {StartStep: "a", Steps: []Step{{Name: "a"}}},
		"no steps":      {URI: "wf:x", StartStep: "a"},
		"no start":      {URI: "wf:x", Steps: []Step{{Name: "a"}}},
		"unknown start": {URI: "wf:x", StartStep: "b", Steps: []Step{{Name: "a"}}},
		"duplicate step": {URI: "wf:x", StartStep: "a", Steps: []Step{
			{Name: "a"}, {Name: "a"},
		}},
	}
	for name, wf := range cases {
		require.Error(t, wf.Validate(), name)
	}
}

func TestStepURIRoundTrip(t *testing.T) {
	uri := JoinStepURI("wf:payment", "charge")
	require.Equal(t, "wf:payment#charge", uri)

	wfURI, step, err := SplitStepURI(uri)
	require.NoError(t, err)
	require.Equal(t, "wf:payment", wfURI)
	require.Equal(t, "charge", step)

	for _, bad := range []string{"", "wf:payment", "#charge", "wf:payment#"} {
		_, _, err := SplitStepURI(bad)
		require.Error(t, err, "%q", bad)
	}
}
