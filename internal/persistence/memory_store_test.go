package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tyrvik/weft/pkg/api"
)

func TestInMemoryStoreWorkOrderRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	wo := &api.WorkOrder{
		URI:         "wo:1",
		WorkflowURI: "wf:payment",
		WorkerIDs:   []string{"0"},
		PendingIDs:  []string{"0"},
		Status:      api.StatusRunning,
		StartTime:   time.Now(),
		Args:        map[string]string{"amount": "10"},
	}
	if err := store.SaveWorkOrder(ctx, wo); err != nil {
		t.Fatalf("SaveWorkOrder failed: %v", err)
	}

	got, err := store.GetWorkOrder(ctx, "wo:1")
	if err != nil {
		t.Fatalf("GetWorkOrder failed: %v", err)
	}
	if got.WorkflowURI != "wf:payment" || got.Status != api.StatusRunning {
		t.Fatalf("unexpected work order: %+v", got)
	}

	// The store must hand out copies, not aliases.
	got.Args["amount"] = "999"
	again, _ := store.GetWorkOrder(ctx, "wo:1")
	if again.Args["amount"] != "10" {
		t.Fatalf("store leaked mutable state: %v", again.Args)
	}

	if _, err := store.GetWorkOrder(ctx, "wo:nope"); !errors.Is(err, ErrWorkOrderNotFound) {
		t.Fatalf("expected ErrWorkOrderNotFound, got %v", err)
	}
}

func TestInMemoryStoreListWorkOrdersFilter(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	for _, wo := range []*api.WorkOrder{
		{URI: "wo:a", WorkflowURI: "wf:x", Status: api.StatusRunning},
		{URI: "wo:b", WorkflowURI: "wf:x", Status: api.StatusFinished},
		{URI: "wo:c", WorkflowURI: "wf:y", Status: api.StatusRunning},
	} {
		if err := store.SaveWorkOrder(ctx, wo); err != nil {
			t.Fatalf("SaveWorkOrder failed: %v", err)
		}
	}

	all, err := store.ListWorkOrders(ctx, WorkOrderFilter{})
	if err != nil {
		t.Fatalf("ListWorkOrders failed: %v", err)
	}
	if len(all) != 3 || all[0].URI != "wo:a" {
		t.Fatalf("expected 3 sorted orders, got %+v", all)
	}

	running, _ := store.ListWorkOrders(ctx, WorkOrderFilter{WorkflowURI: "wf:x", Status: api.StatusRunning})
	if len(running) != 1 || running[0].URI != "wo:a" {
		t.Fatalf("filter mismatch: %+v", running)
	}
}

func TestInMemoryStoreWorkerRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	w := &api.Worker{
		ID:           "0A",
		WorkOrderURI: "wo:1",
		Frames: []api.CallFrame{
			{StepURI: "wf:payment#ship", View: map[string]string{"region": "eu"}},
		},
		Status:       api.StatusReady,
		ParentID:     "0",
		SiblingPos:   0,
		SiblingCount: 2,
		Context:      map[string]string{"k": "v"},
	}
	if err := store.SaveWorker(ctx, w); err != nil {
		t.Fatalf("SaveWorker failed: %v", err)
	}

	got, err := store.GetWorker(ctx, "wo:1", "0A")
	if err != nil {
		t.Fatalf("GetWorker failed: %v", err)
	}
	if got.CurrentStepURI() != "wf:payment#ship" || got.ParentID != "0" {
		t.Fatalf("unexpected worker: %+v", got)
	}

	if _, err := store.GetWorker(ctx, "wo:1", "0B"); !errors.Is(err, ErrWorkerNotFound) {
		t.Fatalf("expected ErrWorkerNotFound, got %v", err)
	}

	// ListWorkers must not match other orders sharing a URI prefix.
	other := &api.Worker{ID: "0", WorkOrderURI: "wo:10"}
	if err := store.SaveWorker(ctx, other); err != nil {
		t.Fatalf("SaveWorker failed: %v", err)
	}
	workers, err := store.ListWorkers(ctx, "wo:1")
	if err != nil {
		t.Fatalf("ListWorkers failed: %v", err)
	}
	if len(workers) != 1 || workers[0].ID != "0A" {
		t.Fatalf("expected only wo:1 workers, got %+v", workers)
	}
}

func TestInMemoryStoreStepRecordsUpsertAndOrder(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	base := time.Now()
	first := &api.StepRecord{ID: "r1", WorkOrderURI: "wo:1", WorkerID: "0", StepName: "a", Status: api.StatusActive, StartTime: base}
	second := &api.StepRecord{ID: "r2", WorkOrderURI: "wo:1", WorkerID: "0", StepName: "b", Status: api.StatusActive, StartTime: base.Add(time.Millisecond)}

	for _, r := range []*api.StepRecord{second, first} {
		if err := store.SaveStepRecord(ctx, r); err != nil {
			t.Fatalf("SaveStepRecord failed: %v", err)
		}
	}

	first.Status = api.StatusFinished
	first.ReturnCode = "ok"
	if err := store.SaveStepRecord(ctx, first); err != nil {
		t.Fatalf("SaveStepRecord update failed: %v", err)
	}

	recs, err := store.ListStepRecords(ctx, "wo:1", "0")
	if err != nil {
		t.Fatalf("ListStepRecords failed: %v", err)
	}
	if len(recs) != 2 || recs[0].StepName != "a" || recs[1].StepName != "b" {
		t.Fatalf("expected start-time order, got %+v", recs)
	}
	if recs[0].Status != api.StatusFinished || recs[0].ReturnCode != "ok" {
		t.Fatalf("expected upsert to stick, got %+v", recs[0])
	}
}

func TestInMemoryStoreCountdownLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	cd := &api.JoinCountdown{WorkOrderURI: "wo:1", ParentID: "0", WaitCount: 3}
	if err := store.SaveCountdown(ctx, cd); err != nil {
		t.Fatalf("SaveCountdown failed: %v", err)
	}

	got, err := store.GetCountdown(ctx, "wo:1", "0")
	if err != nil {
		t.Fatalf("GetCountdown failed: %v", err)
	}
	if got.WaitCount != 3 {
		t.Fatalf("expected wait count 3, got %d", got.WaitCount)
	}

	got.WaitCount--
	if err := store.SaveCountdown(ctx, got); err != nil {
		t.Fatalf("SaveCountdown update failed: %v", err)
	}
	got, _ = store.GetCountdown(ctx, "wo:1", "0")
	if got.WaitCount != 2 {
		t.Fatalf("expected wait count 2, got %d", got.WaitCount)
	}

	if err := store.DeleteCountdown(ctx, "wo:1", "0"); err != nil {
		t.Fatalf("DeleteCountdown failed: %v", err)
	}
	if _, err := store.GetCountdown(ctx, "wo:1", "0"); !errors.Is(err, ErrCountdownNotFound) {
		t.Fatalf("expected ErrCountdownNotFound, got %v", err)
	}
}
