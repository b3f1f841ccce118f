package persistence

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tyrvik/weft/pkg/api"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return store
}

func TestSQLiteStoreWorkOrderSaveGetUpdate(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	wo := &api.WorkOrder{
		URI:         "wo:1",
		WorkflowURI: "wf:payment",
		WorkerIDs:   []string{"0", "0A"},
		PendingIDs:  []string{"0A"},
		Status:      api.StatusRunning,
		StartTime:   time.Now(),
		Args:        map[string]string{"amount": "10"},
		Output:      map[string]string{},
	}
	if err := store.SaveWorkOrder(ctx, wo); err != nil {
		t.Fatalf("SaveWorkOrder failed: %v", err)
	}

	got, err := store.GetWorkOrder(ctx, "wo:1")
	if err != nil {
		t.Fatalf("GetWorkOrder failed: %v", err)
	}
	if got.WorkflowURI != wo.WorkflowURI || got.Status != api.StatusRunning {
		t.Fatalf("unexpected work order: %+v", got)
	}
	if len(got.WorkerIDs) != 2 || got.WorkerIDs[1] != "0A" {
		t.Fatalf("worker ids not preserved: %v", got.WorkerIDs)
	}
	if !got.EndTime.IsZero() {
		t.Fatalf("expected zero end time, got %v", got.EndTime)
	}

	got.Status = api.StatusFinished
	got.EndTime = time.Now()
	got.PendingIDs = nil
	got.CancelRequested = true
	if err := store.SaveWorkOrder(ctx, got); err != nil {
		t.Fatalf("SaveWorkOrder update failed: %v", err)
	}

	again, err := store.GetWorkOrder(ctx, "wo:1")
	if err != nil {
		t.Fatalf("GetWorkOrder failed: %v", err)
	}
	if again.Status != api.StatusFinished || !again.Finalized() || !again.CancelRequested {
		t.Fatalf("update not persisted: %+v", again)
	}
	if len(again.PendingIDs) != 0 {
		t.Fatalf("expected empty pending set, got %v", again.PendingIDs)
	}

	if _, err := store.GetWorkOrder(ctx, "wo:nope"); !errors.Is(err, ErrWorkOrderNotFound) {
		t.Fatalf("expected ErrWorkOrderNotFound, got %v", err)
	}
}

func TestSQLiteStoreListWorkOrdersFilter(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	for _, wo := range []*api.WorkOrder{
		{URI: "wo:a", WorkflowURI: "wf:x", Status: api.StatusRunning, StartTime: time.Now()},
		{URI: "wo:b", WorkflowURI: "wf:x", Status: api.StatusFinished, StartTime: time.Now()},
		{URI: "wo:c", WorkflowURI: "wf:y", Status: api.StatusRunning, StartTime: time.Now()},
	} {
		if err := store.SaveWorkOrder(ctx, wo); err != nil {
			t.Fatalf("SaveWorkOrder failed: %v", err)
		}
	}

	got, err := store.ListWorkOrders(ctx, WorkOrderFilter{WorkflowURI: "wf:x"})
	if err != nil {
		t.Fatalf("ListWorkOrders failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 orders for wf:x, got %d", len(got))
	}

	got, err = store.ListWorkOrders(ctx, WorkOrderFilter{Status: api.StatusRunning})
	if err != nil {
		t.Fatalf("ListWorkOrders failed: %v", err)
	}
	if len(got) != 2 || got[0].URI != "wo:a" || got[1].URI != "wo:c" {
		t.Fatalf("unexpected running orders: %+v", got)
	}
}

func TestSQLiteStoreWorkerRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	w := &api.Worker{
		ID:           "0A",
		WorkOrderURI: "wo:1",
		Frames: []api.CallFrame{
			{StepURI: "wf:payment#bill", AppStatusName: "payment"},
			{StepURI: "wf:refund#start", View: map[string]string{"tier": "gold"}},
		},
		Status:       api.StatusBlocked,
		ParentID:     "0",
		SiblingCount: 2,
		WaitCount:    1,
		Context:      map[string]string{"order": "42"},
	}
	if err := store.SaveWorker(ctx, w); err != nil {
		t.Fatalf("SaveWorker failed: %v", err)
	}

	got, err := store.GetWorker(ctx, "wo:1", "0A")
	if err != nil {
		t.Fatalf("GetWorker failed: %v", err)
	}
	if len(got.Frames) != 2 || got.CurrentStepURI() != "wf:refund#start" {
		t.Fatalf("call stack not preserved: %+v", got.Frames)
	}
	if got.Top().View["tier"] != "gold" {
		t.Fatalf("frame view not preserved: %+v", got.Top())
	}
	if got.WaitCount != 1 || got.ParentID != "0" {
		t.Fatalf("unexpected worker: %+v", got)
	}

	workers, err := store.ListWorkers(ctx, "wo:1")
	if err != nil {
		t.Fatalf("ListWorkers failed: %v", err)
	}
	if len(workers) != 1 {
		t.Fatalf("expected 1 worker, got %d", len(workers))
	}

	if _, err := store.GetWorker(ctx, "wo:1", "zz"); !errors.Is(err, ErrWorkerNotFound) {
		t.Fatalf("expected ErrWorkerNotFound, got %v", err)
	}
}

func TestSQLiteStoreStepRecordsAndCountdowns(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	base := time.Now()
	rec := &api.StepRecord{
		ID: "r1", WorkOrderURI: "wo:1", WorkerID: "0",
		StepName: "charge", StepURI: "wf:payment#charge",
		Status: api.StatusActive, StartTime: base, Host: "node-1",
	}
	if err := store.SaveStepRecord(ctx, rec); err != nil {
		t.Fatalf("SaveStepRecord failed: %v", err)
	}
	rec.Status = api.StatusFinished
	rec.EndTime = base.Add(50 * time.Millisecond)
	rec.ReturnCode = "ok"
	if err := store.SaveStepRecord(ctx, rec); err != nil {
		t.Fatalf("SaveStepRecord update failed: %v", err)
	}

	recs, err := store.ListStepRecords(ctx, "wo:1", "0")
	if err != nil {
		t.Fatalf("ListStepRecords failed: %v", err)
	}
	if len(recs) != 1 || recs[0].ReturnCode != "ok" || recs[0].Status != api.StatusFinished {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if recs[0].EndTime.Before(recs[0].StartTime) {
		t.Fatalf("end time precedes start time: %+v", recs[0])
	}

	cd := &api.JoinCountdown{WorkOrderURI: "wo:1", ParentID: "0", WaitCount: 2}
	if err := store.SaveCountdown(ctx, cd); err != nil {
		t.Fatalf("SaveCountdown failed: %v", err)
	}
	got, err := store.GetCountdown(ctx, "wo:1", "0")
	if err != nil {
		t.Fatalf("GetCountdown failed: %v", err)
	}
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
