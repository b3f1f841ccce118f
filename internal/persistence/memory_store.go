package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/tyrvik/weft/pkg/api"
)

// InMemoryStore is a goroutine-safe implementation of every store
// interface, backed by maps. Values are deep-copied through the gob codec
// on the way in and out so callers never share mutable state with the
// store, which matches the read-modify-write discipline the durable
// backends impose.
type InMemoryStore struct {
	mu         sync.RWMutex
	workflows  map[string]api.Workflow
	workOrders map[string][]byte
	workers    map[string][]byte
	records    map[string][]*api.StepRecord // keyed by workOrderURI+"/"+workerID
	countdowns map[string]int               // keyed by workOrderURI+"/"+parentID
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		workflows:  make(map[string]api.Workflow),
		workOrders: make(map[string][]byte),
		workers:    make(map[string][]byte),
		records:    make(map[string][]*api.StepRecord),
		countdowns: make(map[string]int),
	}
}

// Ensure InMemoryStore implements the interfaces.
var (
	_ WorkflowStore   = (*InMemoryStore)(nil)
	_ WorkOrderStore  = (*InMemoryStore)(nil)
	_ WorkerStore     = (*InMemoryStore)(nil)
	_ StepRecordStore = (*InMemoryStore)(nil)
	_ CountdownStore  = (*InMemoryStore)(nil)
)

// Bundle returns a Persistence backed entirely by this store.
func (s *InMemoryStore) Bundle() Persistence {
	return Persistence{
		Workflows:  s,
		WorkOrders: s,
		Workers:    s,
		Records:    s,
		Countdowns: s,
	}
}

func workerKey(workOrderURI, id string) string {
	return workOrderURI + "/" + id
}

func (s *InMemoryStore) SaveWorkflow(ctx context.Context, def api.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.workflows[def.URI] = def
	return nil
}

func (s *InMemoryStore) GetWorkflow(ctx context.Context, uri string) (api.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.workflows[uri]
	if !ok {
		return api.Workflow{}, ErrWorkflowNotFound
	}
	return def, nil
}

func (s *InMemoryStore) ListWorkflows(ctx context.Context) ([]api.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]api.Workflow, 0, len(s.workflows))
	for _, def := range s.workflows {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

func (s *InMemoryStore) SaveWorkOrder(ctx context.Context, wo *api.WorkOrder) error {
	data, err := EncodeValue(*wo)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.workOrders[wo.URI] = data
	return nil
}

func (s *InMemoryStore) GetWorkOrder(ctx context.Context, uri string) (*api.WorkOrder, error) {
	s.mu.RLock()
	data, ok := s.workOrders[uri]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrWorkOrderNotFound
	}
	wo, err := DecodeValue[api.WorkOrder](data)
	if err != nil {
		return nil, err
	}
	return &wo, nil
}

func (s *InMemoryStore) ListWorkOrders(ctx context.Context, filter WorkOrderFilter) ([]*api.WorkOrder, error) {
	s.mu.RLock()
	blobs := make([][]byte, 0, len(s.workOrders))
	for _, data := range s.workOrders {
		blobs = append(blobs, data)
	}
	s.mu.RUnlock()

	var result []*api.WorkOrder
	for _, data := range blobs {
		wo, err := DecodeValue[api.WorkOrder](data)
		if err != nil {
			return nil, err
		}
		if filter.WorkflowURI != "" && wo.WorkflowURI != filter.WorkflowURI {
			continue
		}
		if filter.Status != "" && wo.Status != filter.Status {
			continue
		}
		result = append(result, &wo)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].URI < result[j].URI })
	return result, nil
}

func (s *InMemoryStore) SaveWorker(ctx context.Context, w *api.Worker) error {
	data, err := EncodeValue(*w)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.workers[workerKey(w.WorkOrderURI, w.ID)] = data
	return nil
}

func (s *InMemoryStore) GetWorker(ctx context.Context, workOrderURI, id string) (*api.Worker, error) {
	s.mu.RLock()
	data, ok := s.workers[workerKey(workOrderURI, id)]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrWorkerNotFound
	}
	w, err := DecodeValue[api.Worker](data)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *InMemoryStore) ListWorkers(ctx context.Context, workOrderURI string) ([]*api.Worker, error) {
	s.mu.RLock()
	prefix := workOrderURI + "/"
	blobs := make([][]byte, 0)
	for key, data := range s.workers {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			blobs = append(blobs, data)
		}
	}
	s.mu.RUnlock()

	result := make([]*api.Worker, 0, len(blobs))
	for _, data := range blobs {
		w, err := DecodeValue[api.Worker](data)
		if err != nil {
			return nil, err
		}
		result = append(result, &w)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *InMemoryStore) SaveStepRecord(ctx context.Context, rec *api.StepRecord) error {
	cp := *rec

	s.mu.Lock()
	defer s.mu.Unlock()

	key := workerKey(rec.WorkOrderURI, rec.WorkerID)
	for i, existing := range s.records[key] {
		if existing.ID == rec.ID {
			s.records[key][i] = &cp
			return nil
		}
	}
	s.records[key] = append(s.records[key], &cp)
	return nil
}

func (s *InMemoryStore) ListStepRecords(ctx context.Context, workOrderURI, workerID string) ([]*api.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.records[workerKey(workOrderURI, workerID)]
	result := make([]*api.StepRecord, 0, len(recs))
	for _, r := range recs {
		cp := *r
		result = append(result, &cp)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].StartTime.Before(result[j].StartTime) })
	return result, nil
}

func (s *InMemoryStore) SaveCountdown(ctx context.Context, cd *api.JoinCountdown) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.countdowns[workerKey(cd.WorkOrderURI, cd.ParentID)] = cd.WaitCount
	return nil
}

func (s *InMemoryStore) GetCountdown(ctx context.Context, workOrderURI, parentID string) (*api.JoinCountdown, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count, ok := s.countdowns[workerKey(workOrderURI, parentID)]
	if !ok {
		return nil, ErrCountdownNotFound
	}
	return &api.JoinCountdown{
		WorkOrderURI: workOrderURI,
		ParentID:     parentID,
		WaitCount:    count,
	}, nil
}

func (s *InMemoryStore) DeleteCountdown(ctx context.Context, workOrderURI, parentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.countdowns, workerKey(workOrderURI, parentID))
	return nil
}
