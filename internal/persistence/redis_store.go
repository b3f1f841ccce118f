package persistence

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/tyrvik/weft/pkg/api"
)

// RedisStore implements the work-order side stores on Redis. It uses a
// simple key structure:
//
//	<prefix>wo:<uri>                 => gob-encoded WorkOrder
//	<prefix>idx:wo:all               => SET of all work order URIs
//	<prefix>idx:wo:wf:<workflow>     => SET of URIs for a given workflow
//	<prefix>idx:wo:status:<status>   => SET of URIs for a given status
//	<prefix>wrk:<wo>/<id>            => gob-encoded Worker
//	<prefix>idx:wrk:<wo>             => SET of worker ids for a work order
//	<prefix>rec:<wo>/<worker>        => HASH record-id => gob-encoded StepRecord
//	<prefix>cd:<wo>/<parent>         => decimal wait count
//
// The indexes are best-effort; they are always updated on save, and list
// operations filter on the decoded payloads.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var (
	_ WorkOrderStore  = (*RedisStore)(nil)
	_ WorkerStore     = (*RedisStore)(nil)
	_ StepRecordStore = (*RedisStore)(nil)
	_ CountdownStore  = (*RedisStore)(nil)
)

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "weft:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "weft:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// Bundle returns a Persistence using this store for everything except
// workflow definitions.
func (s *RedisStore) Bundle(workflows WorkflowStore) Persistence {
	return Persistence{
		Workflows:  workflows,
		WorkOrders: s,
		Workers:    s,
		Records:    s,
		Countdowns: s,
	}
}

func (s *RedisStore) keyWorkOrder(uri string) string  { return s.prefix + "wo:" + uri }
func (s *RedisStore) keyAllOrders() string            { return s.prefix + "idx:wo:all" }
func (s *RedisStore) keyWorkflowIdx(wf string) string { return s.prefix + "idx:wo:wf:" + wf }
func (s *RedisStore) keyStatusIdx(st api.Status) string {
	return s.prefix + "idx:wo:status:" + string(st)
}
func (s *RedisStore) keyWorker(wo, id string) string { return s.prefix + "wrk:" + wo + "/" + id }
func (s *RedisStore) keyWorkerIdx(wo string) string  { return s.prefix + "idx:wrk:" + wo }
func (s *RedisStore) keyRecords(wo, worker string) string {
	return s.prefix + "rec:" + wo + "/" + worker
}
func (s *RedisStore) keyCountdown(wo, parent string) string {
	return s.prefix + "cd:" + wo + "/" + parent
}

func (s *RedisStore) SaveWorkOrder(ctx context.Context, wo *api.WorkOrder) error {
	data, err := EncodeValue(*wo)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.keyWorkOrder(wo.URI), data, 0).Err(); err != nil {
		return err
	}

	// Index updates: we just re-add; some stale index entries may remain if
	// status changed, but ListWorkOrders filters on the payload.
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.keyAllOrders(), wo.URI)
	pipe.SAdd(ctx, s.keyWorkflowIdx(wo.WorkflowURI), wo.URI)
	pipe.SAdd(ctx, s.keyStatusIdx(wo.Status), wo.URI)
	_, _ = pipe.Exec(ctx)

	return nil
}

func (s *RedisStore) GetWorkOrder(ctx context.Context, uri string) (*api.WorkOrder, error) {
	data, err := s.client.Get(ctx, s.keyWorkOrder(uri)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrWorkOrderNotFound
		}
		return nil, err
	}
	wo, err := DecodeValue[api.WorkOrder](data)
	if err != nil {
		return nil, err
	}
	return &wo, nil
}

func (s *RedisStore) ListWorkOrders(ctx context.Context, filter WorkOrderFilter) ([]*api.WorkOrder, error) {
	var uris []string
	var err error

	switch {
	case filter.WorkflowURI != "" && filter.Status != "":
		uris, err = s.client.SInter(ctx, s.keyWorkflowIdx(filter.WorkflowURI), s.keyStatusIdx(filter.Status)).Result()
	case filter.WorkflowURI != "":
		uris, err = s.client.SMembers(ctx, s.keyWorkflowIdx(filter.WorkflowURI)).Result()
	case filter.Status != "":
		uris, err = s.client.SMembers(ctx, s.keyStatusIdx(filter.Status)).Result()
	default:
		uris, err = s.client.SMembers(ctx, s.keyAllOrders()).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(uris) == 0 {
		return nil, nil
	}
	sort.Strings(uris)

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(uris))
	for i, uri := range uris {
		cmds[i] = pipe.Get(ctx, s.keyWorkOrder(uri))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var result []*api.WorkOrder
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
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
	return result, nil
}

func (s *RedisStore) SaveWorker(ctx context.Context, w *api.Worker) error {
	data, err := EncodeValue(*w)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.keyWorker(w.WorkOrderURI, w.ID), data, 0).Err(); err != nil {
		return err
	}
	return s.client.SAdd(ctx, s.keyWorkerIdx(w.WorkOrderURI), w.ID).Err()
}

func (s *RedisStore) GetWorker(ctx context.Context, workOrderURI, id string) (*api.Worker, error) {
	data, err := s.client.Get(ctx, s.keyWorker(workOrderURI, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrWorkerNotFound
		}
		return nil, err
	}
	w, err := DecodeValue[api.Worker](data)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *RedisStore) ListWorkers(ctx context.Context, workOrderURI string) ([]*api.Worker, error) {
	ids, err := s.client.SMembers(ctx, s.keyWorkerIdx(workOrderURI)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(ids)

	var result []*api.Worker
	for _, id := range ids {
		w, err := s.GetWorker(ctx, workOrderURI, id)
		if err != nil {
			if errors.Is(err, ErrWorkerNotFound) {
				continue
			}
			return nil, err
		}
		result = append(result, w)
	}
	return result, nil
}

func (s *RedisStore) SaveStepRecord(ctx context.Context, rec *api.StepRecord) error {
	data, err := EncodeValue(*rec)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.keyRecords(rec.WorkOrderURI, rec.WorkerID), rec.ID, data).Err()
}

func (s *RedisStore) ListStepRecords(ctx context.Context, workOrderURI, workerID string) ([]*api.StepRecord, error) {
	vals, err := s.client.HVals(ctx, s.keyRecords(workOrderURI, workerID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	result := make([]*api.StepRecord, 0, len(vals))
	for _, v := range vals {
		rec, err := DecodeValue[api.StepRecord]([]byte(v))
		if err != nil {
			return nil, err
		}
		result = append(result, &rec)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].StartTime.Equal(result[j].StartTime) {
			return result[i].ID < result[j].ID
		}
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result, nil
}

func (s *RedisStore) SaveCountdown(ctx context.Context, cd *api.JoinCountdown) error {
	return s.client.Set(ctx, s.keyCountdown(cd.WorkOrderURI, cd.ParentID), cd.WaitCount, 0).Err()
}

func (s *RedisStore) GetCountdown(ctx context.Context, workOrderURI, parentID string) (*api.JoinCountdown, error) {
	val, err := s.client.Get(ctx, s.keyCountdown(workOrderURI, parentID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCountdownNotFound
		}
		return nil, err
	}
	count, err := strconv.Atoi(val)
	if err != nil {
		return nil, err
	}
	return &api.JoinCountdown{
		WorkOrderURI: workOrderURI,
		ParentID:     parentID,
		WaitCount:    count,
	}, nil
}

func (s *RedisStore) DeleteCountdown(ctx context.Context, workOrderURI, parentID string) error {
	return s.client.Del(ctx, s.keyCountdown(workOrderURI, parentID)).Err()
}
