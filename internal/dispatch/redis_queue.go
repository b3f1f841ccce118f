package dispatch

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Queue backed by a Redis list per category
// (LPUSH producer, BRPOP consumer). Payloads are gob-encoded.
type RedisQueue struct {
	client *redis.Client
	prefix string

	// popTimeout bounds each BRPOP so context cancellation is honoured
	// between blocking calls.
	popTimeout time.Duration
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue creates a RedisQueue.
// prefix is optional but recommended (e.g. "weft:").
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "weft:"
	}
	return &RedisQueue{
		client:     client,
		prefix:     prefix,
		popTimeout: time.Second,
	}
}

func (q *RedisQueue) key(category string) string {
	return q.prefix + "q:" + category
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&t); err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key(t.Category), buf.Bytes()).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context, category string) (*Task, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		vals, err := q.client.BRPop(ctx, q.popTimeout, q.key(category)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // timed out, re-check ctx
			}
			return nil, err
		}
		// BRPop returns [key, value].
		if len(vals) != 2 {
			continue
		}

		var t Task
		if err := gob.NewDecoder(bytes.NewReader([]byte(vals[1]))).Decode(&t); err != nil {
			return nil, err
		}
		return &t, nil
	}
}

func (q *RedisQueue) Len(category string) int {
	n, err := q.client.LLen(context.Background(), q.key(category)).Result()
	if err != nil {
		return 0
	}
	return int(n)
}
