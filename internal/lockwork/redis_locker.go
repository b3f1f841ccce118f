package lockwork

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only if it still holds our token, so
// a hold that expired and was re-acquired elsewhere is never clobbered.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisLocker is a Locker backed by Redis SET NX PX. The ttl doubles as
// crash protection: an abandoned lock frees itself when the key expires.
type RedisLocker struct {
	client       *redis.Client
	prefix       string
	pollInterval time.Duration
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a RedisLocker.
// prefix is optional but recommended (e.g. "weft:").
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "weft:"
	}
	return &RedisLocker{
		client:       client,
		prefix:       prefix,
		pollInterval: 50 * time.Millisecond,
	}
}

func (l *RedisLocker) key(name string) string {
	return l.prefix + "lock:" + name
}

func (l *RedisLocker) Acquire(ctx context.Context, name string, wait, ttl time.Duration) (*Guard, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.client.SetNX(ctx, l.key(name), token, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return NewGuard(name, token, l.releaseToken), nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}

func (l *RedisLocker) releaseToken(ctx context.Context, name, token string) error {
	return releaseScript.Run(ctx, l.client, []string{l.key(name)}, token).Err()
}
