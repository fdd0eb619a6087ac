package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisManager implements Manager with a per-key SET NX entry. The TTL is
// enforced by Redis itself, which is what makes expired locks reclaimable.
type RedisManager struct {
	client *redis.Client
}

func NewRedisManager(client *redis.Client) *RedisManager {
	return &RedisManager{client: client}
}

func (m *RedisManager) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	ok, err := m.client.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (m *RedisManager) Release(ctx context.Context, key, holder string) (bool, error) {
	res, err := releaseScript.Run(ctx, m.client, []string{key}, holder).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("release lock %q: %w", key, err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}
