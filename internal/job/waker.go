package job

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
)

const wakeChannel = "jobs:wake"

// RedisWaker carries the enqueue wake signal across processes: the API
// publishes on enqueue, worker nodes subscribe and poll immediately instead
// of waiting out the tick. Best-effort on both sides; the periodic poll is
// the fallback cadence.
type RedisWaker struct {
	rdb *redis.Client
}

func NewRedisWaker(rdb *redis.Client) *RedisWaker {
	return &RedisWaker{rdb: rdb}
}

func (w *RedisWaker) Notify(ctx context.Context) {
	if err := w.rdb.Publish(ctx, wakeChannel, "1").Err(); err != nil {
		log.Printf("publish job wake: %v", err)
	}
}

// Listen subscribes to the wake channel and forwards signals until ctx is
// canceled. The returned channel has capacity one; signals arriving while a
// poll is already pending coalesce.
func (w *RedisWaker) Listen(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	sub := w.rdb.Subscribe(ctx, wakeChannel)

	go func() {
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out
}
