package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotAcquired = errors.New("queue lock not acquired")

// Manager provides mutual exclusion per (doctor, service day). At most one
// non-expired holder exists per key; expired locks are reclaimable by anyone
// so a crashed worker can never deadlock a queue.
type Manager interface {
	// Acquire returns true when the caller now holds the key.
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	// Release returns true when the caller held the key and gave it up.
	// A release by a non-holder is a no-op.
	Release(ctx context.Context, key, holder string) (bool, error)
}

// Key builds the canonical lock key for a doctor's service day.
func Key(doctorID uuid.UUID, serviceDay time.Time) string {
	return fmt.Sprintf("lock:queue:%s:%s", doctorID.String(), serviceDay.Format("2006-01-02"))
}

// WithLock runs fn while holding the key, releasing it afterwards.
// The callback context is bounded by the lock TTL so a slow recalculation
// cannot outlive its own lease.
func WithLock(ctx context.Context, m Manager, key, holder string, ttl time.Duration, fn func(ctx context.Context) error) error {
	ok, err := m.Acquire(ctx, key, holder, ttl)
	if err != nil {
		return fmt.Errorf("acquire queue lock: %w", err)
	}
	if !ok {
		return ErrNotAcquired
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_, _ = m.Release(releaseCtx, key, holder)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}
