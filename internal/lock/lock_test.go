package lock

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryManager_AcquireRelease(t *testing.T) {
	t.Parallel()

	m := NewMemoryManager()
	ctx := context.Background()

	ok, err := m.Acquire(ctx, "lock:queue:a", "holder-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second holder cannot take a live lock.
	ok, err = m.Acquire(ctx, "lock:queue:a", "holder-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// A different key is independent.
	ok, err = m.Acquire(ctx, "lock:queue:b", "holder-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	released, err := m.Release(ctx, "lock:queue:a", "holder-1")
	require.NoError(t, err)
	assert.True(t, released)

	ok, err = m.Acquire(ctx, "lock:queue:a", "holder-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryManager_ReleaseByNonHolder(t *testing.T) {
	t.Parallel()

	m := NewMemoryManager()
	ctx := context.Background()

	ok, err := m.Acquire(ctx, "lock:queue:a", "holder-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := m.Release(ctx, "lock:queue:a", "holder-2")
	require.NoError(t, err)
	assert.False(t, released, "releasing someone else's lock is a no-op")

	// The real holder still owns the key.
	ok, err = m.Acquire(ctx, "lock:queue:a", "holder-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryManager_ExpiredLockReclaimable(t *testing.T) {
	t.Parallel()

	m := NewMemoryManager()
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return start })

	ok, err := m.Acquire(ctx, "lock:queue:a", "crashed-worker", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Past the TTL anyone can take over.
	m.SetClock(func() time.Time { return start.Add(61 * time.Second) })

	ok, err = m.Acquire(ctx, "lock:queue:a", "holder-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKey(t *testing.T) {
	t.Parallel()

	doctorID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "lock:queue:6ba7b810-9dad-11d1-80b4-00c04fd430c8:2026-03-02", Key(doctorID, day))
}

func TestWithLock(t *testing.T) {
	t.Parallel()

	m := NewMemoryManager()
	ctx := context.Background()

	ran := false
	err := WithLock(ctx, m, "lock:queue:a", "holder-1", time.Minute, func(ctx context.Context) error {
		ran = true

		// Reentry from another holder fails while fn runs.
		ok, err := m.Acquire(ctx, "lock:queue:a", "holder-2", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	// Released afterwards.
	ok, err := m.Acquire(ctx, "lock:queue:a", "holder-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWithLock_Busy(t *testing.T) {
	t.Parallel()

	m := NewMemoryManager()
	ctx := context.Background()

	ok, err := m.Acquire(ctx, "lock:queue:a", "holder-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = WithLock(ctx, m, "lock:queue:a", "holder-2", time.Minute, func(context.Context) error {
		t.Fatal("callback must not run without the lock")
		return nil
	})
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestWithLock_ReleasesOnError(t *testing.T) {
	t.Parallel()

	m := NewMemoryManager()
	ctx := context.Background()

	wantErr := assert.AnError
	err := WithLock(ctx, m, "lock:queue:a", "holder-1", time.Minute, func(context.Context) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	ok, err := m.Acquire(ctx, "lock:queue:a", "holder-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "a failed callback still releases the lock")
}
