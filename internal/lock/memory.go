package lock

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	holder    string
	expiresAt time.Time
}

// MemoryManager is an in-process Manager for single-node deployments and
// tests. Semantics match RedisManager: one holder per key, expired entries
// are reclaimable, release succeeds only for the current holder.
type MemoryManager struct {
	mu    sync.Mutex
	locks map[string]memoryEntry
	now   func() time.Time
}

func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		locks: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

func (m *MemoryManager) Acquire(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if cur, ok := m.locks[key]; ok && cur.expiresAt.After(now) {
		return false, nil
	}

	m.locks[key] = memoryEntry{holder: holder, expiresAt: now.Add(ttl)}
	return true, nil
}

func (m *MemoryManager) Release(_ context.Context, key, holder string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.locks[key]
	if !ok || cur.holder != holder {
		return false, nil
	}

	delete(m.locks, key)
	return true, nil
}

// SetClock overrides the time source, for tests that exercise expiry.
func (m *MemoryManager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
