package job

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository implements Repository for tests and single-node
// deployments. The claim path holds one mutex, which gives the same
// exclusivity guarantee the skip-locked query gives in Postgres.
type MemoryRepository struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
	now  func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs: make(map[uuid.UUID]*Job),
		now:  time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (m *MemoryRepository) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Get returns a copy of the job, for test assertions.
func (m *MemoryRepository) Get(id uuid.UUID) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *j
	return &cp, true
}

func (m *MemoryRepository) Enqueue(_ context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *MemoryRepository) Claim(_ context.Context, batchSize int) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var runnable []*Job
	for _, j := range m.jobs {
		if j.Status == StatusPending && !j.ScheduledFor.After(now) && j.RetryCount < j.MaxRetries {
			runnable = append(runnable, j)
		}
	}
	sort.SliceStable(runnable, func(i, k int) bool {
		if runnable[i].Priority != runnable[k].Priority {
			return runnable[i].Priority < runnable[k].Priority
		}
		return runnable[i].ScheduledFor.Before(runnable[k].ScheduledFor)
	})

	if len(runnable) > batchSize {
		runnable = runnable[:batchSize]
	}

	claimed := make([]Job, 0, len(runnable))
	for _, j := range runnable {
		j.Status = StatusRunning
		started := now
		j.StartedAt = &started
		j.UpdatedAt = now
		claimed = append(claimed, *j)
	}
	return claimed, nil
}

func (m *MemoryRepository) Complete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	now := m.now()
	j.Status = StatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

func (m *MemoryRepository) Fail(_ context.Context, id uuid.UUID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.Status = StatusFailed
	j.RetryCount++
	j.LastError = &errMsg
	j.UpdatedAt = m.now()
	return nil
}

func (m *MemoryRepository) Reschedule(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.Status = StatusPending
	j.ScheduledFor = at
	j.StartedAt = nil
	j.UpdatedAt = m.now()
	return nil
}

func (m *MemoryRepository) CancelPending(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || j.Status != StatusPending {
		return ErrJobNotFound
	}
	now := m.now()
	j.Status = StatusCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

func (m *MemoryRepository) RequeueFailed(_ context.Context, backoffBase time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	count := 0
	for _, j := range m.jobs {
		if j.Status == StatusFailed && j.RetryCount < j.MaxRetries {
			backoff := time.Duration(float64(backoffBase) * math.Pow(2, math.Min(float64(j.RetryCount), 6)))
			j.Status = StatusPending
			j.ScheduledFor = now.Add(backoff)
			j.StartedAt = nil
			j.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

func (m *MemoryRepository) PurgeCompleted(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, j := range m.jobs {
		if (j.Status == StatusCompleted || j.Status == StatusCancelled) &&
			j.CompletedAt != nil && j.CompletedAt.Before(olderThan) {
			delete(m.jobs, id)
			count++
		}
	}
	return count, nil
}

func (m *MemoryRepository) ListExhausted(_ context.Context, limit int) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Job
	for _, j := range m.jobs {
		if j.Status == StatusFailed && j.RetryCount >= j.MaxRetries {
			result = append(result, *j)
		}
	}
	sort.SliceStable(result, func(i, k int) bool {
		return result[i].UpdatedAt.After(result[k].UpdatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
