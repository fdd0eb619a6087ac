package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository implements Repository for tests and single-node
// deployments.
type MemoryRepository struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*Message
	now      func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		messages: make(map[uuid.UUID]*Message),
		now:      time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (m *MemoryRepository) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Get returns a copy of the message, for test assertions.
func (m *MemoryRepository) Get(id uuid.UUID) (*Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, false
	}
	cp := *msg
	return &cp, true
}

// All returns copies of every stored message, for test assertions.
func (m *MemoryRepository) All() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, 0, len(m.messages))
	for _, msg := range m.messages {
		out = append(out, *msg)
	}
	return out
}

func (m *MemoryRepository) Enqueue(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *MemoryRepository) ClaimPending(_ context.Context, batchSize int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var due []*Message
	for _, msg := range m.messages {
		if msg.DeliveryStatus == StatusPending && !msg.ScheduledFor.After(now) && msg.Attempts < msg.MaxAttempts {
			due = append(due, msg)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})

	if len(due) > batchSize {
		due = due[:batchSize]
	}

	claimed := make([]Message, 0, len(due))
	for _, msg := range due {
		msg.DeliveryStatus = StatusProcessing
		msg.UpdatedAt = now
		claimed = append(claimed, *msg)
	}
	return claimed, nil
}

func (m *MemoryRepository) MarkSent(_ context.Context, id uuid.UUID, renderedBody string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	now := m.now()
	msg.DeliveryStatus = StatusSent
	msg.Attempts++
	msg.RenderedBody = &renderedBody
	msg.SentAt = &now
	msg.UpdatedAt = now
	return nil
}

func (m *MemoryRepository) MarkFailed(_ context.Context, id uuid.UUID, errMsg string, retryDelay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	now := m.now()
	msg.Attempts++
	msg.LastError = &errMsg
	if msg.Attempts >= msg.MaxAttempts {
		msg.DeliveryStatus = StatusFailed
	} else {
		msg.DeliveryStatus = StatusPending
		msg.ScheduledFor = now.Add(retryDelay)
	}
	msg.UpdatedAt = now
	return nil
}

func (m *MemoryRepository) PurgeTerminal(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, msg := range m.messages {
		terminal := msg.DeliveryStatus == StatusSent ||
			(msg.DeliveryStatus == StatusFailed && msg.Attempts >= msg.MaxAttempts)
		if terminal && msg.UpdatedAt.Before(olderThan) {
			delete(m.messages, id)
			count++
		}
	}
	return count, nil
}
