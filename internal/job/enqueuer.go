package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WakeNotifier fans an enqueue signal out to processors running in other
// processes. Notify is best-effort.
type WakeNotifier interface {
	Notify(ctx context.Context)
}

// Enqueuer creates jobs and nudges processors awake so a fresh enqueue is
// picked up before the next poll tick: co-located ones through the Wake
// channel, remote ones through an optional WakeNotifier.
type Enqueuer struct {
	repo       Repository
	maxRetries int
	wake       chan struct{}
	notifier   WakeNotifier
	now        func() time.Time
}

type EnqueuerOption func(*Enqueuer)

// WithWakeNotifier bridges enqueues to processors in other processes.
func WithWakeNotifier(n WakeNotifier) EnqueuerOption {
	return func(e *Enqueuer) { e.notifier = n }
}

func NewEnqueuer(repo Repository, maxRetries int, opts ...EnqueuerOption) *Enqueuer {
	e := &Enqueuer{
		repo:       repo,
		maxRetries: maxRetries,
		wake:       make(chan struct{}, 1),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wake is the channel processors select on for the immediate-trigger path.
func (e *Enqueuer) Wake() <-chan struct{} {
	return e.wake
}

// Enqueue marshals the payload and stores a PENDING job.
func (e *Enqueuer) Enqueue(ctx context.Context, jobType string, payload any, priority int) (*Job, error) {
	if priority < PriorityHighest || priority > PriorityLowest {
		return nil, fmt.Errorf("priority %d out of range [%d, %d]", priority, PriorityHighest, PriorityLowest)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}

	now := e.now()
	j := &Job{
		ID:           uuid.New(),
		Type:         jobType,
		Payload:      body,
		Priority:     priority,
		Status:       StatusPending,
		MaxRetries:   e.maxRetries,
		ScheduledFor: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.repo.Enqueue(ctx, j); err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", jobType, err)
	}

	select {
	case e.wake <- struct{}{}:
	default:
	}
	if e.notifier != nil {
		e.notifier.Notify(ctx)
	}

	return j, nil
}

// EnqueueRecalculation implements the enqueuer interface the appointment
// service depends on.
func (e *Enqueuer) EnqueueRecalculation(ctx context.Context, doctorID uuid.UUID, serviceDay time.Time, startFrom, priority int) error {
	_, err := e.Enqueue(ctx, TypeRecalculateQueue, RecalculatePayload{
		DoctorID:   doctorID,
		ServiceDay: serviceDay,
		StartFrom:  startFrom,
	}, priority)
	return err
}
