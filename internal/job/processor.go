package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/SubhanAlom009/clinic-queue-engine/internal/lock"
)

// HandlerFunc executes one claimed job. A returned error marks the job
// FAILED for the retry sweep; lock.ErrNotAcquired reschedules it instead.
type HandlerFunc func(ctx context.Context, j *Job) error

// Events receives job lifecycle notifications for the change feed.
type Events interface {
	JobCompleted(ctx context.Context, j *Job)
}

// Processor claims and runs jobs. Multiple processors may run concurrently,
// in one process or across nodes; claim exclusivity comes from the
// repository, recalculation exclusivity from the (doctor, day) lock.
type Processor struct {
	id           string
	repo         Repository
	handlers     map[string]HandlerFunc
	events       Events
	pollInterval time.Duration
	batchSize    int
	lockRetry    time.Duration // reschedule delay when the queue lock was busy
	wake         <-chan struct{}
}

type ProcessorOption func(*Processor)

// WithWake wires the enqueuer's immediate-trigger channel into the poll loop.
func WithWake(wake <-chan struct{}) ProcessorOption {
	return func(p *Processor) { p.wake = wake }
}

// WithEvents publishes completions to the change feed.
func WithEvents(ev Events) ProcessorOption {
	return func(p *Processor) { p.events = ev }
}

func NewProcessor(repo Repository, pollInterval time.Duration, batchSize int, opts ...ProcessorOption) *Processor {
	p := &Processor{
		id:           uuid.NewString(),
		repo:         repo,
		handlers:     make(map[string]HandlerFunc),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		lockRetry:    5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register binds a handler to a job type. Not safe to call after Run.
func (p *Processor) Register(jobType string, h HandlerFunc) {
	p.handlers[jobType] = h
}

// Run polls until the context is canceled. A wake signal triggers an
// immediate poll on top of the periodic cadence.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	log.Printf("job processor %s started interval=%s batch=%d", p.id, p.pollInterval, p.batchSize)

	var wake <-chan struct{}
	if p.wake != nil {
		wake = p.wake
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("job processor %s stopping", p.id)
			return
		case <-ticker.C:
			p.drain(ctx)
		case <-wake:
			p.drain(ctx)
		}
	}
}

// drain claims batches until the queue has nothing runnable.
func (p *Processor) drain(ctx context.Context) {
	for {
		n, err := p.processBatch(ctx)
		if err != nil {
			log.Printf("job processor %s batch error: %v", p.id, err)
			return
		}
		if n == 0 {
			return
		}
	}
}

func (p *Processor) processBatch(ctx context.Context) (int, error) {
	claimed, err := p.repo.Claim(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim jobs: %w", err)
	}

	for i := range claimed {
		p.processOne(ctx, &claimed[i])
	}
	return len(claimed), nil
}

func (p *Processor) processOne(ctx context.Context, j *Job) {
	start := time.Now()

	handler, ok := p.handlers[j.Type]
	if !ok {
		p.fail(ctx, j, fmt.Sprintf("no handler for job type %q", j.Type))
		return
	}

	err := p.runHandler(ctx, handler, j)

	switch {
	case err == nil:
		if cerr := p.repo.Complete(ctx, j.ID); cerr != nil {
			log.Printf("job %s complete: %v", j.ID, cerr)
			return
		}
		log.Printf("job %s type=%s completed in %s", j.ID, j.Type, time.Since(start))
		if p.events != nil {
			p.events.JobCompleted(ctx, j)
		}

	case errors.Is(err, lock.ErrNotAcquired):
		// Another recalculation holds the queue; try again shortly without
		// spending a retry.
		at := time.Now().Add(p.lockRetry)
		if rerr := p.repo.Reschedule(ctx, j.ID, at); rerr != nil {
			log.Printf("job %s reschedule: %v", j.ID, rerr)
			return
		}
		log.Printf("job %s type=%s rescheduled, queue lock busy", j.ID, j.Type)

	default:
		p.fail(ctx, j, err.Error())
	}
}

// runHandler isolates handler panics so one bad job cannot take the loop down.
func (p *Processor) runHandler(ctx context.Context, handler HandlerFunc, j *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job handler: %v", r)
		}
	}()
	return handler(ctx, j)
}

func (p *Processor) fail(ctx context.Context, j *Job, msg string) {
	if ferr := p.repo.Fail(ctx, j.ID, msg); ferr != nil {
		log.Printf("job %s fail: %v", j.ID, ferr)
		return
	}
	if j.RetryCount+1 >= j.MaxRetries {
		log.Printf("job %s type=%s failed permanently after %d attempts: %s", j.ID, j.Type, j.RetryCount+1, msg)
	} else {
		log.Printf("job %s type=%s failed (attempt %d/%d): %s", j.ID, j.Type, j.RetryCount+1, j.MaxRetries, msg)
	}
}

// Recalculator runs the propagation pass for one doctor's day.
type Recalculator interface {
	Recalculate(ctx context.Context, doctorID uuid.UUID, day time.Time, startFrom int) error
}

// NewRecalculateHandler decodes a RECALCULATE_QUEUE payload and hands it to
// the propagation engine.
func NewRecalculateHandler(engine Recalculator) HandlerFunc {
	return func(ctx context.Context, j *Job) error {
		var payload RecalculatePayload
		if err := json.Unmarshal(j.Payload, &payload); err != nil {
			return fmt.Errorf("decode recalculate payload: %w", err)
		}
		return engine.Recalculate(ctx, payload.DoctorID, payload.ServiceDay, payload.StartFrom)
	}
}
