package job

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrJobNotFound = errors.New("job not found")

// Repository contains all DB interactions of the job queue.
type Repository interface {
	Enqueue(ctx context.Context, j *Job) error

	// Claim atomically selects up to batchSize runnable PENDING jobs ordered
	// by (priority, scheduled_for) and moves them to RUNNING. Concurrent
	// claimers never receive the same job (skip-locked semantics).
	Claim(ctx context.Context, batchSize int) ([]Job, error)

	Complete(ctx context.Context, id uuid.UUID) error

	// Fail records the error and increments retry_count.
	Fail(ctx context.Context, id uuid.UUID, errMsg string) error

	// Reschedule puts a RUNNING job back to PENDING at the given time
	// without burning a retry. Used when the queue lock was busy.
	Reschedule(ctx context.Context, id uuid.UUID, at time.Time) error

	// CancelPending cancels a job that has not been claimed yet.
	CancelPending(ctx context.Context, id uuid.UUID) error

	// RequeueFailed sweeps FAILED jobs with retries remaining back to
	// PENDING, pushing scheduled_for out by exponential backoff on the
	// retry count. Returns the number of jobs requeued.
	RequeueFailed(ctx context.Context, backoffBase time.Duration) (int, error)

	// PurgeCompleted deletes COMPLETED and CANCELLED jobs finished before
	// the cutoff. Returns the number purged.
	PurgeCompleted(ctx context.Context, olderThan time.Time) (int, error)

	// ListExhausted returns permanently FAILED jobs for the operator view.
	ListExhausted(ctx context.Context, limit int) ([]Job, error)
}
