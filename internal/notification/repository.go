package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMessageNotFound = errors.New("notification message not found")

	// ErrDeliveryFailed wraps an external channel failure.
	ErrDeliveryFailed = errors.New("notification delivery failed")
)

// Repository is the durable outbox. Terminal messages stay on record for
// audit and are removed only by retention cleanup.
type Repository interface {
	Enqueue(ctx context.Context, m *Message) error

	// ClaimPending atomically moves up to batchSize due PENDING messages
	// with attempts remaining into PROCESSING. Concurrent processors never
	// claim the same message.
	ClaimPending(ctx context.Context, batchSize int) ([]Message, error)

	// MarkSent records a successful delivery: attempts+1, the rendered body
	// and the send time.
	MarkSent(ctx context.Context, id uuid.UUID, renderedBody string) error

	// MarkFailed records a failed attempt: attempts+1 and the error. While
	// attempts remain the message returns to PENDING with the retry delay
	// applied; otherwise it stays FAILED.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryDelay time.Duration) error

	// PurgeTerminal deletes SENT and exhausted FAILED messages older than
	// the cutoff. Returns the number purged.
	PurgeTerminal(ctx context.Context, olderThan time.Time) (int, error)
}
