package job

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

const (
	TypeRecalculateQueue = "RECALCULATE_QUEUE"
)

// Priority bounds, 1 highest to 10 lowest.
const (
	PriorityHighest = 1
	PriorityLowest  = 10
)

type Job struct {
	ID           uuid.UUID
	Type         string
	Payload      []byte
	Priority     int
	Status       Status
	RetryCount   int
	MaxRetries   int
	LastError    *string
	ScheduledFor time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Exhausted reports whether the job burned through its retry budget.
func (j *Job) Exhausted() bool {
	return j.RetryCount >= j.MaxRetries
}

// RecalculatePayload is the payload of a RECALCULATE_QUEUE job. StartFrom is
// the first position the caller believes changed; the propagation pass always
// renumbers the whole day regardless.
type RecalculatePayload struct {
	DoctorID   uuid.UUID `json:"doctor_id"`
	ServiceDay time.Time `json:"service_day"`
	StartFrom  int       `json:"start_from"`
}
