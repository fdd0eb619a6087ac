package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrConflict signals an optimistic-concurrency mismatch: the row's
	// status no longer matches what the caller read. Refetch and retry.
	ErrConflict = errors.New("appointment status conflict")
)

// Fields carries the column writes applied atomically with a status change.
// Nil members are left untouched.
type Fields struct {
	QueuePosition  *int
	EstimatedStart *time.Time
	ActualStart    *time.Time
	ActualEnd      *time.Time
	ActualMinutes  *int
	CheckedInAt    *time.Time
	CancelReason   *string
	Diagnosis      *string
	Prescription   *string
	Notes          *string
}

// PlanUpdate is one row of a propagation batch write.
type PlanUpdate struct {
	ID             uuid.UUID
	QueuePosition  int
	EstimatedStart time.Time
}

// Repository contains all queue store interactions needed by the service and
// the propagation engine. Reads used for propagation must happen inside the
// held (doctor, day) lock for a consistent snapshot.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Create(ctx context.Context, a *Appointment) error

	// ActiveByDoctorDay returns the day's active appointments ordered by
	// emergency flag descending, then queue position ascending.
	ActiveByDoctorDay(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Appointment, error)

	// NextPosition is one past the highest active position for the day.
	NextPosition(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error)

	// CompareAndSetStatus updates status and fields only while the row still
	// holds the expected status; otherwise ErrConflict.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next Status, fields Fields) (*Appointment, error)

	// ArchiveAndCompact is CompareAndSetStatus plus a decrement of every
	// later active position for the day, in one transaction. Used when a row
	// leaves the active set through cancellation or no-show.
	ArchiveAndCompact(ctx context.Context, id uuid.UUID, expected, next Status, fields Fields) (*Appointment, error)

	// InsertEmergency shifts the day's active positions up by one and
	// inserts the appointment at position 1, in one transaction.
	InsertEmergency(ctx context.Context, a *Appointment) error

	// ApplyDelay pushes scheduled and estimated start times of the day's
	// active appointments later by the given minutes and accrues the delay.
	// Returns the number of rows shifted.
	ApplyDelay(ctx context.Context, doctorID uuid.UUID, day time.Time, minutes int) (int, error)

	BreaksByDoctorDay(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]DoctorBreak, error)
	CreateBreak(ctx context.Context, b *DoctorBreak) error

	// UpdatePlan persists a propagation result as one all-or-nothing batch.
	UpdatePlan(ctx context.Context, updates []PlanUpdate) error
}
