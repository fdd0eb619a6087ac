package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled   Status = "SCHEDULED"
	StatusCheckedIn   Status = "CHECKED_IN"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusCompleted   Status = "COMPLETED"
	StatusCancelled   Status = "CANCELLED"
	StatusNoShow      Status = "NO_SHOW"
	StatusRescheduled Status = "RESCHEDULED"
)

// ActiveStatuses are the statuses that keep an appointment in its doctor's
// queue. Everything else is archived and excluded from propagation.
var ActiveStatuses = []Status{StatusScheduled, StatusCheckedIn, StatusInProgress}

func (s Status) Active() bool {
	switch s {
	case StatusScheduled, StatusCheckedIn, StatusInProgress:
		return true
	}
	return false
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID

	ServiceDay      time.Time // date the queue is scoped to, midnight UTC
	ScheduledStart  time.Time
	EstimatedStart  time.Time // never earlier than ScheduledStart
	ActualStart     *time.Time
	ActualEnd       *time.Time
	ExpectedMinutes int
	ActualMinutes   *int // elapsed consultation time, recorded at completion

	QueuePosition int // 1-based rank among the day's active appointments
	Status        Status

	Emergency       bool
	EmergencyReason *string
	CheckedInAt     *time.Time
	DelayMinutes    int // accumulated doctor-side delay applied to this row

	CancelReason *string
	Diagnosis    *string
	Prescription *string
	Notes        *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Duration is the planned consultation length.
func (a *Appointment) Duration() time.Duration {
	return time.Duration(a.ExpectedMinutes) * time.Minute
}

// DoctorBreak is a blocked interval the propagation pass routes around.
type DoctorBreak struct {
	ID         uuid.UUID
	DoctorID   uuid.UUID
	ServiceDay time.Time
	StartTime  time.Time
	EndTime    time.Time
	Reason     *string
}

// Overlaps reports whether [start, end) intersects the break.
func (b DoctorBreak) Overlaps(start, end time.Time) bool {
	return start.Before(b.EndTime) && end.After(b.StartTime)
}

// ServiceDayOf truncates t to its calendar date in UTC.
func ServiceDayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
