package appointment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

const (
	// Job priorities, 1 highest to 10 lowest.
	PriorityEmergency = 1
	PriorityCheckIn   = 3
	PriorityDefault   = 5
)

var ErrInvalidDelay = errors.New("delay minutes must be positive")

// JobEnqueuer hands recalculation work to the background queue. No caller
// operation blocks on the recalculation itself.
type JobEnqueuer interface {
	EnqueueRecalculation(ctx context.Context, doctorID uuid.UUID, serviceDay time.Time, startFrom, priority int) error
}

// EventPublisher broadcasts appointment change events to the change feed.
// Implementations are best-effort and must not fail the operation.
type EventPublisher interface {
	AppointmentChanged(ctx context.Context, event string, a *Appointment)
}

// Service implements the caller-facing operations. Status writes go straight
// to the queue store guarded by compare-and-set; the ordering and ETA pass
// happens asynchronously through the job queue under the (doctor, day) lock.
type Service struct {
	repo          Repository
	jobs          JobEnqueuer
	events        EventPublisher
	lateThreshold time.Duration
	now           func() time.Time
}

func NewService(repo Repository, jobs JobEnqueuer, events EventPublisher, lateThreshold time.Duration) *Service {
	return &Service{
		repo:          repo,
		jobs:          jobs,
		events:        events,
		lateThreshold: lateThreshold,
		now:           time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

type CreateInput struct {
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	Start           time.Time
	ExpectedMinutes int
	Notes           *string
}

// Create books a regular appointment at the end of the day's queue.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Appointment, error) {
	if err := s.checkReferences(ctx, in.DoctorID, in.PatientID); err != nil {
		return nil, err
	}

	day := ServiceDayOf(in.Start)
	pos, err := s.repo.NextPosition(ctx, in.DoctorID, day)
	if err != nil {
		return nil, fmt.Errorf("next queue position: %w", err)
	}

	if in.ExpectedMinutes <= 0 {
		in.ExpectedMinutes = 30
	}

	now := s.now()
	a := &Appointment{
		ID:              uuid.New(),
		DoctorID:        in.DoctorID,
		PatientID:       in.PatientID,
		ServiceDay:      day,
		ScheduledStart:  in.Start,
		EstimatedStart:  in.Start,
		ExpectedMinutes: in.ExpectedMinutes,
		QueuePosition:   pos,
		Status:          StatusScheduled,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.enqueueRecalc(ctx, a.DoctorID, a.ServiceDay, 1, PriorityDefault)
	s.publish(ctx, "appointment.created", a)
	return a, nil
}

// CreateEmergency forces an appointment to the front of the queue. The
// position override is all it takes: the propagation pass orders emergency
// rows first, so there is no separate scheduling path.
func (s *Service) CreateEmergency(ctx context.Context, doctorID, patientID uuid.UUID, start time.Time, reason string) (*Appointment, error) {
	if err := s.checkReferences(ctx, doctorID, patientID); err != nil {
		return nil, err
	}

	now := s.now()
	a := &Appointment{
		ID:              uuid.New(),
		DoctorID:        doctorID,
		PatientID:       patientID,
		ServiceDay:      ServiceDayOf(start),
		ScheduledStart:  start,
		EstimatedStart:  start,
		ExpectedMinutes: 30,
		QueuePosition:   1,
		Status:          StatusScheduled,
		Emergency:       true,
		EmergencyReason: &reason,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.InsertEmergency(ctx, a); err != nil {
		return nil, fmt.Errorf("insert emergency appointment: %w", err)
	}

	s.enqueueRecalc(ctx, a.DoctorID, a.ServiceDay, 1, PriorityEmergency)
	s.publish(ctx, "appointment.emergency_created", a)
	return a, nil
}

// CheckIn marks a patient as arrived and queues a recalculation.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, from, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(from, StatusCheckedIn); err != nil {
		return nil, err
	}

	now := s.now()
	updated, err := s.repo.CompareAndSetStatus(ctx, id, a.Status, StatusCheckedIn, Fields{CheckedInAt: &now})
	if err != nil {
		return nil, err
	}

	s.enqueueRecalc(ctx, a.DoctorID, a.ServiceDay, 1, PriorityCheckIn)
	s.publish(ctx, "appointment.checked_in", updated)
	return updated, nil
}

// Start begins the consultation. A start later than the estimate by more
// than the configured threshold ripples into the rest of the queue, so it
// triggers a recalculation; an on-time start does not.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, from, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(from, StatusInProgress); err != nil {
		return nil, err
	}

	now := s.now()
	updated, err := s.repo.CompareAndSetStatus(ctx, id, a.Status, StatusInProgress, Fields{ActualStart: &now})
	if err != nil {
		return nil, err
	}

	if now.After(a.EstimatedStart.Add(s.lateThreshold)) {
		s.enqueueRecalc(ctx, a.DoctorID, a.ServiceDay, 1, PriorityDefault)
	}
	s.publish(ctx, "appointment.started", updated)
	return updated, nil
}

type CompletionInput struct {
	Diagnosis    *string
	Prescription *string
	Notes        *string
}

// Complete finishes the consultation, recording the elapsed duration
// separately from the originally scheduled one.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, in CompletionInput) (*Appointment, error) {
	a, from, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(from, StatusCompleted); err != nil {
		return nil, err
	}

	now := s.now()
	fields := Fields{
		ActualEnd:    &now,
		Diagnosis:    in.Diagnosis,
		Prescription: in.Prescription,
		Notes:        in.Notes,
	}
	if a.ActualStart != nil {
		elapsed := int(now.Sub(*a.ActualStart).Round(time.Minute) / time.Minute)
		if elapsed < 0 {
			elapsed = 0
		}
		fields.ActualMinutes = &elapsed
	}

	updated, err := s.repo.CompareAndSetStatus(ctx, id, a.Status, StatusCompleted, fields)
	if err != nil {
		return nil, err
	}

	s.enqueueRecalc(ctx, a.DoctorID, a.ServiceDay, a.QueuePosition+1, PriorityDefault)
	s.publish(ctx, "appointment.completed", updated)
	return updated, nil
}

// Cancel removes an appointment from the queue and compacts the later
// positions atomically with the status write.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason *string) (*Appointment, error) {
	return s.archive(ctx, id, StatusCancelled, reason, "appointment.cancelled")
}

// MarkNoShow records a patient who never arrived.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.archive(ctx, id, StatusNoShow, nil, "appointment.no_show")
}

func (s *Service) archive(ctx context.Context, id uuid.UUID, next Status, reason *string, event string) (*Appointment, error) {
	a, from, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(from, next); err != nil {
		return nil, err
	}

	updated, err := s.repo.ArchiveAndCompact(ctx, id, a.Status, next, Fields{CancelReason: reason})
	if err != nil {
		return nil, err
	}

	s.enqueueRecalc(ctx, a.DoctorID, a.ServiceDay, 1, PriorityDefault)
	s.publish(ctx, event, updated)
	return updated, nil
}

// Reinstate puts a cancelled, no-show or rescheduled appointment back on the
// schedule at the end of the day's queue.
func (s *Service) Reinstate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, from, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(from, StatusScheduled); err != nil {
		return nil, err
	}

	pos, err := s.repo.NextPosition(ctx, a.DoctorID, a.ServiceDay)
	if err != nil {
		return nil, fmt.Errorf("next queue position: %w", err)
	}

	eta := a.ScheduledStart
	updated, err := s.repo.CompareAndSetStatus(ctx, id, a.Status, StatusScheduled, Fields{
		QueuePosition:  &pos,
		EstimatedStart: &eta,
	})
	if err != nil {
		return nil, err
	}

	s.enqueueRecalc(ctx, a.DoctorID, a.ServiceDay, 1, PriorityDefault)
	s.publish(ctx, "appointment.reinstated", updated)
	return updated, nil
}

// ApplyDelay shifts every active appointment of the doctor's day later by
// the given minutes, then queues the ETA pass. Delays only push forward;
// the engine never pulls an estimate earlier than its scheduled start.
func (s *Service) ApplyDelay(ctx context.Context, doctorID uuid.UUID, day time.Time, minutes int, reason *string) (int, error) {
	if minutes <= 0 {
		return 0, ErrInvalidDelay
	}
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return 0, err
	}

	day = ServiceDayOf(day)
	shifted, err := s.repo.ApplyDelay(ctx, doctorID, day, minutes)
	if err != nil {
		return 0, fmt.Errorf("apply delay: %w", err)
	}

	s.enqueueRecalc(ctx, doctorID, day, 1, PriorityDefault)
	return shifted, nil
}

var ErrInvalidBreak = errors.New("break end must be after its start")

// AddBreak registers a blocked interval in the doctor's day and queues the
// ETA pass so the queue routes around it.
func (s *Service) AddBreak(ctx context.Context, doctorID uuid.UUID, start, end time.Time, reason *string) (*DoctorBreak, error) {
	if !end.After(start) {
		return nil, ErrInvalidBreak
	}
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	b := &DoctorBreak{
		ID:         uuid.New(),
		DoctorID:   doctorID,
		ServiceDay: ServiceDayOf(start),
		StartTime:  start,
		EndTime:    end,
		Reason:     reason,
	}
	if err := s.repo.CreateBreak(ctx, b); err != nil {
		return nil, fmt.Errorf("create doctor break: %w", err)
	}

	s.enqueueRecalc(ctx, doctorID, b.ServiceDay, 1, PriorityDefault)
	return b, nil
}

// Get returns a single appointment by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

// Queue returns the doctor's active queue for the day in position order.
func (s *Service) Queue(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Appointment, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.repo.ActiveByDoctorDay(ctx, doctorID, ServiceDayOf(day))
}

// load fetches the appointment and normalizes its stored status before any
// transition is evaluated.
func (s *Service) load(ctx context.Context, id uuid.UUID) (*Appointment, Status, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	from, err := NormalizeStatus(string(a.Status))
	if err != nil {
		return nil, "", err
	}
	return a, from, nil
}

func (s *Service) checkReferences(ctx context.Context, doctorID, patientID uuid.UUID) error {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return err
	}
	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		return err
	}
	return nil
}

func (s *Service) enqueueRecalc(ctx context.Context, doctorID uuid.UUID, day time.Time, startFrom, priority int) {
	if err := s.jobs.EnqueueRecalculation(ctx, doctorID, day, startFrom, priority); err != nil {
		// The fast path never blocks on the slow path; a missed enqueue is
		// picked up by the next transition's recalculation.
		log.Printf("enqueue recalculation for doctor %s day %s: %v", doctorID, day.Format("2006-01-02"), err)
	}
}

func (s *Service) publish(ctx context.Context, event string, a *Appointment) {
	if s.events != nil {
		s.events.AppointmentChanged(ctx, event, a)
	}
}
