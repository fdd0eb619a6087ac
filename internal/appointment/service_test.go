package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEnqueue struct {
	DoctorID   uuid.UUID
	ServiceDay time.Time
	StartFrom  int
	Priority   int
}

type fakeEnqueuer struct {
	calls []recordedEnqueue
}

func (f *fakeEnqueuer) EnqueueRecalculation(_ context.Context, doctorID uuid.UUID, serviceDay time.Time, startFrom, priority int) error {
	f.calls = append(f.calls, recordedEnqueue{doctorID, serviceDay, startFrom, priority})
	return nil
}

type serviceFixture struct {
	svc      *Service
	repo     *MemoryRepository
	jobs     *fakeEnqueuer
	doctor   Doctor
	patient  Patient
	dayStart time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	repo := NewMemoryRepository()
	jobs := &fakeEnqueuer{}

	doctor := Doctor{ID: uuid.New(), Name: "Dr. Rao"}
	patient := Patient{ID: uuid.New(), Name: "Asha Verma"}
	repo.AddDoctor(doctor)
	repo.AddPatient(patient)

	return &serviceFixture{
		svc:      NewService(repo, jobs, nil, 5*time.Minute),
		repo:     repo,
		jobs:     jobs,
		doctor:   doctor,
		patient:  patient,
		dayStart: day.Add(9 * time.Hour),
	}
}

func (f *serviceFixture) book(t *testing.T, offset time.Duration) *Appointment {
	t.Helper()
	a, err := f.svc.Create(context.Background(), CreateInput{
		DoctorID:        f.doctor.ID,
		PatientID:       f.patient.ID,
		Start:           f.dayStart.Add(offset),
		ExpectedMinutes: 30,
	})
	require.NoError(t, err)
	return a
}

func (f *serviceFixture) lastEnqueue(t *testing.T) recordedEnqueue {
	t.Helper()
	require.NotEmpty(t, f.jobs.calls)
	return f.jobs.calls[len(f.jobs.calls)-1]
}

func TestService_Create(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	a1 := f.book(t, 0)
	a2 := f.book(t, 30*time.Minute)

	assert.Equal(t, 1, a1.QueuePosition)
	assert.Equal(t, 2, a2.QueuePosition)
	assert.Equal(t, StatusScheduled, a1.Status)
	assert.Equal(t, a1.ScheduledStart, a1.EstimatedStart)

	enq := f.lastEnqueue(t)
	assert.Equal(t, f.doctor.ID, enq.DoctorID)
	assert.Equal(t, day, enq.ServiceDay)
	assert.Equal(t, PriorityDefault, enq.Priority)
}

func TestService_CreateDefaultsDuration(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	a, err := f.svc.Create(context.Background(), CreateInput{
		DoctorID:  f.doctor.ID,
		PatientID: f.patient.ID,
		Start:     f.dayStart,
	})
	require.NoError(t, err)
	assert.Equal(t, 30, a.ExpectedMinutes)
}

func TestService_CreateUnknownDoctor(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	_, err := f.svc.Create(context.Background(), CreateInput{
		DoctorID:  uuid.New(),
		PatientID: f.patient.ID,
		Start:     f.dayStart,
	})
	assert.ErrorIs(t, err, ErrDoctorNotFound)
	assert.Empty(t, f.jobs.calls)
}

func TestService_CreateEmergency(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	a1 := f.book(t, 0)
	a2 := f.book(t, 30*time.Minute)

	em, err := f.svc.CreateEmergency(context.Background(), f.doctor.ID, f.patient.ID, f.dayStart, "chest pain")
	require.NoError(t, err)

	assert.Equal(t, 1, em.QueuePosition)
	assert.True(t, em.Emergency)
	require.NotNil(t, em.EmergencyReason)
	assert.Equal(t, "chest pain", *em.EmergencyReason)

	// Existing rows are shifted behind the head insert.
	s1, _ := f.repo.GetByID(context.Background(), a1.ID)
	s2, _ := f.repo.GetByID(context.Background(), a2.ID)
	assert.Equal(t, 2, s1.QueuePosition)
	assert.Equal(t, 3, s2.QueuePosition)

	enq := f.lastEnqueue(t)
	assert.Equal(t, PriorityEmergency, enq.Priority)
}

func TestService_CheckIn(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	a := f.book(t, 0)

	updated, err := f.svc.CheckIn(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, updated.Status)
	require.NotNil(t, updated.CheckedInAt)

	enq := f.lastEnqueue(t)
	assert.Equal(t, PriorityCheckIn, enq.Priority)

	// A second check-in is rejected without mutating the row.
	_, err = f.svc.CheckIn(context.Background(), a.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, _ := f.repo.GetByID(context.Background(), a.ID)
	assert.Equal(t, StatusCheckedIn, stored.Status)
}

func TestService_StartOnTime(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	a := f.book(t, 0)
	_, err := f.svc.CheckIn(context.Background(), a.ID)
	require.NoError(t, err)
	before := len(f.jobs.calls)

	f.svc.SetClock(func() time.Time { return a.EstimatedStart })
	updated, err := f.svc.Start(context.Background(), a.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusInProgress, updated.Status)
	require.NotNil(t, updated.ActualStart)
	assert.Len(t, f.jobs.calls, before, "an on-time start does not trigger a recalculation")
}

func TestService_StartLate(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	a := f.book(t, 0)
	_, err := f.svc.CheckIn(context.Background(), a.ID)
	require.NoError(t, err)
	before := len(f.jobs.calls)

	f.svc.SetClock(func() time.Time { return a.EstimatedStart.Add(10 * time.Minute) })
	_, err = f.svc.Start(context.Background(), a.ID)
	require.NoError(t, err)

	assert.Len(t, f.jobs.calls, before+1, "a late start ripples into the rest of the queue")
}

func TestService_Complete(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	a := f.book(t, 0)
	_, err := f.svc.CheckIn(context.Background(), a.ID)
	require.NoError(t, err)

	started := a.EstimatedStart
	f.svc.SetClock(func() time.Time { return started })
	_, err = f.svc.Start(context.Background(), a.ID)
	require.NoError(t, err)

	diagnosis := "seasonal allergy"
	f.svc.SetClock(func() time.Time { return started.Add(42 * time.Minute) })
	done, err := f.svc.Complete(context.Background(), a.ID, CompletionInput{Diagnosis: &diagnosis})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.ActualMinutes)
	assert.Equal(t, 42, *done.ActualMinutes)
	require.NotNil(t, done.Diagnosis)
	assert.Equal(t, diagnosis, *done.Diagnosis)

	enq := f.lastEnqueue(t)
	assert.Equal(t, a.QueuePosition+1, enq.StartFrom)
}

func TestService_CompleteFromScheduled(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	a := f.book(t, 0)
	_, err := f.svc.Complete(context.Background(), a.ID, CompletionInput{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestService_CancelCompacts(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	a1 := f.book(t, 0)
	a2 := f.book(t, 30*time.Minute)
	a3 := f.book(t, time.Hour)

	reason := "patient request"
	cancelled, err := f.svc.Cancel(context.Background(), a2.ID, &reason)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	// Later positions close the freed slot; earlier rows stay put.
	s1, _ := f.repo.GetByID(context.Background(), a1.ID)
	s3, _ := f.repo.GetByID(context.Background(), a3.ID)
	assert.Equal(t, 1, s1.QueuePosition)
	assert.Equal(t, 2, s3.QueuePosition)
}

func TestService_NoShowAndReinstate(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	a1 := f.book(t, 0)
	a2 := f.book(t, 30*time.Minute)

	_, err := f.svc.MarkNoShow(context.Background(), a1.ID)
	require.NoError(t, err)

	back, err := f.svc.Reinstate(context.Background(), a1.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, back.Status)
	assert.Equal(t, 2, back.QueuePosition, "reinstated rows join the end of the queue")

	s2, _ := f.repo.GetByID(context.Background(), a2.ID)
	assert.Equal(t, 1, s2.QueuePosition)
}

func TestService_ApplyDelay(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	a1 := f.book(t, 0)
	a2 := f.book(t, 30*time.Minute)

	shifted, err := f.svc.ApplyDelay(context.Background(), f.doctor.ID, day, 15, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, shifted)

	s1, _ := f.repo.GetByID(context.Background(), a1.ID)
	s2, _ := f.repo.GetByID(context.Background(), a2.ID)
	assert.Equal(t, a1.ScheduledStart.Add(15*time.Minute), s1.ScheduledStart)
	assert.Equal(t, a2.ScheduledStart.Add(15*time.Minute), s2.ScheduledStart)
	assert.Equal(t, 15, s1.DelayMinutes)

	// ETAs are untouched here; the queued recalculation shifts them so the
	// moves cross the notification threshold.
	assert.Equal(t, a1.EstimatedStart, s1.EstimatedStart)
	assert.Equal(t, a2.EstimatedStart, s2.EstimatedStart)
}

func TestService_ApplyDelayRejectsNonPositive(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	for _, minutes := range []int{0, -10} {
		_, err := f.svc.ApplyDelay(context.Background(), f.doctor.ID, day, minutes, nil)
		assert.ErrorIs(t, err, ErrInvalidDelay)
	}
}

func TestService_AddBreak(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	f.book(t, 0)

	reason := "lunch"
	b, err := f.svc.AddBreak(context.Background(), f.doctor.ID, at(13, 0), at(14, 0), &reason)
	require.NoError(t, err)
	assert.Equal(t, f.doctor.ID, b.DoctorID)
	assert.True(t, b.ServiceDay.Equal(day))

	stored, err := f.repo.BreaksByDoctorDay(context.Background(), f.doctor.ID, day)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, b.ID, stored[0].ID)

	enq := f.lastEnqueue(t)
	assert.Equal(t, f.doctor.ID, enq.DoctorID)
	assert.Equal(t, PriorityDefault, enq.Priority)
}

func TestService_AddBreakRejectsInvertedWindow(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	_, err := f.svc.AddBreak(context.Background(), f.doctor.ID, at(14, 0), at(13, 0), nil)
	assert.ErrorIs(t, err, ErrInvalidBreak)

	_, err = f.svc.AddBreak(context.Background(), uuid.New(), at(13, 0), at(14, 0), nil)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestService_QueueOrder(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	f.book(t, 0)
	f.book(t, 30*time.Minute)
	_, err := f.svc.CreateEmergency(context.Background(), f.doctor.ID, f.patient.ID, f.dayStart, "collapse")
	require.NoError(t, err)

	queue, err := f.svc.Queue(context.Background(), f.doctor.ID, day)
	require.NoError(t, err)
	require.Len(t, queue, 3)
	assert.True(t, queue[0].Emergency, "the emergency heads the queue")
	assert.Equal(t, 1, queue[0].QueuePosition)
}

func TestMemoryRepository_CompareAndSetConflict(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	a := testAppt(1, 9, 0, 30)
	require.NoError(t, repo.Create(context.Background(), &a))

	_, err := repo.CompareAndSetStatus(context.Background(), a.ID, StatusCheckedIn, StatusInProgress, Fields{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	stored, _ := repo.GetByID(context.Background(), a.ID)
	assert.Equal(t, StatusScheduled, stored.Status, "a failed compare-and-set leaves the row untouched")
}
