package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SubhanAlom009/clinic-queue-engine/internal/lock"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(hour, min int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

func testAppt(pos, hour, min, minutes int) Appointment {
	start := at(hour, min)
	return Appointment{
		ID:              uuid.New(),
		DoctorID:        uuid.New(),
		PatientID:       uuid.New(),
		ServiceDay:      day,
		ScheduledStart:  start,
		EstimatedStart:  start,
		ExpectedMinutes: minutes,
		QueuePosition:   pos,
		Status:          StatusScheduled,
	}
}

func TestComputePlan_NoOverlapKeepsSchedule(t *testing.T) {
	t.Parallel()

	appts := []Appointment{
		testAppt(1, 9, 0, 30),
		testAppt(2, 9, 30, 30),
		testAppt(3, 10, 0, 30),
	}

	plan := computePlan(appts, nil, 5*time.Minute)

	require.Len(t, plan.Updates, 3)
	for i, u := range plan.Updates {
		assert.Equal(t, i+1, u.QueuePosition)
		assert.Equal(t, appts[i].ScheduledStart, u.EstimatedStart)
	}
	assert.Empty(t, plan.Changes)
}

func TestComputePlan_OverlapCascades(t *testing.T) {
	t.Parallel()

	appts := []Appointment{
		testAppt(1, 9, 0, 30),
		testAppt(2, 9, 15, 30),
		testAppt(3, 9, 45, 30),
	}

	plan := computePlan(appts, nil, 5*time.Minute)

	require.Len(t, plan.Updates, 3)
	assert.Equal(t, at(9, 0), plan.Updates[0].EstimatedStart)
	assert.Equal(t, at(9, 30), plan.Updates[1].EstimatedStart)
	assert.Equal(t, at(10, 0), plan.Updates[2].EstimatedStart)

	// The second and third shifted by 15 minutes each, past the threshold.
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, appts[1].ID, plan.Changes[0].AppointmentID)
	assert.Equal(t, 15*time.Minute, plan.Changes[0].Delay)
	assert.Equal(t, appts[2].ID, plan.Changes[1].AppointmentID)
	assert.Equal(t, 15*time.Minute, plan.Changes[1].Delay)
}

func TestComputePlan_NeverPullsEarlierThanScheduled(t *testing.T) {
	t.Parallel()

	// A late first appointment does not drag the second one before its
	// scheduled start.
	first := testAppt(1, 9, 0, 15)
	second := testAppt(2, 11, 0, 30)

	plan := computePlan([]Appointment{first, second}, nil, 5*time.Minute)

	require.Len(t, plan.Updates, 2)
	assert.Equal(t, at(11, 0), plan.Updates[1].EstimatedStart)
}

func TestComputePlan_RenumbersGaplessly(t *testing.T) {
	t.Parallel()

	appts := []Appointment{
		testAppt(2, 9, 0, 15),
		testAppt(5, 9, 15, 15),
		testAppt(9, 9, 30, 15),
	}

	plan := computePlan(appts, nil, 5*time.Minute)

	require.Len(t, plan.Updates, 3)
	for i, u := range plan.Updates {
		assert.Equal(t, i+1, u.QueuePosition)
	}
}

func TestComputePlan_EmergencyGoesFirst(t *testing.T) {
	t.Parallel()

	regular1 := testAppt(1, 9, 0, 30)
	regular2 := testAppt(2, 9, 30, 30)
	emergency := testAppt(3, 9, 0, 30)
	emergency.Emergency = true

	plan := computePlan([]Appointment{regular1, regular2, emergency}, nil, 5*time.Minute)

	require.Len(t, plan.Updates, 3)
	assert.Equal(t, emergency.ID, plan.Updates[0].ID)
	assert.Equal(t, 1, plan.Updates[0].QueuePosition)
	assert.Equal(t, at(9, 0), plan.Updates[0].EstimatedStart)

	// The regular queue shifts behind the emergency consultation.
	assert.Equal(t, regular1.ID, plan.Updates[1].ID)
	assert.Equal(t, at(9, 30), plan.Updates[1].EstimatedStart)
	assert.Equal(t, regular2.ID, plan.Updates[2].ID)
	assert.Equal(t, at(10, 0), plan.Updates[2].EstimatedStart)
}

func TestComputePlan_RoutesAroundBreaks(t *testing.T) {
	t.Parallel()

	a := testAppt(1, 12, 50, 30)
	lunch := DoctorBreak{
		ID:         uuid.New(),
		DoctorID:   a.DoctorID,
		ServiceDay: day,
		StartTime:  at(13, 0),
		EndTime:    at(14, 0),
	}

	plan := computePlan([]Appointment{a}, []DoctorBreak{lunch}, 5*time.Minute)

	require.Len(t, plan.Updates, 1)
	assert.Equal(t, at(14, 0), plan.Updates[0].EstimatedStart)
}

func TestComputePlan_ConsecutiveBreaks(t *testing.T) {
	t.Parallel()

	a := testAppt(1, 12, 50, 30)
	breaks := []DoctorBreak{
		{StartTime: at(13, 0), EndTime: at(13, 30)},
		{StartTime: at(13, 45), EndTime: at(14, 15)},
	}

	plan := computePlan([]Appointment{a}, breaks, 5*time.Minute)

	// Pushed past the first break it lands on the second, so it ends up
	// after both.
	require.Len(t, plan.Updates, 1)
	assert.Equal(t, at(14, 15), plan.Updates[0].EstimatedStart)
}

func TestComputePlan_BelowThresholdNotNotified(t *testing.T) {
	t.Parallel()

	appts := []Appointment{
		testAppt(1, 9, 0, 30),
		testAppt(2, 9, 28, 30),
	}

	plan := computePlan(appts, nil, 5*time.Minute)

	require.Len(t, plan.Updates, 2)
	assert.Equal(t, at(9, 30), plan.Updates[1].EstimatedStart)
	assert.Empty(t, plan.Changes, "a 2 minute shift stays below the threshold")
}

func TestComputePlan_Idempotent(t *testing.T) {
	t.Parallel()

	appts := []Appointment{
		testAppt(1, 9, 0, 30),
		testAppt(2, 9, 15, 30),
		testAppt(3, 9, 45, 30),
	}

	first := computePlan(appts, nil, 5*time.Minute)

	// Apply the plan and run again: the second pass must be a no-op.
	for i := range appts {
		appts[i].QueuePosition = first.Updates[i].QueuePosition
		appts[i].EstimatedStart = first.Updates[i].EstimatedStart
	}
	second := computePlan(appts, nil, 5*time.Minute)

	assert.Empty(t, second.Changes)
	for i := range second.Updates {
		assert.Equal(t, first.Updates[i].QueuePosition, second.Updates[i].QueuePosition)
		assert.Equal(t, first.Updates[i].EstimatedStart, second.Updates[i].EstimatedStart)
	}
}

type collectingNotifier struct {
	changes []ETAChange
}

func (c *collectingNotifier) NotifyETAChange(_ context.Context, change ETAChange) error {
	c.changes = append(c.changes, change)
	return nil
}

func TestEngine_Recalculate(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	doctorID := uuid.New()

	a1 := testAppt(1, 9, 0, 30)
	a2 := testAppt(2, 9, 15, 30)
	a1.DoctorID = doctorID
	a2.DoctorID = doctorID
	require.NoError(t, repo.Create(context.Background(), &a1))
	require.NoError(t, repo.Create(context.Background(), &a2))

	notifier := &collectingNotifier{}
	engine := NewEngine(repo, lock.NewMemoryManager(), notifier, time.Minute, 5*time.Minute)

	err := engine.Recalculate(context.Background(), doctorID, day, 1)
	require.NoError(t, err)

	stored, err := repo.GetByID(context.Background(), a2.ID)
	require.NoError(t, err)
	assert.Equal(t, at(9, 30), stored.EstimatedStart)
	assert.Equal(t, 2, stored.QueuePosition)

	require.Len(t, notifier.changes, 1)
	assert.Equal(t, a2.ID, notifier.changes[0].AppointmentID)
	assert.Equal(t, doctorID, notifier.changes[0].DoctorID)
	assert.Equal(t, 15*time.Minute, notifier.changes[0].Delay)
}

func TestEngine_RecalculateAfterDelayNotifiesEveryShiftedRow(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	doctorID := uuid.New()

	// Three non-overlapping slots, then the whole day slips 15 minutes.
	appts := []Appointment{
		testAppt(1, 9, 0, 30),
		testAppt(2, 9, 30, 30),
		testAppt(3, 10, 0, 30),
	}
	for i := range appts {
		appts[i].DoctorID = doctorID
		require.NoError(t, repo.Create(context.Background(), &appts[i]))
	}

	shifted, err := repo.ApplyDelay(context.Background(), doctorID, day, 15)
	require.NoError(t, err)
	require.Equal(t, 3, shifted)

	notifier := &collectingNotifier{}
	engine := NewEngine(repo, lock.NewMemoryManager(), notifier, time.Minute, 5*time.Minute)
	require.NoError(t, engine.Recalculate(context.Background(), doctorID, day, 1))

	require.Len(t, notifier.changes, 3, "every row moved 15 minutes, past the threshold")
	for i, change := range notifier.changes {
		assert.Equal(t, appts[i].ID, change.AppointmentID)
		assert.Equal(t, 15*time.Minute, change.Delay)
	}

	stored, err := repo.GetByID(context.Background(), appts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, at(9, 15), stored.EstimatedStart)
}

func TestEngine_RecalculateLockBusy(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	doctorID := uuid.New()

	locks := lock.NewMemoryManager()
	key := lock.Key(doctorID, day)
	ok, err := locks.Acquire(context.Background(), key, "someone-else", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	engine := NewEngine(repo, locks, &collectingNotifier{}, time.Minute, 5*time.Minute)

	err = engine.Recalculate(context.Background(), doctorID, day, 1)
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
}
