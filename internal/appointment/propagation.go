package appointment

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/SubhanAlom009/clinic-queue-engine/internal/lock"
)

// ETAChange records a threshold-crossing ETA shift discovered during a
// propagation pass.
type ETAChange struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	ServiceDay    time.Time
	OldETA        time.Time
	NewETA        time.Time
	Delay         time.Duration // positive when the ETA moved later
}

// Plan is the output of one propagation pass: the batch of position/ETA
// writes plus the ETA shifts worth notifying about.
type Plan struct {
	Updates []PlanUpdate
	Changes []ETAChange
}

// Notifier receives ETA shifts for delivery through the outbox.
type Notifier interface {
	NotifyETAChange(ctx context.Context, c ETAChange) error
}

// Engine recomputes queue order and ETAs for one doctor's service day.
// Every run holds the (doctor, day) lock so concurrent recalculations and
// ordering-changing transitions cannot interleave with the read-then-write.
type Engine struct {
	repo      Repository
	locks     lock.Manager
	notifier  Notifier
	lockTTL   time.Duration
	threshold time.Duration
	holder    string
	now       func() time.Time
}

func NewEngine(repo Repository, locks lock.Manager, notifier Notifier, lockTTL, threshold time.Duration) *Engine {
	return &Engine{
		repo:      repo,
		locks:     locks,
		notifier:  notifier,
		lockTTL:   lockTTL,
		threshold: threshold,
		holder:    uuid.NewString(),
		now:       time.Now,
	}
}

// Recalculate runs a single bounded propagation pass for the doctor's day.
// startFrom is advisory: the pass always renumbers from position 1, so a
// caller hinting at a later start changes nothing about the outcome.
// Returns lock.ErrNotAcquired when another recalculation holds the key;
// callers reschedule instead of failing.
func (e *Engine) Recalculate(ctx context.Context, doctorID uuid.UUID, day time.Time, startFrom int) error {
	_ = startFrom

	key := lock.Key(doctorID, day)
	return lock.WithLock(ctx, e.locks, key, e.holder, e.lockTTL, func(ctx context.Context) error {
		appts, err := e.repo.ActiveByDoctorDay(ctx, doctorID, day)
		if err != nil {
			return fmt.Errorf("load active appointments: %w", err)
		}
		if len(appts) == 0 {
			return nil
		}

		breaks, err := e.repo.BreaksByDoctorDay(ctx, doctorID, day)
		if err != nil {
			return fmt.Errorf("load doctor breaks: %w", err)
		}

		plan := computePlan(appts, breaks, e.threshold)

		if err := e.repo.UpdatePlan(ctx, plan.Updates); err != nil {
			return fmt.Errorf("persist propagation batch: %w", err)
		}

		for _, c := range plan.Changes {
			c.DoctorID = doctorID
			c.ServiceDay = day
			if err := e.notifier.NotifyETAChange(ctx, c); err != nil {
				// The plan is already committed; a re-run would see no
				// further shifts, so losing the enqueue is logged rather
				// than failing the whole job.
				log.Printf("enqueue eta notification for appointment %s: %v", c.AppointmentID, err)
			}
		}

		return nil
	})
}

// computePlan is the deterministic core of the engine: a single forward fold
// over the active appointments ordered emergency-first, then by current
// position. It renumbers positions from 1 and assigns each appointment the
// later of its scheduled start and the previous appointment's end, routed
// around the doctor's breaks.
func computePlan(appts []Appointment, breaks []DoctorBreak, threshold time.Duration) Plan {
	ordered := make([]Appointment, len(appts))
	copy(ordered, appts)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Emergency != ordered[j].Emergency {
			return ordered[i].Emergency
		}
		return ordered[i].QueuePosition < ordered[j].QueuePosition
	})

	sortedBreaks := make([]DoctorBreak, len(breaks))
	copy(sortedBreaks, breaks)
	sort.SliceStable(sortedBreaks, func(i, j int) bool {
		return sortedBreaks[i].StartTime.Before(sortedBreaks[j].StartTime)
	})

	plan := Plan{Updates: make([]PlanUpdate, 0, len(ordered))}

	var previousEnd time.Time
	for i, a := range ordered {
		candidate := a.ScheduledStart
		if i > 0 && previousEnd.After(candidate) {
			candidate = previousEnd
		}
		candidate = routeAroundBreaks(candidate, a.Duration(), sortedBreaks)

		plan.Updates = append(plan.Updates, PlanUpdate{
			ID:             a.ID,
			QueuePosition:  i + 1,
			EstimatedStart: candidate,
		})

		if shift := absDuration(candidate.Sub(a.EstimatedStart)); shift >= threshold {
			plan.Changes = append(plan.Changes, ETAChange{
				AppointmentID: a.ID,
				PatientID:     a.PatientID,
				OldETA:        a.EstimatedStart,
				NewETA:        candidate,
				Delay:         candidate.Sub(a.EstimatedStart),
			})
		}

		previousEnd = candidate.Add(a.Duration())
	}

	return plan
}

// routeAroundBreaks advances the candidate start past every break the
// consultation would overlap. Breaks are sorted and non-overlapping, so one
// forward sweep terminates: advancing past a break can only collide with a
// later one.
func routeAroundBreaks(candidate time.Time, duration time.Duration, sorted []DoctorBreak) time.Time {
	for _, b := range sorted {
		if b.Overlaps(candidate, candidate.Add(duration)) {
			candidate = b.EndTime
		}
	}
	return candidate
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
