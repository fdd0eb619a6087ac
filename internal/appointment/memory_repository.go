package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository implements Repository for tests and single-node
// deployments. Semantics mirror PgRepository, including the conflict
// behavior of the compare-and-set write.
type MemoryRepository struct {
	mu           sync.RWMutex
	doctors      map[uuid.UUID]*Doctor
	patients     map[uuid.UUID]*Patient
	appointments map[uuid.UUID]*Appointment
	breaks       []DoctorBreak
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:      make(map[uuid.UUID]*Doctor),
		patients:     make(map[uuid.UUID]*Patient),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (m *MemoryRepository) AddDoctor(d Doctor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[d.ID] = &d
}

func (m *MemoryRepository) AddPatient(p Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = &p
}

func (m *MemoryRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.appointments[a.ID]; exists {
		return fmt.Errorf("appointment %s already exists", a.ID)
	}
	cp := *a
	m.appointments[a.ID] = &cp
	return nil
}

func (m *MemoryRepository) ActiveByDoctorDay(_ context.Context, doctorID uuid.UUID, day time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked(doctorID, day), nil
}

func (m *MemoryRepository) activeLocked(doctorID uuid.UUID, day time.Time) []Appointment {
	var result []Appointment
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && a.ServiceDay.Equal(day) && a.Status.Active() {
			result = append(result, *a)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Emergency != result[j].Emergency {
			return result[i].Emergency
		}
		return result[i].QueuePosition < result[j].QueuePosition
	})
	return result
}

func (m *MemoryRepository) NextPosition(_ context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	max := 0
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && a.ServiceDay.Equal(day) && a.Status.Active() && a.QueuePosition > max {
			max = a.QueuePosition
		}
	}
	return max + 1, nil
}

func (m *MemoryRepository) CompareAndSetStatus(_ context.Context, id uuid.UUID, expected, next Status, fields Fields) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.casLocked(id, expected, next, fields)
}

func (m *MemoryRepository) casLocked(id uuid.UUID, expected, next Status, fields Fields) (*Appointment, error) {
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != expected {
		return nil, fmt.Errorf("%w: expected %s, found %s", ErrConflict, expected, a.Status)
	}

	a.Status = next
	if fields.QueuePosition != nil {
		a.QueuePosition = *fields.QueuePosition
	}
	if fields.EstimatedStart != nil {
		a.EstimatedStart = *fields.EstimatedStart
	}
	if fields.ActualStart != nil {
		a.ActualStart = fields.ActualStart
	}
	if fields.ActualEnd != nil {
		a.ActualEnd = fields.ActualEnd
	}
	if fields.ActualMinutes != nil {
		a.ActualMinutes = fields.ActualMinutes
	}
	if fields.CheckedInAt != nil {
		a.CheckedInAt = fields.CheckedInAt
	}
	if fields.CancelReason != nil {
		a.CancelReason = fields.CancelReason
	}
	if fields.Diagnosis != nil {
		a.Diagnosis = fields.Diagnosis
	}
	if fields.Prescription != nil {
		a.Prescription = fields.Prescription
	}
	if fields.Notes != nil {
		a.Notes = fields.Notes
	}
	a.UpdatedAt = time.Now()

	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) ArchiveAndCompact(_ context.Context, id uuid.UUID, expected, next Status, fields Fields) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	archived, err := m.casLocked(id, expected, next, fields)
	if err != nil {
		return nil, err
	}

	for _, a := range m.appointments {
		if a.DoctorID == archived.DoctorID && a.ServiceDay.Equal(archived.ServiceDay) &&
			a.Status.Active() && a.QueuePosition > archived.QueuePosition {
			a.QueuePosition--
		}
	}
	return archived, nil
}

func (m *MemoryRepository) InsertEmergency(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, other := range m.appointments {
		if other.DoctorID == a.DoctorID && other.ServiceDay.Equal(a.ServiceDay) && other.Status.Active() {
			other.QueuePosition++
		}
	}

	cp := *a
	cp.QueuePosition = 1
	m.appointments[a.ID] = &cp
	return nil
}

func (m *MemoryRepository) ApplyDelay(_ context.Context, doctorID uuid.UUID, day time.Time, minutes int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	shift := time.Duration(minutes) * time.Minute
	count := 0
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && a.ServiceDay.Equal(day) && a.Status.Active() {
			// estimated_start stays put until the recalculation pass runs,
			// so the ETA shift is observed and notified there.
			a.ScheduledStart = a.ScheduledStart.Add(shift)
			a.DelayMinutes += minutes
			count++
		}
	}
	return count, nil
}

func (m *MemoryRepository) BreaksByDoctorDay(_ context.Context, doctorID uuid.UUID, day time.Time) ([]DoctorBreak, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []DoctorBreak
	for _, b := range m.breaks {
		if b.DoctorID == doctorID && b.ServiceDay.Equal(day) {
			result = append(result, b)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result, nil
}

func (m *MemoryRepository) CreateBreak(_ context.Context, b *DoctorBreak) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breaks = append(m.breaks, *b)
	return nil
}

func (m *MemoryRepository) UpdatePlan(_ context.Context, updates []PlanUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// All-or-nothing: verify every row exists before touching any.
	for _, u := range updates {
		if _, ok := m.appointments[u.ID]; !ok {
			return fmt.Errorf("update plan row %s: %w", u.ID, ErrAppointmentNotFound)
		}
	}
	for _, u := range updates {
		a := m.appointments[u.ID]
		a.QueuePosition = u.QueuePosition
		a.EstimatedStart = u.EstimatedStart
		a.UpdatedAt = time.Now()
	}
	return nil
}
