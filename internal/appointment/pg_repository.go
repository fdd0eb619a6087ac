package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const appointmentColumns = `
	id, doctor_id, patient_id, service_day,
	scheduled_start, estimated_start, actual_start, actual_end,
	expected_minutes, actual_minutes, queue_position, status,
	emergency, emergency_reason, checked_in_at, delay_minutes,
	cancel_reason, diagnosis, prescription, notes,
	created_at, updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Specialty, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.ServiceDay,
		&a.ScheduledStart,
		&a.EstimatedStart,
		&a.ActualStart,
		&a.ActualEnd,
		&a.ExpectedMinutes,
		&a.ActualMinutes,
		&a.QueuePosition,
		&a.Status,
		&a.Emergency,
		&a.EmergencyReason,
		&a.CheckedInAt,
		&a.DelayMinutes,
		&a.CancelReason,
		&a.Diagnosis,
		&a.Prescription,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanBreak(row pgx.Row) (*DoctorBreak, error) {
	var b DoctorBreak
	err := row.Scan(&b.ID, &b.DoctorID, &b.ServiceDay, &b.StartTime, &b.EndTime, &b.Reason)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments (
			id, doctor_id, patient_id, service_day,
			scheduled_start, estimated_start, actual_start, actual_end,
			expected_minutes, actual_minutes, queue_position, status,
			emergency, emergency_reason, checked_in_at, delay_minutes,
			cancel_reason, diagnosis, prescription, notes,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, now(), now())
	`,
		a.ID, a.DoctorID, a.PatientID, a.ServiceDay,
		a.ScheduledStart, a.EstimatedStart, a.ActualStart, a.ActualEnd,
		a.ExpectedMinutes, a.ActualMinutes, a.QueuePosition, a.Status,
		a.Emergency, a.EmergencyReason, a.CheckedInAt, a.DelayMinutes,
		a.CancelReason, a.Diagnosis, a.Prescription, a.Notes,
	)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) ActiveByDoctorDay(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND service_day = $2
		  AND status = ANY($3)
		ORDER BY emergency DESC, queue_position ASC
	`, doctorID, day, statusStrings(ActiveStatuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) NextPosition(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	var next int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(queue_position), 0) + 1
		FROM appointments
		WHERE doctor_id = $1
		  AND service_day = $2
		  AND status = ANY($3)
	`, doctorID, day, statusStrings(ActiveStatuses)).Scan(&next)
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (r *PgRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next Status, fields Fields) (*Appointment, error) {
	return r.casStatus(ctx, r.pool, id, expected, next, fields)
}

// casStatus guards the write with the status the caller read. Field updates
// are set-only, so COALESCE keeps untouched columns as they are.
func (r *PgRepository) casStatus(ctx context.Context, q querier, id uuid.UUID, expected, next Status, fields Fields) (*Appointment, error) {
	row := q.QueryRow(ctx, `
		UPDATE appointments
		SET status          = $3,
		    queue_position  = COALESCE($4, queue_position),
		    estimated_start = COALESCE($5, estimated_start),
		    actual_start    = COALESCE($6, actual_start),
		    actual_end      = COALESCE($7, actual_end),
		    actual_minutes  = COALESCE($8, actual_minutes),
		    checked_in_at   = COALESCE($9, checked_in_at),
		    cancel_reason   = COALESCE($10, cancel_reason),
		    diagnosis       = COALESCE($11, diagnosis),
		    prescription    = COALESCE($12, prescription),
		    notes           = COALESCE($13, notes),
		    updated_at      = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+appointmentColumns+`
	`,
		id, expected, next,
		fields.QueuePosition, fields.EstimatedStart,
		fields.ActualStart, fields.ActualEnd, fields.ActualMinutes,
		fields.CheckedInAt, fields.CancelReason,
		fields.Diagnosis, fields.Prescription, fields.Notes,
	)

	a, err := scanAppointment(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, err
	}

	// No row matched: either the appointment is gone or another session
	// moved its status first.
	var current Status
	checkErr := q.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1`, id).Scan(&current)
	if checkErr != nil {
		if errors.Is(checkErr, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, checkErr
	}
	return nil, fmt.Errorf("%w: expected %s, found %s", ErrConflict, expected, current)
}

func (r *PgRepository) ArchiveAndCompact(ctx context.Context, id uuid.UUID, expected, next Status, fields Fields) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	a, err := r.casStatus(ctx, tx, id, expected, next, fields)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE appointments
		SET queue_position = queue_position - 1,
		    updated_at = now()
		WHERE doctor_id = $1
		  AND service_day = $2
		  AND status = ANY($3)
		  AND queue_position > $4
	`, a.DoctorID, a.ServiceDay, statusStrings(ActiveStatuses), a.QueuePosition)
	if err != nil {
		return nil, fmt.Errorf("compact queue: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *PgRepository) InsertEmergency(ctx context.Context, a *Appointment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE appointments
		SET queue_position = queue_position + 1,
		    updated_at = now()
		WHERE doctor_id = $1
		  AND service_day = $2
		  AND status = ANY($3)
	`, a.DoctorID, a.ServiceDay, statusStrings(ActiveStatuses))
	if err != nil {
		return fmt.Errorf("shift queue positions: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (
			id, doctor_id, patient_id, service_day,
			scheduled_start, estimated_start, expected_minutes,
			queue_position, status, emergency, emergency_reason,
			delay_minutes, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, TRUE, $9, 0, now(), now())
	`,
		a.ID, a.DoctorID, a.PatientID, a.ServiceDay,
		a.ScheduledStart, a.EstimatedStart, a.ExpectedMinutes,
		a.Status, a.EmergencyReason,
	)
	if err != nil {
		return fmt.Errorf("insert emergency appointment: %w", err)
	}

	return tx.Commit(ctx)
}

// ApplyDelay shifts only scheduled_start; estimated_start is left for the
// recalculation pass so each patient whose ETA moves gets notified.
func (r *PgRepository) ApplyDelay(ctx context.Context, doctorID uuid.UUID, day time.Time, minutes int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET scheduled_start = scheduled_start + $4 * INTERVAL '1 minute',
		    delay_minutes   = delay_minutes + $4,
		    updated_at      = now()
		WHERE doctor_id = $1
		  AND service_day = $2
		  AND status = ANY($3)
	`, doctorID, day, statusStrings(ActiveStatuses), minutes)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) BreaksByDoctorDay(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]DoctorBreak, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, service_day, start_time, end_time, reason
		FROM doctor_breaks
		WHERE doctor_id = $1
		  AND service_day = $2
		ORDER BY start_time ASC
	`, doctorID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []DoctorBreak
	for rows.Next() {
		b, err := scanBreak(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CreateBreak(ctx context.Context, b *DoctorBreak) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctor_breaks (id, doctor_id, service_day, start_time, end_time, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, b.ID, b.DoctorID, b.ServiceDay, b.StartTime, b.EndTime, b.Reason)
	if err != nil {
		return fmt.Errorf("insert doctor break: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdatePlan(ctx context.Context, updates []PlanUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		_, err := tx.Exec(ctx, `
			UPDATE appointments
			SET queue_position  = $2,
			    estimated_start = $3,
			    updated_at      = now()
			WHERE id = $1
		`, u.ID, u.QueuePosition, u.EstimatedStart)
		if err != nil {
			return fmt.Errorf("update plan row %s: %w", u.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
