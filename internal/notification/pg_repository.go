package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const messageColumns = `
	id, appointment_id, patient_id, type, channel, template, variables,
	scheduled_for, delivery_status, attempts, max_attempts,
	last_error, rendered_body, sent_at, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(
		&m.ID,
		&m.AppointmentID,
		&m.PatientID,
		&m.Type,
		&m.Channel,
		&m.Template,
		&m.Variables,
		&m.ScheduledFor,
		&m.DeliveryStatus,
		&m.Attempts,
		&m.MaxAttempts,
		&m.LastError,
		&m.RenderedBody,
		&m.SentAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *PgRepository) Enqueue(ctx context.Context, m *Message) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_messages (
			id, appointment_id, patient_id, type, channel, template, variables,
			scheduled_for, delivery_status, attempts, max_attempts, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
	`,
		m.ID, m.AppointmentID, m.PatientID, m.Type, m.Channel,
		m.Template, m.Variables, m.ScheduledFor, m.DeliveryStatus,
		m.Attempts, m.MaxAttempts,
	)
	if err != nil {
		return fmt.Errorf("insert notification message: %w", err)
	}
	return nil
}

func (r *PgRepository) ClaimPending(ctx context.Context, batchSize int) ([]Message, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT `+messageColumns+`
		FROM notification_messages
		WHERE delivery_status = 'PENDING'
		  AND scheduled_for <= now()
		  AND attempts < max_attempts
		ORDER BY scheduled_for ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, batchSize)
	if err != nil {
		return nil, err
	}

	var claimed []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, *m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(claimed) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]uuid.UUID, len(claimed))
	for i := range claimed {
		ids[i] = claimed[i].ID
	}

	_, err = tx.Exec(ctx, `
		UPDATE notification_messages
		SET delivery_status = 'PROCESSING',
		    updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("mark messages processing: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	for i := range claimed {
		claimed[i].DeliveryStatus = StatusProcessing
	}
	return claimed, nil
}

func (r *PgRepository) MarkSent(ctx context.Context, id uuid.UUID, renderedBody string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_messages
		SET delivery_status = 'SENT',
		    attempts = attempts + 1,
		    rendered_body = $2,
		    sent_at = now(),
		    updated_at = now()
		WHERE id = $1
	`, id, renderedBody)
	return err
}

func (r *PgRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryDelay time.Duration) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_messages
		SET attempts = attempts + 1,
		    last_error = $2,
		    delivery_status = CASE WHEN attempts + 1 >= max_attempts THEN 'FAILED' ELSE 'PENDING' END,
		    scheduled_for = CASE WHEN attempts + 1 >= max_attempts THEN scheduled_for ELSE now() + $3 * INTERVAL '1 second' END,
		    updated_at = now()
		WHERE id = $1
	`, id, errMsg, int(retryDelay.Seconds()))
	return err
}

func (r *PgRepository) PurgeTerminal(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notification_messages
		WHERE (delivery_status = 'SENT' OR (delivery_status = 'FAILED' AND attempts >= max_attempts))
		  AND updated_at < $1
	`, olderThan)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
