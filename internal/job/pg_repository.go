package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `
	id, type, payload, priority, status, retry_count, max_retries,
	last_error, scheduled_for, started_at, completed_at, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(
		&j.ID,
		&j.Type,
		&j.Payload,
		&j.Priority,
		&j.Status,
		&j.RetryCount,
		&j.MaxRetries,
		&j.LastError,
		&j.ScheduledFor,
		&j.StartedAt,
		&j.CompletedAt,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &j, nil
}

func (r *PgRepository) Enqueue(ctx context.Context, j *Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (
			id, type, payload, priority, status, retry_count, max_retries,
			last_error, scheduled_for, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
	`,
		j.ID, j.Type, j.Payload, j.Priority, j.Status,
		j.RetryCount, j.MaxRetries, j.LastError, j.ScheduledFor,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *PgRepository) Claim(ctx context.Context, batchSize int) ([]Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// SKIP LOCKED keeps concurrent workers from blocking on or double
	// claiming the same rows.
	rows, err := tx.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'PENDING'
		  AND scheduled_for <= now()
		  AND retry_count < max_retries
		ORDER BY priority ASC, scheduled_for ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, batchSize)
	if err != nil {
		return nil, err
	}

	var claimed []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, *j)
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
		UPDATE jobs
		SET status = 'RUNNING',
		    started_at = now(),
		    updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("mark jobs running: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	for i := range claimed {
		claimed[i].Status = StatusRunning
	}
	return claimed, nil
}

func (r *PgRepository) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'COMPLETED',
		    completed_at = now(),
		    updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

func (r *PgRepository) Fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'FAILED',
		    retry_count = retry_count + 1,
		    last_error = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, errMsg)
	return err
}

func (r *PgRepository) Reschedule(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'PENDING',
		    scheduled_for = $2,
		    started_at = NULL,
		    updated_at = now()
		WHERE id = $1
	`, id, at)
	return err
}

func (r *PgRepository) CancelPending(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'CANCELLED',
		    completed_at = now(),
		    updated_at = now()
		WHERE id = $1
		  AND status = 'PENDING'
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *PgRepository) RequeueFailed(ctx context.Context, backoffBase time.Duration) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'PENDING',
		    scheduled_for = now() + ($1 * POWER(2, LEAST(retry_count, 6))) * INTERVAL '1 second',
		    started_at = NULL,
		    updated_at = now()
		WHERE status = 'FAILED'
		  AND retry_count < max_retries
	`, int(backoffBase.Seconds()))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) PurgeCompleted(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE status IN ('COMPLETED', 'CANCELLED')
		  AND completed_at < $1
	`, olderThan)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) ListExhausted(ctx context.Context, limit int) ([]Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'FAILED'
		  AND retry_count >= max_retries
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *j)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
