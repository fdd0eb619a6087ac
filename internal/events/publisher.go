// Package events publishes "appointment changed" and "job completed" events
// to the change feed and keeps a durable audit trail. Downstream transports
// and consumers are outside the engine; publishing is always best-effort.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/SubhanAlom009/clinic-queue-engine/internal/appointment"
	"github.com/SubhanAlom009/clinic-queue-engine/internal/job"
)

const (
	channelAppointments = "events:appointments"
	channelJobs         = "events:jobs"
)

type Publisher struct {
	rdb  *redis.Client
	pool *pgxpool.Pool
}

func NewPublisher(rdb *redis.Client, pool *pgxpool.Pool) *Publisher {
	return &Publisher{rdb: rdb, pool: pool}
}

func (p *Publisher) AppointmentChanged(ctx context.Context, event string, a *appointment.Appointment) {
	p.publish(ctx, channelAppointments, event, a.ID, map[string]any{
		"appointment_id":  a.ID.String(),
		"doctor_id":       a.DoctorID.String(),
		"patient_id":      a.PatientID.String(),
		"service_day":     a.ServiceDay.Format("2006-01-02"),
		"status":          string(a.Status),
		"queue_position":  a.QueuePosition,
		"estimated_start": a.EstimatedStart,
	})
}

func (p *Publisher) JobCompleted(ctx context.Context, j *job.Job) {
	p.publish(ctx, channelJobs, "job.completed", j.ID, map[string]any{
		"job_id": j.ID.String(),
		"type":   j.Type,
	})
}

func (p *Publisher) publish(ctx context.Context, channel, event string, subjectID uuid.UUID, payload map[string]any) {
	payload["event"] = event
	payload["at"] = time.Now().UTC()

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("marshal event %s: %v", event, err)
		return
	}

	if p.rdb != nil {
		if err := p.rdb.Publish(ctx, channel, data).Err(); err != nil {
			log.Printf("publish event %s: %v", event, err)
		}
	}

	if p.pool != nil {
		_, err := p.pool.Exec(ctx, `
			INSERT INTO event_logs (event_type, subject_id, payload, created_at)
			VALUES ($1, $2, $3, now())
		`, event, subjectID, data)
		if err != nil {
			log.Printf("insert event log %s: %v", event, err)
		}
	}
}
