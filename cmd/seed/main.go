package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SubhanAlom009/clinic-queue-engine/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctors, err := seedDoctors(context.Background(), pool, 20)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	patients, err := seedPatients(context.Background(), pool, 2000)
	if err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedQueues(context.Background(), pool, doctors, patients); err != nil {
		log.Fatalf("seed queues: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	ids := make([]uuid.UUID, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()
			phone := gofakeit.Phone()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, phone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, name, email, phone)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return ids, nil
}

// seedQueues books a morning queue for every doctor on today's service day,
// plus a lunch break so the recalculation pass has something to route around.
func seedQueues(ctx context.Context, pool *pgxpool.Pool, doctors, patients []uuid.UUID) error {
	log.Printf("seeding queues for %d doctors", len(doctors))

	day := time.Now().UTC().Truncate(24 * time.Hour)
	dayStart := day.Add(9 * time.Hour)

	for _, doctorID := range doctors {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		slots := gofakeit.Number(6, 12)
		start := dayStart
		for pos := 1; pos <= slots; pos++ {
			patientID := patients[gofakeit.Number(0, len(patients)-1)]
			minutes := []int{15, 20, 30}[gofakeit.Number(0, 2)]

			_, err := tx.Exec(ctx, `
				INSERT INTO appointments (
					id, doctor_id, patient_id, service_day,
					scheduled_start, estimated_start,
					expected_minutes, queue_position, status,
					created_at, updated_at
				) VALUES ($1, $2, $3, $4, $5, $5, $6, $7, 'SCHEDULED', now(), now())
			`, uuid.New(), doctorID, patientID, day, start, minutes, pos)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}

			start = start.Add(time.Duration(minutes) * time.Minute)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO doctor_breaks (id, doctor_id, service_day, start_time, end_time, reason)
			VALUES ($1, $2, $3, $4, $5, 'lunch')
		`, uuid.New(), doctorID, day, day.Add(13*time.Hour), day.Add(14*time.Hour))
		if err != nil {
			_ = tx.Rollback(ctx)
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	log.Println("queues seeded")
	return nil
}
