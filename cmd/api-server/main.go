package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/SubhanAlom009/clinic-queue-engine/internal/api"
	"github.com/SubhanAlom009/clinic-queue-engine/internal/appointment"
	"github.com/SubhanAlom009/clinic-queue-engine/internal/config"
	"github.com/SubhanAlom009/clinic-queue-engine/internal/db"
	"github.com/SubhanAlom009/clinic-queue-engine/internal/events"
	"github.com/SubhanAlom009/clinic-queue-engine/internal/job"
	"github.com/SubhanAlom009/clinic-queue-engine/internal/redisclient"
)

const version = "1.0.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s", cfg.Env, cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	rdb, err := redisclient.New(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	repo := appointment.NewPgRepository(pgPool)
	jobRepo := job.NewPgRepository(pgPool)
	enqueuer := job.NewEnqueuer(jobRepo, cfg.JobMaxRetries,
		job.WithWakeNotifier(job.NewRedisWaker(rdb)))
	publisher := events.NewPublisher(rdb, pgPool)

	svc := appointment.NewService(repo, enqueuer, publisher, cfg.LateStartThreshold)

	handler := api.NewHandler(svc, jobRepo)
	health := api.NewHealthHandler(pgPool, rdb, cfg.Env, version)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(handler, health),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on :%s", cfg.HTTPPort)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		log.Println("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("api-server stopped")
}
