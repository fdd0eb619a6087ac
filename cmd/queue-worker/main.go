package main

import (
	"context"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/SubhanAlom009/clinic-queue-engine/internal/appointment"
	"github.com/SubhanAlom009/clinic-queue-engine/internal/config"
	"github.com/SubhanAlom009/clinic-queue-engine/internal/db"
	"github.com/SubhanAlom009/clinic-queue-engine/internal/events"
	"github.com/SubhanAlom009/clinic-queue-engine/internal/job"
	"github.com/SubhanAlom009/clinic-queue-engine/internal/lock"
	"github.com/SubhanAlom009/clinic-queue-engine/internal/notification"
	"github.com/SubhanAlom009/clinic-queue-engine/internal/redisclient"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("queue-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s workers=%d poll_interval=%s", cfg.Env, cfg.WorkerCount, cfg.JobPollInterval)

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
	msgRepo := notification.NewPgRepository(pgPool)
	locks := lock.NewRedisManager(rdb)
	publisher := events.NewPublisher(rdb, pgPool)

	channel := notification.ChannelEmail
	if cfg.TwilioFromPhone != "" {
		channel = notification.ChannelSMS
	}
	notifier := notification.NewETANotifier(msgRepo, channel, cfg.NotifyMaxAttempts)

	engine := appointment.NewEngine(repo, locks, notifier, cfg.LockTTL, cfg.ETAChangeThreshold)

	// Subscribe to the API's enqueue signal so a fresh job is claimed right
	// away instead of on the next poll tick.
	wake := job.NewRedisWaker(rdb).Listen(rootCtx)

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		proc := job.NewProcessor(jobRepo, cfg.JobPollInterval, cfg.JobBatchSize,
			job.WithEvents(publisher), job.WithWake(wake))
		proc.Register(job.TypeRecalculateQueue, job.NewRecalculateHandler(engine))

		wg.Add(1)
		go func() {
			defer wg.Done()
			proc.Run(rootCtx)
		}()
	}

	outbox := notification.NewProcessor(msgRepo, repo, senders(cfg), cfg.NotifyPollInterval, cfg.JobBatchSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		outbox.Run(rootCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		maintenanceLoop(rootCtx, cfg, jobRepo, msgRepo)
	}()

	<-rootCtx.Done()
	log.Println("shutdown signal received, waiting for workers")
	wg.Wait()
	log.Println("queue-worker stopped")
}

// senders maps each delivery channel to its transport. Channels without
// configured credentials fall back to the log sender so local runs still
// exercise the full outbox path.
func senders(cfg config.Config) map[notification.Channel]notification.Sender {
	out := map[notification.Channel]notification.Sender{
		notification.ChannelEmail: notification.LogSender{},
		notification.ChannelSMS:   notification.LogSender{},
	}
	if cfg.SMTPAddr != "" {
		out[notification.ChannelEmail] = notification.NewSMTPSender(cfg.SMTPAddr, cfg.SMTPFrom)
	}
	if cfg.TwilioFromPhone != "" {
		out[notification.ChannelSMS] = notification.NewTwilioSender(cfg.TwilioFromPhone)
	}
	return out
}

// maintenanceLoop periodically sweeps failed jobs back to pending with
// backoff and purges terminal rows past the retention window.
func maintenanceLoop(ctx context.Context, cfg config.Config, jobs job.Repository, msgs notification.Repository) {
	sweep := time.NewTicker(cfg.SweepInterval)
	defer sweep.Stop()
	purge := time.NewTicker(time.Hour)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
			n, err := jobs.RequeueFailed(runCtx, cfg.JobBackoffBase)
			cancel()
			if err != nil {
				log.Printf("requeue failed jobs: %v", err)
			} else if n > 0 {
				log.Printf("requeued %d failed jobs", n)
			}
		case <-purge.C:
			cutoff := time.Now().Add(-cfg.RetentionWindow)
			runCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
			if n, err := jobs.PurgeCompleted(runCtx, cutoff); err != nil {
				log.Printf("purge completed jobs: %v", err)
			} else if n > 0 {
				log.Printf("purged %d terminal jobs", n)
			}
			if n, err := msgs.PurgeTerminal(runCtx, cutoff); err != nil {
				log.Printf("purge terminal messages: %v", err)
			} else if n > 0 {
				log.Printf("purged %d terminal messages", n)
			}
			cancel()
		}
	}
}
