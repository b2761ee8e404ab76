package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"geoattend/internal/attendance"
	"geoattend/internal/config"
	"geoattend/internal/queue"
	"geoattend/internal/store"
)

// Worker drains accepted marks from the queue into the audit trail and purges
// spent refresh tokens.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.QueueBackend != "redis" {
		log.Fatalf("worker needs QUEUE_BACKEND=redis, got %q", cfg.QueueBackend)
	}

	var (
		db  *store.DB
		err error
	)
	switch cfg.LedgerBackend {
	case "postgres":
		db, err = store.NewDB(cfg.DatabaseURL)
	case "sqlite":
		db, err = store.NewSQLite(cfg.SQLitePath)
	default:
		log.Fatalf("worker needs a postgres or sqlite ledger, got %q", cfg.LedgerBackend)
	}
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()
	if err := store.Migrate(ctx, db); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis at %s not reachable, consumer will keep retrying", cfg.RedisAddr)
	}
	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	repo := attendance.NewRepository(db)

	sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := sched.AddFunc(cfg.PurgeSchedule, func() {
		n, err := repo.PurgeRefreshTokens(ctx, time.Now())
		if err != nil {
			log.Printf("purge refresh tokens failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("purged %d refresh token(s)", n)
		}
	}); err != nil {
		log.Fatalf("schedule purge: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for marks...")
	attendance.RunAuditWriter(ctx, messages, repo, 5)
	log.Println("worker stopped")
}
