package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"geoattend/internal/attendance"
	"geoattend/internal/config"
	"geoattend/internal/geo"
	"geoattend/internal/handler"
	"geoattend/internal/httpmiddleware"
	"geoattend/internal/metrics"
	"geoattend/internal/queue"
	"geoattend/internal/store"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func openDB(cfg config.App) (*store.DB, error) {
	switch cfg.LedgerBackend {
	case "sqlite":
		return store.NewSQLite(cfg.SQLitePath)
	case "postgres":
		return store.NewDB(cfg.DatabaseURL)
	}
	return nil, nil
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var (
		ledger   attendance.Ledger
		roster   attendance.Roster
		accounts handler.Accounts
		audit    handler.AuditLog
		repo     *attendance.Repository
		memAccts *attendance.MemoryAccounts
	)
	checks := map[string]handler.Check{}
	if db != nil {
		if err := store.Migrate(ctx, db); err != nil {
			return err
		}
		repo = attendance.NewRepository(db)
		ledger, roster, accounts, audit = repo, repo, repo, repo
		checks["ledger"] = db.Healthy
		log.Printf("ledger: %s", db.Dialect)
	} else {
		ledger = attendance.NewMemoryLedger()
		memAccts = attendance.NewMemoryAccounts()
		accounts = memAccts
		log.Println("ledger: memory (records are lost on restart, enrollment is not checked, any actor may sign in)")
	}

	var (
		q      queue.Queue
		redisQ *queue.RedisQueue
	)
	switch cfg.QueueBackend {
	case "redis":
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		redisQ = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
		q = redisQ
		checks["redis"] = redisClient.Healthy
	case "memory":
		q = queue.NewInMemory(256)
		if repo != nil {
			// no separate worker shares an in-memory queue, so drain it here
			msgs, err := q.Consume(ctx)
			if err != nil {
				return err
			}
			go attendance.RunAuditWriter(ctx, msgs, repo, 3)
		} else {
			q = nil
		}
	}

	var pub attendance.Publisher
	if q != nil {
		pub = q
	}

	svc := attendance.NewService(ledger, roster, pub, attendance.Options{
		Geofence:     cfg.Geofence(),
		Policy:       attendance.Policy{MaxAccuracyMeters: cfg.MaxAccuracyMeters},
		MaxSampleAge: cfg.MaxSampleAge,
		Location:     loc,
	})

	tracker := geo.NewTracker(cfg.Tracking(), nil, metrics.ObserveSample)
	defer tracker.StopAll()

	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)

	sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := sched.AddFunc(cfg.SweepSchedule, func() {
		if n := tracker.StopIdle(cfg.TrackIdle); n > 0 {
			log.Printf("tracker: stopped %d idle session(s)", n)
		}
		metrics.TrackedSessions.Set(float64(tracker.Len()))
		limiter.Sweep(10 * time.Minute)
		if memAccts != nil {
			_, _ = memAccts.PurgeRefreshTokens(ctx, time.Now())
		}
		if redisQ != nil {
			if n, err := redisQ.Len(ctx); err == nil {
				metrics.QueueDepth.Set(float64(n))
			}
		}
	}); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	h := handler.New(svc, tracker, accounts, audit, handler.Tokens{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}, checks)

	r := gin.New()

	// Recovery middleware
	r.Use(gin.Recovery())

	// Custom logger
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	// Security headers
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.Routes(r, limiter.GinMiddleware())

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// corsConfig allows browser clients from origins; "*" opens the API to any
// origin without credentials.
func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       24 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
