package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/scottwelch968/Spork-V2-sub003/internal/action"
	"github.com/scottwelch968/Spork-V2-sub003/internal/batch"
	"github.com/scottwelch968/Spork-V2-sub003/internal/cache"
	"github.com/scottwelch968/Spork-V2-sub003/internal/callback"
	"github.com/scottwelch968/Spork-V2-sub003/internal/config"
	"github.com/scottwelch968/Spork-V2-sub003/internal/db"
	dbmigrate "github.com/scottwelch968/Spork-V2-sub003/internal/db/migrate"
	"github.com/scottwelch968/Spork-V2-sub003/internal/gateway"
	"github.com/scottwelch968/Spork-V2-sub003/internal/model"
	"github.com/scottwelch968/Spork-V2-sub003/internal/processor"
	"github.com/scottwelch968/Spork-V2-sub003/internal/prompt"
	"github.com/scottwelch968/Spork-V2-sub003/internal/provider"
	"github.com/scottwelch968/Spork-V2-sub003/internal/queue"
	"github.com/scottwelch968/Spork-V2-sub003/internal/router"
	"github.com/scottwelch968/Spork-V2-sub003/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "cosmo_config.yaml", "path to cosmo config YAML")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Init store (Postgres when configured, in-memory otherwise)
	var store db.Store
	var pinger gateway.DBPinger
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatalf("connect database: %v", err)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			log.Fatalf("ping database: %v", err)
		}
		log.Println("database connected")

		if cfg.Database.AutoMigrate {
			log.Println("running database migrations...")
			if err := dbmigrate.RunMigrations(ctx, pool); err != nil {
				log.Fatalf("migration failed: %v", err)
			}
			log.Println("migrations complete")
		}

		queries := db.New(pool)
		store = queries
		pinger = queries
	} else {
		log.Println("warn: no database configured, using in-memory store (non-durable)")
		store = db.NewMemStore()
	}

	// Init cache and distributed locking (Redis optional)
	var cacheBackend cache.Cache
	var redisClient redis.UniversalClient
	if cfg.Redis != nil && cfg.Redis.Addr != "" {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rc.Ping(ctx).Err(); err != nil {
			log.Printf("warn: redis not available, using memory-only cache: %v", err)
			cacheBackend = cache.NewMemoryCache()
		} else {
			log.Println("redis connected")
			redisClient = rc
			cacheBackend = cache.NewRedisCache(redisClient)
		}
	} else {
		cacheBackend = cache.NewMemoryCache()
	}

	// Core services
	queueSvc := queue.NewService(store, queue.Options{
		TTL:            time.Duration(cfg.Queue.TTLSeconds) * time.Second,
		LeaseTTL:       time.Duration(cfg.Queue.LeaseTTLSeconds) * time.Second,
		MaxRetries:     cfg.Queue.MaxRetries,
		AgeBoostPerMin: cfg.Queue.AgeBoostPerMin,
		LoadThreshold:  cfg.Queue.LoadThreshold,
	})

	batchTypes := make([]model.RequestType, 0, len(cfg.Batch.BatchableType))
	for _, t := range cfg.Batch.BatchableType {
		batchTypes = append(batchTypes, model.RequestType(t))
	}
	batchCoord := batch.NewCoordinator(store, batch.Options{
		MinBatchSize:   cfg.Batch.MinSize,
		MaxBatchSize:   cfg.Batch.MaxSize,
		Window:         time.Duration(cfg.Batch.WindowSeconds) * time.Second,
		BatchableTypes: batchTypes,
	})

	resolver := action.NewResolver(store, action.DefaultCacheTTL)
	modelRouter := router.New(store)
	enhancer := &prompt.Enhancer{
		DefaultPersona:  cfg.Prompt.DefaultPersona,
		ComplianceRules: cfg.Prompt.ComplianceRules,
		MaxHistory:      cfg.Prompt.MaxHistory,
	}
	completer := provider.NewOpenAIClient(cfg.Provider.APIKey, cfg.Provider.APIBase)
	notifier := callback.NewNotifier()

	hostname, _ := os.Hostname()
	proc := processor.New(processor.Config{
		Store:    store,
		Queue:    queueSvc,
		Batches:  batchCoord,
		Resolver: resolver,
		Router:   modelRouter,
		Enhancer: enhancer,
		Provider: completer,
		Notifier: notifier,
		WorkerID: hostname,
		Workers:  cfg.Queue.Workers,
	})

	// Init scheduler. With Redis present the queue pass is wrapped in a
	// distributed lock so only one instance drives the store per tick.
	sched := scheduler.New()
	passJob := scheduler.Job(&scheduler.QueuePassJob{Processor: proc})
	if redisClient != nil {
		lock := scheduler.NewDistributedLock(redisClient)
		passJob = scheduler.NewWithLock(passJob, lock, time.Duration(cfg.Scheduler.PassIntervalMs)*time.Millisecond*2)
	}
	sched.AddWithStartupRun(passJob, time.Duration(cfg.Scheduler.PassIntervalMs)*time.Millisecond)
	sched.Add(&scheduler.MappingRefreshJob{Resolver: resolver}, time.Duration(cfg.Scheduler.MappingRefreshSeconds)*time.Second)
	if cfg.Provider.APIBase != "" {
		sched.Add(&scheduler.HealthCheckJob{
			Endpoints: []string{cfg.Provider.APIBase + "/models"},
			Client:    &http.Client{Timeout: 10 * time.Second},
		}, time.Minute)
	}
	sched.Start()

	srv := gateway.NewServer(&gateway.Handlers{
		Store:    store,
		Queue:    queueSvc,
		Batches:  batchCoord,
		Resolver: resolver,
		Router:   modelRouter,
		Enhancer: enhancer,
		Provider: completer,
		Cache:    cacheBackend,
		Pinger:   pinger,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("shutting down...")
		sched.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Server.ShutdownTimeoutMs)*time.Millisecond)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		cancel()
	}()

	log.Printf("cosmo listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
