// Package main is the entry point for the deskforge API server. With the
// default configuration it also embeds the worker pool, so one process runs
// the whole pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"deskforge/internal/artifacts"
	"deskforge/internal/codegen"
	"deskforge/internal/config"
	"deskforge/internal/logger"
	"deskforge/internal/observability"
	"deskforge/internal/orchestrator"
	"deskforge/internal/queue"
	"deskforge/internal/sandbox"
	"deskforge/internal/server"
	"deskforge/internal/store"
	"deskforge/internal/store/memory"
	"deskforge/internal/store/postgres"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	slogger := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store: postgres when configured, otherwise in-memory.
	var jobStore store.JobStore
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to DB: %v", err)
		}
		defer pg.Close()
		if *migrateFlag {
			slogger.Info("running database migrations")
			if err := postgres.Migrate(pg.DB()); err != nil {
				log.Fatalf("Migration failed: %v", err)
			}
		}
		jobStore = pg
	} else {
		jobStore = memory.New()
	}

	// Queue: redis when configured, otherwise in-process with embedded
	// workers.
	var jobQueue queue.Queue
	embeddedWorkers := cfg.RedisURL == ""
	if embeddedWorkers {
		jobQueue = queue.NewMemory(1024)
	} else {
		rq, err := queue.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rq.Close()
		jobQueue = rq
	}

	am, err := artifacts.NewManager(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to prepare data dir: %v", err)
	}

	// Tracing
	if cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.InitTracing(ctx, "deskforge-server", cfg.OTELEndpoint)
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Printf("Failed to shutdown tracer: %v", err)
			}
		}()
	}

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	// Observable gauge that counts queued jobs only when scraped.
	meter := otel.Meter("deskforge-server")
	_, err = meter.Int64ObservableGauge("deskforge.queue.depth",
		metric.WithDescription("Current number of queued jobs"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			count, err := jobStore.CountQueued(ctx)
			if err != nil {
				slogger.Warn("failed to count queued jobs", "error", err)
				return nil
			}
			obs.Observe(count)
			return nil
		}),
	)
	if err != nil {
		log.Printf("Failed to register queue depth metric: %v", err)
	}

	generator := codegen.NewGenerator(codegen.NewClient(codegen.ClientConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}))
	executor := sandbox.NewProcessExecutor(cfg.SandboxBinary, sandbox.Limits{
		CPUSeconds: cfg.SandboxCPUSeconds,
		MemoryMB:   cfg.SandboxMemoryMB,
	})

	orch := orchestrator.New(jobStore, jobQueue, am, generator, executor, slogger, orchestrator.Options{
		MaxGenAttempts: cfg.MaxGenAttempts,
		JobDeadline:    cfg.JobDeadline,
		SandboxTimeout: cfg.SandboxTimeout,
		MaxOutputBytes: cfg.MaxOutputBytes(),
	})
	if pm, err := observability.NewPipelineMetrics(); err == nil {
		orch.SetMetrics(pm)
	} else {
		log.Printf("Failed to register pipeline metrics: %v", err)
	}

	if embeddedWorkers {
		go orch.Run(ctx, cfg.WorkerConcurrency)
		slogger.Info("embedded workers started", "concurrency", cfg.WorkerConcurrency)
	}

	ready := func(ctx context.Context) error {
		return jobStore.Ping(ctx)
	}

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := server.New(orch, ready, slogger, server.Options{
		Addr:           addr,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		SubmitRate:     10,
		MetricsHandler: metricsHandler,
	})

	slogger.Info("deskforge server starting", "addr", addr, "embedded_workers", embeddedWorkers)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
	slogger.Info("server exited properly")
}
