// Package main is the entry point for a standalone deskforge worker. It
// needs the Redis queue and the PostgreSQL store so that state is shared
// with the API server.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"deskforge/internal/artifacts"
	"deskforge/internal/codegen"
	"deskforge/internal/config"
	"deskforge/internal/logger"
	"deskforge/internal/observability"
	"deskforge/internal/orchestrator"
	"deskforge/internal/queue"
	"deskforge/internal/sandbox"
	"deskforge/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.DatabaseURL == "" || cfg.RedisURL == "" {
		log.Fatal("standalone workers need database_url and redis_url; " +
			"without them run the server with embedded workers instead")
	}
	slogger := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pg.Close()

	rq, err := queue.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rq.Close()

	am, err := artifacts.NewManager(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to prepare data dir: %v", err)
	}

	if cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.InitTracing(ctx, "deskforge-worker", cfg.OTELEndpoint)
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Printf("Failed to shutdown tracer: %v", err)
			}
		}()
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

	orch := orchestrator.New(pg, rq, am, generator, executor, slogger, orchestrator.Options{
		MaxGenAttempts: cfg.MaxGenAttempts,
		JobDeadline:    cfg.JobDeadline,
		SandboxTimeout: cfg.SandboxTimeout,
		MaxOutputBytes: cfg.MaxOutputBytes(),
	})

	slogger.Info("deskforge worker starting", "concurrency", cfg.WorkerConcurrency)
	orch.Run(ctx, cfg.WorkerConcurrency)
	slogger.Info("worker exited properly")
}
