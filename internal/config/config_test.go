package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.HTTPPort)
	}
	if cfg.DatabaseURL != "" || cfg.RedisURL != "" {
		t.Error("defaults must select the in-process store and queue")
	}
	if cfg.MaxGenAttempts != 3 {
		t.Errorf("expected 3 generation attempts, got %d", cfg.MaxGenAttempts)
	}
	if cfg.JobDeadline != 10*time.Minute {
		t.Errorf("expected 10m job deadline, got %s", cfg.JobDeadline)
	}
	if cfg.MaxUploadBytes() != 50*1024*1024 {
		t.Errorf("expected 50 MB upload ceiling, got %d", cfg.MaxUploadBytes())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DESKFORGE_HTTP_PORT", "9090")
	t.Setenv("DESKFORGE_LLM_MODEL", "test-model")
	t.Setenv("DESKFORGE_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPPort != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.HTTPPort)
	}
	if cfg.LLM.Model != "test-model" {
		t.Errorf("expected llm model override, got %q", cfg.LLM.Model)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("expected redis url override, got %q", cfg.RedisURL)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "http_port: 7070\nworker_concurrency: 4\nllm:\n  model: file-model\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPPort != 7070 || cfg.WorkerConcurrency != 4 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.LLM.Model != "file-model" {
		t.Errorf("expected file-model, got %q", cfg.LLM.Model)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero port", "DESKFORGE_HTTP_PORT", "0"},
		{"zero attempts", "DESKFORGE_MAX_GEN_ATTEMPTS", "0"},
		{"zero concurrency", "DESKFORGE_WORKER_CONCURRENCY", "0"},
		{"sandbox timeout above deadline", "DESKFORGE_SANDBOX_TIMEOUT", "1h"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(""); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
