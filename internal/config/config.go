// Package config loads configuration from an optional yaml file and
// DESKFORGE_-prefixed environment variables. The defaults run the whole
// pipeline in a single process with the in-memory store and queue.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LLM configures the completion backend (OpenAI-compatible chat API).
type LLM struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Config holds all configuration values for the application.
type Config struct {
	// Where job inputs and artifacts live on disk.
	DataDir string

	HTTPPort int
	LogLevel string

	// Empty means the in-memory store.
	DatabaseURL string

	// Empty means the in-process queue, workers embedded in the server.
	RedisURL string

	LLM LLM

	MaxGenAttempts int
	JobDeadline    time.Duration

	SandboxBinary      string
	SandboxTimeout     time.Duration
	SandboxCPUSeconds  int
	SandboxMemoryMB    int
	SandboxMaxOutputMB int

	WorkerConcurrency int
	MaxUploadMB       int

	// OTLP gRPC endpoint for traces; empty disables tracing export.
	OTELEndpoint string
}

// MaxUploadBytes is the request body ceiling for submissions.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// MaxOutputBytes is the artifact size ceiling for one job.
func (c *Config) MaxOutputBytes() int64 {
	return int64(c.SandboxMaxOutputMB) * 1024 * 1024
}

// Load reads configuration. A config file path is optional; environment
// variables override file values either way.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DESKFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_dir", "./data")
	v.SetDefault("http_port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("llm.base_url", "https://api.deepseek.com")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "deepseek-chat")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.timeout", "90s")
	v.SetDefault("max_gen_attempts", 3)
	v.SetDefault("job_deadline", "10m")
	v.SetDefault("sandbox_binary", "deskforge-sandbox")
	v.SetDefault("sandbox_timeout", "2m")
	v.SetDefault("sandbox_cpu_seconds", 60)
	v.SetDefault("sandbox_memory_mb", 512)
	v.SetDefault("sandbox_max_output_mb", 50)
	v.SetDefault("worker_concurrency", 2)
	v.SetDefault("max_upload_mb", 50)
	v.SetDefault("otel_endpoint", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		DataDir:     v.GetString("data_dir"),
		HTTPPort:    v.GetInt("http_port"),
		LogLevel:    v.GetString("log_level"),
		DatabaseURL: v.GetString("database_url"),
		RedisURL:    v.GetString("redis_url"),
		LLM: LLM{
			BaseURL:     v.GetString("llm.base_url"),
			APIKey:      v.GetString("llm.api_key"),
			Model:       v.GetString("llm.model"),
			Temperature: v.GetFloat64("llm.temperature"),
			Timeout:     v.GetDuration("llm.timeout"),
		},
		MaxGenAttempts:     v.GetInt("max_gen_attempts"),
		JobDeadline:        v.GetDuration("job_deadline"),
		SandboxBinary:      v.GetString("sandbox_binary"),
		SandboxTimeout:     v.GetDuration("sandbox_timeout"),
		SandboxCPUSeconds:  v.GetInt("sandbox_cpu_seconds"),
		SandboxMemoryMB:    v.GetInt("sandbox_memory_mb"),
		SandboxMaxOutputMB: v.GetInt("sandbox_max_output_mb"),
		WorkerConcurrency:  v.GetInt("worker_concurrency"),
		MaxUploadMB:        v.GetInt("max_upload_mb"),
		OTELEndpoint:       v.GetString("otel_endpoint"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	if c.MaxGenAttempts <= 0 {
		return fmt.Errorf("max_gen_attempts must be positive")
	}
	if c.JobDeadline <= 0 || c.SandboxTimeout <= 0 {
		return fmt.Errorf("job_deadline and sandbox_timeout must be positive")
	}
	if c.SandboxTimeout >= c.JobDeadline {
		return fmt.Errorf("sandbox_timeout must be below job_deadline")
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("worker_concurrency must be positive")
	}
	if c.MaxUploadMB <= 0 || c.SandboxMaxOutputMB <= 0 {
		return fmt.Errorf("max_upload_mb and sandbox_max_output_mb must be positive")
	}
	return nil
}
