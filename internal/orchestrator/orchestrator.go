// Package orchestrator ties the job pipeline together: it accepts
// submissions, enqueues them, and runs the worker loop that generates,
// validates, executes and collects each job.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"deskforge/internal/artifacts"
	"deskforge/internal/codegen"
	"deskforge/internal/queue"
	"deskforge/internal/sandbox"
	"deskforge/internal/store"
	"deskforge/internal/tabular"
)

// Generator is the codegen seam, satisfied by codegen.Generator.
type Generator interface {
	Generate(ctx context.Context, req codegen.Request) (*codegen.Result, error)
	ComposeReport(ctx context.Context, spec codegen.ReportSpec, summary json.RawMessage) (string, string, error)
}

// Metrics receives pipeline events. observability.PipelineMetrics implements
// it; tests use nopMetrics.
type Metrics interface {
	JobSubmitted(kind string)
	JobFinished(kind, status string, elapsed time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) JobSubmitted(string) {}

func (nopMetrics) JobFinished(string, string, time.Duration) {}

// Options bound the pipeline.
type Options struct {
	MaxGenAttempts int
	JobDeadline    time.Duration
	SandboxTimeout time.Duration
	MaxOutputBytes int64
}

func (o *Options) withDefaults() {
	if o.MaxGenAttempts <= 0 {
		o.MaxGenAttempts = 3
	}
	if o.JobDeadline <= 0 {
		o.JobDeadline = 10 * time.Minute
	}
	if o.SandboxTimeout <= 0 {
		o.SandboxTimeout = 2 * time.Minute
	}
}

// Orchestrator is both the API-facing job service and the worker pipeline.
type Orchestrator struct {
	store     store.JobStore
	queue     queue.Queue
	artifacts *artifacts.Manager
	generator Generator
	executor  sandbox.Executor
	logger    *slog.Logger
	metrics   Metrics
	opts      Options
}

func New(st store.JobStore, q queue.Queue, am *artifacts.Manager, gen Generator, exec sandbox.Executor, logger *slog.Logger, opts Options) *Orchestrator {
	opts.withDefaults()
	return &Orchestrator{
		store:     st,
		queue:     q,
		artifacts: am,
		generator: gen,
		executor:  exec,
		logger:    logger,
		metrics:   nopMetrics{},
		opts:      opts,
	}
}

// SetMetrics installs pipeline instrumentation. Call before Run.
func (o *Orchestrator) SetMetrics(m Metrics) {
	if m != nil {
		o.metrics = m
	}
}

// Upload is one file from a multipart submission. The reader is consumed
// during Submit.
type Upload struct {
	Filename string
	Reader   io.Reader
}

// Submission is a validated-on-entry job request.
type Submission struct {
	Kind     store.JobKind
	Prompt   string
	Title    string
	Template string
	Notes    string
	Files    []Upload
}

// Submit validates the submission, stores the inputs, creates the job record
// in the queued state and enqueues it. Validation failures come back as
// *ValidationError with nothing persisted.
func (o *Orchestrator) Submit(ctx context.Context, sub Submission) (*store.Job, error) {
	if err := validateSubmission(sub); err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	inputs := make([]store.InputFile, 0, len(sub.Files))
	for _, upload := range sub.Files {
		size, err := o.artifacts.SaveInput(jobID, upload.Filename, upload.Reader)
		if err != nil {
			o.artifacts.Remove(jobID)
			return nil, fmt.Errorf("failed to store input %q: %w", upload.Filename, err)
		}
		inputs = append(inputs, store.InputFile{Filename: upload.Filename, SizeBytes: size})
	}

	job := &store.Job{
		ID:        jobID,
		Kind:      sub.Kind,
		Status:    store.StatusQueued,
		CreatedAt: time.Now().UTC(),
		Input: store.InputDescriptor{
			Files:    inputs,
			Prompt:   sub.Prompt,
			Title:    sub.Title,
			Template: sub.Template,
			Notes:    sub.Notes,
		},
		Stage: StageQueued,
	}
	if err := o.store.Create(ctx, job); err != nil {
		o.artifacts.Remove(jobID)
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	if err := o.queue.Enqueue(ctx, jobID); err != nil {
		o.store.Delete(ctx, jobID)
		o.artifacts.Remove(jobID)
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	o.metrics.JobSubmitted(string(sub.Kind))
	o.logger.Info("job submitted", "job_id", jobID, "kind", sub.Kind, "files", len(inputs))
	return job, nil
}

func validateSubmission(sub Submission) error {
	if !sub.Kind.Valid() {
		return validationf("unknown job kind %q", sub.Kind)
	}
	if len(sub.Files) == 0 {
		return validationf("at least one input file is required")
	}
	if sub.Kind != store.KindReport && len(sub.Files) != 1 {
		return validationf("kind %q takes exactly one input file, got %d", sub.Kind, len(sub.Files))
	}
	seen := make(map[string]bool, len(sub.Files))
	for _, upload := range sub.Files {
		if upload.Filename == "" {
			return validationf("input file without a filename")
		}
		if !tabular.SupportedExt(upload.Filename) {
			return validationf("unsupported input file %q: only .xlsx and .csv are accepted", upload.Filename)
		}
		if seen[upload.Filename] {
			return validationf("duplicate input file %q", upload.Filename)
		}
		seen[upload.Filename] = true
	}
	switch sub.Kind {
	case store.KindReport:
		if sub.Prompt == "" && sub.Title == "" {
			return validationf("report jobs need a prompt or a title")
		}
	default:
		if sub.Prompt == "" {
			return validationf("prompt is required")
		}
	}
	return nil
}

// Get returns the job snapshot or store.ErrNotFound.
func (o *Orchestrator) Get(ctx context.Context, id string) (*store.Job, error) {
	return o.store.Get(ctx, id)
}

// List returns all jobs, most recent first.
func (o *Orchestrator) List(ctx context.Context) ([]*store.Job, error) {
	return o.store.List(ctx)
}

// Delete removes a job's record and stored files. Running jobs are refused
// with store.ErrDeleteRunning; queued jobs disappear and the worker skips
// their queue entry when it surfaces.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	if err := o.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := o.artifacts.Remove(id); err != nil {
		o.logger.Warn("failed to remove job files", "job_id", id, "error", err)
	}
	return nil
}

// Artifacts lists the job's artifact vocabulary with on-disk state.
func (o *Orchestrator) Artifacts(ctx context.Context, id string) ([]artifacts.Info, error) {
	job, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.artifacts.List(id, job.Kind, primaryOutput(job), inputFilenames(job))
}

// OpenArtifact resolves an artifact by name and opens it for streaming.
// Unknown names and absent files are store.ErrNotFound so the handler's 404
// mapping stays uniform.
func (o *Orchestrator) OpenArtifact(ctx context.Context, id, name string) (io.ReadCloser, error) {
	job, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	path, err := o.artifacts.Resolve(job.ID, name)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, store.ErrNotFound
	}
	return f, nil
}

// Code returns the accepted generated script for a finished job.
func (o *Orchestrator) Code(ctx context.Context, id string) ([]byte, error) {
	rc, err := o.OpenArtifact(ctx, id, artifacts.CodeFilename)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func primaryOutput(job *store.Job) string {
	if len(job.Input.Files) == 0 {
		return artifacts.PrimaryOutputName(job.Kind, "")
	}
	return artifacts.PrimaryOutputName(job.Kind, job.Input.Files[0].Filename)
}

func inputFilenames(job *store.Job) []string {
	names := make([]string, len(job.Input.Files))
	for i, f := range job.Input.Files {
		names[i] = f.Filename
	}
	return names
}
