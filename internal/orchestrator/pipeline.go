package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"deskforge/internal/artifacts"
	"deskforge/internal/codegen"
	"deskforge/internal/sandbox"
	"deskforge/internal/store"
	"deskforge/internal/tabular"
)

// Pipeline stages surfaced through the job's stage/progress fields. Progress
// values are coarse checkpoints for polling clients, not measurements.
const (
	StageQueued          = "queued"
	StageReadingMetadata = "reading_metadata"
	StageGeneratingCode  = "generating_code"
	StageValidatingCode  = "validating_code"
	StageRunningSandbox  = "running_sandbox"
	StageFinalizing      = "finalizing"
)

// Run processes jobs from the queue until ctx is cancelled, with the given
// number of concurrent workers. Job failures are recorded on the job record
// and never stop the loop.
func (o *Orchestrator) Run(ctx context.Context, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			o.workerLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (o *Orchestrator) workerLoop(ctx context.Context, worker int) {
	logger := o.logger.With("worker", worker)
	for {
		jobID, err := o.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dequeue failed", "error", err)
			continue
		}
		o.process(ctx, jobID)
	}
}

func (o *Orchestrator) process(ctx context.Context, jobID string) {
	logger := o.logger.With("job_id", jobID)

	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Deleted while queued, the queue entry is stale.
			logger.Info("skipping deleted job")
			return
		}
		logger.Error("failed to load job", "error", err)
		return
	}

	startedAt := time.Now().UTC()
	if err := o.store.Claim(ctx, jobID, startedAt); err != nil {
		logger.Info("job not claimable", "error", err)
		return
	}
	logger.Info("job claimed", "kind", job.Kind)

	jobCtx, cancel := context.WithTimeout(ctx, o.opts.JobDeadline)
	defer cancel()

	model, summary, fail := o.runPipeline(jobCtx, job)
	finishedAt := time.Now().UTC()
	elapsed := finishedAt.Sub(startedAt)

	if fail != nil {
		if jobCtx.Err() == context.DeadlineExceeded && fail.kind != FailExecutionTimeout {
			fail = failf(FailJobTimeout, fail.detail, "job exceeded the %s deadline", o.opts.JobDeadline)
		}
		if err := o.store.Fail(ctx, jobID, finishedAt, fail.Error(), fail.detail); err != nil {
			logger.Error("failed to record job failure", "error", err)
		}
		o.metrics.JobFinished(string(job.Kind), string(store.StatusFailed), elapsed)
		logger.Warn("job failed", "fail_kind", fail.kind, "error", fail.msg, "elapsed", elapsed)
		return
	}

	if err := o.store.Succeed(ctx, jobID, finishedAt, model, summary); err != nil {
		logger.Error("failed to record job success", "error", err)
		return
	}
	o.metrics.JobFinished(string(job.Kind), string(store.StatusSucceeded), elapsed)
	logger.Info("job succeeded", "model", model, "elapsed", elapsed)
}

// runPipeline carries a claimed job to completion. It returns the model name
// and final summary on success, or the failure to record.
func (o *Orchestrator) runPipeline(ctx context.Context, job *store.Job) (string, json.RawMessage, *failure) {
	o.setProgress(ctx, job.ID, StageReadingMetadata, 0.1, "inspecting input files")

	inputPaths := o.artifacts.InputPaths(job.ID, inputFilenames(job))
	schemas := make([]*tabular.FileSchema, 0, len(inputPaths))
	for i, path := range inputPaths {
		wb, err := tabular.ReadWorkbook(path)
		if err != nil {
			return "", nil, failf(FailExecutionFailed, "",
				"failed to read input %q: %v", job.Input.Files[i].Filename, err)
		}
		schemas = append(schemas, tabular.ExtractSchema(job.Input.Files[i].Filename, wb))
	}

	result, fail := o.generateAccepted(ctx, job, schemas)
	if fail != nil {
		return "", nil, fail
	}

	staging, err := o.artifacts.BeginStaging(job.ID)
	if err != nil {
		return "", nil, failf(FailExecutionFailed, "", "failed to prepare staging: %v", err)
	}
	if err := o.artifacts.WriteCode(job.ID, []byte(result.Source)); err != nil {
		return "", nil, failf(FailExecutionFailed, "", "failed to stage code: %v", err)
	}

	o.setProgress(ctx, job.ID, StageRunningSandbox, 0.7, "executing generated code")
	execResult, err := o.executor.Execute(ctx, sandbox.ExecSpec{
		Kind:       job.Kind,
		CodePath:   filepath.Join(staging, artifacts.CodeFilename),
		InputPaths: inputPaths,
		OutputDir:  staging,
		Timeout:    o.opts.SandboxTimeout,
	})
	if err != nil {
		if errors.Is(err, sandbox.ErrTimeout) {
			return "", nil, failf(FailExecutionTimeout, "",
				"execution exceeded the %s limit", o.opts.SandboxTimeout)
		}
		if ctx.Err() == context.DeadlineExceeded {
			return "", nil, failf(FailJobTimeout, "", "job deadline reached during execution")
		}
		return "", nil, failf(FailExecutionFailed, "", "sandbox failed to start: %v", err)
	}
	if execResult.ExitCode != 0 {
		return "", nil, failf(FailExecutionFailed, sandbox.Tail(execResult.Stderr, 2000),
			"generated code exited with status %d", execResult.ExitCode)
	}

	model := result.Model
	if job.Kind == store.KindReport {
		reportModel, fail := o.composeReport(ctx, job, staging)
		if fail != nil {
			return "", nil, fail
		}
		if reportModel != "" {
			model = reportModel
		}
	}

	o.setProgress(ctx, job.ID, StageFinalizing, 0.9, "collecting artifacts")
	if err := o.artifacts.Collect(job.ID, job.Kind, primaryOutput(job), o.opts.MaxOutputBytes); err != nil {
		var missing *artifacts.MissingError
		if errors.As(err, &missing) {
			return "", nil, failf(FailMissingRequiredArtifact, "",
				"generated code did not produce: %s", strings.Join(missing.Names, ", "))
		}
		return "", nil, failf(FailExecutionFailed, "", "failed to collect artifacts: %v", err)
	}

	summary, err := os.ReadFile(filepath.Join(o.artifacts.OutputsDir(job.ID), artifacts.SummaryFilename))
	if err != nil {
		return "", nil, failf(FailExecutionFailed, "", "failed to read summary: %v", err)
	}
	return model, summary, nil
}

// generateAccepted runs the generate-validate loop. Every rejected attempt's
// issues accumulate into the feedback carried by the next prompt.
func (o *Orchestrator) generateAccepted(ctx context.Context, job *store.Job, schemas []*tabular.FileSchema) (*codegen.Result, *failure) {
	var feedback []string
	var lastIssues []sandbox.Issue

	for attempt := 1; attempt <= o.opts.MaxGenAttempts; attempt++ {
		o.setProgress(ctx, job.ID, StageGeneratingCode, 0.3,
			fmt.Sprintf("generating code (attempt %d of %d)", attempt, o.opts.MaxGenAttempts))

		result, err := o.generator.Generate(ctx, codegen.Request{
			Kind:     job.Kind,
			Schemas:  schemas,
			Prompt:   job.Input.Prompt,
			Feedback: feedback,
		})
		if err != nil {
			if errors.Is(err, codegen.ErrUnavailable) {
				return nil, failf(FailGenerationUnavailable, "", "code generation backend unavailable: %v", err)
			}
			return nil, failf(FailGenerationUnavailable, "", "code generation failed: %v", err)
		}

		o.setProgress(ctx, job.ID, StageValidatingCode, 0.55, "validating generated code")
		issues := sandbox.Validate(result.Source, job.Kind)
		if len(issues) == 0 {
			return result, nil
		}

		lastIssues = issues
		// One feedback entry per rejected attempt; the prompt labels them
		// by attempt number, and earlier rejections stay visible.
		feedback = append(feedback, sandbox.FormatIssues(issues))
		o.logger.Info("generated code rejected",
			"job_id", job.ID, "attempt", attempt, "issues", len(issues))
	}

	return nil, failf(FailCodeRejected, sandbox.FormatIssues(lastIssues),
		"generated code failed validation after %d attempts", o.opts.MaxGenAttempts)
}

// composeReport turns the run's summary into report.md inside staging so the
// collect step publishes it with everything else.
func (o *Orchestrator) composeReport(ctx context.Context, job *store.Job, staging string) (string, *failure) {
	summary, err := os.ReadFile(filepath.Join(staging, artifacts.SummaryFilename))
	if err != nil {
		return "", failf(FailMissingRequiredArtifact, "",
			"generated code did not produce: %s", artifacts.SummaryFilename)
	}

	markdown, model, err := o.generator.ComposeReport(ctx, codegen.ReportSpec{
		Title:    job.Input.Title,
		Template: job.Input.Template,
		Notes:    job.Input.Notes,
		Prompt:   job.Input.Prompt,
	}, summary)
	if err != nil {
		return "", failf(FailGenerationUnavailable, "", "report composition failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(staging, artifacts.ReportFilename), []byte(markdown), 0o644); err != nil {
		return "", failf(FailExecutionFailed, "", "failed to write report: %v", err)
	}
	return model, nil
}

// setProgress is best effort: losing a progress update must not fail a job.
func (o *Orchestrator) setProgress(ctx context.Context, jobID, stage string, progress float64, detail string) {
	if err := o.store.SetProgress(ctx, jobID, stage, progress, detail); err != nil {
		o.logger.Warn("failed to update progress", "job_id", jobID, "stage", stage, "error", err)
	}
}
