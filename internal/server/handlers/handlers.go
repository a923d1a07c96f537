// Package handlers contains the HTTP handlers for the job API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"deskforge/internal/artifacts"
	"deskforge/internal/orchestrator"
	"deskforge/internal/store"
	"deskforge/pkg/api"
)

// JobService is the orchestrator surface the handlers depend on.
type JobService interface {
	Submit(ctx context.Context, sub orchestrator.Submission) (*store.Job, error)
	Get(ctx context.Context, id string) (*store.Job, error)
	List(ctx context.Context) ([]*store.Job, error)
	Delete(ctx context.Context, id string) error
	Artifacts(ctx context.Context, id string) ([]artifacts.Info, error)
	OpenArtifact(ctx context.Context, id, name string) (io.ReadCloser, error)
	Code(ctx context.Context, id string) ([]byte, error)
}

// ReadyChecker reports whether the backing store and queue are reachable.
type ReadyChecker func(ctx context.Context) error

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	svc            JobService
	ready          ReadyChecker
	logger         *slog.Logger
	maxUploadBytes int64
}

// New creates a Handlers instance.
func New(svc JobService, ready ReadyChecker, logger *slog.Logger, maxUploadBytes int64) *Handlers {
	return &Handlers{svc: svc, ready: ready, logger: logger, maxUploadBytes: maxUploadBytes}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// serviceError maps service errors onto status codes with a consistent body.
func (h *Handlers) serviceError(w http.ResponseWriter, err error) {
	var verr *orchestrator.ValidationError
	switch {
	case errors.As(err, &verr):
		h.httpError(w, verr.Msg, http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		h.httpError(w, "Job not found", http.StatusNotFound)
	case errors.Is(err, store.ErrDeleteRunning):
		h.httpError(w, "Job is running and cannot be deleted", http.StatusConflict)
	default:
		h.logger.Error("request failed", "error", err)
		h.httpError(w, "Internal error", http.StatusInternalServerError)
	}
}

func jobResponse(job *store.Job) api.JobResponse {
	files := make([]string, len(job.Input.Files))
	for i, f := range job.Input.Files {
		files[i] = f.Filename
	}
	return api.JobResponse{
		JobID:      job.ID,
		Kind:       string(job.Kind),
		Status:     string(job.Status),
		CreatedAt:  job.CreatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
		Stage:      job.Stage,
		Progress:   job.Progress,
		Detail:     job.Detail,
		InputFiles: files,
		Prompt:     job.Input.Prompt,
		Title:      job.Input.Title,
		Template:   job.Input.Template,
		Notes:      job.Input.Notes,
		LLMModel:   job.LLMModel,
		Summary:    job.Summary,
		Error:      job.Error,
	}
}
