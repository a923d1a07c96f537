// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and the server.
package api

import (
	"encoding/json"
	"time"
)

// Job kinds accepted by POST /api/jobs.
const (
	KindSpreadsheetTransform = "spreadsheet-transform"
	KindAnalytics            = "analytics"
	KindReport               = "report"
)

// CreateJobResponse is the response body after submitting a job.
type CreateJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// JobResponse is the full job view returned by GET /api/jobs/{id}.
// Summary and Error are mutually exclusive by status.
type JobResponse struct {
	JobID      string     `json:"job_id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Stage    string  `json:"stage,omitempty"`
	Progress float64 `json:"progress,omitempty"`
	Detail   string  `json:"detail,omitempty"`

	InputFiles []string `json:"input_files"`
	Prompt     string   `json:"prompt,omitempty"`
	Title      string   `json:"title,omitempty"`
	Template   string   `json:"template,omitempty"`
	Notes      string   `json:"notes,omitempty"`

	LLMModel string          `json:"llm_model,omitempty"`
	Summary  json.RawMessage `json:"summary,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// ListJobsResponse is the response body for GET /api/jobs.
type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ArtifactInfo describes one named output of a job.
// Exists and SizeBytes are computed from storage at request time.
type ArtifactInfo struct {
	Name      string `json:"name"`
	Required  bool   `json:"required"`
	Exists    bool   `json:"exists"`
	SizeBytes int64  `json:"size_bytes"`
}

// ListArtifactsResponse is the response body for GET /api/jobs/{id}/artifacts.
type ListArtifactsResponse struct {
	JobID     string         `json:"job_id"`
	Artifacts []ArtifactInfo `json:"artifacts"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
