// Package store contains the job record layer for deskforge.
package store

import (
	"encoding/json"
	"time"
)

// JobKind selects the pipeline variant for a job.
type JobKind string

const (
	KindSpreadsheetTransform JobKind = "spreadsheet-transform"
	KindAnalytics            JobKind = "analytics"
	KindReport               JobKind = "report"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	switch k {
	case KindSpreadsheetTransform, KindAnalytics, KindReport:
		return true
	}
	return false
}

// JobStatus represents the lifecycle state of a job.
// Transitions: queued -> running -> {succeeded, failed}. Terminal states never change.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether s is a terminal status.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// InputFile describes one uploaded input as received at submission.
type InputFile struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
}

// InputDescriptor captures everything the client supplied with a submission.
// Title, Template and Notes are only set for report jobs.
type InputDescriptor struct {
	Files    []InputFile `json:"files"`
	Prompt   string      `json:"prompt"`
	Title    string      `json:"title,omitempty"`
	Template string      `json:"template,omitempty"`
	Notes    string      `json:"notes,omitempty"`
}

// Job is the central record tracked through the pipeline.
// It is created by the orchestrator, mutated only by the single worker that
// claimed it, and read concurrently by pollers.
type Job struct {
	ID     string
	Kind   JobKind
	Status JobStatus

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time

	Input InputDescriptor

	// Stage, Progress and Detail are progress reporting only, never
	// authoritative for correctness.
	Stage    string
	Progress float64
	Detail   string

	// LLMModel names the generation backend that served the request.
	LLMModel string

	// Summary is set only on success; Error only on failure.
	Summary json.RawMessage
	Error   string
}

// Clone returns a deep copy so pollers never alias worker-owned memory.
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	c.Input.Files = append([]InputFile(nil), j.Input.Files...)
	c.Summary = append(json.RawMessage(nil), j.Summary...)
	return &c
}
