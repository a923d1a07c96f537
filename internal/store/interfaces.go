package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when no job with the given id exists.
var ErrNotFound = errors.New("job not found")

// ErrNotClaimable is returned by Claim when the job is not in the queued
// state, including when a concurrent Delete already removed it.
var ErrNotClaimable = errors.New("job is not claimable")

// ErrTerminalState is returned for any mutation attempted on a job that has
// already reached succeeded or failed. Hitting it indicates a pipeline bug.
var ErrTerminalState = errors.New("job is in a terminal state")

// ErrDeleteRunning is returned by Delete when the job is currently claimed by
// a worker. Claim and Delete are mutually exclusive.
var ErrDeleteRunning = errors.New("job is running and cannot be deleted")

// JobStore is the durable keyed storage for job records.
//
// Snapshot reads must be atomic: a reader never observes a half-written
// record. All state transitions are compare-and-swap style so that claim and
// delete of the same queued job cannot both succeed.
type JobStore interface {
	// Create inserts a new job in the queued state.
	Create(ctx context.Context, job *Job) error

	// Get returns a snapshot of the job or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// List returns snapshots of all jobs, most recent first.
	List(ctx context.Context) ([]*Job, error)

	// Claim atomically transitions queued -> running and sets started_at.
	// Returns ErrNotClaimable if the job is not queued, ErrNotFound if it
	// does not exist.
	Claim(ctx context.Context, id string, startedAt time.Time) error

	// SetProgress updates stage/progress/detail for a running job.
	// Returns ErrTerminalState if the job already finished.
	SetProgress(ctx context.Context, id, stage string, progress float64, detail string) error

	// Succeed atomically transitions running -> succeeded.
	// Returns ErrTerminalState if the job already finished.
	Succeed(ctx context.Context, id string, finishedAt time.Time, llmModel string, summary json.RawMessage) error

	// Fail atomically transitions running -> failed.
	// Returns ErrTerminalState if the job already finished.
	Fail(ctx context.Context, id string, finishedAt time.Time, errMsg, detail string) error

	// Delete removes the job record. Returns ErrNotFound if absent and
	// ErrDeleteRunning if a worker currently owns the job.
	Delete(ctx context.Context, id string) error

	// CountQueued returns the number of jobs waiting for a worker.
	CountQueued(ctx context.Context) (int64, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}
