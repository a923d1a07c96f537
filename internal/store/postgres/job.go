package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"deskforge/internal/store"
)

const jobColumns = `id, kind, status, created_at, started_at, finished_at, input, stage, progress, detail, llm_model, summary, error`

// Create inserts a new queued job record.
func (s *Store) Create(ctx context.Context, job *store.Job) error {
	input, err := json.Marshal(job.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input descriptor: %w", err)
	}

	query := `
		INSERT INTO jobs (id, kind, status, created_at, input, stage, progress, detail, llm_model, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		job.ID, string(job.Kind), string(job.Status), job.CreatedAt.UTC(), input,
		job.Stage, job.Progress, job.Detail, job.LLMModel, job.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	return nil
}

// Get returns a snapshot of the job or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*store.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// List returns all jobs, most recent first.
func (s *Store) List(ctx context.Context) ([]*store.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job rows error: %w", err)
	}
	return jobs, nil
}

// Claim transitions queued -> running with a single guarded UPDATE, so at
// most one worker ever wins the claim.
func (s *Store) Claim(ctx context.Context, id string, startedAt time.Time) error {
	query := `
		UPDATE jobs SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4
	`
	res, err := s.db.ExecContext(ctx, query,
		string(store.StatusRunning), startedAt.UTC(), id, string(store.StatusQueued))
	if err != nil {
		return fmt.Errorf("failed to claim job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read claim result for %s: %w", id, err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return store.ErrNotClaimable
	}
	return nil
}

// SetProgress updates the client-visible stage for a non-terminal job.
func (s *Store) SetProgress(ctx context.Context, id, stage string, progress float64, detail string) error {
	query := `
		UPDATE jobs SET stage = $1, progress = $2, detail = $3
		WHERE id = $4 AND status NOT IN ($5, $6)
	`
	return s.guardedUpdate(ctx, id, query,
		stage, progress, detail, id, string(store.StatusSucceeded), string(store.StatusFailed))
}

// Succeed transitions running -> succeeded and records the summary payload.
func (s *Store) Succeed(ctx context.Context, id string, finishedAt time.Time, llmModel string, summary json.RawMessage) error {
	query := `
		UPDATE jobs
		SET status = $1, finished_at = $2, llm_model = $3, summary = $4,
		    error = '', stage = 'done', progress = 1.0, detail = ''
		WHERE id = $5 AND status NOT IN ($6, $7)
	`
	return s.guardedUpdate(ctx, id, query,
		string(store.StatusSucceeded), finishedAt.UTC(), llmModel, nullableJSON(summary),
		id, string(store.StatusSucceeded), string(store.StatusFailed))
}

// Fail transitions running -> failed and records the error message.
func (s *Store) Fail(ctx context.Context, id string, finishedAt time.Time, errMsg, detail string) error {
	query := `
		UPDATE jobs
		SET status = $1, finished_at = $2, error = $3, summary = NULL,
		    stage = 'failed', detail = $4
		WHERE id = $5 AND status NOT IN ($6, $7)
	`
	return s.guardedUpdate(ctx, id, query,
		string(store.StatusFailed), finishedAt.UTC(), errMsg, detail,
		id, string(store.StatusSucceeded), string(store.StatusFailed))
}

// Delete removes the record unless a worker currently owns it.
func (s *Store) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM jobs WHERE id = $1 AND status != $2`
	res, err := s.db.ExecContext(ctx, query, id, string(store.StatusRunning))
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result for %s: %w", id, err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return store.ErrDeleteRunning
	}
	return nil
}

// CountQueued returns the number of jobs waiting for a worker.
func (s *Store) CountQueued(ctx context.Context) (int64, error) {
	query := `SELECT COUNT(*) FROM jobs WHERE status = $1`
	var n int64
	if err := s.db.QueryRowContext(ctx, query, string(store.StatusQueued)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queued jobs: %w", err)
	}
	return n, nil
}

// guardedUpdate runs a status-guarded UPDATE and maps a zero row count to the
// right sentinel error.
func (s *Store) guardedUpdate(ctx context.Context, id, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result for %s: %w", id, err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return store.ErrTerminalState
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*store.Job, error) {
	var (
		job       store.Job
		kind      string
		status    string
		started   sql.NullTime
		finished  sql.NullTime
		inputJSON []byte
		summary   []byte
	)
	err := row.Scan(&job.ID, &kind, &status, &job.CreatedAt, &started, &finished,
		&inputJSON, &job.Stage, &job.Progress, &job.Detail, &job.LLMModel, &summary, &job.Error)
	if err != nil {
		return nil, err
	}
	job.Kind = store.JobKind(kind)
	job.Status = store.JobStatus(status)
	if started.Valid {
		t := started.Time.UTC()
		job.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time.UTC()
		job.FinishedAt = &t
	}
	if err := json.Unmarshal(inputJSON, &job.Input); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input descriptor: %w", err)
	}
	if len(summary) > 0 {
		job.Summary = json.RawMessage(summary)
	}
	return &job, nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
