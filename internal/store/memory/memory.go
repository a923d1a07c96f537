// Package memory implements the job store as an in-process map.
// It is the default backend and the reference for transition semantics.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"deskforge/internal/store"
)

// Store keeps all job records behind a single RWMutex. Every read hands out a
// deep copy, so pollers never observe a half-written record.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*store.Job
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{jobs: make(map[string]*store.Job)}
}

func (s *Store) Create(ctx context.Context, job *store.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*store.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return job.Clone(), nil
}

func (s *Store) List(ctx context.Context) ([]*store.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) Claim(ctx context.Context, id string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if job.Status != store.StatusQueued {
		return store.ErrNotClaimable
	}
	t := startedAt.UTC()
	job.Status = store.StatusRunning
	job.StartedAt = &t
	return nil
}

func (s *Store) SetProgress(ctx context.Context, id, stage string, progress float64, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if job.Status.Terminal() {
		return store.ErrTerminalState
	}
	job.Stage = stage
	job.Progress = progress
	job.Detail = detail
	return nil
}

func (s *Store) Succeed(ctx context.Context, id string, finishedAt time.Time, llmModel string, summary json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if job.Status.Terminal() {
		return store.ErrTerminalState
	}
	t := finishedAt.UTC()
	job.Status = store.StatusSucceeded
	job.FinishedAt = &t
	job.LLMModel = llmModel
	job.Summary = append(json.RawMessage(nil), summary...)
	job.Error = ""
	job.Stage = "done"
	job.Progress = 1.0
	job.Detail = ""
	return nil
}

func (s *Store) Fail(ctx context.Context, id string, finishedAt time.Time, errMsg, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if job.Status.Terminal() {
		return store.ErrTerminalState
	}
	t := finishedAt.UTC()
	job.Status = store.StatusFailed
	job.FinishedAt = &t
	job.Error = errMsg
	job.Summary = nil
	job.Stage = "failed"
	job.Detail = detail
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if job.Status == store.StatusRunning {
		return store.ErrDeleteRunning
	}
	delete(s.jobs, id)
	return nil
}

func (s *Store) CountQueued(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, job := range s.jobs {
		if job.Status == store.StatusQueued {
			n++
		}
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}
