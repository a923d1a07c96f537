// Package queue provides the work queue between job submission and workers.
package queue

import (
	"context"
	"errors"
)

// ErrQueueFull is returned by Enqueue when the backend cannot accept work.
var ErrQueueFull = errors.New("queue is full")

// Queue is a single ordered FIFO queue of job ids. Delivery is at-most-once:
// a dequeued id is gone from the queue, and the store's claim guard is the
// second line of defense against double processing.
type Queue interface {
	// Enqueue appends a job id to the queue.
	Enqueue(ctx context.Context, jobID string) error

	// Dequeue blocks until a job id is available or the context ends.
	Dequeue(ctx context.Context) (string, error)
}

// Memory is the default in-process queue backed by a buffered channel.
type Memory struct {
	ch chan string
}

// NewMemory creates an in-process queue with the given capacity.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Memory{ch: make(chan string, capacity)}
}

func (m *Memory) Enqueue(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case m.ch <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

func (m *Memory) Dequeue(ctx context.Context) (string, error) {
	select {
	case jobID := <-m.ch:
		return jobID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
