package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryFIFO(t *testing.T) {
	q := NewMemory(4)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue(%s) failed: %v", id, err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if got != want {
			t.Errorf("Dequeue = %q, want %q", got, want)
		}
	}
}

func TestMemoryDequeueBlocksUntilCancel(t *testing.T) {
	q := NewMemory(1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Dequeue on empty queue = %v, want context.DeadlineExceeded", err)
	}
}

func TestMemoryFull(t *testing.T) {
	q := NewMemory(1)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "a"); err != nil {
		t.Fatalf("first Enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, "b"); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Enqueue on full queue = %v, want ErrQueueFull", err)
	}
}

func TestMemoryEnqueueCancelledBeatsFull(t *testing.T) {
	q := NewMemory(1)
	if err := q.Enqueue(context.Background(), "a"); err != nil {
		t.Fatalf("first Enqueue failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := q.Enqueue(ctx, "b"); !errors.Is(err, context.Canceled) {
		t.Errorf("Enqueue with cancelled context = %v, want context.Canceled", err)
	}
}

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisWithClient(client)
}

func TestRedisFIFO(t *testing.T) {
	q := newTestRedis(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue(%s) failed: %v", id, err)
		}
	}

	for _, want := range []string{"a", "b"} {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if got != want {
			t.Errorf("Dequeue = %q, want %q", got, want)
		}
	}
}

func TestRedisDequeueHonorsCancel(t *testing.T) {
	q := newTestRedis(t)
	q.popWait = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	if err == nil {
		t.Fatal("Dequeue on empty queue returned without error")
	}
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		t.Errorf("Dequeue = %v, want context error", err)
	}
}
