package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultReadyKey = "deskforge:queue:ready"

// Redis implements the queue on a Redis list so that submission and worker
// processes can run on separate machines.
type Redis struct {
	client   *redis.Client
	readyKey string
	popWait  time.Duration
}

// NewRedis creates a Redis-backed queue from a redis:// URL.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &Redis{
		client:   redis.NewClient(opts),
		readyKey: defaultReadyKey,
		popWait:  2 * time.Second,
	}, nil
}

// NewRedisWithClient wires an existing client, used by tests.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client, readyKey: defaultReadyKey, popWait: 2 * time.Second}
}

func (r *Redis) Enqueue(ctx context.Context, jobID string) error {
	if err := r.client.LPush(ctx, r.readyKey, jobID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}
	return nil
}

// Dequeue blocks on BRPOP in short intervals so context cancellation is
// honored between waits.
func (r *Redis) Dequeue(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		res, err := r.client.BRPop(ctx, r.popWait, r.readyKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("failed to dequeue: %w", err)
		}
		// BRPop returns [key, value].
		return res[1], nil
	}
}

// Ping reports broker reachability for readiness probes.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
