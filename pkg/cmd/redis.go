package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/contentflow/pkg/lock"
	"github.com/redis/go-redis/v9"
)

// LockTTL bounds how long a crashed process can keep a thread locked.
const LockTTL = 15 * time.Minute

// NewRedisClient connects to redisURL. An empty URL returns a nil client.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return client, nil
}

// NewLocker returns a Redis lock shared across processes, or an in-process
// lock when client is nil.
func NewLocker(client *redis.Client, logger *slog.Logger) lock.Locker {
	if client == nil {
		return lock.NewLocal()
	}

	return lock.NewRedis(client, "contentflow:lock:", LockTTL, logger.With("module", "thread_lock"))
}
