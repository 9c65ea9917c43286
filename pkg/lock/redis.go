package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every process talking to the same Redis. The
// lock expires after ttl so a crashed holder cannot wedge a thread.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (r *Redis) TryLock(ctx context.Context, threadID string) (func(), error) {
	key := r.prefix + threadID
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	if !ok {
		return nil, ErrHeld
	}

	return func() {
		// The caller's context may already be done when releasing.
		err := releaseScript.Run(context.WithoutCancel(ctx), r.client, []string{key}, token).Err()
		if err != nil {
			r.logger.Warn("failed to release thread lock", "thread_id", threadID, "error", err)
		}
	}, nil
}
