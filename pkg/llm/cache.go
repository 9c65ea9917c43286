package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores completion output by key with a time to live.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// MemoryCache is a bounded in-process TTL cache.
type MemoryCache struct {
	mu         sync.Mutex
	items      map[string]memoryEntry
	maxEntries int
	now        func() time.Time
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// NewMemoryCache creates a cache holding at most maxEntries values.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}

	return &MemoryCache{
		items:      make(map[string]memoryEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok {
		return "", false, nil
	}

	if c.now().After(entry.expires) {
		delete(c.items, key)

		return "", false, nil
	}

	return entry.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxEntries {
		c.evict(now)
	}

	c.items[key] = memoryEntry{value: value, expires: now.Add(ttl)}

	return nil
}

// evict drops expired entries, or the entry closest to expiry when none are.
func (c *MemoryCache) evict(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)

	for k, e := range c.items {
		if now.After(e.expires) {
			delete(c.items, k)

			continue
		}

		if oldestKey == "" || e.expires.Before(oldest) {
			oldestKey, oldest = k, e.expires
		}
	}

	if len(c.items) >= c.maxEntries && oldestKey != "" {
		delete(c.items, oldestKey)
	}
}

// RedisCache stores completions in Redis with SET EX semantics.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache wraps an existing client. Keys are namespaced with prefix.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("redis get: %w", err)
	}

	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	err := c.client.Set(ctx, c.prefix+key, value, ttl).Err()
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Cached serves repeated prompts from a cache. Cache failures are logged and
// never fail the completion; the in-memory fallback keeps working when the
// primary cache is unreachable.
type Cached struct {
	next     Completer
	primary  Cache
	fallback *MemoryCache
	ttl      time.Duration
	model    string
	metrics  *Metrics
	logger   *slog.Logger
}

// NewCached wraps next. primary may be nil, in which case only memory is used.
func NewCached(next Completer, primary Cache, ttl time.Duration, model string, logger *slog.Logger) *Cached {
	return &Cached{
		next:     next,
		primary:  primary,
		fallback: NewMemoryCache(1000),
		ttl:      ttl,
		model:    model,
		logger:   logger.With("module", "llm_cache"),
	}
}

// WithMetrics counts cache hits and misses.
func (c *Cached) WithMetrics(m *Metrics) *Cached {
	c.metrics = m

	return c
}

func (c *Cached) Complete(ctx context.Context, prompt Prompt) (string, error) {
	key := CacheKey(c.model, prompt)

	value, ok := c.lookup(ctx, key)
	c.metrics.cacheLookup(ctx, ok)

	if ok {
		c.logger.DebugContext(ctx, "completion cache hit", "prompt", prompt.Name)

		return value, nil
	}

	value, err := c.next.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}

	c.store(ctx, key, value)

	return value, nil
}

func (c *Cached) lookup(ctx context.Context, key string) (string, bool) {
	if c.primary != nil {
		value, ok, err := c.primary.Get(ctx, key)
		if err == nil && ok {
			return value, true
		}

		if err != nil {
			c.logger.WarnContext(ctx, "primary cache unavailable, using memory", "error", err)
		}
	}

	value, ok, _ := c.fallback.Get(ctx, key)

	return value, ok
}

func (c *Cached) store(ctx context.Context, key, value string) {
	if c.primary != nil {
		err := c.primary.Set(ctx, key, value, c.ttl)
		if err == nil {
			return
		}

		c.logger.WarnContext(ctx, "failed to write primary cache, using memory", "error", err)
	}

	_ = c.fallback.Set(ctx, key, value, c.ttl)
}

// CacheKey derives a stable key from the model and prompt text.
func CacheKey(model string, prompt Prompt) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(prompt.System))
	h.Write([]byte{0})
	h.Write([]byte(prompt.User))

	return "completion:" + hex.EncodeToString(h.Sum(nil))
}
