package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukex/contentflow/pkg/llm"
	"github.com/dukex/contentflow/pkg/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func fastPolicy(attempts int) llm.RetryPolicy {
	return llm.RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestRetrying_RecoversFromTransientFailures(t *testing.T) {
	calls := 0
	flaky := llm.CompleterFunc(func(context.Context, llm.Prompt) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection reset")
		}

		return `{"ok":true}`, nil
	})

	out, err := llm.NewRetrying(flaky, fastPolicy(3), log.Discard()).Complete(t.Context(), llm.Prompt{Name: "concepts"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, out)
	assert.Equal(t, 3, calls)
}

func TestRetrying_GivesUpAfterMaxAttempts(t *testing.T) {
	scripted := llm.NewScripted().OnError("concepts", errors.New("overloaded"))

	_, err := llm.NewRetrying(scripted, fastPolicy(2), log.Discard()).Complete(t.Context(), llm.Prompt{Name: "concepts"})
	require.EqualError(t, err, "overloaded")
	assert.Equal(t, 2, scripted.CallCount("concepts"))
}

func TestRetrying_DoesNotRetryCancellation(t *testing.T) {
	scripted := llm.NewScripted().OnError("concepts", context.Canceled)

	_, err := llm.NewRetrying(scripted, fastPolicy(5), log.Discard()).Complete(t.Context(), llm.Prompt{Name: "concepts"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, scripted.CallCount("concepts"))
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("connection refused")
}

func (brokenCache) Set(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}

func TestCached_ServesRepeatedPrompts(t *testing.T) {
	for name, primary := range map[string]llm.Cache{
		"memory only":             nil,
		"broken primary":          brokenCache{},
		"memory cache as primary": llm.NewMemoryCache(10),
	} {
		t.Run(name, func(t *testing.T) {
			scripted := llm.NewScripted().On("concepts", `{"concepts":[]}`)
			cached := llm.NewCached(scripted, primary, time.Hour, "gpt-test", log.Discard())

			prompt := llm.Prompt{Name: "concepts", System: "sys", User: "topic"}

			for range 3 {
				out, err := cached.Complete(t.Context(), prompt)
				require.NoError(t, err)
				assert.JSONEq(t, `{"concepts":[]}`, out)
			}

			assert.Equal(t, 1, scripted.CallCount("concepts"))

			_, err := cached.Complete(t.Context(), llm.Prompt{Name: "concepts", System: "sys", User: "other topic"})
			require.NoError(t, err)
			assert.Equal(t, 2, scripted.CallCount("concepts"))
		})
	}
}

func TestCached_DoesNotCacheFailures(t *testing.T) {
	scripted := llm.NewScripted().OnError("concepts", errors.New("boom"))
	cached := llm.NewCached(scripted, nil, time.Hour, "gpt-test", log.Discard())

	for range 2 {
		_, err := cached.Complete(t.Context(), llm.Prompt{Name: "concepts"})
		require.Error(t, err)
	}

	assert.Equal(t, 2, scripted.CallCount("concepts"))
}

func TestMemoryCache_ExpiresAndEvicts(t *testing.T) {
	c := llm.NewMemoryCache(2)
	ctx := t.Context()

	require.NoError(t, c.Set(ctx, "a", "1", time.Nanosecond))
	time.Sleep(time.Millisecond)

	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "b", "2", time.Minute))
	require.NoError(t, c.Set(ctx, "c", "3", time.Hour))
	require.NoError(t, c.Set(ctx, "d", "4", time.Hour))

	_, ok, _ = c.Get(ctx, "b")
	assert.False(t, ok, "the entry closest to expiry is evicted first")

	v, ok, _ := c.Get(ctx, "d")
	assert.True(t, ok)
	assert.Equal(t, "4", v)
}

func TestCacheKey_DependsOnModelAndText(t *testing.T) {
	p := llm.Prompt{Name: "x", System: "s", User: "u"}

	assert.Equal(t, llm.CacheKey("m", p), llm.CacheKey("m", llm.Prompt{Name: "y", System: "s", User: "u"}))
	assert.NotEqual(t, llm.CacheKey("m", p), llm.CacheKey("other", p))
	assert.NotEqual(t, llm.CacheKey("m", p), llm.CacheKey("m", llm.Prompt{System: "su", User: ""}))
}

func TestSchema_Decode(t *testing.T) {
	schema := llm.MustSchema("concepts", `{
		"type": "object",
		"required": ["concepts"],
		"properties": {
			"concepts": {
				"type": "array",
				"items": {"type": "object", "required": ["title"], "properties": {"title": {"type": "string", "minLength": 1}}}
			}
		}
	}`)

	var out struct {
		Concepts []struct {
			Title string `json:"title"`
		} `json:"concepts"`
	}

	raw := "Here you go:\n```json\n{\"concepts\": [{\"title\": \"Async standups\"}]}\n```"
	require.NoError(t, schema.Decode(raw, &out))
	require.Len(t, out.Concepts, 1)
	assert.Equal(t, "Async standups", out.Concepts[0].Title)

	err := schema.Decode(`{"concepts": [{"title": ""}]}`, &out)
	require.ErrorIs(t, err, llm.ErrInvalidResponse)

	err = schema.Decode("I cannot help with that.", &out)
	require.ErrorIs(t, err, llm.ErrInvalidResponse)
}

func TestRedisCache_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}

	ctx := t.Context()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)

	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	cache := llm.NewRedisCache(client, "test:")

	_, ok, err := cache.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "k", "v", time.Minute))

	v, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	ttl, err := client.TTL(ctx, "test:k").Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
}
