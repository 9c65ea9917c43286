package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/contentflow/pkg/lock"
	"github.com/dukex/contentflow/pkg/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func exerciseLocker(t *testing.T, l lock.Locker) {
	t.Helper()

	ctx := t.Context()

	release, err := l.TryLock(ctx, "thread-1")
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "thread-1")
	require.ErrorIs(t, err, lock.ErrHeld)

	other, err := l.TryLock(ctx, "thread-2")
	require.NoError(t, err, "locks are per thread")
	other()

	release()
	release()

	again, err := l.TryLock(ctx, "thread-1")
	require.NoError(t, err)
	again()

	var (
		wg       sync.WaitGroup
		acquired atomic.Int32
		start    = make(chan struct{})
		releases = make(chan func(), 10)
	)

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			<-start

			if rel, err := l.TryLock(ctx, "thread-3"); err == nil {
				acquired.Add(1)
				releases <- rel
			}
		}()
	}

	close(start)
	wg.Wait()
	close(releases)

	assert.Equal(t, int32(1), acquired.Load())

	for rel := range releases {
		rel()
	}
}

func TestLocal(t *testing.T) {
	exerciseLocker(t, lock.NewLocal())
}

func TestRedis(t *testing.T) {
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

	exerciseLocker(t, lock.NewRedis(client, "contentflow:lock:", time.Minute, log.Discard()))

	short := lock.NewRedis(client, "contentflow:expiring:", 50*time.Millisecond, log.Discard())

	_, err = short.TryLock(ctx, "thread-9")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		release, err := short.TryLock(ctx, "thread-9")
		if err != nil {
			return false
		}

		release()

		return true
	}, 2*time.Second, 20*time.Millisecond, "an abandoned lock expires")
}
