package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLimiter(t *testing.T, limit int, window time.Duration) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	return NewRedisLimiterWithClient(client, "test:", limit, window, nil), mr
}

func TestRedisLimiter_Boundary(t *testing.T) {
	l, _ := newTestRedisLimiter(t, 3, time.Minute)
	clock := newFakeClock()
	l.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Admit(ctx, "key-a")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := l.Admit(ctx, "key-a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Minute, d.RetryAfter)
}

func TestRedisLimiter_WindowReset(t *testing.T) {
	l, _ := newTestRedisLimiter(t, 1, time.Minute)
	clock := newFakeClock()
	l.now = clock.Now
	ctx := context.Background()

	d, err := l.Admit(ctx, "k")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, _ = l.Admit(ctx, "k")
	require.False(t, d.Allowed)

	clock.Advance(time.Minute)
	d, err = l.Admit(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiter_SetsExpiry(t *testing.T) {
	l, mr := newTestRedisLimiter(t, 5, time.Minute)
	clock := newFakeClock()
	l.now = clock.Now

	_, err := l.Admit(context.Background(), "k")
	require.NoError(t, err)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Greater(t, mr.TTL(keys[0]), time.Duration(0))
}

func TestRedisLimiter_RejectionDoesNotIncrement(t *testing.T) {
	l, mr := newTestRedisLimiter(t, 2, time.Minute)
	clock := newFakeClock()
	l.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Admit(ctx, "k")
		require.NoError(t, err)
	}

	keys := mr.Keys()
	require.Len(t, keys, 1)
	v, err := mr.Get(keys[0])
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestRedisLimiter_ConcurrentExactQuota(t *testing.T) {
	const quota = 20
	l, _ := newTestRedisLimiter(t, quota, time.Hour)
	clock := newFakeClock()
	l.now = clock.Now
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		admitted atomic.Int64
	)
	for i := 0; i < 2*quota; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Admit(ctx, "shared")
			if err == nil && d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(quota), admitted.Load())
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	l, mr := newTestRedisLimiter(t, 5, time.Minute)
	mr.Close()

	_, err := l.Admit(context.Background(), "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.ErrorIs(t, l.Ping(context.Background()), ErrUnavailable)
}

func TestRedisLimiter_BreakerOpens(t *testing.T) {
	l, mr := newTestRedisLimiter(t, 5, time.Minute)
	mr.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = l.Admit(ctx, "k")
	}

	_, err := l.Admit(ctx, "k")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestRedisLimiter_PingAndClose(t *testing.T) {
	mr := miniredis.RunT(t)
	l := NewRedisLimiter(RedisOptions{Address: mr.Addr(), KeyPrefix: "test:"}, 5, time.Minute, nil)

	require.NoError(t, l.Ping(context.Background()))
	require.NoError(t, l.Close())
	assert.Error(t, l.Ping(context.Background()), "owned client is closed")

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	borrowed := NewRedisLimiterWithClient(client, "test:", 5, time.Minute, nil)
	require.NoError(t, borrowed.Close())
	assert.NoError(t, client.Ping(context.Background()).Err(), "borrowed client stays open")
}
