package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestMemoryLimiter_Boundary(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLimiter(3, time.Minute)
	l.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Admit(ctx, "key-a")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, 2-i, d.Remaining)
		assert.Zero(t, d.RetryAfter)
	}

	d, err := l.Admit(ctx, "key-a")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "4th request should be rejected")
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Minute, d.RetryAfter)
	assert.Equal(t, 60, d.RetryAfterSeconds())
}

func TestMemoryLimiter_WindowReset(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLimiter(2, time.Minute)
	l.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := l.Admit(ctx, "k")
		require.NoError(t, err)
	}
	d, _ := l.Admit(ctx, "k")
	require.False(t, d.Allowed)

	clock.Advance(30 * time.Second)
	d, _ = l.Admit(ctx, "k")
	assert.False(t, d.Allowed, "still inside the window")
	assert.Equal(t, 30*time.Second, d.RetryAfter)

	clock.Advance(30 * time.Second)
	d, _ = l.Admit(ctx, "k")
	assert.True(t, d.Allowed, "new window admits again")
	assert.Equal(t, 1, d.Remaining)
}

func TestMemoryLimiter_SubjectsAreIndependent(t *testing.T) {
	l := NewMemoryLimiter(1, time.Minute)
	ctx := context.Background()

	d, _ := l.Admit(ctx, "a")
	assert.True(t, d.Allowed)
	d, _ = l.Admit(ctx, "a")
	assert.False(t, d.Allowed)

	d, _ = l.Admit(ctx, "b")
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_ConcurrentExactQuota(t *testing.T) {
	const quota = 50
	l := NewMemoryLimiter(quota, time.Hour)
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

func TestMemoryLimiter_CancelledContextDoesNotCount(t *testing.T) {
	l := NewMemoryLimiter(1, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Admit(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)

	d, err := l.Admit(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "cancelled request must not consume quota")
}

func TestMemoryLimiter_Cleanup(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLimiter(5, time.Minute)
	l.now = clock.Now
	ctx := context.Background()

	_, _ = l.Admit(ctx, "old")
	clock.Advance(2 * time.Minute)
	_, _ = l.Admit(ctx, "fresh")

	l.Cleanup()
	assert.Equal(t, 1, l.size())

	d, err := l.Admit(ctx, "old")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}

func TestDecision_Seconds(t *testing.T) {
	d := Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond, ResetAfter: 1500 * time.Millisecond}
	assert.Equal(t, 2, d.RetryAfterSeconds())
	assert.Equal(t, 2, d.ResetSeconds())

	d = Decision{Allowed: false, RetryAfter: 0}
	assert.Equal(t, 1, d.RetryAfterSeconds(), "rejections always ask for at least one second")

	d = Decision{Allowed: true, RetryAfter: time.Second}
	assert.Equal(t, 0, d.RetryAfterSeconds())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"fail open", func(c *Config) { c.FailurePolicy = FailOpen }, false},
		{"zero window", func(c *Config) { c.Window = 0 }, true},
		{"zero max", func(c *Config) { c.MaxRequests = 0 }, true},
		{"unknown backend", func(c *Config) { c.Backend = "memcached" }, true},
		{"unknown policy", func(c *Config) { c.FailurePolicy = "maybe" }, true},
		{"redis without address", func(c *Config) { c.Backend = BackendRedis; c.Redis.Address = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
