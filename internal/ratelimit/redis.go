package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// fixedWindowScript atomically checks and increments the counter for the
// current window. A rejected request does not increment.
// KEYS[1] = subject key; ARGV = limit, window_ms, now_ms.
// Returns {allowed (0|1), remaining, reset_ms}.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])

	local window_start = math.floor(now / window_ms) * window_ms
	local window_key = key .. ':' .. window_start

	local count = tonumber(redis.call('GET', window_key) or '0')

	local allowed = 0
	if count < limit then
		count = redis.call('INCRBY', window_key, 1)
		if count == 1 then
			redis.call('PEXPIRE', window_key, window_ms)
		end
		allowed = 1
	end

	local remaining = limit - count
	if remaining < 0 then
		remaining = 0
	end

	return {allowed, remaining, window_start + window_ms - now}
`)

// RedisLimiter is a fixed-window limiter shared by every process pointing at
// the same Redis. Calls pass through a circuit breaker so a dead backend
// fails fast instead of stalling every request until its timeout.
type RedisLimiter struct {
	client  redis.UniversalClient
	owned   bool
	breaker *gobreaker.CircuitBreaker
	limit   int
	window  time.Duration
	prefix  string
	now     func() time.Time
	logger  *slog.Logger
}

// NewRedisLimiter connects to Redis using opts.
func NewRedisLimiter(opts RedisOptions, limit int, window time.Duration, logger *slog.Logger) *RedisLimiter {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	l := NewRedisLimiterWithClient(client, opts.KeyPrefix, limit, window, logger)
	l.owned = true
	return l
}

// NewRedisLimiterWithClient wraps an existing client. The caller keeps
// ownership of client; Close does not close it.
func NewRedisLimiterWithClient(client redis.UniversalClient, prefix string, limit int, window time.Duration, logger *slog.Logger) *RedisLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: prefix,
		now:    time.Now,
		logger: logger,
	}
	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-ratelimit",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// The caller giving up is not a backend failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return l
}

// Admit implements Limiter.
func (l *RedisLimiter) Admit(ctx context.Context, subject string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	nowMs := l.now().UnixMilli()
	out, err := l.breaker.Execute(func() (interface{}, error) {
		return fixedWindowScript.Run(ctx, l.client,
			[]string{l.prefix + subject},
			l.limit, l.window.Milliseconds(), nowMs,
		).Int64Slice()
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Decision{}, err
		}
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	vals := out.([]int64)
	if len(vals) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrUnavailable, vals)
	}

	d := Decision{
		Allowed:    vals[0] == 1,
		Limit:      l.limit,
		Remaining:  int(vals[1]),
		ResetAfter: time.Duration(vals[2]) * time.Millisecond,
	}
	if !d.Allowed {
		d.RetryAfter = d.ResetAfter
	}
	return d, nil
}

// Ping checks that Redis is reachable.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the client if this limiter created it.
func (l *RedisLimiter) Close() error {
	if l.owned {
		return l.client.Close()
	}
	return nil
}
