// Package ratelimit decides whether a verified key may make another request
// in the current window. Limiters are keyed by an opaque subject (the key id)
// and never see credentials.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Failure policies applied when the backend cannot answer.
const (
	FailClosed = "closed" // reject with ErrUnavailable
	FailOpen   = "open"   // admit and mark the decision degraded
)

// ErrUnavailable reports that the limiter backend could not be consulted in
// time. It is never a rate-limit rejection.
var ErrUnavailable = errors.New("rate limiter unavailable")

// Limiter admits or rejects a single request for a subject. Admit performs
// one atomic read-increment-compare; a rejected request does not consume
// quota.
type Limiter interface {
	Admit(ctx context.Context, subject string) (Decision, error)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration // until the current window ends
	RetryAfter time.Duration // zero when allowed

	// Degraded is set when the backend failed and the fail-open policy
	// admitted the request without counting it.
	Degraded bool
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, at least
// one when the request was rejected.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	s := ceilSeconds(d.RetryAfter)
	if s < 1 {
		s = 1
	}
	return s
}

// ResetSeconds returns ResetAfter rounded up to whole seconds.
func (d Decision) ResetSeconds() int {
	return ceilSeconds(d.ResetAfter)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// RedisOptions locates the shared limiter backend.
type RedisOptions struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// Config configures a limiter.
type Config struct {
	Backend       string
	Window        time.Duration
	MaxRequests   int
	FailurePolicy string
	Timeout       time.Duration // per-admission bound; zero means DefaultTimeout
	Redis         RedisOptions
}

// DefaultTimeout bounds a single admission when Config.Timeout is zero.
const DefaultTimeout = 250 * time.Millisecond

// DefaultConfig returns a per-process limiter admitting 60 requests a minute.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendMemory,
		Window:        time.Minute,
		MaxRequests:   60,
		FailurePolicy: FailClosed,
		Timeout:       DefaultTimeout,
		Redis: RedisOptions{
			Address:   "localhost:6379",
			KeyPrefix: "keygate:rl:",
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive, got %v", c.Window)
	}
	if c.Window < time.Millisecond {
		return fmt.Errorf("rate_limit.window must be at least 1ms, got %v", c.Window)
	}
	if c.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be positive, got %d", c.MaxRequests)
	}
	switch c.Backend {
	case BackendMemory, "":
	case BackendRedis:
		if c.Redis.Address == "" {
			return errors.New("rate_limit.redis.address is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown rate_limit.backend %q (want memory or redis)", c.Backend)
	}
	switch c.FailurePolicy {
	case FailClosed, FailOpen, "":
	default:
		return fmt.Errorf("unknown rate_limit.failure_policy %q (want closed or open)", c.FailurePolicy)
	}
	return nil
}
