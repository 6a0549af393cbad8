package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Guarded bounds every admission with a timeout and applies the failure
// policy when the wrapped limiter cannot answer.
type Guarded struct {
	inner   Limiter
	backend string
	policy  string
	timeout time.Duration
	limit   int
	logger  *slog.Logger

	// OnError, when set, is called for every backend failure.
	OnError func(backend string, err error)
}

// NewGuarded wraps inner according to cfg.
func NewGuarded(inner Limiter, cfg Config, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	policy := cfg.FailurePolicy
	if policy == "" {
		policy = FailClosed
	}
	backend := cfg.Backend
	if backend == "" {
		backend = BackendMemory
	}
	return &Guarded{
		inner:   inner,
		backend: backend,
		policy:  policy,
		timeout: timeout,
		limit:   cfg.MaxRequests,
		logger:  logger,
	}
}

// Backend returns the configured backend name.
func (g *Guarded) Backend() string {
	return g.backend
}

// Admit implements Limiter. Cancellation by the caller is returned as the
// context error and never triggers the failure policy.
func (g *Guarded) Admit(ctx context.Context, subject string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	actx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	d, err := g.inner.Admit(actx, subject)
	if err == nil {
		return d, nil
	}
	if ctx.Err() != nil {
		return Decision{}, ctx.Err()
	}
	if !errors.Is(err, ErrUnavailable) {
		err = fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if g.OnError != nil {
		g.OnError(g.backend, err)
	}

	if g.policy == FailOpen {
		g.logger.Warn("rate limiter unavailable, admitting request", "backend", g.backend, "error", err)
		return Decision{Allowed: true, Limit: g.limit, Degraded: true}, nil
	}
	g.logger.Error("rate limiter unavailable, rejecting request", "backend", g.backend, "error", err)
	return Decision{}, err
}

// Ping checks the backend when it supports health checks.
func (g *Guarded) Ping(ctx context.Context) error {
	p, ok := g.inner.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return p.Ping(ctx)
}

// Run performs background maintenance until ctx is done.
func (g *Guarded) Run(ctx context.Context) {
	if m, ok := g.inner.(*MemoryLimiter); ok {
		m.Run(ctx, 0)
	}
}

// Close releases backend resources.
func (g *Guarded) Close() error {
	if c, ok := g.inner.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
