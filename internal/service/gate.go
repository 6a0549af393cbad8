package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/ratelimit"
)

// Outcome is the verdict of a gate check.
type Outcome int

const (
	OutcomeAuthorized Outcome = iota
	OutcomeUnauthorized
	OutcomeRateLimited
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAuthorized:
		return "authorized"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// GateResult carries the fields relevant to its Outcome:
//   - Authorized: KeyID, Metadata, RateLimit
//   - Unauthorized: Reason
//   - RateLimited: KeyID, RateLimit (with RetryAfter)
//   - Unavailable: Cause
type GateResult struct {
	Outcome   Outcome
	KeyID     string
	Metadata  *model.Metadata
	Reason    Reason
	RateLimit ratelimit.Decision
	Cause     error
}

// Gate is the single check every protected endpoint performs before doing
// any work: verify the key, then admit it against its rate limit.
type Gate struct {
	verifier *Verifier
	limiter  ratelimit.Limiter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewGate(verifier *Verifier, limiter ratelimit.Limiter, m *metrics.Metrics, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{verifier: verifier, limiter: limiter, metrics: m, logger: logger}
}

// Verifier returns the verifier the gate uses.
func (g *Gate) Verifier() *Verifier {
	return g.verifier
}

// Check runs verification and, only for a valid key, one admission against
// the key's counter. Unknown and revoked keys never consume quota.
func (g *Gate) Check(ctx context.Context, presented string) GateResult {
	res := g.check(ctx, presented)
	g.metrics.RecordGateDecision(res.Outcome.String(), string(res.Reason))
	g.logger.Debug("gate decision",
		"outcome", res.Outcome.String(),
		"reason", string(res.Reason),
		"key_id", res.KeyID,
	)
	return res
}

func (g *Gate) check(ctx context.Context, presented string) GateResult {
	v, err := g.verifier.Verify(ctx, presented)
	if err != nil {
		return GateResult{Outcome: OutcomeUnavailable, Cause: err}
	}
	if !v.Valid {
		return GateResult{Outcome: OutcomeUnauthorized, Reason: v.Reason}
	}

	if err := ctx.Err(); err != nil {
		return GateResult{Outcome: OutcomeUnavailable, KeyID: v.KeyID, Cause: err}
	}

	d, err := g.limiter.Admit(ctx, v.KeyID)
	if err != nil {
		return GateResult{
			Outcome: OutcomeUnavailable,
			KeyID:   v.KeyID,
			Cause:   fmt.Errorf("%w: %w", ErrUnavailable, err),
		}
	}
	if !d.Allowed {
		return GateResult{Outcome: OutcomeRateLimited, KeyID: v.KeyID, RateLimit: d}
	}

	return GateResult{
		Outcome:   OutcomeAuthorized,
		KeyID:     v.KeyID,
		Metadata:  v.Metadata,
		RateLimit: d,
	}
}
