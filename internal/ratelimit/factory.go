package ratelimit

import "log/slog"

// New builds the limiter selected by cfg, wrapped with its timeout and
// failure policy.
func New(cfg Config, logger *slog.Logger) (*Guarded, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	var inner Limiter
	switch cfg.Backend {
	case BackendRedis:
		inner = NewRedisLimiter(cfg.Redis, cfg.MaxRequests, cfg.Window, logger)
	default:
		inner = NewMemoryLimiter(cfg.MaxRequests, cfg.Window)
	}

	logger.Info("rate limiter created",
		"backend", cfg.Backend,
		"max_requests", cfg.MaxRequests,
		"window", cfg.Window,
		"failure_policy", cfg.FailurePolicy,
	)
	return NewGuarded(inner, cfg, logger), nil
}
