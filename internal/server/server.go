package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/handler"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/openapi"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/server/middleware"
	"github.com/keygate/keygate/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes
	APIKeyHeader    string
	IPRateLimit     int // requests per minute per client IP, 0 disables
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     1 << 20, // 1MB
		APIKeyHeader:    "X-API-Key",
		IPRateLimit:     600,
	}
}

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Store   *config.Store
	Keys    *service.KeyService
	Gate    *service.Gate
	Auth    *service.AuthService
	Limiter *ratelimit.Guarded
	Metrics *metrics.Metrics
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Server is the top-level HTTP server for keygate. It owns the Chi router
// and the collaborators behind it.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	checks     map[string]ReadinessCheck
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		checks: make(map[string]ReadinessCheck),
		logger: logger,
	}
	if deps.Store != nil {
		s.AddReadinessCheck("store", deps.Store.Ping)
	}
	if deps.Limiter != nil && deps.Limiter.Backend() == ratelimit.BackendRedis {
		s.AddReadinessCheck("ratelimit", deps.Limiter.Ping)
	}
	s.setupRouter()
	return s
}

// AddReadinessCheck registers a named check run by /readyz.
func (s *Server) AddReadinessCheck(name string, check ReadinessCheck) {
	s.checks[name] = check
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", s.cfg.APIKeyHeader, "X-Request-ID"},
		ExposedHeaders: []string{
			"X-Request-ID",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
			"Retry-After",
		},
		MaxAge: 300,
	}))

	// --- Health checks and metadata (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", s.deps.Metrics.Handler())
	r.Get("/openapi.json", handler.NewOpenAPIHandler(openapi.Options{
		APIKeyHeader: s.cfg.APIKeyHeader,
	}).ServeSpec)

	keyHandler := handler.NewKeyHandler(s.deps.Keys, s.cfg.MaxBodySize, s.logger)
	protected := handler.NewProtectedHandler(s.deps.Gate.Verifier(), s.cfg.MaxBodySize, s.logger)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(s.cfg.IPRateLimit))

		// Endpoints consumers call with an API key.
		r.With(middleware.RequireAPIKey(s.deps.Gate, s.cfg.APIKeyHeader, s.logger)).
			Get("/ping", protected.Ping)

		// Key management requires an operator token. API keys are never
		// accepted here.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(s.deps.Auth))

			r.Get("/keys", keyHandler.List)
			r.Post("/keys", keyHandler.Create)
			r.Delete("/keys", keyHandler.Revoke)
			r.Get("/keys/{keyId}", keyHandler.Get)
			r.Delete("/keys/{keyId}", keyHandler.Revoke)
			r.Get("/keys/{keyId}/metadata", keyHandler.GetMetadata)
			r.Put("/keys/{keyId}/metadata", keyHandler.PutMetadata)

			r.Post("/verify", protected.Verify)
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store and, for a
// shared limiter, the limiter backend are reachable, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string, len(s.checks))

	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "check", name, "error", err)
			checks[name] = "unavailable"
			status = "degraded"
		} else {
			checks[name] = "ok"
		}
	}

	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before releasing the limiter and the store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if s.deps.Limiter != nil {
		go s.deps.Limiter.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if s.deps.Limiter != nil {
		if err := s.deps.Limiter.Close(); err != nil {
			s.logger.Warn("close rate limiter", "error", err)
		}
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.Close(); err != nil {
			s.logger.Warn("close store", "error", err)
		}
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
