package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

type contextKeyAuth string

const (
	// AdminPrincipalKey is the context key for the authenticated operator.
	AdminPrincipalKey contextKeyAuth = "admin_principal"

	// KeyAccessKey is the context key for the gate result of an authorized
	// API-key request.
	KeyAccessKey contextKeyAuth = "key_access"
)

// KeyAccess describes the verified key behind a protected request.
type KeyAccess struct {
	KeyID    string
	Metadata *model.Metadata
}

// RequireAdmin returns an HTTP middleware that accepts only requests bearing
// a valid operator JWT in the Authorization header. API keys are never
// accepted here.
func RequireAdmin(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeAuthError(w, http.StatusUnauthorized, "Authentication required. Provide a Bearer token.", nil)
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			p, err := authSvc.ValidateJWT(r.Context(), token)
			if err != nil {
				msg := "Invalid token"
				if errors.Is(err, service.ErrTokenExpired) {
					msg = "Token expired"
				}
				writeAuthError(w, http.StatusUnauthorized, msg, nil)
				return
			}

			ctx := context.WithValue(r.Context(), AdminPrincipalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAPIKey returns an HTTP middleware that runs the request gate on the
// key presented in header. Only authorized requests reach next; rate-limit
// headers are set on authorized and rate-limited responses.
func RequireAPIKey(gate *service.Gate, header string, logger *slog.Logger) func(http.Handler) http.Handler {
	if header == "" {
		header = "X-API-Key"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := gate.Check(r.Context(), r.Header.Get(header))
			noteGateResult(r.Context(), res)

			switch res.Outcome {
			case service.OutcomeAuthorized:
				SetRateLimitHeaders(w, res.RateLimit)
				ctx := context.WithValue(r.Context(), KeyAccessKey, &KeyAccess{
					KeyID:    res.KeyID,
					Metadata: res.Metadata,
				})
				next.ServeHTTP(w, r.WithContext(ctx))

			case service.OutcomeUnauthorized:
				writeAuthError(w, http.StatusUnauthorized, "Invalid API key",
					map[string]interface{}{"reason": string(res.Reason)})

			case service.OutcomeRateLimited:
				SetRateLimitHeaders(w, res.RateLimit)
				writeAuthError(w, http.StatusTooManyRequests, "Rate limit exceeded",
					map[string]interface{}{
						"limit":       res.RateLimit.Limit,
						"remaining":   res.RateLimit.Remaining,
						"retry_after": res.RateLimit.RetryAfterSeconds(),
					})

			default:
				logger.Error("request gate unavailable",
					"error", res.Cause,
					"request_id", GetRequestID(r.Context()),
				)
				writeAuthError(w, http.StatusServiceUnavailable, "Service temporarily unavailable", nil)
			}
		})
	}
}

// GetAdmin extracts the authenticated operator from the context.
// Returns nil if no operator is present.
func GetAdmin(ctx context.Context) *service.AdminPrincipal {
	if p, ok := ctx.Value(AdminPrincipalKey).(*service.AdminPrincipal); ok {
		return p
	}
	return nil
}

// GetKeyAccess extracts the verified key from the context. Returns nil
// outside RequireAPIKey.
func GetKeyAccess(ctx context.Context) *KeyAccess {
	if a, ok := ctx.Value(KeyAccessKey).(*KeyAccess); ok {
		return a
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    status,
			Message: message,
			Context: details,
		},
	})
}
