package handler

import (
	"log/slog"
	"net/http"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/server/middleware"
	"github.com/keygate/keygate/internal/service"
)

// ProtectedHandler serves the endpoints that sit behind key verification.
type ProtectedHandler struct {
	verifier     *service.Verifier
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewProtectedHandler creates a new ProtectedHandler.
func NewProtectedHandler(verifier *service.Verifier, maxBodyBytes int64, logger *slog.Logger) *ProtectedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProtectedHandler{verifier: verifier, maxBodyBytes: maxBodyBytes, logger: logger}
}

type pingResponse struct {
	OK       bool            `json:"ok"`
	Message  string          `json:"message"`
	KeyID    string          `json:"key_id"`
	Metadata *model.Metadata `json:"metadata,omitempty"`
}

// Ping answers an authorized request with the calling key's id and metadata.
// The gate has already run by the time it is called.
// GET /api/v1/ping
func (h *ProtectedHandler) Ping(w http.ResponseWriter, r *http.Request) {
	access := middleware.GetKeyAccess(r.Context())
	if access == nil {
		writeError(w, http.StatusUnauthorized, "Invalid API key")
		return
	}
	writeJSON(w, http.StatusOK, pingResponse{
		OK:       true,
		Message:  "pong",
		KeyID:    access.KeyID,
		Metadata: access.Metadata,
	})
}

type verifyRequest struct {
	Key string `json:"key"`
}

type verifyResponse struct {
	Valid    bool            `json:"valid"`
	KeyID    string          `json:"key_id,omitempty"`
	Metadata *model.Metadata `json:"metadata,omitempty"`
	Reason   string          `json:"reason,omitempty"`
}

// Verify reports whether a key is valid without admitting it against the
// rate limiter. The id of a revoked key is not disclosed.
// POST /api/v1/verify
func (h *ProtectedHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := readJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required",
			map[string]interface{}{"field": "key"})
		return
	}

	v, err := h.verifier.Verify(r.Context(), req.Key)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "Failed to verify key")
		return
	}
	if !v.Valid {
		writeJSON(w, http.StatusOK, verifyResponse{Reason: string(v.Reason)})
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		Valid:    true,
		KeyID:    v.KeyID,
		Metadata: v.Metadata,
	})
}
