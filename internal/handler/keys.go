package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

// KeyHandler serves the key management API: issue, list, inspect and revoke
// keys, and manage their metadata. Every route sits behind admin auth.
type KeyHandler struct {
	keys         *service.KeyService
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(keys *service.KeyService, maxBodyBytes int64, logger *slog.Logger) *KeyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyHandler{keys: keys, maxBodyBytes: maxBodyBytes, logger: logger}
}

// keyView is the listing shape of a key. It carries the masked form only.
type keyView struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"display_name"`
	Masked      string          `json:"masked"`
	CreatedAt   time.Time       `json:"created_at"`
	Revoked     bool            `json:"revoked"`
	Metadata    *model.Metadata `json:"metadata,omitempty"`
}

func newKeyView(k *model.APIKey) keyView {
	return keyView{
		ID:          k.ID,
		DisplayName: k.Name,
		Masked:      k.Masked(),
		CreatedAt:   k.CreatedAt,
		Revoked:     k.Revoked,
		Metadata:    k.Metadata,
	}
}

// ---------------------------------------------------------------------------
// Issuance
// ---------------------------------------------------------------------------

// createKeyRequest is the expected payload for Create.
type createKeyRequest struct {
	DisplayName string                 `json:"display_name"`
	Metadata    *service.MetadataInput `json:"metadata,omitempty"`
}

// createKeyResponse includes the plaintext key (shown once only).
type createKeyResponse struct {
	ID            string          `json:"id"`
	DisplayName   string          `json:"display_name"`
	PlaintextKey  string          `json:"plaintext_key"`
	Last4         string          `json:"last4"`
	CreatedAt     time.Time       `json:"created_at"`
	Metadata      *model.Metadata `json:"metadata,omitempty"`
	MetadataError string          `json:"metadata_error,omitempty"`
}

// Create issues a new key and returns its plaintext.
// POST /api/v1/keys
func (h *KeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := readJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		writeError(w, http.StatusBadRequest, "display_name is required",
			map[string]interface{}{"field": "display_name"})
		return
	}
	if utf8.RuneCountInString(name) > service.MaxDisplayNameLen {
		writeError(w, http.StatusBadRequest, "display_name is too long",
			map[string]interface{}{"field": "display_name", "max": service.MaxDisplayNameLen})
		return
	}

	issued, err := h.keys.Issue(r.Context(), service.IssueRequest{
		DisplayName: name,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, "Failed to issue key")
		return
	}

	resp := createKeyResponse{
		ID:           issued.Key.ID,
		DisplayName:  issued.Key.Name,
		PlaintextKey: issued.Plaintext,
		Last4:        issued.Key.Last4,
		CreatedAt:    issued.Key.CreatedAt,
		Metadata:     issued.Key.Metadata,
	}
	if issued.MetadataErr != nil {
		resp.MetadataError = "Key created but metadata could not be saved"
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ---------------------------------------------------------------------------
// Listing and lookup
// ---------------------------------------------------------------------------

// List returns keys newest first. Revoked keys are included only when the
// include_revoked query parameter is true.
// GET /api/v1/keys
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	includeRevoked := queryBool(r, "include_revoked")

	keys, err := h.keys.List(r.Context(), includeRevoked)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "Failed to list keys")
		return
	}

	items := make([]keyView, len(keys))
	for i := range keys {
		items[i] = newKeyView(&keys[i])
	}
	writeJSON(w, http.StatusOK, model.ItemsResponse[keyView]{
		Items: items,
		Meta:  &model.ResponseMeta{Count: len(items), IncludeRevoked: includeRevoked},
	})
}

// Get returns a single key.
// GET /api/v1/keys/{keyId}
func (h *KeyHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.Get(r.Context(), chi.URLParam(r, "keyId"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "Failed to get key")
		return
	}
	writeJSON(w, http.StatusOK, newKeyView(key))
}

// ---------------------------------------------------------------------------
// Revocation
// ---------------------------------------------------------------------------

type revokeResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Revoke permanently disables a key. The id comes from the path or, for the
// collection route, from the keyId query parameter. A missing or already
// revoked key yields 404 with success=false.
// DELETE /api/v1/keys/{keyId}
// DELETE /api/v1/keys?keyId=...
func (h *KeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "keyId")
	if id == "" {
		id = r.URL.Query().Get("keyId")
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "keyId is required",
			map[string]interface{}{"field": "keyId"})
		return
	}

	ok, err := h.keys.Revoke(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "Failed to revoke key")
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, revokeResponse{
			Success: false,
			Error:   "Key not found or already revoked",
		})
		return
	}
	writeJSON(w, http.StatusOK, revokeResponse{Success: true, ID: id})
}

// ---------------------------------------------------------------------------
// Metadata
// ---------------------------------------------------------------------------

// GetMetadata returns the metadata attached to a key.
// GET /api/v1/keys/{keyId}/metadata
func (h *KeyHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := h.keys.GetMetadata(r.Context(), chi.URLParam(r, "keyId"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "Failed to get metadata")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// PutMetadata attaches metadata to a key, replacing any existing record.
// PUT /api/v1/keys/{keyId}/metadata
func (h *KeyHandler) PutMetadata(w http.ResponseWriter, r *http.Request) {
	var in service.MetadataInput
	if err := readJSON(w, r, h.maxBodyBytes, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	meta, err := h.keys.SetMetadata(r.Context(), chi.URLParam(r, "keyId"), in)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "Failed to save metadata")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}
