package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/keycodec"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/server/middleware"
	"github.com/keygate/keygate/internal/service"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// readJSON decodes the request body as JSON into v, rejecting bodies larger
// than limit and unknown fields. The body is closed after decoding regardless
// of success or failure.
func readJSON(w http.ResponseWriter, r *http.Request, limit int64, v interface{}) error {
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return err
	}
	return nil
}

// queryBool extracts a boolean query parameter. Returns false if the parameter
// is missing or not a true value accepted by strconv.ParseBool.
func queryBool(r *http.Request, key string) bool {
	b, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && b
}

// writeServiceError maps errors from the service and storage layers to HTTP
// status codes. Infrastructure failures never surface as 404 and are logged
// with their cause, which is never echoed to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, fallbackMsg string) {
	var verr *service.ValidationError
	if !errors.As(err, &verr) && !errors.Is(err, config.ErrNotFound) {
		logger.Error(fallbackMsg,
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
	}

	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error(), map[string]interface{}{"field": verr.Field})
	case errors.Is(err, config.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, config.ErrUnavailable),
		errors.Is(err, service.ErrUnavailable),
		errors.Is(err, ratelimit.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
	case errors.Is(err, keycodec.ErrEntropySource):
		writeError(w, http.StatusInternalServerError, "Key generation failed")
	default:
		writeError(w, http.StatusInternalServerError, fallbackMsg)
	}
}
