package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/keygate/keygate/internal/service"
)

type contextKeyLog string

const accessLogKey contextKeyLog = "access_log"

// accessEntry collects what inner middleware learns about a request so the
// access log line can report it. It never holds the presented key.
type accessEntry struct {
	keyID    string
	outcome  string
	degraded bool
}

// noteGateResult records the gate verdict on the request's access entry.
func noteGateResult(ctx context.Context, res service.GateResult) {
	e, ok := ctx.Value(accessLogKey).(*accessEntry)
	if !ok {
		return
	}
	e.keyID = res.KeyID
	e.outcome = res.Outcome.String()
	e.degraded = res.RateLimit.Degraded
}

// Logger returns an HTTP middleware that writes one structured line per
// request: method, path, status, size, duration, request ID, remote address
// and, behind RequireAPIKey, the gate outcome and resolved key id. 4xx lines
// are logged at WARN and 5xx at ERROR.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			entry := &accessEntry{}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), accessLogKey, entry)))

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
				"bytes", rec.bytes,
				"request_id", GetRequestID(r.Context()),
				"remote_addr", r.RemoteAddr,
			}
			if entry.outcome != "" {
				attrs = append(attrs, "gate", entry.outcome)
			}
			if entry.keyID != "" {
				attrs = append(attrs, "key_id", entry.keyID)
			}
			if entry.degraded {
				attrs = append(attrs, "ratelimit_degraded", true)
			}
			logger.Log(r.Context(), levelFor(rec.status), "request", attrs...)
		})
	}
}

func levelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// statusRecorder captures the status code and body size written through it.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
