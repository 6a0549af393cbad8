package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/keycodec"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/server/middleware"
	"github.com/keygate/keygate/internal/service"
)

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store  *config.Store
	keys   *service.KeyService
	router chi.Router
}

// newTestEnv creates a fresh test environment with an in-memory config store
// and a Chi router with the key routes mounted (no admin auth middleware).
// The ping route runs behind the real gate with a quota of pingLimit.
func newTestEnv(t *testing.T, pingLimit int) *testEnv {
	t.Helper()

	store, err := config.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	codec, err := keycodec.New(keycodec.DefaultConfig())
	if err != nil {
		t.Fatalf("keycodec.New: %v", err)
	}
	keys := service.NewKeyService(store, codec, nil, nil)
	verifier := service.NewVerifier(store, nil)
	gate := service.NewGate(verifier, ratelimit.NewMemoryLimiter(pingLimit, time.Minute), nil, nil)

	keyHandler := NewKeyHandler(keys, 4096, nil)
	protected := NewProtectedHandler(verifier, 4096, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/keys", keyHandler.List)
		r.Post("/keys", keyHandler.Create)
		r.Delete("/keys", keyHandler.Revoke)
		r.Get("/keys/{keyId}", keyHandler.Get)
		r.Delete("/keys/{keyId}", keyHandler.Revoke)
		r.Get("/keys/{keyId}/metadata", keyHandler.GetMetadata)
		r.Put("/keys/{keyId}/metadata", keyHandler.PutMetadata)

		r.Post("/verify", protected.Verify)
		r.With(middleware.RequireAPIKey(gate, "X-API-Key", nil)).Get("/ping", protected.Ping)
	})

	return &testEnv{store: store, keys: keys, router: r}
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// ping calls the protected endpoint with key.
func (e *testEnv) ping(t *testing.T, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", "/api/v1/ping", nil)
	req.Header.Set("X-API-Key", key)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// createKey issues a key through the API and returns the decoded response.
func (e *testEnv) createKey(t *testing.T, body interface{}) createKeyResponse {
	t.Helper()
	rr := e.do(t, "POST", "/api/v1/keys", toJSON(t, body))
	if rr.Code != 201 {
		t.Fatalf("create key: status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var resp createKeyResponse
	decodeJSON(t, rr, &resp)
	return resp
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}
