package handler

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/keygate/keygate/internal/model"
)

// ---------------------------------------------------------------------------
// Issuance
// ---------------------------------------------------------------------------

func TestCreateKey_ReturnsPlaintextOnce(t *testing.T) {
	env := newTestEnv(t, 10)

	resp := env.createKey(t, map[string]interface{}{"display_name": "  Production  "})
	if resp.ID == "" {
		t.Fatal("expected key id")
	}
	if resp.DisplayName != "Production" {
		t.Errorf("display_name = %q, want trimmed %q", resp.DisplayName, "Production")
	}
	if !strings.HasPrefix(resp.PlaintextKey, "sk_live_") {
		t.Errorf("plaintext_key = %q, want sk_live_ prefix", resp.PlaintextKey)
	}
	if !strings.HasSuffix(resp.PlaintextKey, resp.Last4) || len(resp.Last4) != 4 {
		t.Errorf("last4 = %q does not match plaintext %q", resp.Last4, resp.PlaintextKey)
	}
	if resp.CreatedAt.IsZero() {
		t.Error("expected created_at")
	}

	// The plaintext never appears again: not in the listing, not in details.
	for _, path := range []string{"/api/v1/keys", "/api/v1/keys/" + resp.ID} {
		rr := env.do(t, "GET", path, nil)
		assertStatus(t, rr, 200)
		body := rr.Body.String()
		if strings.Contains(body, resp.PlaintextKey) {
			t.Errorf("%s leaks plaintext: %s", path, body)
		}
		if strings.Contains(body, "key_hash") {
			t.Errorf("%s leaks key hash: %s", path, body)
		}
	}
}

func TestCreateKey_Validation(t *testing.T) {
	env := newTestEnv(t, 10)

	tests := []struct {
		name string
		body string
	}{
		{"missing display_name", `{}`},
		{"blank display_name", `{"display_name":"   "}`},
		{"display_name too long", `{"display_name":"` + strings.Repeat("x", 257) + `"}`},
		{"invalid JSON", `{"display_name":`},
		{"metadata without kind", `{"display_name":"a","metadata":{"attributes":{"x":"y"}}}`},
		{"metadata kind too long", `{"display_name":"a","metadata":{"kind":"` + strings.Repeat("k", 65) + `"}}`},
		{"non-string attribute", `{"display_name":"a","metadata":{"kind":"hardware","attributes":{"cores":2}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/api/v1/keys", strings.NewReader(tt.body))
			assertStatus(t, rr, 400)
		})
	}

	keys, err := env.store.ListAPIKeys(context.Background(), true)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("rejected requests stored %d keys", len(keys))
	}
}

func TestCreateKey_MaxLengthDisplayName(t *testing.T) {
	env := newTestEnv(t, 10)
	name := strings.Repeat("é", 256)
	resp := env.createKey(t, map[string]interface{}{"display_name": name})
	if resp.DisplayName != name {
		t.Errorf("display_name was altered")
	}
}

func TestCreateKey_WithMetadata(t *testing.T) {
	env := newTestEnv(t, 10)

	resp := env.createKey(t, map[string]interface{}{
		"display_name": "bench rig",
		"metadata": map[string]interface{}{
			"kind":       "hardware",
			"attributes": map[string]string{"processor": "rp2040", "memory": "264KB"},
		},
	})
	if resp.Metadata == nil || resp.Metadata.Kind != "hardware" {
		t.Fatalf("expected hardware metadata, got %+v", resp.Metadata)
	}
	if resp.MetadataError != "" {
		t.Errorf("unexpected metadata_error %q", resp.MetadataError)
	}

	rr := env.do(t, "GET", "/api/v1/keys/"+resp.ID+"/metadata", nil)
	assertStatus(t, rr, 200)
	var meta model.Metadata
	decodeJSON(t, rr, &meta)
	if meta.Attribute("memory") != "264KB" {
		t.Errorf("memory = %q, want 264KB", meta.Attribute("memory"))
	}
}

func TestCreateKey_ConcurrentUnique(t *testing.T) {
	env := newTestEnv(t, 10)
	const n = 20

	var wg sync.WaitGroup
	plaintexts := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rr := env.do(t, "POST", "/api/v1/keys", strings.NewReader(`{"display_name":"load"}`))
			if rr.Code != 201 {
				t.Errorf("status = %d", rr.Code)
				return
			}
			var resp createKeyResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Errorf("decode: %v", err)
				return
			}
			plaintexts[i] = resp.PlaintextKey
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, p := range plaintexts {
		if seen[p] {
			t.Fatalf("duplicate key issued: %s", p)
		}
		seen[p] = true
	}
}

// ---------------------------------------------------------------------------
// Listing and details
// ---------------------------------------------------------------------------

type listResponse struct {
	Items []keyView          `json:"items"`
	Meta  model.ResponseMeta `json:"meta"`
}

func TestListKeys_ProductionScenario(t *testing.T) {
	env := newTestEnv(t, 10)

	created := env.createKey(t, map[string]interface{}{"display_name": "Production"})

	rr := env.do(t, "GET", "/api/v1/keys", nil)
	assertStatus(t, rr, 200)
	var list listResponse
	decodeJSON(t, rr, &list)
	if len(list.Items) != 1 || list.Meta.Count != 1 {
		t.Fatalf("expected 1 key, got %d (meta count %d)", len(list.Items), list.Meta.Count)
	}
	item := list.Items[0]
	if item.ID != created.ID || item.DisplayName != "Production" {
		t.Errorf("unexpected item %+v", item)
	}
	if item.Masked != "****"+created.Last4 {
		t.Errorf("masked = %q, want %q", item.Masked, "****"+created.Last4)
	}
	if item.Revoked {
		t.Error("new key should not be revoked")
	}

	rr = env.do(t, "DELETE", "/api/v1/keys/"+created.ID, nil)
	assertStatus(t, rr, 200)
	var rev revokeResponse
	decodeJSON(t, rr, &rev)
	if !rev.Success || rev.ID != created.ID {
		t.Errorf("revoke response = %+v", rev)
	}

	rr = env.do(t, "GET", "/api/v1/keys", nil)
	decodeJSON(t, rr, &list)
	if len(list.Items) != 0 {
		t.Errorf("revoked key still listed: %+v", list.Items)
	}

	rr = env.do(t, "GET", "/api/v1/keys?include_revoked=true", nil)
	list = listResponse{}
	decodeJSON(t, rr, &list)
	if len(list.Items) != 1 || !list.Items[0].Revoked || !list.Meta.IncludeRevoked {
		t.Errorf("expected revoked key with include_revoked, got %+v", list)
	}

	if rr := env.ping(t, created.PlaintextKey); rr.Code != 401 {
		t.Errorf("ping with revoked key: status = %d, want 401", rr.Code)
	}
}

func TestListKeys_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t, 10)
	rr := env.do(t, "GET", "/api/v1/keys", nil)
	assertStatus(t, rr, 200)
	if !strings.Contains(rr.Body.String(), `"items":[]`) {
		t.Errorf("expected empty items array, got %s", rr.Body.String())
	}
}

func TestGetKey(t *testing.T) {
	env := newTestEnv(t, 10)
	created := env.createKey(t, map[string]interface{}{"display_name": "ci"})

	rr := env.do(t, "GET", "/api/v1/keys/"+created.ID, nil)
	assertStatus(t, rr, 200)
	var v keyView
	decodeJSON(t, rr, &v)
	if v.ID != created.ID || v.Masked != "****"+created.Last4 {
		t.Errorf("unexpected key %+v", v)
	}

	assertStatus(t, env.do(t, "GET", "/api/v1/keys/not-a-uuid", nil), 400)
	assertStatus(t, env.do(t, "GET", "/api/v1/keys/01900000-0000-7000-8000-000000000000", nil), 404)
}

// ---------------------------------------------------------------------------
// Revocation
// ---------------------------------------------------------------------------

func TestRevokeKey(t *testing.T) {
	env := newTestEnv(t, 10)
	created := env.createKey(t, map[string]interface{}{"display_name": "temp"})

	tests := []struct {
		name        string
		path        string
		wantStatus  int
		wantSuccess bool
	}{
		{"first revoke via query", "/api/v1/keys?keyId=" + created.ID, 200, true},
		{"second revoke", "/api/v1/keys/" + created.ID, 404, false},
		{"unknown id", "/api/v1/keys/01900000-0000-7000-8000-000000000000", 404, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "DELETE", tt.path, nil)
			assertStatus(t, rr, tt.wantStatus)
			var resp revokeResponse
			decodeJSON(t, rr, &resp)
			if resp.Success != tt.wantSuccess {
				t.Errorf("success = %v, want %v", resp.Success, tt.wantSuccess)
			}
		})
	}
}

func TestRevokeKey_BadInput(t *testing.T) {
	env := newTestEnv(t, 10)
	assertStatus(t, env.do(t, "DELETE", "/api/v1/keys", nil), 400)
	assertStatus(t, env.do(t, "DELETE", "/api/v1/keys?keyId=nope", nil), 400)
	assertStatus(t, env.do(t, "DELETE", "/api/v1/keys/nope", nil), 400)
}

func TestRevokeKey_ConcurrentSingleSuccess(t *testing.T) {
	env := newTestEnv(t, 10)
	created := env.createKey(t, map[string]interface{}{"display_name": "race"})

	const n = 10
	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = env.do(t, "DELETE", "/api/v1/keys/"+created.ID, nil).Code
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, c := range codes {
		if c == 200 {
			ok++
		}
	}
	if ok != 1 {
		t.Errorf("expected exactly one successful revoke, got %d (%v)", ok, codes)
	}
}

// ---------------------------------------------------------------------------
// Metadata
// ---------------------------------------------------------------------------

func TestPutMetadata(t *testing.T) {
	env := newTestEnv(t, 10)
	created := env.createKey(t, map[string]interface{}{"display_name": "motor rig"})

	assertStatus(t, env.do(t, "GET", "/api/v1/keys/"+created.ID+"/metadata", nil), 404)

	rr := env.do(t, "PUT", "/api/v1/keys/"+created.ID+"/metadata", toJSON(t, map[string]interface{}{
		"kind":       "motor",
		"attributes": map[string]string{"model": "NEMA17"},
	}))
	assertStatus(t, rr, 200)

	rr = env.do(t, "PUT", "/api/v1/keys/"+created.ID+"/metadata", toJSON(t, map[string]interface{}{
		"kind":       "motor",
		"attributes": map[string]string{"model": "NEMA23"},
	}))
	assertStatus(t, rr, 200)

	rr = env.do(t, "GET", "/api/v1/keys/"+created.ID+"/metadata", nil)
	assertStatus(t, rr, 200)
	var meta model.Metadata
	decodeJSON(t, rr, &meta)
	if meta.Attribute("model") != "NEMA23" || meta.APIKeyID != created.ID {
		t.Errorf("expected replaced metadata, got %+v", meta)
	}

	rr = env.do(t, "GET", "/api/v1/keys/"+created.ID, nil)
	var v keyView
	decodeJSON(t, rr, &v)
	if v.Metadata == nil || v.Metadata.Attribute("model") != "NEMA23" {
		t.Errorf("key details missing metadata: %+v", v.Metadata)
	}
}

func TestPutMetadata_Errors(t *testing.T) {
	env := newTestEnv(t, 10)
	created := env.createKey(t, map[string]interface{}{"display_name": "x"})

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown key", "/api/v1/keys/01900000-0000-7000-8000-000000000000/metadata", `{"kind":"hardware"}`, 404},
		{"bad id", "/api/v1/keys/nope/metadata", `{"kind":"hardware"}`, 400},
		{"missing kind", "/api/v1/keys/" + created.ID + "/metadata", `{"attributes":{}}`, 400},
		{"attributes not an object", "/api/v1/keys/" + created.ID + "/metadata", `{"kind":"hardware","attributes":[1]}`, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertStatus(t, env.do(t, "PUT", tt.path, strings.NewReader(tt.body)), tt.want)
		})
	}
}
