package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/keygate/keygate/internal/ratelimit"
)

func TestWriteAndLoadDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keygate.yaml")
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Keys.Header != "X-API-Key" {
		t.Errorf("got header %q, want X-API-Key", cfg.Keys.Header)
	}
	if cfg.RateLimit.FailurePolicy != ratelimit.FailClosed {
		t.Errorf("got failure policy %q, want %q", cfg.RateLimit.FailurePolicy, ratelimit.FailClosed)
	}
}

func TestLoadYAMLConfig_ExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("KEYGATE_TEST_SECRET", "s3cret")
	path := filepath.Join(t.TempDir(), "keygate.yaml")
	content := `
auth:
  jwt_secret: ${KEYGATE_TEST_SECRET}
rate_limit:
  max_requests: 5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("got jwt secret %q, want s3cret", cfg.Auth.JWTSecret)
	}
	if cfg.RateLimit.MaxRequests != 5 {
		t.Errorf("got max requests %d, want 5", cfg.RateLimit.MaxRequests)
	}
	if cfg.RateLimit.Window != "1m" {
		t.Errorf("window default lost: got %q", cfg.RateLimit.Window)
	}
}

func TestLoadYAMLConfig_Missing(t *testing.T) {
	if _, err := LoadYAMLConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFromViper_DefaultsAndOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("rate_limit.window", "30s")
	v.Set("keys.prefix", "sk_test_")

	cfg := FromViper(v)
	if cfg.Server.Port != 8080 {
		t.Errorf("got port %d, want 8080", cfg.Server.Port)
	}
	if cfg.CodecConfig().Prefix != "sk_test_" {
		t.Errorf("got prefix %q, want sk_test_", cfg.CodecConfig().Prefix)
	}

	lc, err := cfg.LimiterConfig()
	if err != nil {
		t.Fatalf("LimiterConfig: %v", err)
	}
	if lc.Window != 30*time.Second {
		t.Errorf("got window %v, want 30s", lc.Window)
	}
	if lc.Backend != ratelimit.BackendMemory {
		t.Errorf("got backend %q, want memory", lc.Backend)
	}

	sc, err := cfg.StoreConfig()
	if err != nil {
		t.Fatalf("StoreConfig: %v", err)
	}
	if sc.Driver != DriverSQLite || sc.Timeout != 5*time.Second {
		t.Errorf("unexpected store config %+v", sc)
	}
}

func TestLimiterConfig_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*YAMLConfig)
	}{
		{"bad window", func(c *YAMLConfig) { c.RateLimit.Window = "soon" }},
		{"zero max", func(c *YAMLConfig) { c.RateLimit.MaxRequests = 0 }},
		{"bad policy", func(c *YAMLConfig) { c.RateLimit.FailurePolicy = "sometimes" }},
		{"bad backend", func(c *YAMLConfig) { c.RateLimit.Backend = "memcached" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultYAMLConfig()
			tt.mutate(cfg)
			if _, err := cfg.LimiterConfig(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"1024", 1024, false},
		{"512KB", 512 << 10, false},
		{"1MB", 1 << 20, false},
		{"2 gb", 2 << 30, false},
		{"ten", 0, true},
		{"-1", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseByteSize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}
