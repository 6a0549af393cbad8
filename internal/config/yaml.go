package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/keygate/keygate/internal/keycodec"
	"github.com/keygate/keygate/internal/ratelimit"
)

// YAMLConfig represents the top-level keygate configuration file.
type YAMLConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreYAML       `yaml:"store"`
	Keys      KeysConfig      `yaml:"keys"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LoggingConfig   `yaml:"log"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	MaxBodySize     string     `yaml:"max_body_size"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	IPRateLimit     int        `yaml:"ip_rate_limit"` // requests per minute per client IP, 0 disables
	CORS            CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// StoreYAML selects the database holding keys and metadata.
type StoreYAML struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	DataDir      string `yaml:"data_dir"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	Timeout      string `yaml:"timeout"`
}

// KeysConfig controls the shape of issued credentials and how they are
// presented.
type KeysConfig struct {
	Prefix      string `yaml:"prefix"`
	SecretBytes int    `yaml:"secret_bytes"`
	Header      string `yaml:"header"`
}

// RateLimitConfig controls per-key admission.
type RateLimitConfig struct {
	Backend       string      `yaml:"backend"`
	Window        string      `yaml:"window"`
	MaxRequests   int         `yaml:"max_requests"`
	FailurePolicy string      `yaml:"failure_policy"`
	Timeout       string      `yaml:"timeout"`
	Redis         RedisConfig `yaml:"redis"`
}

// RedisConfig locates the shared limiter backend.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// AuthConfig controls management-API authentication.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	JWTExpiry string `yaml:"jwt_expiry"`
	Issuer    string `yaml:"issuer"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
// Fields missing from the file keep their defaults.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MaxBodySize:     "1MB",
			ShutdownTimeout: "30s",
			IPRateLimit:     600,
			CORS: CORSConfig{
				Origins: []string{"*"},
			},
		},
		Store: StoreYAML{
			Driver:       DriverSQLite,
			MaxOpenConns: 10,
			Timeout:      "5s",
		},
		Keys: KeysConfig{
			Prefix:      keycodec.DefaultPrefix,
			SecretBytes: keycodec.DefaultSecretBytes,
			Header:      "X-API-Key",
		},
		RateLimit: RateLimitConfig{
			Backend:       ratelimit.BackendMemory,
			Window:        "1m",
			MaxRequests:   60,
			FailurePolicy: ratelimit.FailClosed,
			Timeout:       "250ms",
			Redis: RedisConfig{
				Address: "localhost:6379",
				Prefix:  "keygate:rl:",
			},
		},
		Auth: AuthConfig{
			JWTExpiry: "1h",
			Issuer:    "keygate",
		},
		Log: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ---------------------------------------------------------------------------
// Viper integration
// ---------------------------------------------------------------------------

// SetDefaults registers every default from DefaultYAMLConfig with v so that
// environment overrides resolve even when no config file is present.
func SetDefaults(v *viper.Viper) {
	d := DefaultYAMLConfig()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.ip_rate_limit", d.Server.IPRateLimit)
	v.SetDefault("server.cors.origins", d.Server.CORS.Origins)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.data_dir", d.Store.DataDir)
	v.SetDefault("store.max_open_conns", d.Store.MaxOpenConns)
	v.SetDefault("store.timeout", d.Store.Timeout)

	v.SetDefault("keys.prefix", d.Keys.Prefix)
	v.SetDefault("keys.secret_bytes", d.Keys.SecretBytes)
	v.SetDefault("keys.header", d.Keys.Header)

	v.SetDefault("rate_limit.backend", d.RateLimit.Backend)
	v.SetDefault("rate_limit.window", d.RateLimit.Window)
	v.SetDefault("rate_limit.max_requests", d.RateLimit.MaxRequests)
	v.SetDefault("rate_limit.failure_policy", d.RateLimit.FailurePolicy)
	v.SetDefault("rate_limit.timeout", d.RateLimit.Timeout)
	v.SetDefault("rate_limit.redis.address", d.RateLimit.Redis.Address)
	v.SetDefault("rate_limit.redis.password", d.RateLimit.Redis.Password)
	v.SetDefault("rate_limit.redis.db", d.RateLimit.Redis.DB)
	v.SetDefault("rate_limit.redis.prefix", d.RateLimit.Redis.Prefix)

	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.jwt_expiry", d.Auth.JWTExpiry)
	v.SetDefault("auth.issuer", d.Auth.Issuer)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// FromViper resolves the effective configuration from v (file, environment
// and flags already layered by viper).
func FromViper(v *viper.Viper) *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			MaxBodySize:     v.GetString("server.max_body_size"),
			ShutdownTimeout: v.GetString("server.shutdown_timeout"),
			IPRateLimit:     v.GetInt("server.ip_rate_limit"),
			CORS: CORSConfig{
				Origins: v.GetStringSlice("server.cors.origins"),
			},
		},
		Store: StoreYAML{
			Driver:       v.GetString("store.driver"),
			DSN:          v.GetString("store.dsn"),
			DataDir:      v.GetString("store.data_dir"),
			MaxOpenConns: v.GetInt("store.max_open_conns"),
			Timeout:      v.GetString("store.timeout"),
		},
		Keys: KeysConfig{
			Prefix:      v.GetString("keys.prefix"),
			SecretBytes: v.GetInt("keys.secret_bytes"),
			Header:      v.GetString("keys.header"),
		},
		RateLimit: RateLimitConfig{
			Backend:       v.GetString("rate_limit.backend"),
			Window:        v.GetString("rate_limit.window"),
			MaxRequests:   v.GetInt("rate_limit.max_requests"),
			FailurePolicy: v.GetString("rate_limit.failure_policy"),
			Timeout:       v.GetString("rate_limit.timeout"),
			Redis: RedisConfig{
				Address:  v.GetString("rate_limit.redis.address"),
				Password: v.GetString("rate_limit.redis.password"),
				DB:       v.GetInt("rate_limit.redis.db"),
				Prefix:   v.GetString("rate_limit.redis.prefix"),
			},
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
			JWTExpiry: v.GetString("auth.jwt_expiry"),
			Issuer:    v.GetString("auth.issuer"),
		},
		Log: LoggingConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
}

// ---------------------------------------------------------------------------
// Typed views
// ---------------------------------------------------------------------------

// StoreConfig converts the store section into the store constructor config.
func (c *YAMLConfig) StoreConfig() (StoreConfig, error) {
	timeout, err := parseDuration("store.timeout", c.Store.Timeout)
	if err != nil {
		return StoreConfig{}, err
	}
	return StoreConfig{
		Driver:       strings.ToLower(c.Store.Driver),
		DSN:          c.Store.DSN,
		DataDir:      c.Store.DataDir,
		MaxOpenConns: c.Store.MaxOpenConns,
		Timeout:      timeout,
	}, nil
}

// CodecConfig converts the keys section into the key codec config.
func (c *YAMLConfig) CodecConfig() keycodec.Config {
	return keycodec.Config{
		Prefix:      c.Keys.Prefix,
		SecretBytes: c.Keys.SecretBytes,
	}
}

// LimiterConfig converts the rate_limit section into the limiter config.
func (c *YAMLConfig) LimiterConfig() (ratelimit.Config, error) {
	window, err := parseDuration("rate_limit.window", c.RateLimit.Window)
	if err != nil {
		return ratelimit.Config{}, err
	}
	timeout, err := parseDuration("rate_limit.timeout", c.RateLimit.Timeout)
	if err != nil {
		return ratelimit.Config{}, err
	}
	cfg := ratelimit.Config{
		Backend:       strings.ToLower(c.RateLimit.Backend),
		Window:        window,
		MaxRequests:   c.RateLimit.MaxRequests,
		FailurePolicy: strings.ToLower(c.RateLimit.FailurePolicy),
		Timeout:       timeout,
		Redis: ratelimit.RedisOptions{
			Address:   c.RateLimit.Redis.Address,
			Password:  c.RateLimit.Redis.Password,
			DB:        c.RateLimit.Redis.DB,
			KeyPrefix: c.RateLimit.Redis.Prefix,
		},
	}
	return cfg, cfg.Validate()
}

// ShutdownTimeout parses server.shutdown_timeout.
func (c *YAMLConfig) ShutdownTimeout() (time.Duration, error) {
	return parseDuration("server.shutdown_timeout", c.Server.ShutdownTimeout)
}

// JWTExpiry parses auth.jwt_expiry.
func (c *YAMLConfig) JWTExpiry() (time.Duration, error) {
	return parseDuration("auth.jwt_expiry", c.Auth.JWTExpiry)
}

// MaxBodyBytes parses server.max_body_size ("512KB", "1MB", "1048576").
func (c *YAMLConfig) MaxBodyBytes() (int64, error) {
	return ParseByteSize(c.Server.MaxBodySize)
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", field)
	}
	return d, nil
}

// ParseByteSize parses a size with an optional KB, MB or GB suffix.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, nil
	}
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}} {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			mult = u.mult
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}
