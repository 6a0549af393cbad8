package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/keycodec"
	"github.com/keygate/keygate/internal/service"
)

// loadConfig returns the effective configuration after file, environment and
// flag layering.
func loadConfig() *config.YAMLConfig {
	return config.FromViper(viper.GetViper())
}

// resolveDataDir returns the data directory from --data-dir, the config file,
// KEYGATE_STORE_DATA_DIR, or ~/.keygate as fallback.
func resolveDataDir(cfg *config.YAMLConfig) string {
	if cfg.Store.DataDir != "" {
		return cfg.Store.DataDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".keygate")
}

// openStore opens the configured key store. SQLite stores default to
// ~/.keygate when no data dir was specified.
func openStore(cfg *config.YAMLConfig) (*config.Store, error) {
	storeCfg, err := cfg.StoreConfig()
	if err != nil {
		return nil, err
	}
	if storeCfg.Driver == "" || storeCfg.Driver == config.DriverSQLite {
		storeCfg.DataDir = resolveDataDir(cfg)
	}
	store, err := config.OpenStore(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	return store, nil
}

// newKeyService builds the key service on top of store for CLI use.
func newKeyService(cfg *config.YAMLConfig, store *config.Store, logger *slog.Logger) (*service.KeyService, error) {
	codec, err := keycodec.New(cfg.CodecConfig())
	if err != nil {
		return nil, fmt.Errorf("key codec: %w", err)
	}
	return service.NewKeyService(store, codec, nil, logger), nil
}

// newLogger builds the process logger from the log section. dev forces
// debug level.
func newLogger(cfg *config.YAMLConfig, w io.Writer, dev bool) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if dev {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Log.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// quietLogger discards everything below warnings; CLI commands print their
// own output.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
