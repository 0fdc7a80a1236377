package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/faucetdb/keyhub/internal/config"
	"github.com/faucetdb/keyhub/internal/model"
	"github.com/faucetdb/keyhub/internal/secret"
	"github.com/faucetdb/keyhub/internal/service"
	"github.com/faucetdb/keyhub/internal/store"
	"github.com/faucetdb/keyhub/internal/store/memory"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// KEYHUB_DATA_DIR env var, or ~/.keyhub as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("KEYHUB_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".keyhub")
}

// loadConfig decodes and validates the settings prepared by initConfig.
func loadConfig() (*config.YAMLConfig, error) {
	return config.Load(v)
}

// newLogger builds the process logger from the logging section. When a log
// file is configured, output goes to a lumberjack-rotated file and the
// returned closer must be closed on exit.
func newLogger(cfg config.LoggingConfig, dev bool) (*slog.Logger, io.Closer) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out, closer = lj, lj
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(out, opts)), closer
	}
	return slog.New(slog.NewTextHandler(out, opts)), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// recordStore is a backend serving both keys and sign-in users.
type recordStore interface {
	store.KeyStore
	store.UserStore
}

// openStore opens the configured SQL backend, or an in-memory store when
// ephemeral is set.
func openStore(cfg *config.YAMLConfig, gen *secret.Generator, ephemeral bool) (recordStore, error) {
	if ephemeral {
		return memory.New(gen), nil
	}
	st, err := store.Open(store.Config{
		Driver:          cfg.Store.Driver,
		DSN:             cfg.StoreDSN(resolveDataDir()),
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime(),
	}, gen)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// newGenerator builds the secret generator from the keys section.
func newGenerator(cfg *config.YAMLConfig) (*secret.Generator, error) {
	gen, err := secret.NewGenerator(cfg.Keys.Prefix, cfg.Keys.Alphabet)
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	return gen, nil
}

// principalFor loads the user a CLI or MCP session acts as.
func principalFor(ctx context.Context, users store.UserStore, userID, sessionID string) (*model.Principal, error) {
	if userID == "" {
		return nil, fmt.Errorf("no user selected: pass --user or set mcp.user_id (create one with 'keyhub session issue')")
	}
	u, err := users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	return &model.Principal{
		UserID:    u.ID,
		Email:     u.Email,
		Name:      u.Name,
		SessionID: sessionID,
	}, nil
}

// keyServiceFor wires a KeyService over ks with the configured defaults.
func keyServiceFor(cfg *config.YAMLConfig, ks store.KeyStore, logger *slog.Logger, opts ...service.KeyServiceOption) *service.KeyService {
	opts = append([]service.KeyServiceOption{
		service.WithLogger(logger),
		service.WithDefaultLimit(cfg.Keys.DefaultLimit),
	}, opts...)
	return service.NewKeyService(ks, opts...)
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
