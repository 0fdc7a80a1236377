package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level keyhub configuration file.
type YAMLConfig struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Keys     KeysConfig     `yaml:"keys" mapstructure:"keys"`
	Sessions SessionsConfig `yaml:"sessions" mapstructure:"sessions"`
	MCP      MCPConfig      `yaml:"mcp" mapstructure:"mcp"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string          `yaml:"host" mapstructure:"host"`
	Port            int             `yaml:"port" mapstructure:"port"`
	ShutdownTimeout string          `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64           `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	CORS            CORSConfig      `yaml:"cors" mapstructure:"cors"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	UI              bool            `yaml:"ui" mapstructure:"ui"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins" mapstructure:"origins"`
}

// RateLimitConfig bounds API requests per client IP. Zero requests disables
// the limiter.
type RateLimitConfig struct {
	Requests int    `yaml:"requests" mapstructure:"requests"`
	Window   string `yaml:"window" mapstructure:"window"`
}

// AuthConfig controls sessions and sign-in providers.
type AuthConfig struct {
	JWTSecret     string         `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	SessionTTL    string         `yaml:"session_ttl" mapstructure:"session_ttl"`
	CookieName    string         `yaml:"cookie_name" mapstructure:"cookie_name"`
	SecureCookies bool           `yaml:"secure_cookies" mapstructure:"secure_cookies"`
	BaseURL       string         `yaml:"base_url" mapstructure:"base_url"`
	Google        ProviderConfig `yaml:"google" mapstructure:"google"`
	GitHub        ProviderConfig `yaml:"github" mapstructure:"github"`
}

// ProviderConfig holds OAuth client credentials. A provider with an empty
// client id is disabled.
type ProviderConfig struct {
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
}

// Enabled reports whether the provider has credentials.
func (p ProviderConfig) Enabled() bool { return p.ClientID != "" }

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Driver          string `yaml:"driver" mapstructure:"driver"`
	DSN             string `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// KeysConfig controls secret generation and new-key defaults.
type KeysConfig struct {
	Prefix       string `yaml:"prefix" mapstructure:"prefix"`
	Alphabet     string `yaml:"alphabet" mapstructure:"alphabet"`
	DefaultLimit int    `yaml:"default_limit" mapstructure:"default_limit"`
}

// SessionsConfig selects where per-session reveal state lives.
type SessionsConfig struct {
	Visibility string `yaml:"visibility" mapstructure:"visibility"`
	RedisURL   string `yaml:"redis_url" mapstructure:"redis_url"`
}

// MCPConfig controls the MCP (Model Context Protocol) server.
type MCPConfig struct {
	Transport string `yaml:"transport" mapstructure:"transport"`
	UserID    string `yaml:"user_id" mapstructure:"user_id"`
}

// LoggingConfig controls log output. File enables rotation to disk.
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// LoadYAMLConfig reads and parses a YAML configuration file on top of the
// defaults. Environment variables referenced as ${VAR_NAME} in the file are
// expanded before parsing.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
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
			ShutdownTimeout: "30s",
			MaxBodyBytes:    1 << 20,
			CORS: CORSConfig{
				Origins: []string{"*"},
			},
			RateLimit: RateLimitConfig{
				Requests: 120,
				Window:   "1m",
			},
			UI: true,
		},
		Auth: AuthConfig{
			SessionTTL: "24h",
			CookieName: "keyhub_session",
			BaseURL:    "http://localhost:8080",
		},
		Store: StoreConfig{
			Driver:          "sqlite",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: "30m",
		},
		Keys: KeysConfig{
			Prefix:       "keyhub",
			Alphabet:     "0123456789abcdefghijklmnopqrstuvwxyz",
			DefaultLimit: 1000,
		},
		Sessions: SessionsConfig{
			Visibility: "memory",
		},
		MCP: MCPConfig{
			Transport: "stdio",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file. The
// JWT secret is left as an environment reference.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	cfg.Auth.JWTSecret = "${KEYHUB_AUTH_JWT_SECRET}"
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0600)
}

// ---------------------------------------------------------------------------
// derived values
// ---------------------------------------------------------------------------

// Validate checks enumerations and duration strings.
func (c *YAMLConfig) Validate() error {
	durations := map[string]string{
		"server.shutdown_timeout":  c.Server.ShutdownTimeout,
		"server.rate_limit.window": c.Server.RateLimit.Window,
		"auth.session_ttl":         c.Auth.SessionTTL,
		"store.conn_max_lifetime":  c.Store.ConnMaxLifetime,
	}
	for field, v := range durations {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	if c.Keys.DefaultLimit <= 0 {
		return fmt.Errorf("keys.default_limit: must be positive, got %d", c.Keys.DefaultLimit)
	}
	switch c.Sessions.Visibility {
	case "memory":
	case "redis":
		if c.Sessions.RedisURL == "" {
			return fmt.Errorf("sessions.redis_url: required when visibility is redis")
		}
	default:
		return fmt.Errorf("sessions.visibility: unknown backend %q (want memory or redis)", c.Sessions.Visibility)
	}
	switch c.MCP.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("mcp.transport: unknown transport %q (want stdio or http)", c.MCP.Transport)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q (want text or json)", c.Logging.Format)
	}
	return nil
}

// ShutdownTimeout returns the parsed server shutdown timeout.
func (c *YAMLConfig) ShutdownTimeout() time.Duration {
	return durationOr(c.Server.ShutdownTimeout, 30*time.Second)
}

// SessionTTL returns the parsed session lifetime.
func (c *YAMLConfig) SessionTTL() time.Duration {
	return durationOr(c.Auth.SessionTTL, 24*time.Hour)
}

// RateLimitWindow returns the parsed rate limit window.
func (c *YAMLConfig) RateLimitWindow() time.Duration {
	return durationOr(c.Server.RateLimit.Window, time.Minute)
}

// ConnMaxLifetime returns the parsed connection lifetime, zero for none.
func (c *YAMLConfig) ConnMaxLifetime() time.Duration {
	return durationOr(c.Store.ConnMaxLifetime, 0)
}

// StoreDSN returns the configured DSN, defaulting a SQLite store to a file
// in dataDir. An empty dataDir keeps SQLite in memory.
func (c *YAMLConfig) StoreDSN(dataDir string) string {
	if c.Store.DSN != "" || (c.Store.Driver != "" && c.Store.Driver != "sqlite") {
		return c.Store.DSN
	}
	if dataDir == "" {
		return ""
	}
	return filepath.Join(dataDir, "keyhub.db")
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
