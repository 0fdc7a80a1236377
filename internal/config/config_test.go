package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := DefaultYAMLConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Keys.Prefix != "keyhub" || cfg.Keys.DefaultLimit != 1000 {
		t.Errorf("unexpected key defaults: %+v", cfg.Keys)
	}
	if cfg.SessionTTL() != 24*time.Hour {
		t.Errorf("SessionTTL = %s, want 24h", cfg.SessionTTL())
	}
}

func TestLoadYAMLConfigExpandsEnv(t *testing.T) {
	t.Setenv("TEST_KEYHUB_DSN", "postgres://u:p@db/keyhub")
	path := writeFile(t, t.TempDir(), "keyhub.yaml", `
store:
  driver: postgres
  dsn: ${TEST_KEYHUB_DSN}
keys:
  prefix: acme
`)

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Store.DSN != "postgres://u:p@db/keyhub" {
		t.Errorf("dsn = %q", cfg.Store.DSN)
	}
	if cfg.Keys.Prefix != "acme" {
		t.Errorf("prefix = %q", cfg.Keys.Prefix)
	}
	// Unset fields keep their defaults.
	if cfg.Server.Port != 8080 || cfg.Keys.DefaultLimit != 1000 {
		t.Errorf("defaults lost: port=%d limit=%d", cfg.Server.Port, cfg.Keys.DefaultLimit)
	}
}

func TestPrepareAndLoadPrecedence(t *testing.T) {
	path := writeFile(t, t.TempDir(), "keyhub.yaml", `
server:
  port: 9000
logging:
  level: debug
`)
	t.Setenv("KEYHUB_SERVER_PORT", "9100")
	t.Setenv("KEYHUB_AUTH_JWT_SECRET", "from-env-secret-value")

	v := viper.New()
	if err := Prepare(v, path); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want env override 9100", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want file value debug", cfg.Logging.Level)
	}
	if cfg.Auth.JWTSecret != "from-env-secret-value" {
		t.Errorf("jwt secret = %q, want env value", cfg.Auth.JWTSecret)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("driver = %q, want default sqlite", cfg.Store.Driver)
	}

	v.Set("server.port", 9200)
	cfg, _ = Load(v)
	if cfg.Server.Port != 9200 {
		t.Errorf("port = %d, want explicit override 9200", cfg.Server.Port)
	}
}

func TestPrepareWithoutFile(t *testing.T) {
	v := viper.New()
	if err := Prepare(v, ""); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Server.CORS.Origins) != 1 || cfg.Server.CORS.Origins[0] != "*" {
		t.Errorf("cors origins = %v", cfg.Server.CORS.Origins)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*YAMLConfig)
		want   string
	}{
		{"bad duration", func(c *YAMLConfig) { c.Auth.SessionTTL = "forever" }, "auth.session_ttl"},
		{"bad visibility", func(c *YAMLConfig) { c.Sessions.Visibility = "disk" }, "sessions.visibility"},
		{"redis without url", func(c *YAMLConfig) { c.Sessions.Visibility = "redis" }, "sessions.redis_url"},
		{"bad transport", func(c *YAMLConfig) { c.MCP.Transport = "carrier-pigeon" }, "mcp.transport"},
		{"bad limit", func(c *YAMLConfig) { c.Keys.DefaultLimit = 0 }, "keys.default_limit"},
		{"bad format", func(c *YAMLConfig) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad port", func(c *YAMLConfig) { c.Server.Port = 70000 }, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultYAMLConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %s", err, tt.want)
			}
		})
	}
}

func TestStoreDSN(t *testing.T) {
	cfg := DefaultYAMLConfig()
	if got := cfg.StoreDSN("/data"); got != filepath.Join("/data", "keyhub.db") {
		t.Errorf("StoreDSN = %q", got)
	}
	if got := cfg.StoreDSN(""); got != "" {
		t.Errorf("StoreDSN(no data dir) = %q, want in-memory", got)
	}
	cfg.Store.Driver = "postgres"
	cfg.Store.DSN = "postgres://db"
	if got := cfg.StoreDSN("/data"); got != "postgres://db" {
		t.Errorf("StoreDSN = %q", got)
	}
}

func TestWriteDefaultConfigRoundTrip(t *testing.T) {
	t.Setenv("KEYHUB_AUTH_JWT_SECRET", "roundtrip-secret-0123")
	path := filepath.Join(t.TempDir(), "sub", "keyhub.yaml")
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}
	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Auth.JWTSecret != "roundtrip-secret-0123" {
		t.Errorf("jwt secret = %q, want expanded env value", cfg.Auth.JWTSecret)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	if got := Discover("explicit.yaml", dir); got != "explicit.yaml" {
		t.Errorf("Discover(explicit) = %q", got)
	}
	if got := Discover("", dir); got != "" && got != FileName {
		t.Errorf("Discover with no files = %q", got)
	}
	path := writeFile(t, dir, FileName, "server: {}\n")
	if _, err := os.Stat(FileName); err != nil {
		if got := Discover("", dir); got != path {
			t.Errorf("Discover = %q, want %q", got, path)
		}
	}
}
