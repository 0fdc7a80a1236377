package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. KEYHUB_STORE_DSN.
const EnvPrefix = "KEYHUB"

// FileName is the config file name searched for when none is given.
const FileName = "keyhub.yaml"

// Discover returns the config file to use: explicit when set, otherwise the
// first existing ./keyhub.yaml or <dataDir>/keyhub.yaml. It returns "" when
// no file exists.
func Discover(explicit, dataDir string) string {
	if explicit != "" {
		return explicit
	}
	candidates := []string{FileName}
	if dataDir != "" {
		candidates = append(candidates, filepath.Join(dataDir, FileName))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// Prepare seeds v with the defaults, reads path (if any) with ${VAR}
// expansion, and enables KEYHUB_* environment overrides. Flags bound to v
// after Prepare take precedence over all of these.
func Prepare(v *viper.Viper, path string) error {
	defaults, err := yaml.Marshal(DefaultYAMLConfig())
	if err != nil {
		return err
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(defaults, &tree); err != nil {
		return err
	}
	for key, val := range flatten("", tree) {
		v.SetDefault(key, val)
	}

	v.SetConfigType("yaml")
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := v.ReadConfig(bytes.NewReader([]byte(os.ExpandEnv(string(data))))); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return nil
}

// Load decodes the resolved settings in v and validates them.
func Load(v *viper.Viper) (*YAMLConfig, error) {
	cfg := DefaultYAMLConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func flatten(prefix string, tree map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := val.(map[string]interface{}); ok {
			for ck, cv := range flatten(key, child) {
				out[ck] = cv
			}
			continue
		}
		out[key] = val
	}
	return out
}
