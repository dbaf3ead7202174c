package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config path.
const EnvConfigPath = "PROXIMO_CONFIG"

// DefaultPath returns ~/.proximo/config.yaml, or "" when home is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".proximo", "config.yaml")
}

// ResolvePath picks the config file: the explicit path, then $PROXIMO_CONFIG,
// then the default path if it exists. "" means built-in defaults.
func ResolvePath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	if p := DefaultPath(); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load reads the file at path over the defaults, then validates the result.
// An empty path returns the defaults. ${VAR} references are expanded.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		raw, err := parseRaw([]byte(os.ExpandEnv(string(data))), path)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if err := decodeRaw(raw, cfg); err != nil {
			return nil, err
		}
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseRaw decodes .json/.json5 files with json5 and anything else as YAML.
func parseRaw(data []byte, pathHint string) (map[string]any, error) {
	var raw map[string]any
	switch strings.ToLower(filepath.Ext(pathHint)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("expected single document")
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// decodeRaw round-trips raw through YAML so both formats share the strict
// field checks and duration parsing of the yaml tags.
func decodeRaw(raw map[string]any, cfg *Config) error {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}
