// Package config loads the client's tunables, layering defaults, an
// optional YAML file, and environment-variable overrides — the same
// env-var-wins layering internal/config/config.go uses for .env, extended
// with a YAML file layer in between.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config mirrors spec §6's configuration surface.
type Config struct {
	QueryTimeoutMS         int64    `yaml:"query_timeout_ms"`
	AutoReconnect          bool     `yaml:"auto_reconnect"`
	ReconnectIntervalMS    int64    `yaml:"reconnect_interval_ms"`
	MaxReconnectIntervalMS int64    `yaml:"max_reconnect_interval_ms"`
	PingIntervalMS         int64    `yaml:"ping_interval_ms"`
	Relays                 []string `yaml:"relays"`
}

// defaults returns the documented §6 defaults.
func defaults() Config {
	return Config{
		QueryTimeoutMS:         5000,
		AutoReconnect:          true,
		ReconnectIntervalMS:    1000,
		MaxReconnectIntervalMS: 30000,
		PingIntervalMS:         30000,
		Relays:                 []string{"wss://relay.damus.io", "wss://nos.lol"},
	}
}

// Load builds a Config by starting from defaults, applying path (a YAML
// file) if it exists, then applying environment-variable overrides. path
// may be empty, in which case the YAML layer is skipped.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if err := applyYAMLFile(&cfg, path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	return &cfg, nil
}

func applyYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("NOSTR_QUERY_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.QueryTimeoutMS = n
		}
	}
	if v := os.Getenv("NOSTR_AUTO_RECONNECT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AutoReconnect = b
		}
	}
	if v := os.Getenv("NOSTR_RECONNECT_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ReconnectIntervalMS = n
		}
	}
	if v := os.Getenv("NOSTR_MAX_RECONNECT_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxReconnectIntervalMS = n
		}
	}
	if v := os.Getenv("NOSTR_PING_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.PingIntervalMS = n
		}
	}
	if v := os.Getenv("NOSTR_RELAYS"); v != "" {
		cfg.Relays = parseRelays(v)
	}
}

func parseRelays(relaysStr string) []string {
	var relays []string
	for _, r := range strings.Split(relaysStr, ",") {
		r = strings.TrimSpace(r)
		if r != "" {
			relays = append(relays, r)
		}
	}
	return relays
}
