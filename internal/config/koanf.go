// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/guildsync/config.yaml",
	"/etc/guildsync/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Collab: CollabConfig{
			Documents:     []string{},
			SyncTimeout:   10 * time.Second,
			TeardownDelay: time.Second,
			CursorRate:    0, // Unlimited
		},
		Reconnect: ReconnectConfig{
			Delay:           2 * time.Second,
			AuthBaseDelay:   2 * time.Second,
			AuthMaxDelay:    30 * time.Second,
			MaxAuthFailures: 3,
		},
		Updates: UpdatesConfig{
			Enabled: true,
		},
		Cache: CacheConfig{
			TTL: 5 * time.Minute,
		},
		HTTP: HTTPConfig{
			Enabled:         true,
			Addr:            "127.0.0.1:7381",
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Relay: RelayConfig{
			Addr:     "127.0.0.1:7380",
			Tokens:   []string{},
			TokenTTL: 15 * time.Minute,
		},
	}
}

// Load loads and validates the client configuration.
func Load() (*Config, error) {
	cfg, err := LoadWithKoanf()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
//
// The result is not validated; callers pick Validate or ValidateRelay
// depending on which binary they run.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// GUILDSYNC_SERVER_URL -> server.url
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"collab.documents",
	"http.cors_origins",
	"relay.tokens",
	"relay.refresh_tokens",
	"relay.stall_documents",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// This is necessary because env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Unlisted variables are ignored so that unrelated environment does not leak
// into the configuration.
var envMappings = map[string]string{
	"guildsync_server_url": "server.url",

	"guildsync_token":         "auth.token",
	"guildsync_guild_id":      "auth.guild_id",
	"guildsync_token_url":     "auth.token_url",
	"guildsync_refresh_token": "auth.refresh_token",

	"guildsync_documents":      "collab.documents",
	"guildsync_display_name":   "collab.display_name",
	"guildsync_color_seed":     "collab.color_seed",
	"guildsync_sync_timeout":   "collab.sync_timeout",
	"guildsync_teardown_delay": "collab.teardown_delay",
	"guildsync_cursor_rate":    "collab.cursor_rate",

	"guildsync_reconnect_delay":       "reconnect.delay",
	"guildsync_auth_base_delay":       "reconnect.auth_base_delay",
	"guildsync_auth_max_delay":        "reconnect.auth_max_delay",
	"guildsync_max_auth_failures":     "reconnect.max_auth_failures",
	"guildsync_updates_enabled":       "updates.enabled",
	"guildsync_cache_ttl":             "cache.ttl",
	"guildsync_http_enabled":          "http.enabled",
	"guildsync_http_addr":             "http.addr",
	"guildsync_http_shutdown_timeout": "http.shutdown_timeout",
	"guildsync_http_cors_origins":     "http.cors_origins",
	"guildsync_http_rate_limit":       "http.rate_limit",
	"guildsync_relay_addr":            "relay.addr",
	"guildsync_relay_tokens":          "relay.tokens",
	"guildsync_relay_jwt_secret":      "relay.jwt_secret",
	"guildsync_relay_refresh_tokens":  "relay.refresh_tokens",
	"guildsync_relay_token_ttl":       "relay.token_ttl",
	"guildsync_relay_stall_documents": "relay.stall_documents",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - GUILDSYNC_SERVER_URL -> server.url
//   - GUILDSYNC_DOCUMENTS -> collab.documents
//   - LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
