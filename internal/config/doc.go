// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

/*
Package config provides centralized configuration management for Guildsync.

Configuration is layered with Koanf v2, each layer overriding the previous:

 1. Built-in defaults (defaultConfig)
 2. An optional YAML file: $CONFIG_PATH, config.yaml, config.yml,
    /etc/guildsync/config.yaml or /etc/guildsync/config.yml
 3. Environment variables listed in envMappings

# Sections

  - server: REST API base URL; socket URLs are derived from it
  - auth: static token and guild id, or a token endpoint plus refresh token
  - collab: documents opened at startup, display name, presence color seed,
    sync stall timeout (10s), teardown debounce (1s), cursor rate limit
  - reconnect: transient delay (2s), auth backoff base (2s) and cap (30s),
    consecutive auth rejections before forced logout (3)
  - updates: whether the generic update channel runs
  - cache: query cache TTL
  - http: local control API listener
  - logging: zerolog level, format and caller info
  - relay: listen address and accepted tokens of the development relay

# Environment Variables

  - GUILDSYNC_SERVER_URL: REST API base (required)
  - GUILDSYNC_TOKEN, GUILDSYNC_GUILD_ID: static credential
  - GUILDSYNC_TOKEN_URL, GUILDSYNC_REFRESH_TOKEN: refreshing credential
  - GUILDSYNC_DOCUMENTS: comma-separated document ids
  - GUILDSYNC_DISPLAY_NAME, GUILDSYNC_COLOR_SEED, GUILDSYNC_CURSOR_RATE
  - GUILDSYNC_SYNC_TIMEOUT, GUILDSYNC_TEARDOWN_DELAY
  - GUILDSYNC_RECONNECT_DELAY, GUILDSYNC_AUTH_BASE_DELAY,
    GUILDSYNC_AUTH_MAX_DELAY, GUILDSYNC_MAX_AUTH_FAILURES
  - GUILDSYNC_UPDATES_ENABLED, GUILDSYNC_CACHE_TTL
  - GUILDSYNC_HTTP_ENABLED, GUILDSYNC_HTTP_ADDR, GUILDSYNC_HTTP_SHUTDOWN_TIMEOUT
  - GUILDSYNC_HTTP_CORS_ORIGINS: comma-separated origins
  - GUILDSYNC_HTTP_RATE_LIMIT: mutating requests per minute (0 disables)
  - GUILDSYNC_RELAY_ADDR, GUILDSYNC_RELAY_TOKENS, GUILDSYNC_RELAY_JWT_SECRET
  - GUILDSYNC_RELAY_REFRESH_TOKENS, GUILDSYNC_RELAY_TOKEN_TTL,
    GUILDSYNC_RELAY_STALL_DOCUMENTS
  - LOG_LEVEL, LOG_FORMAT, LOG_CALLER

Durations accept Go syntax (e.g. "10s", "1m30s").

# Validation

Validate applies go-playground/validator struct tags and then semantic
checks: a credential source must be configured, base URLs must not carry
query strings or userinfo, and the auth backoff cap must not be below its
base.

# Usage

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
*/
package config
