// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package config

import "time"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Auth      AuthConfig      `koanf:"auth"`
	Collab    CollabConfig    `koanf:"collab"`
	Reconnect ReconnectConfig `koanf:"reconnect"`
	Updates   UpdatesConfig   `koanf:"updates"`
	Cache     CacheConfig     `koanf:"cache"`
	HTTP      HTTPConfig      `koanf:"http"`
	Logging   LoggingConfig   `koanf:"logging"`
	Relay     RelayConfig     `koanf:"relay"`
}

// ServerConfig locates the collaboration backend.
type ServerConfig struct {
	// URL is the REST API base, e.g. https://app.example.com/api/v1.
	// Socket URLs are derived from it.
	URL string `koanf:"url" validate:"required,url"`
}

// AuthConfig holds the session credential. Either Token, or TokenURL with
// RefreshToken, must be set.
type AuthConfig struct {
	Token        string `koanf:"token"`
	GuildID      string `koanf:"guild_id"`
	TokenURL     string `koanf:"token_url" validate:"omitempty,url"`
	RefreshToken string `koanf:"refresh_token"`
}

// CollabConfig configures collaboration providers.
type CollabConfig struct {
	// Documents are opened at startup.
	Documents   []string `koanf:"documents" validate:"dive,required"`
	DisplayName string   `koanf:"display_name" validate:"max=100"`

	// ColorSeed fixes the presence color; 0 picks one at random.
	ColorSeed     int64         `koanf:"color_seed"`
	SyncTimeout   time.Duration `koanf:"sync_timeout" validate:"gt=0"`
	TeardownDelay time.Duration `koanf:"teardown_delay" validate:"gte=0"`

	// CursorRate limits cursor broadcasts per second; 0 means unlimited.
	CursorRate float64 `koanf:"cursor_rate" validate:"gte=0"`
}

// ReconnectConfig tunes the reconnect policy shared by every socket.
type ReconnectConfig struct {
	Delay           time.Duration `koanf:"delay" validate:"gt=0"`
	AuthBaseDelay   time.Duration `koanf:"auth_base_delay" validate:"gt=0"`
	AuthMaxDelay    time.Duration `koanf:"auth_max_delay" validate:"gt=0"`
	MaxAuthFailures int           `koanf:"max_auth_failures" validate:"min=1"`
}

// UpdatesConfig configures the generic update channel.
type UpdatesConfig struct {
	Enabled bool `koanf:"enabled"`
}

// CacheConfig configures the query cache.
type CacheConfig struct {
	TTL time.Duration `koanf:"ttl" validate:"gt=0"`
}

// HTTPConfig configures the local control API.
type HTTPConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Addr            string        `koanf:"addr" validate:"omitempty,hostname_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `koanf:"cors_origins" validate:"dive,required"`

	// RateLimit bounds mutating requests per minute per client IP. Zero
	// disables the limit.
	RateLimit int `koanf:"rate_limit" validate:"gte=0"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// RelayConfig configures the development relay server.
type RelayConfig struct {
	Addr string `koanf:"addr" validate:"omitempty,hostname_port"`

	// Tokens lists the accepted AUTH tokens; empty accepts any non-empty token.
	Tokens []string `koanf:"tokens"`

	// JWTSecret, when set, also accepts HS256 tokens signed with it and lets
	// the relay issue tokens from its refresh endpoint.
	JWTSecret string `koanf:"jwt_secret"`

	// RefreshTokens are exchanged for access tokens at /api/v1/auth/token.
	RefreshTokens []string      `koanf:"refresh_tokens"`
	TokenTTL      time.Duration `koanf:"token_ttl" validate:"gte=0"`

	// StallDocuments never receive a sync reply, to exercise client stall
	// handling.
	StallDocuments []string `koanf:"stall_documents"`
}
