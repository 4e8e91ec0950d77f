// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/guildsync/internal/credential"
	"github.com/tomtom215/guildsync/internal/protocol"
)

var (
	// ErrUnauthorized means the AUTH token was not accepted.
	ErrUnauthorized = errors.New("relay: unauthorized")

	// ErrIssuingDisabled is returned by Issue when no signing secret is set.
	ErrIssuingDisabled = errors.New("relay: token issuing disabled")
)

// AuthConfig configures an Authenticator.
type AuthConfig struct {
	// Tokens are accepted verbatim.
	Tokens []string

	// JWTSecret verifies HS256 tokens and signs issued ones.
	JWTSecret string

	// RefreshTokens may be exchanged for access tokens.
	RefreshTokens []string

	// TokenTTL is the lifetime of issued tokens. Default: 15 minutes
	TokenTTL time.Duration
}

// Authenticator decides which AUTH frames open a session. With no tokens
// and no secret configured, any non-empty token is accepted.
type Authenticator struct {
	tokens  map[string]struct{}
	refresh map[string]struct{}
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	a := &Authenticator{
		tokens:  toSet(cfg.Tokens),
		refresh: toSet(cfg.RefreshTokens),
		ttl:     cfg.TokenTTL,
		now:     time.Now,
	}
	if cfg.JWTSecret != "" {
		a.secret = []byte(cfg.JWTSecret)
	}
	if a.ttl <= 0 {
		a.ttl = 15 * time.Minute
	}
	return a
}

// Open reports whether every non-empty token is accepted.
func (a *Authenticator) Open() bool {
	return len(a.tokens) == 0 && a.secret == nil
}

// Verify checks an AUTH payload.
func (a *Authenticator) Verify(auth protocol.Auth) error {
	if auth.Token == "" {
		return fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	if a.Open() {
		return nil
	}
	if _, ok := a.tokens[auth.Token]; ok {
		return nil
	}
	if a.secret == nil {
		return ErrUnauthorized
	}

	var claims credential.Claims
	_, err := jwt.ParseWithClaims(auth.Token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if auth.GuildID != "" && claims.GuildID != "" && auth.GuildID != claims.GuildID {
		return fmt.Errorf("%w: guild mismatch", ErrUnauthorized)
	}
	return nil
}

// Issue exchanges a refresh token for a signed access token.
func (a *Authenticator) Issue(refreshToken, guildID string) (token string, expiresIn time.Duration, err error) {
	if a.secret == nil {
		return "", 0, ErrIssuingDisabled
	}
	if _, ok := a.refresh[refreshToken]; !ok || refreshToken == "" {
		return "", 0, ErrUnauthorized
	}
	now := a.now()
	claims := credential.Claims{
		GuildID: guildID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", 0, fmt.Errorf("sign token: %w", err)
	}
	return signed, a.ttl, nil
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}
