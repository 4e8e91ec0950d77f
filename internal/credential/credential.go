// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

// Package credential supplies the token and guild id sent in the AUTH frame.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/guildsync/internal/protocol"
	"github.com/tomtom215/guildsync/internal/transport"
)

var (
	// ErrNoToken means no credential is configured or obtainable.
	ErrNoToken = errors.New("no access token")

	// ErrTokenExpired means the token's exp claim has passed.
	ErrTokenExpired = errors.New("access token expired")

	// ErrRefreshRejected means the token endpoint refused the refresh token.
	ErrRefreshRejected = errors.New("refresh token rejected")
)

// Credential is the AUTH payload source. It is only ever sent inside the
// first frame of a socket, never in a URL.
type Credential struct {
	Token   string
	GuildID string

	// Expiry is zero when the token does not declare one.
	Expiry time.Time
}

// Auth converts the credential into the AUTH frame payload.
func (c Credential) Auth() protocol.Auth {
	return protocol.Auth{Token: c.Token, GuildID: c.GuildID}
}

// Expired reports whether the token is past its expiry at now.
func (c Credential) Expired(now time.Time) bool {
	return !c.Expiry.IsZero() && !now.Before(c.Expiry)
}

// String never prints the token.
func (c Credential) String() string {
	return fmt.Sprintf("credential{guild=%q}", c.GuildID)
}

// Source produces the current credential.
type Source interface {
	Credential(ctx context.Context) (Credential, error)
}

// Claims are the token claims the client cares about.
type Claims struct {
	GuildID string `json:"guild_id,omitempty"`
	jwt.RegisteredClaims
}

// Parse reads the claims of a JWT without verifying its signature. The server
// verifies the token; the client only needs the guild id and expiry.
func Parse(token string) (Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Claims{}, fmt.Errorf("parse token claims: %w", err)
	}
	return claims, nil
}

// FromToken builds a credential, filling the guild id and expiry from the
// token's claims when it is a JWT. Opaque tokens are used as-is.
func FromToken(token, guildID string) Credential {
	c := Credential{Token: token, GuildID: guildID}
	claims, err := Parse(token)
	if err != nil {
		return c
	}
	if c.GuildID == "" {
		c.GuildID = claims.GuildID
	}
	if claims.ExpiresAt != nil {
		c.Expiry = claims.ExpiresAt.Time
	}
	return c
}

// Static serves a fixed credential.
type Static struct {
	cred Credential
	now  func() time.Time
}

// NewStatic creates a source for a configured token.
func NewStatic(token, guildID string) *Static {
	return &Static{cred: FromToken(token, guildID), now: time.Now}
}

// Credential implements Source.
func (s *Static) Credential(context.Context) (Credential, error) {
	if s.cred.Token == "" {
		return Credential{}, ErrNoToken
	}
	if s.cred.Expired(s.now()) {
		return Credential{}, ErrTokenExpired
	}
	return s.cred, nil
}

// IsRejection reports whether err means the credential itself is unusable,
// as opposed to a transient failure obtaining it.
func IsRejection(err error) bool {
	return errors.Is(err, ErrNoToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrRefreshRejected)
}

// AuthFunc adapts src to the connection layer. Unusable credentials are
// reported as an auth rejection so they escalate like a server-side 1008.
func AuthFunc(src Source) func(ctx context.Context) (protocol.Auth, error) {
	return func(ctx context.Context) (protocol.Auth, error) {
		cred, err := src.Credential(ctx)
		if err != nil {
			if IsRejection(err) {
				return protocol.Auth{}, &transport.CloseError{Code: protocol.CloseAuthRejected, Reason: err.Error()}
			}
			return protocol.Auth{}, err
		}
		return cred.Auth(), nil
	}
}
