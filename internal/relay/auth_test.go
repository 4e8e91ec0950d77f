// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/guildsync/internal/credential"
	"github.com/tomtom215/guildsync/internal/protocol"
)

func signed(t *testing.T, secret, guild string, exp time.Time) string {
	t.Helper()
	claims := credential.Claims{
		GuildID:          guild,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestAuthenticator_Verify(t *testing.T) {
	future := time.Now().Add(time.Hour)
	a := NewAuthenticator(AuthConfig{Tokens: []string{"static"}, JWTSecret: "s3cret"})

	tests := []struct {
		name string
		auth protocol.Auth
		ok   bool
	}{
		{"static token", protocol.Auth{Token: "static"}, true},
		{"empty token", protocol.Auth{}, false},
		{"unknown opaque token", protocol.Auth{Token: "nope"}, false},
		{"signed jwt", protocol.Auth{Token: signed(t, "s3cret", "g1", future), GuildID: "g1"}, true},
		{"jwt without guild claim", protocol.Auth{Token: signed(t, "s3cret", "", future), GuildID: "g1"}, true},
		{"guild mismatch", protocol.Auth{Token: signed(t, "s3cret", "g1", future), GuildID: "g2"}, false},
		{"wrong secret", protocol.Auth{Token: signed(t, "other", "g1", future)}, false},
		{"expired", protocol.Auth{Token: signed(t, "s3cret", "g1", time.Now().Add(-time.Minute))}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Verify(tt.auth)
			if tt.ok && err != nil {
				t.Errorf("Verify() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrUnauthorized) {
				t.Errorf("Verify() = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestAuthenticator_OpenAcceptsAnyToken(t *testing.T) {
	a := NewAuthenticator(AuthConfig{})
	if !a.Open() {
		t.Fatal("expected open authenticator")
	}
	if err := a.Verify(protocol.Auth{Token: "anything"}); err != nil {
		t.Errorf("Verify() = %v", err)
	}
	if err := a.Verify(protocol.Auth{}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("empty token accepted: %v", err)
	}
}

func TestAuthenticator_Issue(t *testing.T) {
	a := NewAuthenticator(AuthConfig{JWTSecret: "s3cret", RefreshTokens: []string{"refresh-1"}, TokenTTL: time.Minute})

	tok, ttl, err := a.Issue("refresh-1", "guild-7")
	if err != nil {
		t.Fatalf("Issue() = %v", err)
	}
	if ttl != time.Minute {
		t.Errorf("ttl = %v", ttl)
	}
	if err := a.Verify(protocol.Auth{Token: tok, GuildID: "guild-7"}); err != nil {
		t.Errorf("issued token rejected: %v", err)
	}
	cred := credential.FromToken(tok, "")
	if cred.GuildID != "guild-7" || cred.Expiry.IsZero() {
		t.Errorf("issued claims = %+v", cred)
	}

	if _, _, err := a.Issue("stolen", ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Issue(unknown) = %v", err)
	}
	if _, _, err := NewAuthenticator(AuthConfig{}).Issue("refresh-1", ""); !errors.Is(err, ErrIssuingDisabled) {
		t.Errorf("Issue without secret = %v", err)
	}
}
