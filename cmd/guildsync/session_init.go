// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package main

import (
	"net/http"
	"time"

	"github.com/tomtom215/guildsync/internal/api"
	"github.com/tomtom215/guildsync/internal/config"
	"github.com/tomtom215/guildsync/internal/credential"
	"github.com/tomtom215/guildsync/internal/provider"
	"github.com/tomtom215/guildsync/internal/reconnect"
	"github.com/tomtom215/guildsync/internal/session"
	"github.com/tomtom215/guildsync/internal/transport"
)

// newCredentialSource prefers the refreshing source when a token endpoint
// is configured; the static token then only seeds it.
func newCredentialSource(cfg *config.Config) credential.Source {
	if cfg.Auth.TokenURL != "" && cfg.Auth.RefreshToken != "" {
		return credential.NewHTTPSource(credential.HTTPConfig{
			TokenURL:     cfg.Auth.TokenURL,
			RefreshToken: cfg.Auth.RefreshToken,
			GuildID:      cfg.Auth.GuildID,
			Initial:      cfg.Auth.Token,
		})
	}
	return credential.NewStatic(cfg.Auth.Token, cfg.Auth.GuildID)
}

// providerOptions maps the collab section onto provider defaults. A zero
// color seed picks a random color per provider.
func providerOptions(cfg *config.Config) provider.Options {
	opts := provider.Options{
		SyncTimeout:   cfg.Collab.SyncTimeout,
		TeardownDelay: cfg.Collab.TeardownDelay,
		DisplayName:   cfg.Collab.DisplayName,
		CursorRate:    cfg.Collab.CursorRate,
	}
	if cfg.Collab.ColorSeed != 0 {
		seed := cfg.Collab.ColorSeed
		opts.ColorSeed = &seed
	}
	return opts
}

func newSession(cfg *config.Config, dialer transport.Dialer) (*session.Session, error) {
	return session.New(session.Config{
		ServerURL: cfg.Server.URL,
		Source:    newCredentialSource(cfg),
		Dialer:    dialer,
		Reconnect: reconnect.Config{
			Delay:           cfg.Reconnect.Delay,
			AuthBaseDelay:   cfg.Reconnect.AuthBaseDelay,
			AuthMaxDelay:    cfg.Reconnect.AuthMaxDelay,
			MaxAuthFailures: cfg.Reconnect.MaxAuthFailures,
		},
		Provider:       providerOptions(cfg),
		CacheTTL:       cfg.Cache.TTL,
		DisableUpdates: !cfg.Updates.Enabled,
	})
}

func newHTTPServer(cfg *config.Config, sess *session.Session) *http.Server {
	mw := api.DefaultChiMiddlewareConfig()
	mw.CORSAllowedOrigins = cfg.HTTP.CORSOrigins
	mw.RateLimitRequests = cfg.HTTP.RateLimit

	router := api.NewRouter(api.NewHandler(sess, nil), mw)
	return &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router.SetupChi(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
