// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

// Package main runs the development relay: a collaboration server that
// speaks the guildsync wire protocol, for local work and end-to-end tests.
//
// Example:
//
//	export GUILDSYNC_RELAY_ADDR=127.0.0.1:7380
//	export GUILDSYNC_RELAY_TOKENS=dev-token
//	./guildsync-relay
//
// Clients then use GUILDSYNC_SERVER_URL=http://127.0.0.1:7380/api/v1.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/guildsync/internal/config"
	"github.com/tomtom215/guildsync/internal/logging"
	"github.com/tomtom215/guildsync/internal/relay"
	"github.com/tomtom215/guildsync/internal/supervisor"
	"github.com/tomtom215/guildsync/internal/supervisor/services"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.ValidateRelay(); err != nil {
		logging.Fatal().Err(err).Msg("Invalid relay configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	hub := newHub(cfg)
	server := &http.Server{
		Addr:              cfg.Relay.Addr,
		Handler:           relay.NewServer(hub).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger("supervisor"), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}
	tree.AddSyncService(hub)
	tree.AddAPIService(services.NewHTTPServerService("relay-http", server, cfg.HTTP.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", cfg.Relay.Addr).Msg("Starting relay")
	for err := range tree.ServeBackground(ctx) {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	logging.Info().Msg("Relay stopped")
}

func newHub(cfg *config.Config) *relay.Hub {
	auth := relay.NewAuthenticator(relay.AuthConfig{
		Tokens:        cfg.Relay.Tokens,
		JWTSecret:     cfg.Relay.JWTSecret,
		RefreshTokens: cfg.Relay.RefreshTokens,
		TokenTTL:      cfg.Relay.TokenTTL,
	})
	if auth.Open() {
		logging.Warn().Msg("No relay tokens configured; any non-empty token is accepted")
	}
	return relay.NewHub(relay.HubConfig{
		Auth:           auth,
		StallDocuments: cfg.Relay.StallDocuments,
	})
}
