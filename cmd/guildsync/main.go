// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

// Package main is the entry point for the guildsync daemon.
//
// The daemon keeps a set of collaborative documents connected to the
// backend, tracks who else is editing them, and listens on the generic
// update channel so that cached query results are dropped as soon as the
// server reports a change.
//
// # Application Architecture
//
// Components start in this order:
//
//  1. Configuration: koanf layers (defaults, config.yaml, environment)
//  2. Logging: zerolog, bridged to slog for the supervisor
//  3. Credentials: a static token, or a refresh token exchanged at token_url
//  4. Session: provider registry, update channel and query cache
//  5. Supervisor tree: session service and update channel in the sync
//     layer, the control API in the API layer
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the tree: documents are released, sockets are
// closed and the control API drains in-flight requests. A forced logout
// (repeated auth rejections) also stops the tree and exits non-zero.
//
// # Example Usage
//
//	export GUILDSYNC_SERVER_URL=https://app.example.com/api/v1
//	export GUILDSYNC_TOKEN=...
//	export GUILDSYNC_DOCUMENTS=doc-1,doc-2
//	./guildsync
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/guildsync/internal/config"
	"github.com/tomtom215/guildsync/internal/logging"
	"github.com/tomtom215/guildsync/internal/session"
	"github.com/tomtom215/guildsync/internal/supervisor"
	"github.com/tomtom215/guildsync/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("server_url", cfg.Server.URL).
		Int("documents", len(cfg.Collab.Documents)).
		Bool("updates_enabled", cfg.Updates.Enabled).
		Bool("http_enabled", cfg.HTTP.Enabled).
		Msg("Configuration loaded")

	sess, err := newSession(cfg, nil)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create session")
	}
	sess.OnLogout(func(forced bool) {
		if forced {
			logging.Error().Msg("Credentials rejected repeatedly; logged out")
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger("supervisor"), supervisor.TreeConfig{
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddSyncService(services.NewSessionService(sess, cfg.Collab.Documents, nil))
	if ch := sess.Updates(); ch != nil {
		tree.AddSyncService(ch)
	}
	if cfg.HTTP.Enabled {
		server := newHTTPServer(cfg, sess)
		tree.AddAPIService(services.NewHTTPServerService("control-api", server, cfg.HTTP.ShutdownTimeout))
		logging.Info().Str("addr", server.Addr).Msg("Control API service added")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	exitCode := 0
	for err := range errCh {
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case errors.Is(err, suture.ErrTerminateSupervisorTree):
			logging.Warn().Err(err).Msg("Session ended; supervisor tree terminated")
			exitCode = 1
		default:
			logging.Error().Err(err).Msg("Supervisor tree error")
			exitCode = 1
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
	}

	sess.Logout()
	cancel()
	logging.Info().Int("exit_code", exitCode).Msg("Application stopped")
	os.Exit(exitCode)
}
