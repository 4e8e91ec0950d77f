// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

/*
Package api serves the local control API of the sync client.

The API is meant for a local UI or operator tooling. It lists the open
providers with their status, sync flag and presence roster, opens and
releases documents, moves the local cursor, and exposes the update channel
and query cache state. Every response uses the APIResponse envelope:

	{"success": true, "data": {...}, "meta": {"request_id": "...", "timestamp": "...", "duration_ms": 0}}

Middleware stack, outermost first: request id, real ip, panic recovery,
CORS (go-chi/cors), then per route group Prometheus metrics and per-IP rate
limiting (go-chi/httprate) on mutating endpoints.

Usage:

	h := api.NewHandler(sess, nil)
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: api.NewRouter(h, mwCfg).SetupChi()}
*/
package api
