// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

// Package middleware provides HTTP middleware for the local control API:
// request ids that double as logging correlation ids, and Prometheus request
// instrumentation keyed by chi route pattern.
package middleware
