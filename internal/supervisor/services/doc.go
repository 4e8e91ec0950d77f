// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

/*
Package services provides suture.Service wrappers for Guildsync components.

Each wrapper implements suture v4's Serve(ctx) error and fmt.Stringer so
supervisor events name the service.

HTTP Server (HTTPServerService):
  - Wraps *http.Server with graceful shutdown
  - http.ErrServerClosed is not an error

Session (SessionService):
  - Opens the configured documents through the session and releases them
    when stopped
  - Returns suture.ErrTerminateSupervisorTree once the session ends, because
    nothing can reconnect without a new login

The generic update channel (updates.Channel) implements suture.Service
itself and is added to the tree directly; after a forced logout it returns
suture.ErrDoNotRestart.
*/
package services
