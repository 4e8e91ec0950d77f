// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

/*
Package supervisor provides process supervision for Guildsync using suture v4.

The tree isolates the sockets from the local control API:

	RootSupervisor ("guildsync")
	├── SyncSupervisor ("sync-layer")
	│   ├── updates.Channel ("update-channel", if updates.enabled)
	│   └── SessionService ("session")
	└── APISupervisor ("api-layer")
	    └── HTTPServerService ("control-api", if http.enabled)

Supervisor events are logged through sutureslog, which writes to the zerolog
logger via logging.NewSlogHandler.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger("supervisor"), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddSyncService(sess.Updates())
	tree.AddSyncService(services.NewSessionService(sess, cfg.Collab.Documents, nil))
	tree.AddAPIService(services.NewHTTPServerService("control-api", server, cfg.HTTP.ShutdownTimeout))
	return tree.Serve(ctx)

# Restart semantics

Services that fail are restarted with suture's backoff. The update channel
returns suture.ErrDoNotRestart after a forced logout, and SessionService
returns suture.ErrTerminateSupervisorTree when the session ends, which stops
the daemon.
*/
package supervisor
