// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

// Package crdt defines the boundary between the synchronization layer and the
// CRDT library that owns document state. The sync layer never looks inside
// SYNC payloads; it only moves them between the Document and the socket.
package crdt

// Document is a replica handle owned by exactly one provider.
//
// Implementations must be pointer types: the provider registry uses handle
// identity to enforce the one-handle-per-provider rule.
type Document interface {
	// SyncRequest returns the opening SYNC message that asks the peer for
	// everything this replica is missing (state vector / sync step 1).
	SyncRequest() []byte

	// HandleSync applies an inbound SYNC message. It returns an optional reply
	// to send back, and synced=true once the initial catch-up is complete.
	HandleSync(msg []byte) (reply []byte, synced bool, err error)

	// OnLocalUpdate registers fn to receive SYNC messages for edits made on
	// this replica. The returned function unregisters it.
	OnLocalUpdate(fn func(msg []byte)) (cancel func())
}
