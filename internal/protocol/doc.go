// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

/*
Package protocol defines the guildsync wire format shared by the document
collaboration socket and the generic update socket.

Every websocket message is a single binary frame:

	+-----------+----------------------+
	| kind byte | payload (0..n bytes) |
	+-----------+----------------------+

Frame kinds:

	0  AUTH       JSON {"token": "...", "guild_id": "..."}; first frame after open
	1  SYNC       opaque CRDT sync message, produced and consumed by crdt.Document
	2  AWARENESS  JSON presence delta {"states":[{"client_id","clock","state"}]}
	3  EVENT      JSON resource change {"resource": "...", "data": {...}}

Credentials only ever travel inside the AUTH frame, never in the URL, since
URLs are routinely logged by proxies and load balancers.

Close code 1008 (policy violation) means the credential was rejected. Every
other close code is transient.
*/
package protocol
