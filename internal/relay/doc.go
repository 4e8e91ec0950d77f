// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

/*
Package relay is a small collaboration server for development and tests.

It speaks the same framed protocol as the production backend:

  - every socket must send AUTH first; a rejected token is closed with 1008
    and an accepted one is acknowledged with an empty AUTH frame
  - document sockets join a room holding a MemoryDocument replica; the relay
    answers sync requests, asks each client for what it is missing and
    forwards new updates to the other clients in the room
  - AWARENESS frames are relayed unchanged, and a client's collaborators are
    announced as gone when its socket closes
  - update channel sockets receive EVENT frames posted to /api/v1/events

StallDocuments lets a test leave a document's sync request unanswered to
exercise client stall handling. The hub implements suture.Service; on
shutdown every client is closed with 1001.
*/
package relay
