// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package relay

import (
	"sort"
	"sync"

	"github.com/tomtom215/guildsync/internal/crdt"
	"github.com/tomtom215/guildsync/internal/protocol"
)

// room is the server replica of one document and the clients editing it.
type room struct {
	id    string
	doc   *crdt.MemoryDocument
	stall bool

	mu      sync.Mutex
	clients map[*Client]struct{}
	states  map[uint32]protocol.AwarenessEntry
	owners  map[uint32]*Client
}

func newRoom(id string, stall bool) *room {
	r := &room{
		id:      id,
		doc:     crdt.NewMemoryDocument(),
		stall:   stall,
		clients: make(map[*Client]struct{}),
		states:  make(map[uint32]protocol.AwarenessEntry),
		owners:  make(map[uint32]*Client),
	}
	// Edits made on the server replica reach every client.
	r.doc.OnLocalUpdate(func(msg []byte) {
		r.fanOut(nil, protocol.Encode(protocol.KindSync, msg))
	})
	return r
}

// join sends the server's sync request and the current roster.
func (r *room) join(c *Client) {
	r.mu.Lock()
	r.clients[c] = struct{}{}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	c.enqueue(protocol.Encode(protocol.KindSync, r.doc.SyncRequest()))
	if len(snapshot.States) > 0 {
		if frame, err := protocol.EncodeAwareness(snapshot); err == nil {
			c.enqueue(frame)
		}
	}
}

// leave drops c and tells the others that its collaborators are gone.
func (r *room) leave(c *Client) (empty bool) {
	r.mu.Lock()
	delete(r.clients, c)
	var gone protocol.Awareness
	for id, owner := range r.owners {
		if owner != c {
			continue
		}
		gone.States = append(gone.States, protocol.AwarenessEntry{ClientID: id, Clock: r.states[id].Clock + 1})
		delete(r.owners, id)
		delete(r.states, id)
	}
	empty = len(r.clients) == 0
	r.mu.Unlock()

	if len(gone.States) > 0 {
		sort.Slice(gone.States, func(i, j int) bool { return gone.States[i].ClientID < gone.States[j].ClientID })
		if frame, err := protocol.EncodeAwareness(gone); err == nil {
			r.fanOut(c, frame)
		}
	}
	return empty
}

// handleSync applies a SYNC payload, answers the sender and forwards any
// updates the server had not seen to the other clients.
func (r *room) handleSync(c *Client, payload []byte) error {
	r.mu.Lock()
	before := r.doc.Len()
	reply, _, err := r.doc.HandleSync(payload)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	fresh := r.doc.Updates()[before:]
	r.mu.Unlock()

	if reply != nil && !r.stall {
		c.enqueue(protocol.Encode(protocol.KindSync, reply))
	}
	for _, u := range fresh {
		r.fanOut(c, protocol.Encode(protocol.KindSync, crdt.UpdateMessage(u)))
	}
	return nil
}

// handleAwareness records the sender's states and relays the frame as-is.
func (r *room) handleAwareness(c *Client, frame, payload []byte) error {
	msg, err := protocol.DecodeAwareness(payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	for _, e := range msg.States {
		if cur, ok := r.states[e.ClientID]; ok && e.Clock < cur.Clock {
			continue
		}
		if e.State == nil {
			delete(r.states, e.ClientID)
			delete(r.owners, e.ClientID)
			continue
		}
		r.states[e.ClientID] = e
		r.owners[e.ClientID] = c
	}
	r.mu.Unlock()

	r.fanOut(c, frame)
	return nil
}

// fanOut sends frame to every client except skip, in join order.
func (r *room) fanOut(skip *Client, frame []byte) {
	r.mu.Lock()
	targets := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		if c != skip {
			targets = append(targets, c)
		}
	}
	r.mu.Unlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })
	for _, c := range targets {
		c.enqueue(frame)
	}
}

func (r *room) snapshotLocked() protocol.Awareness {
	var a protocol.Awareness
	for _, e := range r.states {
		a.States = append(a.States, e)
	}
	sort.Slice(a.States, func(i, j int) bool { return a.States[i].ClientID < a.States[j].ClientID })
	return a
}

func (r *room) clientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
