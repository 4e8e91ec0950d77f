// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package relay

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/guildsync/internal/crdt"
	"github.com/tomtom215/guildsync/internal/logging"
	"github.com/tomtom215/guildsync/internal/metrics"
	"github.com/tomtom215/guildsync/internal/protocol"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful shutdown path.
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline may indicate a hung operation during shutdown.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// HubConfig configures a Hub.
type HubConfig struct {
	Auth *Authenticator

	// StallDocuments never get a reply to their sync request.
	StallDocuments []string
}

// Hub tracks document rooms and update channel subscribers.
type Hub struct {
	auth  *Authenticator
	stall map[string]struct{}
	log   zerolog.Logger

	mu      sync.RWMutex
	rooms   map[string]*room
	events  map[*Client]struct{}
	clients map[*Client]struct{}
	closed  bool
}

// NewHub creates a hub. A nil authenticator accepts any non-empty token.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Auth == nil {
		cfg.Auth = NewAuthenticator(AuthConfig{})
	}
	return &Hub{
		auth:    cfg.Auth,
		stall:   toSet(cfg.StallDocuments),
		log:     logging.WithComponent("relay-hub"),
		rooms:   make(map[string]*room),
		events:  make(map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
	}
}

// Document returns the server replica for documentID, creating it on first
// use. Inserting into it pushes the update to every connected client.
func (h *Hub) Document(documentID string) *crdt.MemoryDocument {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roomLocked(documentID).doc
}

// Publish sends a resource event to every update channel subscriber and
// returns how many received it.
func (h *Hub) Publish(ev protocol.ResourceEvent) (int, error) {
	frame, err := protocol.EncodeEvent(ev)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.events))
	for c := range h.events {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })
	delivered := 0
	for _, c := range targets {
		if c.enqueue(frame) {
			delivered++
		}
	}
	h.log.Debug().Str("resource", ev.Resource).Int("delivered", delivered).Msg("published event")
	return delivered, nil
}

// GetClientCount returns the number of authenticated clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomClientCount returns the number of clients editing documentID.
func (h *Hub) RoomClientCount(documentID string) int {
	h.mu.RLock()
	r, ok := h.rooms[documentID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	return r.clientCount()
}

// Serve blocks until ctx is done and then closes every client. It
// implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	h.mu.Lock()
	h.closed = false
	h.mu.Unlock()

	<-ctx.Done()
	h.logGracefulShutdown(ctx)
	return ctx.Err()
}

func (h *Hub) String() string { return "relay-hub" }

func (h *Hub) join(c *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	var r *room
	if c.channel == metrics.ChannelUpdates {
		h.events[c] = struct{}{}
	} else {
		r = h.roomLocked(c.documentID)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if r != nil {
		r.join(c)
	}
	metrics.RelayClients.WithLabelValues(c.channel).Inc()
	h.log.Info().Str("channel", c.channel).Str("document", c.documentID).Int("total_clients", total).Msg("relay client joined")
	return true
}

func (h *Hub) leave(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	delete(h.events, c)
	r := h.rooms[c.documentID]
	total := len(h.clients)
	h.mu.Unlock()

	if c.channel == metrics.ChannelCollab && r != nil {
		r.leave(c)
	}
	metrics.RelayClients.WithLabelValues(c.channel).Dec()
	h.log.Info().Str("channel", c.channel).Str("document", c.documentID).Int("total_clients", total).Msg("relay client left")
}

func (h *Hub) dispatch(c *Client, f protocol.Frame) {
	if c.channel != metrics.ChannelCollab {
		return
	}
	h.mu.RLock()
	r := h.rooms[c.documentID]
	h.mu.RUnlock()
	if r == nil {
		return
	}

	var err error
	switch f.Kind {
	case protocol.KindSync:
		err = r.handleSync(c, f.Payload)
	case protocol.KindAwareness:
		err = r.handleAwareness(c, protocol.Encode(f.Kind, f.Payload), f.Payload)
	default:
		return
	}
	if err != nil {
		metrics.RecordDroppedFrame("relay_" + c.channel)
		c.log.Debug().Err(err).Str("kind", f.Kind.String()).Msg("dropping frame")
	}
}

func (h *Hub) roomLocked(documentID string) *room {
	r, ok := h.rooms[documentID]
	if !ok {
		_, stall := h.stall[documentID]
		r = newRoom(documentID, stall)
		h.rooms[documentID] = r
	}
	return r
}

// logGracefulShutdown closes all clients and logs the shutdown. Context
// cancellation is expected here, so it is not logged as an error.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.closeAllClients()

	h.log.Info().
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("relay hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	if ctx.Err() == context.DeadlineExceeded {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

// closeAllClients closes every client in ID order and refuses new joins
// until the hub is served again.
func (h *Hub) closeAllClients() int {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	for _, c := range clients {
		c.closeWith(protocol.CloseGoingAway, "relay shutting down")
	}
	return len(clients)
}
