// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

// Package presence tracks who else is editing a document.
//
// The tracker publishes the local collaborator's state over AWARENESS frames
// and folds remote deltas into a roster keyed by client id. Subscribers always
// receive the whole roster, never a delta.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/tomtom215/guildsync/internal/protocol"
	"github.com/tomtom215/guildsync/internal/schedule"
)

// Collaborator is one roster entry.
type Collaborator struct {
	ClientID    uint32           `json:"client_id"`
	DisplayName string           `json:"display_name"`
	Color       string           `json:"color"`
	ColorLight  string           `json:"color_light,omitempty"`
	Cursor      *protocol.Cursor `json:"cursor,omitempty"`
	Local       bool             `json:"local"`
}

// SendFunc writes one encoded AWARENESS frame to the live connection.
type SendFunc func(payload []byte) error

// Config configures a Tracker.
type Config struct {
	// ClientID identifies this replica. Default: random
	ClientID uint32

	DisplayName string

	// Color is fixed for the tracker's lifetime.
	Color Color

	// CursorRate limits cursor broadcasts per second. Bursts collapse to the
	// latest position. Zero disables coalescing.
	CursorRate float64

	// Clock drives cursor coalescing. Default: wall clock
	Clock clock.Clock

	// OnChange receives the full roster after every change.
	OnChange func(roster []Collaborator)
}

type remoteState struct {
	clock uint32
	state protocol.PresenceState
}

// Tracker maintains the roster for one provider.
type Tracker struct {
	clientID uint32
	clock    clock.Clock
	limiter  *rate.Limiter
	flush    *schedule.Timer
	onChange func([]Collaborator)

	mu        sync.Mutex
	local     protocol.PresenceState
	version   uint32
	remote    map[uint32]remoteState
	send      SendFunc
	connected bool
	stopped   bool
}

// NewTracker creates a tracker. The color chosen here never changes.
func NewTracker(cfg Config) *Tracker {
	if cfg.ClientID == 0 {
		cfg.ClientID = NewClientID()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Color.Color == "" {
		cfg.Color = RandomColor()
	}
	t := &Tracker{
		clientID: cfg.ClientID,
		clock:    cfg.Clock,
		flush:    schedule.New(cfg.Clock),
		onChange: cfg.OnChange,
		local: protocol.PresenceState{
			Name:       cfg.DisplayName,
			Color:      cfg.Color.Color,
			ColorLight: cfg.Color.Light,
		},
		remote: make(map[uint32]remoteState),
	}
	if cfg.CursorRate > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(cfg.CursorRate), 1)
	}
	return t
}

// ClientID returns the local awareness id.
func (t *Tracker) ClientID() uint32 { return t.clientID }

// LocalState returns the state this replica publishes.
func (t *Tracker) LocalState() protocol.PresenceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

// Connected publishes the local state on a freshly authenticated connection.
func (t *Tracker) Connected(send SendFunc) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.send = send
	t.connected = true
	payload := t.localPayloadLocked()
	roster := t.rosterLocked()
	t.mu.Unlock()

	if payload != nil {
		_ = send(payload)
	}
	t.notify(roster)
}

// Apply folds a remote AWARENESS payload into the roster. Entries older than
// what is already known are ignored, and a null state removes the client.
func (t *Tracker) Apply(payload []byte) error {
	msg, err := protocol.DecodeAwareness(payload)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.stopped || !t.connected {
		t.mu.Unlock()
		return nil
	}
	changed := false
	for _, e := range msg.States {
		if e.ClientID == t.clientID {
			continue
		}
		cur, known := t.remote[e.ClientID]
		switch {
		case e.State == nil:
			if known && e.Clock >= cur.clock {
				delete(t.remote, e.ClientID)
				changed = true
			}
		case !known || e.Clock > cur.clock:
			t.remote[e.ClientID] = remoteState{clock: e.Clock, state: *e.State}
			changed = true
		}
	}
	var roster []Collaborator
	if changed {
		roster = t.rosterLocked()
	}
	t.mu.Unlock()

	if changed {
		t.notify(roster)
	}
	return nil
}

// SetCursor updates the local cursor and broadcasts it, coalesced by the
// configured rate. A nil cursor clears it.
func (t *Tracker) SetCursor(c *protocol.Cursor) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if c != nil {
		cp := *c
		c = &cp
	}
	t.local.Cursor = c
	if !t.connected {
		t.mu.Unlock()
		return
	}
	if t.limiter != nil && !t.limiter.AllowN(t.clock.Now(), 1) {
		wait := time.Duration(float64(time.Second) / float64(t.limiter.Limit()))
		t.mu.Unlock()
		t.flush.Schedule(wait, t.publish)
		return
	}
	t.mu.Unlock()

	t.flush.Stop()
	t.publish()
}

// Disconnected clears the roster. When announce is set, a null state is sent
// first so peers drop this client immediately instead of timing it out.
func (t *Tracker) Disconnected(announce bool) {
	t.flush.Stop()

	t.mu.Lock()
	var removal []byte
	send := t.send
	if announce && send != nil {
		t.version++
		removal, _ = protocol.EncodeAwareness(protocol.Awareness{
			States: []protocol.AwarenessEntry{{ClientID: t.clientID, Clock: t.version}},
		})
	}
	wasVisible := t.connected
	t.send = nil
	t.connected = false
	t.remote = make(map[uint32]remoteState)
	stopped := t.stopped
	t.mu.Unlock()

	if removal != nil {
		_ = send(removal)
	}
	if wasVisible && !stopped {
		t.notify(nil)
	}
}

// Roster returns the current roster sorted by client id. It is empty while
// disconnected.
func (t *Tracker) Roster() []Collaborator {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rosterLocked()
}

// Stop cancels pending broadcasts and silences callbacks.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.send = nil
	t.connected = false
	t.remote = make(map[uint32]remoteState)
	t.mu.Unlock()
	t.flush.Stop()
}

func (t *Tracker) publish() {
	t.mu.Lock()
	if t.stopped || t.send == nil {
		t.mu.Unlock()
		return
	}
	send := t.send
	payload := t.localPayloadLocked()
	roster := t.rosterLocked()
	t.mu.Unlock()

	if payload != nil {
		_ = send(payload)
	}
	t.notify(roster)
}

func (t *Tracker) localPayloadLocked() []byte {
	t.version++
	state := t.local
	payload, err := protocol.EncodeAwareness(protocol.Awareness{
		States: []protocol.AwarenessEntry{{ClientID: t.clientID, Clock: t.version, State: &state}},
	})
	if err != nil {
		return nil
	}
	return payload
}

func (t *Tracker) rosterLocked() []Collaborator {
	if !t.connected {
		return nil
	}
	roster := make([]Collaborator, 0, len(t.remote)+1)
	roster = append(roster, collaborator(t.clientID, t.local, true))
	for id, r := range t.remote {
		roster = append(roster, collaborator(id, r.state, false))
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].ClientID < roster[j].ClientID })
	return roster
}

func (t *Tracker) notify(roster []Collaborator) {
	if t.onChange != nil {
		t.onChange(roster)
	}
}

func collaborator(id uint32, s protocol.PresenceState, local bool) Collaborator {
	c := Collaborator{
		ClientID:    id,
		DisplayName: s.Name,
		Color:       s.Color,
		ColorLight:  s.ColorLight,
		Local:       local,
	}
	if s.Cursor != nil {
		cur := *s.Cursor
		c.Cursor = &cur
	}
	return c
}
