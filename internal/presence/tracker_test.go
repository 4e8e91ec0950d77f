// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tomtom215/guildsync/internal/protocol"
)

type wire struct {
	mu     sync.Mutex
	frames []protocol.Awareness
}

func (w *wire) send(t *testing.T) SendFunc {
	return func(frame []byte) error {
		f, err := protocol.Decode(frame)
		if err != nil {
			t.Errorf("Decode: %v", err)
			return nil
		}
		if f.Kind != protocol.KindAwareness {
			t.Errorf("frame kind = %v, want awareness", f.Kind)
		}
		a, err := protocol.DecodeAwareness(f.Payload)
		if err != nil {
			t.Errorf("DecodeAwareness: %v", err)
			return nil
		}
		w.mu.Lock()
		w.frames = append(w.frames, a)
		w.mu.Unlock()
		return nil
	}
}

func (w *wire) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

func (w *wire) last() protocol.AwarenessEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames[len(w.frames)-1].States[0]
}

type rosters struct {
	mu   sync.Mutex
	seen [][]Collaborator
}

func (r *rosters) record(c []Collaborator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, c)
}

func (r *rosters) latest() []Collaborator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.seen) == 0 {
		return nil
	}
	return r.seen[len(r.seen)-1]
}

func remoteFrame(t *testing.T, entries ...protocol.AwarenessEntry) []byte {
	t.Helper()
	frame, err := protocol.EncodeAwareness(protocol.Awareness{States: entries})
	if err != nil {
		t.Fatalf("EncodeAwareness: %v", err)
	}
	f, err := protocol.Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return f.Payload
}

func state(name string) *protocol.PresenceState {
	return &protocol.PresenceState{Name: name, Color: "#000000"}
}

func newTracker(t *testing.T, cfg Config) (*Tracker, *wire, *rosters) {
	t.Helper()
	r := &rosters{}
	cfg.OnChange = r.record
	if cfg.ClientID == 0 {
		cfg.ClientID = 1
	}
	tr := NewTracker(cfg)
	t.Cleanup(tr.Stop)
	return tr, &wire{}, r
}

func TestPickColor(t *testing.T) {
	tests := []struct {
		seed int64
		want Color
	}{
		{seed: 0, want: Palette[0]},
		{seed: 3, want: Palette[3]},
		{seed: int64(len(Palette)), want: Palette[0]},
		{seed: -1, want: Palette[len(Palette)-1]},
	}
	for _, tt := range tests {
		if got := PickColor(tt.seed); got != tt.want {
			t.Errorf("PickColor(%d) = %v, want %v", tt.seed, got, tt.want)
		}
	}
}

func TestNewTracker_ColorStableAcrossReconnects(t *testing.T) {
	tr, w, _ := newTracker(t, Config{DisplayName: "ada", Color: PickColor(2)})

	tr.Connected(w.send(t))
	tr.Disconnected(false)
	tr.Connected(w.send(t))

	if w.count() != 2 {
		t.Fatalf("published %d states, want 2", w.count())
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, f := range w.frames {
		s := f.States[0].State
		if s == nil || s.Color != Palette[2].Color || s.ColorLight != Palette[2].Light || s.Name != "ada" {
			t.Errorf("frame %d state = %+v", i, s)
		}
	}
}

func TestNewTracker_DefaultsClientIDAndColor(t *testing.T) {
	tr := NewTracker(Config{})
	if tr.ClientID() == 0 {
		t.Error("expected a random client id")
	}
	if tr.LocalState().Color == "" {
		t.Error("expected a palette color")
	}
}

func TestApply_DeduplicatesByClientID(t *testing.T) {
	tr, w, r := newTracker(t, Config{DisplayName: "me"})
	tr.Connected(w.send(t))

	if err := tr.Apply(remoteFrame(t,
		protocol.AwarenessEntry{ClientID: 7, Clock: 1, State: state("grace")},
		protocol.AwarenessEntry{ClientID: 9, Clock: 1, State: state("linus")},
	)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := tr.Apply(remoteFrame(t,
		protocol.AwarenessEntry{ClientID: 7, Clock: 2, State: state("grace h")},
	)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	roster := r.latest()
	if len(roster) != 3 {
		t.Fatalf("roster = %+v, want 3 entries", roster)
	}
	if roster[0].ClientID != 1 || !roster[0].Local {
		t.Errorf("roster[0] = %+v, want local client", roster[0])
	}
	if roster[1].ClientID != 7 || roster[1].DisplayName != "grace h" {
		t.Errorf("roster[1] = %+v", roster[1])
	}
}

func TestApply_IgnoresStaleAndSelf(t *testing.T) {
	tr, w, r := newTracker(t, Config{})
	tr.Connected(w.send(t))

	_ = tr.Apply(remoteFrame(t, protocol.AwarenessEntry{ClientID: 7, Clock: 5, State: state("new")}))
	notifications := len(r.seen)

	_ = tr.Apply(remoteFrame(t, protocol.AwarenessEntry{ClientID: 7, Clock: 4, State: state("old")}))
	_ = tr.Apply(remoteFrame(t, protocol.AwarenessEntry{ClientID: 1, Clock: 99, State: state("echo")}))

	if len(r.seen) != notifications {
		t.Error("stale or self entries must not notify")
	}
	if got := tr.Roster()[1].DisplayName; got != "new" {
		t.Errorf("display name = %q, want new", got)
	}
	if got := tr.Roster()[0].DisplayName; got != "" {
		t.Errorf("local state overwritten by echo: %q", got)
	}
}

func TestApply_NullStateRemoves(t *testing.T) {
	tr, w, r := newTracker(t, Config{})
	tr.Connected(w.send(t))

	_ = tr.Apply(remoteFrame(t, protocol.AwarenessEntry{ClientID: 7, Clock: 1, State: state("x")}))
	_ = tr.Apply(remoteFrame(t, protocol.AwarenessEntry{ClientID: 7, Clock: 2}))

	if got := len(r.latest()); got != 1 {
		t.Errorf("roster size = %d, want only the local client", got)
	}
}

func TestApply_Malformed(t *testing.T) {
	tr, w, _ := newTracker(t, Config{})
	tr.Connected(w.send(t))
	if err := tr.Apply([]byte("{not json")); err == nil {
		t.Error("expected a decode error")
	}
}

func TestDisconnected_ClearsRosterWholesale(t *testing.T) {
	tr, w, r := newTracker(t, Config{})
	tr.Connected(w.send(t))
	_ = tr.Apply(remoteFrame(t,
		protocol.AwarenessEntry{ClientID: 7, Clock: 1, State: state("a")},
		protocol.AwarenessEntry{ClientID: 8, Clock: 1, State: state("b")},
	))

	tr.Disconnected(false)

	if roster := r.latest(); len(roster) != 0 {
		t.Errorf("roster after disconnect = %+v, want empty", roster)
	}
	if len(tr.Roster()) != 0 {
		t.Error("Roster() must be empty while disconnected")
	}
	if w.count() != 1 {
		t.Error("no removal expected without announce")
	}
}

func TestDisconnected_AnnouncesRemoval(t *testing.T) {
	tr, w, _ := newTracker(t, Config{})
	tr.Connected(w.send(t))
	tr.Disconnected(true)

	if w.count() != 2 {
		t.Fatalf("frames = %d, want state + removal", w.count())
	}
	last := w.last()
	if last.State != nil || last.ClientID != 1 || last.Clock != 2 {
		t.Errorf("removal entry = %+v", last)
	}
}

func TestSetCursor_Unlimited(t *testing.T) {
	tr, w, _ := newTracker(t, Config{})
	tr.SetCursor(&protocol.Cursor{Anchor: 1, Head: 1})
	if w.count() != 0 {
		t.Fatal("cursor sent while disconnected")
	}

	tr.Connected(w.send(t))
	if c := w.last().State.Cursor; c == nil || c.Head != 1 {
		t.Errorf("open state cursor = %+v, want the stored cursor", c)
	}
	tr.SetCursor(&protocol.Cursor{Anchor: 2, Head: 5})
	tr.SetCursor(nil)

	if w.count() != 3 {
		t.Fatalf("frames = %d, want 3", w.count())
	}
	if w.last().State.Cursor != nil {
		t.Error("cleared cursor still published")
	}
}

func TestSetCursor_CoalescesBursts(t *testing.T) {
	mock := clock.NewMock()
	tr, w, _ := newTracker(t, Config{CursorRate: 10, Clock: mock})
	tr.Connected(w.send(t))

	for i := 1; i <= 5; i++ {
		tr.SetCursor(&protocol.Cursor{Anchor: i, Head: i})
	}
	if w.count() != 2 {
		t.Fatalf("frames = %d, want state + first cursor", w.count())
	}

	mock.Add(100 * time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for w.count() != 3 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if w.count() != 3 {
		t.Fatalf("frames = %d, want one trailing flush", w.count())
	}
	if c := w.last().State.Cursor; c == nil || c.Head != 5 {
		t.Errorf("flushed cursor = %+v, want the latest position", c)
	}
}

func TestStop_SilencesCallbacks(t *testing.T) {
	tr, w, r := newTracker(t, Config{})
	tr.Connected(w.send(t))
	before := len(r.seen)

	tr.Stop()
	_ = tr.Apply(remoteFrame(t, protocol.AwarenessEntry{ClientID: 7, Clock: 1, State: state("x")}))
	tr.SetCursor(&protocol.Cursor{})
	tr.Disconnected(true)

	if len(r.seen) != before {
		t.Error("callbacks fired after Stop")
	}
}
