// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

// Package schedule provides the one-shot timer used for reconnect delays,
// sync stall detection and deferred teardown.
package schedule

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Timer runs at most one pending callback at a time. Scheduling a new
// callback replaces the pending one, and Stop guarantees that a callback
// which has not started yet will never run.
//
// The zero value is not usable; create timers with New.
type Timer struct {
	clock clock.Clock

	mu      sync.Mutex
	timer   *clock.Timer
	gen     uint64
	pending bool
}

// New creates a timer driven by clk. A nil clk uses the wall clock.
func New(clk clock.Clock) *Timer {
	if clk == nil {
		clk = clock.New()
	}
	return &Timer{clock: clk}
}

// Schedule arms the timer to call fn after d, replacing any pending callback.
func (t *Timer) Schedule(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.pending = true
	t.timer = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		if gen != t.gen || !t.pending {
			t.mu.Unlock()
			return
		}
		t.pending = false
		t.timer = nil
		t.mu.Unlock()
		fn()
	})
}

// Stop cancels the pending callback. It reports whether one was pending.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasPending := t.pending
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	t.pending = false
	return wasPending
}

// Pending reports whether a callback is armed and has not fired yet.
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}
