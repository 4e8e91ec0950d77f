// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

// Package syncengine drives the CRDT catch-up exchange over a connection,
// tracks the synced flag and detects sockets that open but never finish the
// initial catch-up.
package syncengine

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tomtom215/guildsync/internal/crdt"
	"github.com/tomtom215/guildsync/internal/metrics"
	"github.com/tomtom215/guildsync/internal/schedule"
)

// ErrSyncTimeout is reported when a connected cycle never reaches synced.
var ErrSyncTimeout = errors.New("synchronization timed out")

// DefaultTimeout is the stall bound.
const DefaultTimeout = 10 * time.Second

// SendFunc writes one SYNC payload to the live connection.
type SendFunc func(payload []byte) error

// Config configures an Engine.
type Config struct {
	// Timeout is the stall bound. Default: 10s
	Timeout time.Duration

	// Clock drives the stall timer. Default: wall clock
	Clock clock.Clock

	// OnSynced is called whenever the synced flag changes.
	OnSynced func(synced bool)

	// OnStall is called at most once per connected cycle with ErrSyncTimeout.
	OnStall func(err error)
}

// Engine owns the synced flag of one provider.
//
// The socket is never closed here: a stall is reported and closure remains
// the reconnect policy's concern.
type Engine struct {
	doc      crdt.Document
	clock    clock.Clock
	timeout  time.Duration
	stall    *schedule.Timer
	onSynced func(bool)
	onStall  func(error)

	mu          sync.Mutex
	send        SendFunc
	cycle       uint64
	synced      bool
	stalled     bool
	openedAt    time.Time
	cancelLocal func()
	stopped     bool
}

// New creates an engine for doc and starts forwarding local edits whenever a
// connection is live.
func New(doc crdt.Document, cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	e := &Engine{
		doc:      doc,
		clock:    cfg.Clock,
		timeout:  cfg.Timeout,
		stall:    schedule.New(cfg.Clock),
		onSynced: cfg.OnSynced,
		onStall:  cfg.OnStall,
	}
	e.cancelLocal = doc.OnLocalUpdate(e.forward)
	return e
}

// Connected starts a new cycle on an authenticated connection: it sends the
// sync request and arms the stall timer.
func (e *Engine) Connected(send SendFunc) {
	e.SetSynced(false)

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.cycle++
	cycle := e.cycle
	e.send = send
	e.stalled = false
	e.openedAt = e.clock.Now()
	e.mu.Unlock()

	e.stall.Schedule(e.timeout, func() { e.expire(cycle) })
	// Send errors surface as a socket close on the read side.
	_ = send(e.doc.SyncRequest())
}

// Handle applies an inbound SYNC payload. Decode errors are returned so the
// caller can drop and count the frame; they never end the cycle.
func (e *Engine) Handle(payload []byte) error {
	reply, done, err := e.doc.HandleSync(payload)
	if err != nil {
		return err
	}

	e.mu.Lock()
	send := e.send
	e.mu.Unlock()

	if reply != nil && send != nil {
		_ = send(reply)
	}
	if done {
		e.SetSynced(true)
	}
	return nil
}

// SetSynced records an observation of the synced flag. A true observation
// cancels the pending stall check; a false one clears it without error.
func (e *Engine) SetSynced(synced bool) {
	e.stall.Stop()

	e.mu.Lock()
	if e.stopped || e.synced == synced {
		e.mu.Unlock()
		return
	}
	e.synced = synced
	elapsed := e.clock.Since(e.openedAt)
	connected := e.send != nil
	notify := e.onSynced
	e.mu.Unlock()

	if synced && connected {
		metrics.RecordSynced(elapsed)
	}
	if notify != nil {
		notify(synced)
	}
}

// Disconnected ends the current cycle.
func (e *Engine) Disconnected() {
	e.mu.Lock()
	e.send = nil
	e.mu.Unlock()
	e.SetSynced(false)
}

// Synced reports the current synced flag.
func (e *Engine) Synced() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.synced
}

// Stalled reports whether the current cycle already reported a stall.
func (e *Engine) Stalled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stalled
}

// Stop cancels the stall timer and detaches from the document. No callback
// fires after Stop returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.send = nil
	cancel := e.cancelLocal
	e.mu.Unlock()

	e.stall.Stop()
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) expire(cycle uint64) {
	e.mu.Lock()
	if e.stopped || cycle != e.cycle || e.synced || e.stalled || e.send == nil {
		e.mu.Unlock()
		return
	}
	e.stalled = true
	notify := e.onStall
	e.mu.Unlock()

	metrics.RecordSyncStall()
	if notify != nil {
		notify(ErrSyncTimeout)
	}
}

func (e *Engine) forward(msg []byte) {
	e.mu.Lock()
	send := e.send
	e.mu.Unlock()
	if send != nil {
		_ = send(msg)
	}
}
