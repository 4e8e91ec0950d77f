// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

// Package provider binds one CRDT document to one collaboration socket.
//
// A Provider is a small state machine:
//
//	Disconnected --Connect--> Connecting --open--> Connected
//	Connected --close--> Disconnected --retry timer--> Connecting
//	Connected --stall--> Error --late sync--> Connected
//	any --third auth rejection--> Error (terminal)
//
// Providers are shared through a Registry so that every consumer of a
// document key gets the same instance and the same socket.
package provider

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/guildsync/internal/connection"
	"github.com/tomtom215/guildsync/internal/crdt"
	"github.com/tomtom215/guildsync/internal/listener"
	"github.com/tomtom215/guildsync/internal/logging"
	"github.com/tomtom215/guildsync/internal/metrics"
	"github.com/tomtom215/guildsync/internal/presence"
	"github.com/tomtom215/guildsync/internal/protocol"
	"github.com/tomtom215/guildsync/internal/reconnect"
	"github.com/tomtom215/guildsync/internal/schedule"
	"github.com/tomtom215/guildsync/internal/syncengine"
)

// ErrAuthExhausted is reported after repeated auth rejections force a logout.
var ErrAuthExhausted = errors.New("authentication rejected repeatedly; logged out")

// Status re-exports the connection status for provider consumers.
type Status = connection.Status

// Provider statuses.
const (
	StatusDisconnected = connection.StatusDisconnected
	StatusConnecting   = connection.StatusConnecting
	StatusConnected    = connection.StatusConnected
	StatusError        = connection.StatusError
)

// Provider owns one document's connection, sync state and presence roster.
type Provider struct {
	key     Key
	url     string
	doc     crdt.Document
	opts    Options
	log     zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	engine  *syncengine.Engine
	tracker *presence.Tracker

	retry    *schedule.Timer
	teardown *schedule.Timer

	statusListeners listener.Set[Status]
	syncedListeners listener.Set[bool]
	errorListeners  listener.Set[error]
	rosterListeners listener.Set[[]presence.Collaborator]

	// onTeardown lets a registry serialize deferred teardown with lookups.
	onTeardown func(p *Provider, gen uint64)
	onDestroy  func(p *Provider)

	mu           sync.Mutex
	status       Status
	conn         *connection.Conn
	gen          uint64
	want         bool
	terminal     bool
	destroyed    bool
	lastErr      error
	policy       *reconnect.Policy
	teardownGen  uint64
	releasing    bool
	logoutCalled bool
}

// New creates a disconnected provider. Most callers should go through a
// Registry instead.
func New(key Key, doc crdt.Document, opts Options) (*Provider, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNoDocument
	}
	if opts.Credentials == nil {
		return nil, errors.New("provider: credentials are required")
	}
	url, err := key.SocketURL()
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	p := &Provider{
		key:      key,
		url:      url,
		doc:      doc,
		opts:     opts,
		log:      logging.WithComponent("provider").With().Str("document_id", key.DocumentID).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		retry:    schedule.New(opts.Clock),
		teardown: schedule.New(opts.Clock),
		policy:   reconnect.NewPolicy(opts.Reconnect),
		status:   StatusDisconnected,
	}
	p.engine = syncengine.New(doc, syncengine.Config{
		Timeout:  opts.SyncTimeout,
		Clock:    opts.Clock,
		OnSynced: p.handleSynced,
		OnStall:  p.handleStall,
	})
	p.tracker = presence.NewTracker(presence.Config{
		ClientID:    opts.ClientID,
		DisplayName: opts.DisplayName,
		Color:       opts.color(),
		CursorRate:  opts.CursorRate,
		Clock:       opts.Clock,
		OnChange:    p.handleRoster,
	})
	return p, nil
}

// Key returns the provider's registry key.
func (p *Provider) Key() Key { return p.key }

// Document returns the CRDT handle. The provider owns its lifecycle.
func (p *Provider) Document() crdt.Document { return p.doc }

// ClientID returns the awareness client id.
func (p *Provider) ClientID() uint32 { return p.tracker.ClientID() }

// LocalPresence returns the state published for this client.
func (p *Provider) LocalPresence() protocol.PresenceState { return p.tracker.LocalState() }

// Status returns the current connection status.
func (p *Provider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Err returns the last error reported to error listeners, if any.
func (p *Provider) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Synced reports whether the initial catch-up of the current cycle finished.
func (p *Provider) Synced() bool { return p.engine.Synced() }

// Collaborators returns the current roster.
func (p *Provider) Collaborators() []presence.Collaborator { return p.tracker.Roster() }

// AuthFailures returns the consecutive auth rejection count.
func (p *Provider) AuthFailures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policy.Failures()
}

// Destroyed reports whether Destroy has run.
func (p *Provider) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// OnStatus subscribes to status changes.
func (p *Provider) OnStatus(fn func(Status)) (unsubscribe func()) {
	return p.statusListeners.Add(fn)
}

// OnSynced subscribes to synced flag changes.
func (p *Provider) OnSynced(fn func(bool)) (unsubscribe func()) {
	return p.syncedListeners.Add(fn)
}

// OnError subscribes to user-facing failures: sync stalls and auth exhaustion.
func (p *Provider) OnError(fn func(error)) (unsubscribe func()) {
	return p.errorListeners.Add(fn)
}

// OnCollaborators subscribes to roster changes. Listeners receive the full
// roster every time.
func (p *Provider) OnCollaborators(fn func([]presence.Collaborator)) (unsubscribe func()) {
	return p.rosterListeners.Add(fn)
}

// SetCursor publishes the local cursor. Nil clears it.
func (p *Provider) SetCursor(c *protocol.Cursor) { p.tracker.SetCursor(c) }

// Connect opens the socket if it is not already open or opening, and cancels
// a pending teardown. After a stall it starts a fresh cycle. It is a no-op
// after Destroy or a forced logout.
func (p *Provider) Connect() {
	p.mu.Lock()
	if p.destroyed || p.terminal {
		p.mu.Unlock()
		return
	}
	p.cancelTeardownLocked()
	p.want = true

	if p.conn != nil && p.status == StatusError && errors.Is(p.lastErr, syncengine.ErrSyncTimeout) {
		stale := p.conn
		p.conn = nil
		p.gen++
		p.mu.Unlock()

		p.tracker.Disconnected(false)
		p.engine.Disconnected()
		stale.Close()

		p.mu.Lock()
		if p.destroyed || p.terminal || !p.want {
			p.mu.Unlock()
			return
		}
	}
	if p.conn != nil || p.retry.Pending() {
		p.mu.Unlock()
		return
	}
	changed := p.startLocked()
	p.mu.Unlock()

	if changed {
		p.emitStatus(StatusConnecting)
	}
}

// Disconnect closes the socket and stops reconnecting until the next
// Connect. Peers are told to drop this client from their rosters.
func (p *Provider) Disconnect() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.want = false
	p.retry.Stop()
	conn := p.conn
	p.conn = nil
	p.gen++
	changed := p.setStatusLocked(StatusDisconnected)
	p.mu.Unlock()

	p.tracker.Disconnected(true)
	p.engine.Disconnected()
	if conn != nil {
		conn.Close()
	}
	if changed {
		p.emitStatus(StatusDisconnected)
	}
}

// Release schedules a debounced teardown. A Connect, or a registry lookup of
// the same key, before the delay elapses keeps the provider alive.
func (p *Provider) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed || p.releasing {
		return
	}
	p.releasing = true
	p.teardownGen++
	gen := p.teardownGen
	p.teardown.Schedule(p.opts.TeardownDelay, func() { p.expireTeardown(gen) })
}

// Releasing reports whether a teardown is pending.
func (p *Provider) Releasing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releasing
}

// Destroy cancels every timer, closes the socket without waiting and drops
// all listeners. No callback fires afterwards.
func (p *Provider) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.want = false
	p.releasing = false
	p.retry.Stop()
	p.teardown.Stop()
	conn := p.conn
	p.conn = nil
	p.gen++
	p.status = StatusDisconnected
	onDestroy := p.onDestroy
	p.mu.Unlock()

	p.statusListeners.Close()
	p.syncedListeners.Close()
	p.errorListeners.Close()
	p.rosterListeners.Close()

	p.tracker.Disconnected(true)
	p.tracker.Stop()
	p.engine.Stop()
	metrics.ForgetCollaborators(p.key.DocumentID)
	if conn != nil {
		conn.Close()
	}
	p.cancel()

	if onDestroy != nil {
		onDestroy(p)
	}
	p.log.Debug().Msg("provider destroyed")
}

// cancelTeardownLocked keeps a released provider alive.
func (p *Provider) cancelTeardownLocked() {
	if !p.releasing {
		return
	}
	p.releasing = false
	p.teardownGen++
	p.teardown.Stop()
}

// teardownPending reports whether gen is still the live teardown request.
func (p *Provider) teardownPending(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releasing && p.teardownGen == gen && !p.destroyed
}

func (p *Provider) expireTeardown(gen uint64) {
	if p.onTeardown != nil {
		p.onTeardown(p, gen)
		return
	}
	if p.teardownPending(gen) {
		p.Destroy()
	}
}

// startLocked opens a new connection attempt.
func (p *Provider) startLocked() bool {
	p.gen++
	gen := p.gen
	p.conn = connection.Open(p.ctx, connection.Config{
		URL:         p.url,
		Dialer:      p.opts.Dialer,
		Credentials: p.opts.Credentials,
		Channel:     metrics.ChannelCollab,
		Logger:      &p.log,
	}, connection.Handler{
		OnOpen:          func() { p.handleOpen(gen) },
		OnAuthenticated: func() { p.handleAuthenticated(gen) },
		OnFrame:         func(f protocol.Frame) { p.handleFrame(gen, f) },
		OnClose:         func(code int) { p.handleClose(gen, code) },
	})
	p.log.Debug().Uint64("attempt", gen).Msg("connecting")
	return p.setStatusLocked(StatusConnecting)
}

func (p *Provider) setStatusLocked(s Status) bool {
	if p.status == s {
		return false
	}
	p.status = s
	return true
}

// current returns the live connection for gen, or nil if gen is stale.
func (p *Provider) current(gen uint64) *connection.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed || gen != p.gen {
		return nil
	}
	return p.conn
}

func (p *Provider) handleOpen(gen uint64) {
	p.mu.Lock()
	if p.destroyed || gen != p.gen || p.conn == nil {
		p.mu.Unlock()
		return
	}
	conn := p.conn
	p.lastErr = nil
	changed := p.setStatusLocked(StatusConnected)
	p.mu.Unlock()

	p.log.Info().Msg("connected")
	if changed {
		p.emitStatus(StatusConnected)
	}
	p.engine.Connected(func(payload []byte) error {
		return conn.Send(protocol.KindSync, payload)
	})
	p.tracker.Connected(conn.SendFrame)
}

// handleAuthenticated resets the auth failure streak once the server has
// accepted the credential.
func (p *Provider) handleAuthenticated(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed || gen != p.gen {
		return
	}
	p.policy.Opened()
}

func (p *Provider) handleFrame(gen uint64, f protocol.Frame) {
	if p.current(gen) == nil {
		return
	}
	var err error
	switch f.Kind {
	case protocol.KindSync:
		err = p.engine.Handle(f.Payload)
	case protocol.KindAwareness:
		err = p.tracker.Apply(f.Payload)
	default:
		err = protocol.ErrUnknownKind
	}
	if err != nil {
		metrics.RecordDroppedFrame(metrics.ChannelCollab)
		p.log.Debug().Err(err).Str("kind", f.Kind.String()).Msg("dropping frame")
	}
}

func (p *Provider) handleClose(gen uint64, code int) {
	p.mu.Lock()
	if p.destroyed || gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.conn = nil
	decision := p.policy.Closed(code)

	var (
		changed bool
		status  = p.status
		logout  bool
	)
	switch decision.Action {
	case reconnect.Retry:
		status = StatusDisconnected
		changed = p.setStatusLocked(status)
	case reconnect.Logout:
		status = StatusError
		changed = p.setStatusLocked(status)
		p.terminal = true
		p.want = false
		p.lastErr = ErrAuthExhausted
		logout = !p.logoutCalled
		p.logoutCalled = true
	}
	p.mu.Unlock()

	// The cycle ends before the retry is armed so the next open starts clean.
	p.tracker.Disconnected(false)
	p.engine.Disconnected()

	log := p.log.With().Int("close_code", code).Int("failures", decision.Failures).Logger()
	switch decision.Action {
	case reconnect.Retry:
		p.mu.Lock()
		scheduled := !p.destroyed && p.want && gen == p.gen && p.conn == nil
		if scheduled {
			p.retry.Schedule(decision.Delay, func() { p.handleRetry(gen) })
		}
		p.mu.Unlock()
		if scheduled {
			metrics.RecordReconnect(metrics.ChannelCollab, decision.AuthRejected)
			log.Info().Dur("delay", decision.Delay).Bool("auth_rejected", decision.AuthRejected).Msg("connection closed; reconnect scheduled")
		}
	case reconnect.Logout:
		metrics.RecordForcedLogout(metrics.ChannelCollab)
		log.Warn().Msg("authentication rejected repeatedly; forcing logout")
	}

	if changed {
		p.emitStatus(status)
	}
	if logout {
		p.emitError(ErrAuthExhausted)
		if p.opts.OnForcedLogout != nil {
			p.opts.OnForcedLogout()
		}
	}
}

func (p *Provider) handleRetry(gen uint64) {
	p.mu.Lock()
	// gen is the attempt that closed; nothing may have started since.
	if p.destroyed || p.terminal || !p.want || p.conn != nil || gen != p.gen {
		p.mu.Unlock()
		return
	}
	changed := p.startLocked()
	p.mu.Unlock()

	if changed {
		p.emitStatus(StatusConnecting)
	}
}

func (p *Provider) handleSynced(synced bool) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	changed := false
	if synced && p.conn != nil && p.status == StatusError && errors.Is(p.lastErr, syncengine.ErrSyncTimeout) {
		p.lastErr = nil
		changed = p.setStatusLocked(StatusConnected)
	}
	p.mu.Unlock()

	if synced {
		p.log.Debug().Msg("document synced")
	}
	p.syncedListeners.Emit(synced)
	if changed {
		p.emitStatus(StatusConnected)
	}
}

func (p *Provider) handleStall(err error) {
	p.mu.Lock()
	if p.destroyed || p.conn == nil {
		p.mu.Unlock()
		return
	}
	p.lastErr = err
	changed := p.setStatusLocked(StatusError)
	p.mu.Unlock()

	p.log.Warn().Dur("timeout", p.opts.SyncTimeout).Msg("document never finished syncing")
	if changed {
		p.emitStatus(StatusError)
	}
	p.emitError(err)
}

func (p *Provider) handleRoster(roster []presence.Collaborator) {
	// Set under p.mu so a concurrent Destroy cannot resurrect the series.
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	metrics.SetCollaborators(p.key.DocumentID, len(roster))
	p.mu.Unlock()
	p.rosterListeners.Emit(roster)
}

func (p *Provider) emitStatus(s Status) {
	p.statusListeners.Emit(s)
}

func (p *Provider) emitError(err error) {
	p.errorListeners.Emit(err)
}
