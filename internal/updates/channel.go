// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

// Package updates runs the session-wide generic update channel: one socket
// per session that pushes resource-change events for tasks, projects,
// comments and documents, which are turned into cache invalidations.
//
// The channel is independent of the collaboration sockets. It authenticates
// the same way and shares the auth-failure escalation, but nothing orders its
// events relative to document traffic.
package updates

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/guildsync/internal/cache"
	"github.com/tomtom215/guildsync/internal/connection"
	"github.com/tomtom215/guildsync/internal/listener"
	"github.com/tomtom215/guildsync/internal/logging"
	"github.com/tomtom215/guildsync/internal/metrics"
	"github.com/tomtom215/guildsync/internal/protocol"
	"github.com/tomtom215/guildsync/internal/reconnect"
	"github.com/tomtom215/guildsync/internal/schedule"
	"github.com/tomtom215/guildsync/internal/transport"
)

// Path is the update endpoint below the REST base URL.
const Path = "events/updates"

// ErrLoggedOut is returned by Serve once repeated auth rejections ended the
// session.
var ErrLoggedOut = errors.New("update channel: logged out after repeated auth rejections")

// Invalidator is the part of the cache the channel drives.
type Invalidator interface {
	Invalidate(keys ...cache.Key) int
}

// Config configures a Channel.
type Config struct {
	// ServerURL is the REST API base.
	ServerURL string

	// Dialer opens sockets. Default: transport.NewWebSocketDialer()
	Dialer transport.Dialer

	// Credentials supplies the AUTH payload. Required.
	Credentials connection.CredentialsFunc

	// Clock drives retry timers. Default: wall clock
	Clock clock.Clock

	Reconnect reconnect.Config

	// Cache receives invalidations. Optional.
	Cache Invalidator

	// OnEvent observes every routed event. Optional.
	OnEvent func(ev protocol.ResourceEvent, keys []cache.Key)

	// OnForcedLogout runs once when auth rejections exhaust the policy.
	OnForcedLogout func()
}

// Channel is the session's update socket.
type Channel struct {
	cfg    Config
	url    string
	log    zerolog.Logger
	retry  *schedule.Timer
	policy *reconnect.Policy

	statusListeners listener.Set[connection.Status]

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	conn      *connection.Conn
	gen       uint64
	running   bool
	status    connection.Status
	loggedOut bool
	done      chan struct{}
}

// New creates a stopped channel.
func New(cfg Config) (*Channel, error) {
	if cfg.Credentials == nil {
		return nil, errors.New("update channel: credentials are required")
	}
	if cfg.Dialer == nil {
		cfg.Dialer = transport.NewWebSocketDialer()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	url, err := transport.SocketURL(cfg.ServerURL, Path)
	if err != nil {
		return nil, fmt.Errorf("update channel: %w", err)
	}
	return &Channel{
		cfg:    cfg,
		url:    url,
		log:    logging.WithComponent("updates"),
		retry:  schedule.New(cfg.Clock),
		policy: reconnect.NewPolicy(cfg.Reconnect),
		status: connection.StatusDisconnected,
		done:   make(chan struct{}),
	}, nil
}

// Start opens the socket. It is idempotent and a no-op after logout.
func (c *Channel) Start() {
	c.mu.Lock()
	if c.running || c.loggedOut {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(context.Background())
	changed := c.startLocked()
	c.mu.Unlock()

	if changed {
		c.statusListeners.Emit(connection.StatusConnecting)
	}
}

// Stop closes the socket and cancels any pending retry.
func (c *Channel) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.retry.Stop()
	conn := c.conn
	c.conn = nil
	c.gen++
	cancel := c.cancel
	changed := c.setStatusLocked(connection.StatusDisconnected)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	if changed {
		c.statusListeners.Emit(connection.StatusDisconnected)
	}
}

// Serve implements suture.Service. It runs the channel until ctx ends, or
// returns suture.ErrDoNotRestart once the session is logged out.
func (c *Channel) Serve(ctx context.Context) error {
	c.Start()
	defer c.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("%w: %w", suture.ErrDoNotRestart, ErrLoggedOut)
	}
}

// String implements fmt.Stringer for supervisor logs.
func (c *Channel) String() string { return "update-channel" }

// Status returns the current status.
func (c *Channel) Status() connection.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LoggedOut reports whether repeated auth rejections ended the channel.
func (c *Channel) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

// AuthFailures returns the consecutive auth rejection count.
func (c *Channel) AuthFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy.Failures()
}

// OnStatus subscribes to status changes.
func (c *Channel) OnStatus(fn func(connection.Status)) (unsubscribe func()) {
	return c.statusListeners.Add(fn)
}

func (c *Channel) startLocked() bool {
	c.gen++
	gen := c.gen
	c.conn = connection.Open(c.ctx, connection.Config{
		URL:         c.url,
		Dialer:      c.cfg.Dialer,
		Credentials: c.cfg.Credentials,
		Channel:     metrics.ChannelUpdates,
		Logger:      &c.log,
	}, connection.Handler{
		OnOpen:          func() { c.handleOpen(gen) },
		OnAuthenticated: func() { c.handleAuthenticated(gen) },
		OnFrame:         func(f protocol.Frame) { c.handleFrame(gen, f) },
		OnClose:         func(code int) { c.handleClose(gen, code) },
	})
	return c.setStatusLocked(connection.StatusConnecting)
}

func (c *Channel) setStatusLocked(s connection.Status) bool {
	if c.status == s {
		return false
	}
	c.status = s
	return true
}

func (c *Channel) live(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running && gen == c.gen
}

func (c *Channel) handleOpen(gen uint64) {
	c.mu.Lock()
	if !c.running || gen != c.gen {
		c.mu.Unlock()
		return
	}
	changed := c.setStatusLocked(connection.StatusConnected)
	c.mu.Unlock()

	c.log.Info().Msg("update channel connected")
	if changed {
		c.statusListeners.Emit(connection.StatusConnected)
	}
}

func (c *Channel) handleAuthenticated(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running && gen == c.gen {
		c.policy.Opened()
	}
}

// handleFrame routes one event. Anything that is not a well-formed EVENT is
// dropped without affecting the socket.
func (c *Channel) handleFrame(gen uint64, f protocol.Frame) {
	if !c.live(gen) {
		return
	}
	if f.Kind != protocol.KindEvent {
		metrics.RecordDroppedFrame(metrics.ChannelUpdates)
		return
	}
	ev, err := protocol.DecodeEvent(f.Payload)
	if err != nil {
		metrics.RecordDroppedFrame(metrics.ChannelUpdates)
		c.log.Debug().Err(err).Msg("dropping malformed event")
		return
	}
	keys := Route(ev)
	if len(keys) == 0 {
		metrics.RecordDroppedFrame(metrics.ChannelUpdates)
		c.log.Debug().Str("resource", ev.Resource).Msg("dropping unrecognized resource event")
		return
	}

	if c.cfg.Cache != nil {
		c.cfg.Cache.Invalidate(keys...)
	}
	metrics.RecordInvalidation(ev.Resource)
	c.log.Debug().Str("resource", ev.Resource).Int("keys", len(keys)).Msg("cache invalidated")
	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(ev, keys)
	}
}

func (c *Channel) handleClose(gen uint64, code int) {
	c.mu.Lock()
	if !c.running || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	decision := c.policy.Closed(code)

	var (
		status  = c.status
		changed bool
		logout  bool
		cancel  context.CancelFunc
	)
	switch decision.Action {
	case reconnect.Retry:
		status = connection.StatusDisconnected
		changed = c.setStatusLocked(status)
		c.retry.Schedule(decision.Delay, func() { c.handleRetry(gen) })
	case reconnect.Logout:
		status = connection.StatusError
		changed = c.setStatusLocked(status)
		logout = !c.loggedOut
		c.loggedOut = true
		c.running = false
		cancel = c.cancel
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	log := c.log.With().Int("close_code", code).Int("failures", decision.Failures).Logger()
	switch decision.Action {
	case reconnect.Retry:
		metrics.RecordReconnect(metrics.ChannelUpdates, decision.AuthRejected)
		log.Info().Dur("delay", decision.Delay).Bool("auth_rejected", decision.AuthRejected).Msg("update channel closed; reconnect scheduled")
	case reconnect.Logout:
		metrics.RecordForcedLogout(metrics.ChannelUpdates)
		log.Warn().Msg("update channel authentication rejected repeatedly; forcing logout")
	}

	if changed {
		c.statusListeners.Emit(status)
	}
	if logout {
		close(c.done)
		if c.cfg.OnForcedLogout != nil {
			c.cfg.OnForcedLogout()
		}
	}
}

func (c *Channel) handleRetry(gen uint64) {
	c.mu.Lock()
	if !c.running || c.loggedOut || c.conn != nil || gen != c.gen {
		c.mu.Unlock()
		return
	}
	changed := c.startLocked()
	c.mu.Unlock()

	if changed {
		c.statusListeners.Emit(connection.StatusConnecting)
	}
}
