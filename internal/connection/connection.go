// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

// Package connection owns one physical socket: it dials, sends the AUTH frame
// before anything else, demultiplexes inbound frames and reports the close
// code exactly once. Retrying is left to the owner; a Conn is never reused.
package connection

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/guildsync/internal/logging"
	"github.com/tomtom215/guildsync/internal/metrics"
	"github.com/tomtom215/guildsync/internal/protocol"
	"github.com/tomtom215/guildsync/internal/transport"
)

// CredentialsFunc supplies the AUTH payload for a new socket. Returning a
// *transport.CloseError with protocol.CloseAuthRejected treats the attempt
// as an auth rejection; any other error is transient.
type CredentialsFunc func(ctx context.Context) (protocol.Auth, error)

// Handler receives socket events. Callbacks run on the connection's reader
// goroutine, one at a time.
type Handler struct {
	// OnOpen runs after the AUTH frame has been written.
	OnOpen func()

	// OnAuthenticated runs once, before the first OnFrame, when the server
	// proves it accepted AUTH by sending anything at all. An AUTH frame from
	// the server is an explicit acknowledgement and is not passed to OnFrame.
	OnAuthenticated func()

	// OnFrame runs for every well-formed inbound frame.
	OnFrame func(frame protocol.Frame)

	// OnClose runs once with the close code unless Close was called first.
	OnClose func(code int)
}

// Config describes one connection attempt.
type Config struct {
	URL         string
	Dialer      transport.Dialer
	Credentials CredentialsFunc

	// Channel labels metrics and logs ("collab" or "updates").
	Channel string

	// Logger defaults to the global logger tagged with the channel.
	Logger *zerolog.Logger
}

// Conn is one connection attempt.
type Conn struct {
	cfg     Config
	log     zerolog.Logger
	handler Handler
	cancel  context.CancelFunc

	mu            sync.Mutex
	socket        transport.Conn
	closed        bool
	reported      bool
	open          bool
	authenticated bool
}

// Open starts dialing in the background and returns immediately.
func Open(ctx context.Context, cfg Config, h Handler) *Conn {
	if cfg.Channel == "" {
		cfg.Channel = metrics.ChannelCollab
	}
	log := logging.WithComponent("connection").With().Str("channel", cfg.Channel).Logger()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &Conn{cfg: cfg, log: log, handler: h, cancel: cancel}
	go c.run(ctx)
	return c
}

// Send encodes and writes one frame.
func (c *Conn) Send(kind protocol.Kind, payload []byte) error {
	return c.SendFrame(protocol.Encode(kind, payload))
}

// SendFrame writes an already encoded frame.
func (c *Conn) SendFrame(frame []byte) error {
	c.mu.Lock()
	socket := c.socket
	ready := c.open && !c.closed
	c.mu.Unlock()

	if !ready || socket == nil {
		return transport.ErrClosed
	}
	if err := socket.WriteFrame(frame); err != nil {
		return err
	}
	if len(frame) > 0 {
		metrics.RecordFrameSent(c.cfg.Channel, protocol.Kind(frame[0]).String())
	}
	return nil
}

// Close shuts the socket down without waiting for the peer and suppresses
// OnClose. It is safe to call more than once and before the dial finishes.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	socket := c.socket
	wasOpen := c.open
	c.open = false
	c.mu.Unlock()

	c.cancel()
	if socket != nil {
		_ = socket.Close(protocol.CloseNormal, "")
	}
	if wasOpen {
		metrics.TrackConnection(c.cfg.Channel, false)
	}
}

// IsOpen reports whether the socket is authenticated and not closed.
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && !c.closed
}

func (c *Conn) run(ctx context.Context) {
	log := c.log

	auth, err := c.cfg.Credentials(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("credentials unavailable")
		c.finish(transport.CloseCode(err))
		return
	}
	authFrame, err := protocol.EncodeAuth(auth)
	if err != nil {
		c.finish(protocol.CloseInternalError)
		return
	}

	socket, err := c.cfg.Dialer.Dial(ctx, c.cfg.URL)
	metrics.RecordConnectAttempt(c.cfg.Channel, err)
	if err != nil {
		log.Debug().Err(err).Str("url", c.cfg.URL).Msg("dial failed")
		c.finish(transport.CloseCode(err))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = socket.Close(protocol.CloseNormal, "")
		return
	}
	c.socket = socket
	c.mu.Unlock()

	// AUTH goes out before OnOpen so nothing can overtake it.
	if err := socket.WriteFrame(authFrame); err != nil {
		c.finish(transport.CloseCode(err))
		return
	}
	metrics.RecordFrameSent(c.cfg.Channel, protocol.KindAuth.String())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.open = true
	c.mu.Unlock()
	metrics.TrackConnection(c.cfg.Channel, true)

	if c.handler.OnOpen != nil && !c.isClosed() {
		c.handler.OnOpen()
	}

	for {
		data, err := socket.ReadFrame()
		if err != nil {
			c.finish(transport.CloseCode(err))
			return
		}
		frame, err := protocol.Decode(data)
		if err != nil {
			metrics.RecordDroppedFrame(c.cfg.Channel)
			log.Debug().Err(err).Int("size", len(data)).Msg("dropping malformed frame")
			continue
		}
		metrics.RecordFrame(c.cfg.Channel, frame.Kind.String())
		if c.isClosed() {
			return
		}
		if !c.authenticated {
			c.mu.Lock()
			c.authenticated = true
			c.mu.Unlock()
			if c.handler.OnAuthenticated != nil {
				c.handler.OnAuthenticated()
			}
		}
		if frame.Kind == protocol.KindAuth {
			continue
		}
		if c.handler.OnFrame != nil {
			c.handler.OnFrame(frame)
		}
	}
}

// finish reports the close code once, unless the owner closed first.
func (c *Conn) finish(code int) {
	c.mu.Lock()
	if c.closed || c.reported {
		c.mu.Unlock()
		return
	}
	c.reported = true
	c.closed = true
	socket := c.socket
	wasOpen := c.open
	c.open = false
	c.mu.Unlock()

	c.cancel()
	if socket != nil {
		_ = socket.Close(code, "")
	}
	if wasOpen {
		metrics.TrackConnection(c.cfg.Channel, false)
	}
	c.log.Debug().Int("close_code", code).Msg("socket closed")
	if c.handler.OnClose != nil {
		c.handler.OnClose(code)
	}
}

// Authenticated reports whether the server has accepted AUTH.
func (c *Conn) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
