// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tomtom215/guildsync/internal/metrics"
	"github.com/tomtom215/guildsync/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	authWait       = 10 * time.Second
	maxMessageSize = 16 << 20
	sendBuffer     = 256
)

// clientIDCounter orders clients for deterministic fan-out.
var clientIDCounter atomic.Uint64

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	id         uint64
	hub        *Hub
	conn       *websocket.Conn
	channel    string
	documentID string
	log        zerolog.Logger

	send       chan []byte
	writerDone chan struct{}

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
}

func newClient(hub *Hub, conn *websocket.Conn, channel, documentID string, log zerolog.Logger) *Client {
	id := clientIDCounter.Add(1)
	return &Client{
		id:         id,
		hub:        hub,
		conn:       conn,
		channel:    channel,
		documentID: documentID,
		log:        log.With().Uint64("client", id).Logger(),
		send:       make(chan []byte, sendBuffer),
		writerDone: make(chan struct{}),
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() uint64 { return c.id }

// Start begins reading and writing for the client.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// enqueue queues a frame. A client that cannot keep up is disconnected.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		metrics.RecordFrameSent("relay_"+c.channel, protocol.Kind(frame[0]).String())
		return true
	default:
		c.log.Warn().Msg("send buffer full, disconnecting slow client")
		c.closeLocked(protocol.CloseGoingAway, "slow consumer")
		return false
	}
}

// closeWith flushes queued frames and then closes the socket with code.
func (c *Client) closeWith(code int, reason string) {
	c.mu.Lock()
	c.closeLocked(code, reason)
	c.mu.Unlock()
}

func (c *Client) closeLocked(code int, reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.send)
}

// readPump authenticates the connection and then pumps frames to the hub.
func (c *Client) readPump() {
	joined := false
	defer func() {
		if joined {
			c.hub.leave(c)
		}
		c.closeWith(protocol.CloseNormal, "")
		select {
		case <-c.writerDone:
		case <-time.After(writeWait):
		}
		_ = c.conn.Close() // best-effort cleanup
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(authWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if !c.authenticate() {
		return
	}
	if !c.hub.join(c) {
		c.closeWith(protocol.CloseGoingAway, "relay shutting down")
		return
	}
	joined = true
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("unexpected websocket close error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		frame, err := protocol.Decode(data)
		if err != nil {
			metrics.RecordDroppedFrame("relay_" + c.channel)
			continue
		}
		metrics.RecordFrame("relay_"+c.channel, frame.Kind.String())
		c.hub.dispatch(c, frame)
	}
}

// authenticate requires an accepted AUTH frame first and acknowledges it.
// Anything else closes the socket with the auth rejection code.
func (c *Client) authenticate() bool {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return false
	}
	frame, err := protocol.Decode(data)
	if err != nil || frame.Kind != protocol.KindAuth {
		c.closeWith(protocol.CloseAuthRejected, "auth required")
		return false
	}
	auth, err := protocol.DecodeAuth(frame.Payload)
	if err == nil {
		err = c.hub.auth.Verify(auth)
	}
	if err != nil {
		c.log.Info().Err(err).Str("guild", auth.GuildID).Msg("rejecting connection")
		c.closeWith(protocol.CloseAuthRejected, "unauthorized")
		return false
	}
	c.enqueue(protocol.Encode(protocol.KindAuth, nil))
	return true
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // best-effort cleanup
		close(c.writerDone)
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				c.mu.Lock()
				msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
				c.mu.Unlock()
				_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
