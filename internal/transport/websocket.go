// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/guildsync/internal/logging"
)

const (
	// writeWait is the time allowed to write a frame or control message.
	writeWait = 10 * time.Second

	// closeGrace bounds the best-effort close frame so Close never waits on a
	// peer that stopped reading.
	closeGrace = time.Second

	// pongWait is how long a socket may stay silent before it is considered dead.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxFrameSize bounds inbound frames; CRDT snapshots of large documents fit comfortably.
	maxFrameSize = 16 << 20
)

// WebSocketDialer dials gorilla/websocket connections.
type WebSocketDialer struct {
	dialer websocket.Dialer
}

// NewWebSocketDialer creates a dialer with a 10 second handshake timeout and
// permessage-deflate negotiation enabled.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{
		dialer: websocket.Dialer{
			HandshakeTimeout:  10 * time.Second,
			EnableCompression: true,
		},
	}
}

// Dial implements Dialer. The URL must not carry credentials.
func (d *WebSocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, rawURL, nil)
	if resp != nil && resp.Body != nil {
		if cerr := resp.Body.Close(); cerr != nil {
			logging.Debug().Err(cerr).Msg("failed to close handshake response body")
		}
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return newWSConn(conn), nil
}

// wsConn adapts *websocket.Conn to Conn and keeps the socket alive with pings.
type wsConn struct {
	conn *websocket.Conn

	// writeMu serializes data frames; control frames go through WriteControl,
	// which is safe to call concurrently.
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{conn: conn, done: make(chan struct{})}
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.pingLoop()
	return c
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return nil, &CloseError{Code: ce.Code, Reason: ce.Text}
			}
			return nil, err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) WriteFrame(frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *wsConn) Close(code int, reason string) error {
	var err error
	c.once.Do(func() {
		close(c.done)
		// WriteControl may run alongside a blocked WriteFrame. It gives up after
		// closeGrace, and closing the socket then unblocks the stuck writer.
		// The peer's close acknowledgement is never awaited.
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(closeGrace))
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil {
				logging.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		}
	}
}

// SocketURL converts a REST base URL (http/https) into the websocket URL of
// path below it (ws/wss). Query strings and fragments on the base are dropped
// so that nothing sensitive leaks into the socket URL.
//
//	SocketURL("https://app.example.com/api/v1", "documents/doc-42/collaborate")
//	// wss://app.example.com/api/v1/documents/doc-42/collaborate
func SocketURL(base, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", base)
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawPath = ""
	return u.String(), nil
}
