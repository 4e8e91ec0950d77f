// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

// Package transport abstracts the physical socket so the connection state
// machines can be driven by a real websocket or by an in-memory fake.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/guildsync/internal/protocol"
)

// Conn is one open physical socket carrying binary frames.
//
// ReadFrame is called from a single goroutine. WriteFrame may be called
// concurrently with ReadFrame and must be safe for concurrent writers.
// Close is fire-and-forget: it must not wait for the peer's acknowledgement.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close(code int, reason string) error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}

// ErrClosed is returned by WriteFrame after the socket has been closed.
var ErrClosed = errors.New("connection closed")

// CloseError reports the close frame received from the peer.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed with code %d", e.Code)
	}
	return fmt.Sprintf("connection closed with code %d: %s", e.Code, e.Reason)
}

// CloseCode extracts the close code carried by err. Errors that do not carry
// one (dial failures, resets, timeouts) map to protocol.CloseAbnormal, and a
// nil error maps to protocol.CloseNormal.
func CloseCode(err error) int {
	if err == nil {
		return protocol.CloseNormal
	}
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return protocol.CloseAbnormal
}
