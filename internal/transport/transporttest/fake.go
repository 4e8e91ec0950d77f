// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

// Package transporttest provides an in-memory transport for driving the
// connection state machines in tests without a network.
//
//	dialer := transporttest.NewDialer()
//	p := provider.New(key, doc, provider.Options{Dialer: dialer, ...})
//	p.Connect()
//	conn := dialer.Next(t)
//	conn.ServerClose(protocol.CloseAuthRejected)
package transporttest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/guildsync/internal/transport"
)

// DefaultWait bounds every blocking helper in this package.
const DefaultWait = 2 * time.Second

// Dialer is a transport.Dialer that hands out fake sockets.
type Dialer struct {
	mu       sync.Mutex
	conns    []*Conn
	failures []error
	dialed   chan *Conn
}

// NewDialer creates an empty fake dialer.
func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Conn, 128)}
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		d.mu.Unlock()
		return nil, err
	}
	c := newConn(url)
	d.conns = append(d.conns, c)
	d.mu.Unlock()

	d.dialed <- c
	return c, nil
}

// FailNext makes the next dial attempt fail with err.
func (d *Dialer) FailNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, err)
}

// Next waits for the next successful dial and returns its socket.
func (d *Dialer) Next(tb testing.TB) *Conn {
	tb.Helper()
	select {
	case c := <-d.dialed:
		return c
	case <-time.After(DefaultWait):
		tb.Fatalf("no dial within %v", DefaultWait)
		return nil
	}
}

// ExpectNoDial fails the test if a dial happens within wait.
func (d *Dialer) ExpectNoDial(tb testing.TB, wait time.Duration) {
	tb.Helper()
	select {
	case c := <-d.dialed:
		tb.Fatalf("unexpected dial to %s", c.URL())
	case <-time.After(wait):
	}
}

// DialCount returns the number of sockets handed out so far.
func (d *Dialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// OpenCount returns the number of sockets that have not been closed by
// either side.
func (d *Dialer) OpenCount() int {
	d.mu.Lock()
	conns := append([]*Conn(nil), d.conns...)
	d.mu.Unlock()

	n := 0
	for _, c := range conns {
		if !c.Closed() {
			n++
		}
	}
	return n
}

type inbound struct {
	frame []byte
	err   error
}

// Conn is a fake socket. The test plays the server side.
type Conn struct {
	url     string
	inbound chan inbound
	writes  chan []byte
	done    chan struct{}

	mu        sync.Mutex
	written   [][]byte
	closed    bool
	closeCode int
}

func newConn(url string) *Conn {
	return &Conn{
		url:     url,
		inbound: make(chan inbound, 256),
		writes:  make(chan []byte, 256),
		done:    make(chan struct{}),
	}
}

// URL returns the URL this socket was dialed with.
func (c *Conn) URL() string { return c.url }

// ReadFrame implements transport.Conn.
func (c *Conn) ReadFrame() ([]byte, error) {
	select {
	case in := <-c.inbound:
		if in.err != nil {
			c.markClosed(transport.CloseCode(in.err))
			return nil, in.err
		}
		return in.frame, nil
	case <-c.done:
		return nil, transport.ErrClosed
	}
}

// WriteFrame implements transport.Conn.
func (c *Conn) WriteFrame(frame []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	cp := append([]byte(nil), frame...)
	c.written = append(c.written, cp)
	c.mu.Unlock()

	select {
	case c.writes <- cp:
	default:
	}
	return nil
}

// Close implements transport.Conn.
func (c *Conn) Close(code int, _ string) error {
	c.markClosed(code)
	return nil
}

func (c *Conn) markClosed(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	close(c.done)
}

// Deliver queues a frame for the client to read.
func (c *Conn) Deliver(frame []byte) {
	c.inbound <- inbound{frame: frame}
}

// ServerClose makes the client observe a close frame with code.
func (c *Conn) ServerClose(code int) {
	c.inbound <- inbound{err: &transport.CloseError{Code: code}}
}

// Fail makes the client observe a read error without a close code.
func (c *Conn) Fail(err error) {
	c.inbound <- inbound{err: err}
}

// NextWritten waits for the next frame written by the client.
func (c *Conn) NextWritten(tb testing.TB) []byte {
	tb.Helper()
	select {
	case f := <-c.writes:
		return f
	case <-time.After(DefaultWait):
		tb.Fatalf("no frame written within %v", DefaultWait)
		return nil
	}
}

// Written returns a copy of every frame written so far.
func (c *Conn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

// Closed reports whether either side closed the socket.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseCode returns the code the socket was closed with.
func (c *Conn) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// WaitFor polls cond until it returns true or DefaultWait elapses.
func WaitFor(tb testing.TB, what string, cond func() bool) {
	tb.Helper()
	deadline := time.Now().Add(DefaultWait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	tb.Fatalf("timed out waiting for %s", what)
}
