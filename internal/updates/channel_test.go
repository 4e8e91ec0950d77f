// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package updates

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/guildsync/internal/cache"
	"github.com/tomtom215/guildsync/internal/connection"
	"github.com/tomtom215/guildsync/internal/protocol"
	"github.com/tomtom215/guildsync/internal/transport/transporttest"
)

type fixture struct {
	dialer  *transporttest.Dialer
	clock   *clock.Mock
	cache   *cache.Cache
	ch      *Channel
	logouts atomic.Int32

	mu     sync.Mutex
	routed [][]cache.Key
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{dialer: transporttest.NewDialer(), clock: clock.NewMock()}
	f.cache = cache.New(time.Hour, f.clock)
	t.Cleanup(f.cache.Close)

	ch, err := New(Config{
		ServerURL: "https://app.example.test/api/v1",
		Dialer:    f.dialer,
		Credentials: func(context.Context) (protocol.Auth, error) {
			return protocol.Auth{Token: "tok", GuildID: "guild-1"}, nil
		},
		Clock: f.clock,
		Cache: f.cache,
		OnEvent: func(_ protocol.ResourceEvent, keys []cache.Key) {
			f.mu.Lock()
			f.routed = append(f.routed, keys)
			f.mu.Unlock()
		},
		OnForcedLogout: func() { f.logouts.Add(1) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.ch = ch
	t.Cleanup(ch.Stop)
	return f
}

func (f *fixture) open(t *testing.T) *transporttest.Conn {
	t.Helper()
	sock := f.dialer.Next(t)
	transporttest.WaitFor(t, "connected", func() bool { return f.ch.Status() == connection.StatusConnected })
	return sock
}

func (f *fixture) routedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.routed)
}

func (f *fixture) advance(d time.Duration) {
	f.clock.Add(d)
	time.Sleep(5 * time.Millisecond)
}

func TestChannel_DialsUpdateEndpointWithAuthFirst(t *testing.T) {
	f := newFixture(t)
	f.ch.Start()
	sock := f.open(t)

	if want := "wss://app.example.test/api/v1/events/updates"; sock.URL() != want {
		t.Errorf("URL = %q, want %q", sock.URL(), want)
	}
	frame, err := protocol.Decode(sock.NextWritten(t))
	if err != nil || frame.Kind != protocol.KindAuth {
		t.Fatalf("first frame = %v, %v; want AUTH", frame.Kind, err)
	}
	auth, err := protocol.DecodeAuth(frame.Payload)
	if err != nil || auth.Token != "tok" || auth.GuildID != "guild-1" {
		t.Errorf("auth = %+v, %v", auth, err)
	}

	f.ch.Start()
	f.dialer.ExpectNoDial(t, 20*time.Millisecond)
}

// A comment on task 7 in project 3 invalidates the task's thread, the
// project's activity feed and the document list, and nothing else.
func TestChannel_CommentEventInvalidatesCaches(t *testing.T) {
	f := newFixture(t)
	for _, k := range []cache.Key{"comments:task:7", "comments:task:8", "projects:3:activity", "projects:3", "documents", "tasks"} {
		f.cache.Set(k, true)
	}
	f.ch.Start()
	sock := f.open(t)

	sock.Deliver(protocol.Encode(protocol.KindEvent, []byte(`{"resource":"comment","data":{"task_id":7,"project_id":3}}`)))
	transporttest.WaitFor(t, "event routed", func() bool { return f.routedCount() == 1 })

	want := []cache.Key{"comments:task:8", "projects:3", "tasks"}
	if got := f.cache.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("remaining keys = %v, want %v", got, want)
	}
}

func TestChannel_DropsMalformedAndUnknownFrames(t *testing.T) {
	f := newFixture(t)
	f.cache.Set("tasks", true)
	f.ch.Start()
	sock := f.open(t)

	sock.Deliver([]byte{})
	sock.Deliver(protocol.Encode(protocol.KindEvent, []byte(`{not json`)))
	sock.Deliver(protocol.Encode(protocol.KindEvent, []byte(`{"resource":"milestone","data":{}}`)))
	sock.Deliver(protocol.Encode(protocol.KindSync, []byte{0}))
	sock.Deliver(protocol.Encode(protocol.KindEvent, []byte(`{"resource":"task","data":{"task_id":"1"}}`)))

	transporttest.WaitFor(t, "valid event routed", func() bool { return f.routedCount() == 1 })
	if f.ch.Status() != connection.StatusConnected {
		t.Errorf("status = %v, want connected", f.ch.Status())
	}
	if sock.Closed() {
		t.Error("socket closed on malformed input")
	}
	if len(f.cache.Keys()) != 0 {
		t.Errorf("tasks not invalidated: %v", f.cache.Keys())
	}
}

func TestChannel_TransientCloseRetriesAfterTwoSeconds(t *testing.T) {
	f := newFixture(t)
	f.ch.Start()
	sock := f.open(t)

	sock.ServerClose(protocol.CloseAbnormal)
	transporttest.WaitFor(t, "retry scheduled", f.ch.retry.Pending)
	if f.ch.Status() != connection.StatusDisconnected {
		t.Errorf("status = %v, want disconnected", f.ch.Status())
	}

	f.advance(1999 * time.Millisecond)
	f.dialer.ExpectNoDial(t, 10*time.Millisecond)
	f.advance(time.Millisecond)
	f.open(t)
}

func TestChannel_RepeatedAuthRejectionLogsOut(t *testing.T) {
	f := newFixture(t)
	f.ch.Start()
	start := f.clock.Now()

	f.open(t).ServerClose(protocol.ClosePolicyViolation)
	transporttest.WaitFor(t, "first backoff", f.ch.retry.Pending)
	f.advance(4 * time.Second)

	f.open(t).ServerClose(protocol.ClosePolicyViolation)
	transporttest.WaitFor(t, "second backoff", f.ch.retry.Pending)
	f.advance(8 * time.Second)

	f.open(t).ServerClose(protocol.ClosePolicyViolation)
	transporttest.WaitFor(t, "logout", func() bool { return f.logouts.Load() == 1 })

	if elapsed := f.clock.Now().Sub(start); elapsed != 12*time.Second {
		t.Errorf("elapsed = %v, want 12s", elapsed)
	}
	if !f.ch.LoggedOut() || f.ch.Status() != connection.StatusError {
		t.Errorf("LoggedOut = %v, status = %v", f.ch.LoggedOut(), f.ch.Status())
	}

	f.ch.Start()
	f.advance(time.Minute)
	f.dialer.ExpectNoDial(t, 20*time.Millisecond)
	if f.logouts.Load() != 1 {
		t.Errorf("logouts = %d, want 1", f.logouts.Load())
	}
}

func TestChannel_AcceptedAuthResetsFailures(t *testing.T) {
	f := newFixture(t)
	f.ch.Start()

	f.open(t).ServerClose(protocol.ClosePolicyViolation)
	transporttest.WaitFor(t, "backoff", f.ch.retry.Pending)
	f.advance(4 * time.Second)

	sock := f.open(t)
	sock.Deliver(protocol.Encode(protocol.KindAuth, nil))
	transporttest.WaitFor(t, "counter reset", func() bool { return f.ch.AuthFailures() == 0 })
}

func TestChannel_StopCancelsRetry(t *testing.T) {
	f := newFixture(t)
	f.ch.Start()
	sock := f.open(t)
	sock.ServerClose(protocol.CloseAbnormal)
	transporttest.WaitFor(t, "retry scheduled", f.ch.retry.Pending)

	f.ch.Stop()
	f.advance(time.Minute)
	f.dialer.ExpectNoDial(t, 20*time.Millisecond)
	if f.ch.Status() != connection.StatusDisconnected {
		t.Errorf("status = %v", f.ch.Status())
	}
}

func TestServe(t *testing.T) {
	t.Run("returns when context ends", func(t *testing.T) {
		f := newFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() { errc <- f.ch.Serve(ctx) }()

		sock := f.open(t)
		cancel()
		if err := <-errc; !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
		transporttest.WaitFor(t, "socket closed", sock.Closed)
	})

	t.Run("does not restart after logout", func(t *testing.T) {
		f := newFixture(t)
		errc := make(chan error, 1)
		go func() { errc <- f.ch.Serve(context.Background()) }()

		f.open(t).ServerClose(protocol.ClosePolicyViolation)
		transporttest.WaitFor(t, "first backoff", f.ch.retry.Pending)
		f.advance(4 * time.Second)
		f.open(t).ServerClose(protocol.ClosePolicyViolation)
		transporttest.WaitFor(t, "second backoff", f.ch.retry.Pending)
		f.advance(8 * time.Second)
		f.open(t).ServerClose(protocol.ClosePolicyViolation)

		select {
		case err := <-errc:
			if !errors.Is(err, suture.ErrDoNotRestart) || !errors.Is(err, ErrLoggedOut) {
				t.Errorf("Serve() = %v", err)
			}
		case <-time.After(transporttest.DefaultWait):
			t.Fatal("Serve did not return after logout")
		}
	})
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New(Config{ServerURL: "https://x.test"}); err == nil {
		t.Error("expected error without credentials")
	}
	_, err := New(Config{
		ServerURL:   "ftp://x.test",
		Credentials: func(context.Context) (protocol.Auth, error) { return protocol.Auth{}, nil },
	})
	if err == nil {
		t.Error("expected error for unsupported scheme")
	}
}
