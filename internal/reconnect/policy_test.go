// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package reconnect

import (
	"testing"
	"time"

	"github.com/tomtom215/guildsync/internal/protocol"
)

func TestPolicy_TransientCloseRetriesForever(t *testing.T) {
	p := NewPolicy(Config{})

	for i := 0; i < 50; i++ {
		d := p.Closed(protocol.CloseAbnormal)
		if d.Action != Retry {
			t.Fatalf("attempt %d: action = %v, want retry", i, d.Action)
		}
		if d.Delay != 2*time.Second {
			t.Fatalf("attempt %d: delay = %v, want 2s", i, d.Delay)
		}
		if d.AuthRejected {
			t.Fatal("transient close reported as auth rejection")
		}
	}
	if p.Failures() != 0 {
		t.Errorf("transient closes must not count, got %d", p.Failures())
	}
}

func TestPolicy_AuthBackoffThenLogout(t *testing.T) {
	p := NewPolicy(DefaultConfig())

	d := p.Closed(protocol.CloseAuthRejected)
	if d.Action != Retry || d.Delay != 4*time.Second || d.Failures != 1 {
		t.Fatalf("first rejection = %+v, want retry after 4s", d)
	}
	d = p.Closed(protocol.CloseAuthRejected)
	if d.Action != Retry || d.Delay != 8*time.Second || d.Failures != 2 {
		t.Fatalf("second rejection = %+v, want retry after 8s", d)
	}
	d = p.Closed(protocol.CloseAuthRejected)
	if d.Action != Logout || d.Failures != 3 {
		t.Fatalf("third rejection = %+v, want logout", d)
	}
	if !p.Exhausted() {
		t.Error("policy should be exhausted")
	}

	// Nothing is scheduled after the logout, whatever the close code.
	for _, code := range []int{protocol.CloseAuthRejected, protocol.CloseAbnormal} {
		if d := p.Closed(code); d.Action != Halt {
			t.Errorf("after exhaustion Closed(%d) = %v, want halt", code, d.Action)
		}
	}
}

func TestPolicy_OpenResetsCounter(t *testing.T) {
	p := NewPolicy(DefaultConfig())

	p.Closed(protocol.CloseAuthRejected)
	p.Closed(protocol.CloseAuthRejected)
	p.Opened()
	if p.Failures() != 0 {
		t.Fatalf("Opened should reset the counter, got %d", p.Failures())
	}

	d := p.Closed(protocol.CloseAuthRejected)
	if d.Action != Retry || d.Failures != 1 {
		t.Errorf("isolated failure after success = %+v, want first-failure retry", d)
	}
}

func TestPolicy_TransientCloseDoesNotResetCounter(t *testing.T) {
	p := NewPolicy(DefaultConfig())

	p.Closed(protocol.CloseAuthRejected)
	p.Closed(protocol.CloseAbnormal)
	d := p.Closed(protocol.CloseAuthRejected)
	if d.Failures != 2 {
		t.Errorf("failures = %d, want 2", d.Failures)
	}
}

func TestPolicy_AuthDelayCapped(t *testing.T) {
	p := NewPolicy(Config{AuthBaseDelay: 10 * time.Second, AuthMaxDelay: 30 * time.Second, MaxAuthFailures: 10})

	want := []time.Duration{20 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, w := range want {
		if d := p.Closed(protocol.CloseAuthRejected); d.Delay != w {
			t.Errorf("failure %d: delay = %v, want %v", i+1, d.Delay, w)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := NewPolicy(Config{}).Config()
	if cfg != DefaultConfig() {
		t.Errorf("zero config should take defaults, got %+v", cfg)
	}
}
