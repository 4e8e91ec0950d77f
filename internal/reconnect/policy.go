// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

// Package reconnect decides what a connection owner does after its socket
// closes: retry after a fixed delay, retry with exponential backoff after an
// authentication rejection, or give up and force a logout.
package reconnect

import (
	"time"

	"github.com/tomtom215/guildsync/internal/protocol"
)

// Config holds the retry timings.
type Config struct {
	// Delay is the fixed wait after a transient closure.
	// Default: 2s
	Delay time.Duration

	// AuthBaseDelay is the base of the exponential backoff applied after an
	// auth rejection: delay = min(AuthMaxDelay, AuthBaseDelay * 2^failures).
	// Default: 2s
	AuthBaseDelay time.Duration

	// AuthMaxDelay caps the auth backoff.
	// Default: 30s
	AuthMaxDelay time.Duration

	// MaxAuthFailures is the number of consecutive auth rejections that
	// forces a logout.
	// Default: 3
	MaxAuthFailures int
}

// DefaultConfig returns the production retry timings.
func DefaultConfig() Config {
	return Config{
		Delay:           2 * time.Second,
		AuthBaseDelay:   2 * time.Second,
		AuthMaxDelay:    30 * time.Second,
		MaxAuthFailures: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Delay <= 0 {
		c.Delay = d.Delay
	}
	if c.AuthBaseDelay <= 0 {
		c.AuthBaseDelay = d.AuthBaseDelay
	}
	if c.AuthMaxDelay <= 0 {
		c.AuthMaxDelay = d.AuthMaxDelay
	}
	if c.MaxAuthFailures <= 0 {
		c.MaxAuthFailures = d.MaxAuthFailures
	}
	return c
}

// Action is what the owner should do after a closure.
type Action int

const (
	// Retry means schedule a new connection attempt after Decision.Delay.
	Retry Action = iota

	// Logout means stop reconnecting for good and invoke the forced-logout path.
	Logout

	// Halt means the policy is already exhausted; do nothing.
	Halt
)

func (a Action) String() string {
	switch a {
	case Retry:
		return "retry"
	case Logout:
		return "logout"
	case Halt:
		return "halt"
	default:
		return "unknown"
	}
}

// Decision is the outcome of a closure.
type Decision struct {
	Action Action
	Delay  time.Duration

	// AuthRejected reports whether the closure was an auth rejection.
	AuthRejected bool

	// Failures is the consecutive auth failure count after this closure.
	Failures int
}

// Policy tracks the consecutive auth failure counter of one connection owner.
// It is not safe for concurrent use; owners call it under their own lock.
type Policy struct {
	cfg       Config
	failures  int
	exhausted bool
}

// NewPolicy creates a policy; zero fields in cfg take their defaults.
func NewPolicy(cfg Config) *Policy {
	return &Policy{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (p *Policy) Config() Config { return p.cfg }

// Opened records a successful open. The failure counter only accumulates
// across consecutive rejections, so any open resets it.
func (p *Policy) Opened() {
	p.failures = 0
}

// Closed records a closure with the given close code and returns what to do.
func (p *Policy) Closed(code int) Decision {
	if p.exhausted {
		return Decision{Action: Halt, Failures: p.failures}
	}
	if !protocol.IsAuthRejection(code) {
		return Decision{Action: Retry, Delay: p.cfg.Delay, Failures: p.failures}
	}

	p.failures++
	if p.failures >= p.cfg.MaxAuthFailures {
		p.exhausted = true
		return Decision{Action: Logout, AuthRejected: true, Failures: p.failures}
	}
	return Decision{
		Action:       Retry,
		Delay:        p.authDelay(),
		AuthRejected: true,
		Failures:     p.failures,
	}
}

// authDelay returns min(AuthMaxDelay, AuthBaseDelay·2^failures), evaluated
// after the failure was counted. With the defaults the first rejection waits
// 4s, the second 8s, and the third logs out without waiting, so a forced
// logout lands about 12s after the first rejection.
func (p *Policy) authDelay() time.Duration {
	delay := p.cfg.AuthBaseDelay
	for i := 0; i < p.failures; i++ {
		delay *= 2
		if delay >= p.cfg.AuthMaxDelay {
			return p.cfg.AuthMaxDelay
		}
	}
	return delay
}

// Failures returns the current consecutive auth failure count.
func (p *Policy) Failures() int { return p.failures }

// Exhausted reports whether the policy has escalated to a forced logout.
func (p *Policy) Exhausted() bool { return p.exhausted }
