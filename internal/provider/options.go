// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package provider

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tomtom215/guildsync/internal/connection"
	"github.com/tomtom215/guildsync/internal/presence"
	"github.com/tomtom215/guildsync/internal/reconnect"
	"github.com/tomtom215/guildsync/internal/syncengine"
	"github.com/tomtom215/guildsync/internal/transport"
)

// DefaultTeardownDelay is how long a released provider lingers so that a
// quick remount can reuse it.
const DefaultTeardownDelay = time.Second

// Options configures providers. A Registry applies the same Options to every
// provider it creates; per-call Option values override them.
type Options struct {
	// Dialer opens sockets. Default: transport.NewWebSocketDialer()
	Dialer transport.Dialer

	// Credentials supplies the AUTH payload for each attempt. Required.
	Credentials connection.CredentialsFunc

	// Clock drives every timer. Default: wall clock
	Clock clock.Clock

	Reconnect reconnect.Config

	// SyncTimeout is the stall bound. Default: 10s
	SyncTimeout time.Duration

	// TeardownDelay debounces Release. Default: 1s
	TeardownDelay time.Duration

	DisplayName string

	// ColorSeed selects the presence color (or a palette index). Nil picks
	// a random one once per provider.
	ColorSeed *int64

	// ClientID is the awareness id. Default: random
	ClientID uint32

	// CursorRate caps cursor broadcasts per second. Zero sends every change.
	CursorRate float64

	// OnForcedLogout runs once when auth rejections exhaust the policy.
	OnForcedLogout func()
}

// Option overrides one field of Options for a single provider.
type Option func(*Options)

// WithDisplayName sets the name shown to other collaborators.
func WithDisplayName(name string) Option {
	return func(o *Options) { o.DisplayName = name }
}

// WithColorSeed pins the presence color.
func WithColorSeed(seed int64) Option {
	return func(o *Options) { o.ColorSeed = &seed }
}

// WithClientID pins the awareness client id.
func WithClientID(id uint32) Option {
	return func(o *Options) { o.ClientID = id }
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = transport.NewWebSocketDialer()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.SyncTimeout <= 0 {
		o.SyncTimeout = syncengine.DefaultTimeout
	}
	if o.TeardownDelay <= 0 {
		o.TeardownDelay = DefaultTeardownDelay
	}
	return o
}

func (o Options) color() presence.Color {
	if o.ColorSeed != nil {
		return presence.PickColor(*o.ColorSeed)
	}
	return presence.RandomColor()
}
