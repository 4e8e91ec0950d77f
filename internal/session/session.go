// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

// Package session scopes everything that lives between login and logout: the
// provider registry, the generic update channel and the query cache. A forced
// logout raised by any socket tears the whole session down exactly once.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/tomtom215/guildsync/internal/cache"
	"github.com/tomtom215/guildsync/internal/credential"
	"github.com/tomtom215/guildsync/internal/crdt"
	"github.com/tomtom215/guildsync/internal/listener"
	"github.com/tomtom215/guildsync/internal/logging"
	"github.com/tomtom215/guildsync/internal/provider"
	"github.com/tomtom215/guildsync/internal/reconnect"
	"github.com/tomtom215/guildsync/internal/transport"
	"github.com/tomtom215/guildsync/internal/updates"
)

// DefaultCacheTTL is used when Config.CacheTTL is zero.
const DefaultCacheTTL = 5 * time.Minute

// ErrLoggedOut is returned by operations on a session that has ended.
var ErrLoggedOut = errors.New("session: logged out")

// Config configures a Session.
type Config struct {
	// ServerURL is the REST API base all socket URLs derive from.
	ServerURL string

	// Source supplies credentials for every socket. Required.
	Source credential.Source

	Dialer    transport.Dialer
	Clock     clock.Clock
	Reconnect reconnect.Config

	// Provider holds the per-document defaults. Its Dialer, Credentials,
	// Clock, Reconnect and OnForcedLogout are set by the session.
	Provider provider.Options

	CacheTTL time.Duration

	// DisableUpdates skips the generic update channel.
	DisableUpdates bool
}

// Session owns the sockets of one logged-in user.
type Session struct {
	cfg      Config
	log      zerolog.Logger
	registry *provider.Registry
	updates  *updates.Channel
	cache    *cache.Cache

	logoutListeners listener.Set[bool]

	once sync.Once
	done chan struct{}
}

// New creates a session. The update channel is built but not started; run it
// with Updates().Start or under a supervisor.
func New(cfg Config) (*Session, error) {
	if cfg.Source == nil {
		return nil, errors.New("session: credential source is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = transport.NewWebSocketDialer()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	s := &Session{
		cfg:  cfg,
		log:  logging.WithComponent("session"),
		done: make(chan struct{}),
	}
	auth := credential.AuthFunc(cfg.Source)

	opts := cfg.Provider
	opts.Dialer = cfg.Dialer
	opts.Credentials = auth
	opts.Clock = cfg.Clock
	opts.Reconnect = cfg.Reconnect
	opts.OnForcedLogout = s.forcedLogout
	s.registry = provider.NewRegistry(opts)

	s.cache = cache.New(cfg.CacheTTL, cfg.Clock)

	if !cfg.DisableUpdates {
		ch, err := updates.New(updates.Config{
			ServerURL:      cfg.ServerURL,
			Dialer:         cfg.Dialer,
			Credentials:    auth,
			Clock:          cfg.Clock,
			Reconnect:      cfg.Reconnect,
			Cache:          s.cache,
			OnForcedLogout: s.forcedLogout,
		})
		if err != nil {
			s.cache.Close()
			s.registry.Close()
			return nil, fmt.Errorf("session: %w", err)
		}
		s.updates = ch
	}
	return s, nil
}

// Open returns the provider for documentID, creating it on first use, and
// connects it.
func (s *Session) Open(documentID string, doc crdt.Document, opts ...provider.Option) (*provider.Provider, error) {
	if s.LoggedOut() {
		return nil, ErrLoggedOut
	}
	p, err := s.registry.GetOrCreate(s.key(documentID), doc, opts...)
	if err != nil {
		if errors.Is(err, provider.ErrRegistryClosed) {
			return nil, ErrLoggedOut
		}
		return nil, err
	}
	p.Connect()
	return p, nil
}

// Provider looks up an open provider without creating one.
func (s *Session) Provider(documentID string) (*provider.Provider, bool) {
	return s.registry.Lookup(s.key(documentID))
}

// Release schedules the debounced teardown of a document's provider.
func (s *Session) Release(documentID string) {
	s.registry.Release(s.key(documentID))
}

// Providers returns the live providers ordered by key.
func (s *Session) Providers() []*provider.Provider { return s.registry.Providers() }

// Registry exposes the provider registry.
func (s *Session) Registry() *provider.Registry { return s.registry }

// Updates returns the update channel, or nil when disabled.
func (s *Session) Updates() *updates.Channel { return s.updates }

// Cache returns the query cache fed by the update channel.
func (s *Session) Cache() *cache.Cache { return s.cache }

// ServerURL returns the REST API base.
func (s *Session) ServerURL() string { return s.cfg.ServerURL }

// OnLogout subscribes to the end of the session. fn receives true when the
// logout was forced by repeated auth rejections.
func (s *Session) OnLogout(fn func(forced bool)) (unsubscribe func()) {
	return s.logoutListeners.Add(fn)
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// LoggedOut reports whether the session has ended.
func (s *Session) LoggedOut() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Logout ends the session: every provider is destroyed, the update channel
// stops and the cache is dropped. It is idempotent.
func (s *Session) Logout() { s.end(false) }

func (s *Session) forcedLogout() { s.end(true) }

func (s *Session) end(forced bool) {
	s.once.Do(func() {
		if forced {
			s.log.Warn().Msg("session ended by repeated authentication rejections")
		} else {
			s.log.Info().Msg("session logged out")
		}

		if s.updates != nil {
			s.updates.Stop()
		}
		s.registry.Close()
		s.cache.Close()
		if inv, ok := s.cfg.Source.(interface{ Invalidate() }); ok {
			inv.Invalidate()
		}
		close(s.done)

		s.logoutListeners.Emit(forced)
		s.logoutListeners.Close()
	})
}

func (s *Session) key(documentID string) provider.Key {
	return provider.Key{ServerURL: s.cfg.ServerURL, DocumentID: documentID}
}
