// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package provider

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tomtom215/guildsync/internal/crdt"
	"github.com/tomtom215/guildsync/internal/metrics"
)

var (
	// ErrRegistryClosed is returned after Close.
	ErrRegistryClosed = errors.New("provider registry closed")

	// ErrDocumentBound means the document handle does not belong to the key:
	// either the key is live with another handle or the handle is owned by
	// another key.
	ErrDocumentBound = errors.New("document handle bound to another provider")

	// ErrInvalidKey is returned for keys missing a server or document id.
	ErrInvalidKey = errors.New("invalid provider key")

	// ErrNoDocument is returned when creating a provider without a handle.
	ErrNoDocument = errors.New("document handle required")
)

// Registry maps keys to shared providers for one session. Get-or-create is
// atomic: concurrent callers for the same key always receive the same
// provider.
type Registry struct {
	defaults Options

	mu        sync.Mutex
	providers map[Key]*Provider
	owners    map[crdt.Document]Key
	closed    bool
}

// NewRegistry creates an empty registry whose providers use defaults.
func NewRegistry(defaults Options) *Registry {
	return &Registry{
		defaults:  defaults,
		providers: make(map[Key]*Provider),
		owners:    make(map[crdt.Document]Key),
	}
}

// GetOrCreate returns the provider for key, creating it around doc on first
// use. A later call may pass a nil doc to mean "whatever handle is bound".
// Options only apply when the provider is created. Returning an existing
// provider cancels its pending teardown.
func (r *Registry) GetOrCreate(key Key, doc crdt.Document, opts ...Option) (*Provider, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if p, ok := r.providers[key]; ok {
		p.mu.Lock()
		dead := p.destroyed
		if !dead && (doc == nil || p.doc == doc) {
			p.cancelTeardownLocked()
		}
		p.mu.Unlock()

		switch {
		case dead:
			// Destroyed directly but its onDestroy has not run yet.
			r.removeLocked(p)
			if doc == nil {
				doc = p.doc
			}
		case doc != nil && p.doc != doc:
			return nil, fmt.Errorf("%w: %s", ErrDocumentBound, key)
		default:
			return p, nil
		}
	}
	if doc == nil {
		return nil, ErrNoDocument
	}
	if owner, ok := r.owners[doc]; ok {
		return nil, fmt.Errorf("%w: owned by %s", ErrDocumentBound, owner)
	}

	o := r.defaults
	for _, opt := range opts {
		opt(&o)
	}
	p, err := New(key, doc, o)
	if err != nil {
		return nil, err
	}
	p.onTeardown = r.expire
	p.onDestroy = r.forget

	r.providers[key] = p
	r.owners[doc] = key
	metrics.ActiveProviders.Inc()
	return p, nil
}

// Lookup returns the live provider for key.
func (r *Registry) Lookup(key Key) (*Provider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[key]
	return p, ok
}

// Release schedules the debounced teardown of key's provider.
func (r *Registry) Release(key Key) {
	if p, ok := r.Lookup(key); ok {
		p.Release()
	}
}

// Destroy tears key's provider down immediately. It reports whether one
// existed. Providers for other keys are unaffected.
func (r *Registry) Destroy(key Key) bool {
	r.mu.Lock()
	p, ok := r.providers[key]
	if ok {
		r.removeLocked(p)
	}
	r.mu.Unlock()

	if ok {
		p.Destroy()
	}
	return ok
}

// Providers returns the live providers ordered by key.
func (r *Registry) Providers() []*Provider {
	r.mu.Lock()
	out := make([]*Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].key.String() < out[j].key.String() })
	return out
}

// Len returns the number of live providers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.providers)
}

// Close destroys every provider and rejects further lookups.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	all := make([]*Provider, 0, len(r.providers))
	for _, p := range r.providers {
		all = append(all, p)
		r.removeLocked(p)
	}
	r.mu.Unlock()

	for _, p := range all {
		p.Destroy()
	}
}

// expire runs a provider's deferred teardown unless a lookup revived it
// first. Holding r.mu makes the check atomic with GetOrCreate.
func (r *Registry) expire(p *Provider, gen uint64) {
	r.mu.Lock()
	if !p.teardownPending(gen) {
		r.mu.Unlock()
		return
	}
	r.removeLocked(p)
	r.mu.Unlock()

	p.Destroy()
}

func (r *Registry) forget(p *Provider) {
	r.mu.Lock()
	r.removeLocked(p)
	r.mu.Unlock()
}

func (r *Registry) removeLocked(p *Provider) {
	if cur, ok := r.providers[p.key]; !ok || cur != p {
		return
	}
	delete(r.providers, p.key)
	delete(r.owners, p.doc)
	metrics.ActiveProviders.Dec()
}
