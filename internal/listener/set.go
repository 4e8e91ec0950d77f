// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

// Package listener provides the subscription sets behind every On* method.
package listener

import (
	"sort"
	"sync"
)

// Set holds callbacks for one event type. Emit calls them in registration
// order, outside the set's lock, so a callback may add or remove listeners.
type Set[T any] struct {
	mu     sync.Mutex
	next   uint64
	fns    map[uint64]func(T)
	closed bool
}

// Add registers fn and returns a function that removes it. Removing twice is
// harmless. Adding to a cleared set is a no-op.
func (s *Set[T]) Add(fn func(T)) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || fn == nil {
		return func() {}
	}
	if s.fns == nil {
		s.fns = make(map[uint64]func(T))
	}
	s.next++
	id := s.next
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

// Emit delivers v to every registered listener.
func (s *Set[T]) Emit(v T) {
	for _, fn := range s.snapshot() {
		fn(v)
	}
}

// Len returns the number of registered listeners.
func (s *Set[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

// Close drops every listener and rejects new ones.
func (s *Set[T]) Close() {
	s.mu.Lock()
	s.closed = true
	s.fns = nil
	s.mu.Unlock()
}

func (s *Set[T]) snapshot() []func(T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, len(s.fns))
	for id := range s.fns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]func(T), 0, len(ids))
	for _, id := range ids {
		out = append(out, s.fns[id])
	}
	return out
}
