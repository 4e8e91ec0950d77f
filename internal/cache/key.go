// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package cache

import "strings"

// Separator joins key segments.
const Separator = ":"

// Key is a hierarchical cache key such as "comments:task:7". Prefix matching
// only happens on whole segments, so "tasks" never matches "tasks2".
type Key string

// NewKey joins segments into a key. Empty segments are skipped.
func NewKey(segments ...string) Key {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return Key(strings.Join(parts, Separator))
}

// Child appends segments to k.
func (k Key) Child(segments ...string) Key {
	return NewKey(append([]string{string(k)}, segments...)...)
}

// HasPrefix reports whether k equals prefix or lies below it.
func (k Key) HasPrefix(prefix Key) bool {
	if prefix == "" {
		return true
	}
	return k == prefix || strings.HasPrefix(string(k), string(prefix)+Separator)
}

// Overlaps reports whether either key lies at or below the other.
func (k Key) Overlaps(other Key) bool {
	return k.HasPrefix(other) || other.HasPrefix(k)
}

// Segments splits k into its parts.
func (k Key) Segments() []string {
	if k == "" {
		return nil
	}
	return strings.Split(string(k), Separator)
}

func (k Key) String() string { return string(k) }
