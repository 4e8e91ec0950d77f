// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tomtom215/guildsync/internal/metrics"
)

// Entry represents a cached item with expiration
type Entry struct {
	Data      interface{}
	ExpiresAt time.Time
}

// Cache provides a thread-safe in-memory query cache with TTL support and
// hierarchical invalidation.
type Cache struct {
	clock clock.Clock
	ttl   time.Duration
	stop  chan struct{}
	once  sync.Once

	mu      sync.RWMutex
	entries map[Key]Entry
	stats   Stats

	subMu  sync.Mutex
	subs   map[uint64]subscription
	nextID uint64
}

type subscription struct {
	prefix Key
	fn     func(Key)
}

// Stats tracks cache performance metrics
type Stats struct {
	Hits          int64
	Misses        int64
	Evictions     int64
	Invalidations int64
	TotalKeys     int64
	LastCleanup   time.Time
}

// New creates a cache whose entries live for ttl.
//
// A background goroutine removes expired entries every cleanup interval
// (the smaller of ttl and 5 minutes) until Close is called.
//
// Example:
//
//	c := cache.New(5*time.Minute, nil)
//	defer c.Close()
//	c.Set(cache.NewKey("tasks"), tasks)
//	c.Invalidate(cache.NewKey("tasks"))
func New(ttl time.Duration, clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.New()
	}
	c := &Cache{
		clock:   clk,
		ttl:     ttl,
		stop:    make(chan struct{}),
		entries: make(map[Key]Entry),
		subs:    make(map[uint64]subscription),
	}
	c.stats.LastCleanup = clk.Now()

	go c.cleanupLoop()
	return c
}

// Get retrieves a value by key. Expired entries are removed and count as
// misses.
func (c *Cache) Get(key Key) (interface{}, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		c.recordLookup(false)
		return nil, false
	}

	if c.clock.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.stats.Evictions++
		c.mu.Unlock()
		c.recordLookup(false)
		return nil, false
	}

	c.recordLookup(true)
	return entry.Data, true
}

// Set stores a value with the default TTL.
func (c *Cache) Set(key Key, value interface{}) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with a custom TTL
func (c *Cache) SetWithTTL(key Key, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = Entry{
		Data:      value,
		ExpiresAt: c.clock.Now().Add(ttl),
	}
	c.stats.TotalKeys = int64(len(c.entries))
}

// Delete removes a single entry without notifying subscribers.
func (c *Cache) Delete(key Key) {
	c.mu.Lock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.stats.Evictions++
		c.stats.TotalKeys = int64(len(c.entries))
	}
	c.mu.Unlock()
}

// Invalidate removes every entry at or below each prefix and notifies the
// subscribers watching an overlapping key. Invalidating "projects" drops
// "projects:3:activity"; a subscriber on "projects:3" hears about both
// "projects" and "projects:3:activity".
//
// Returns the number of entries removed.
func (c *Cache) Invalidate(prefixes ...Key) int {
	removed := 0

	c.mu.Lock()
	for key := range c.entries {
		for _, p := range prefixes {
			if key.HasPrefix(p) {
				delete(c.entries, key)
				removed++
				break
			}
		}
	}
	c.stats.Evictions += int64(removed)
	c.stats.Invalidations += int64(len(prefixes))
	c.stats.TotalKeys = int64(len(c.entries))
	c.mu.Unlock()

	for _, p := range prefixes {
		for _, fn := range c.subscribersFor(p) {
			fn(p)
		}
	}
	return removed
}

// Subscribe calls fn with the invalidated key whenever an invalidation
// overlaps prefix. The returned function unsubscribes.
func (c *Cache) Subscribe(prefix Key, fn func(Key)) (cancel func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextID++
	id := c.nextID
	c.subs[id] = subscription{prefix: prefix, fn: fn}
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// Keys returns the live keys in sorted order.
func (c *Cache) Keys() []Key {
	c.mu.RLock()
	out := make([]Key, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clear removes all entries in a single operation.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.stats.Evictions += int64(len(c.entries))
	c.entries = make(map[Key]Entry)
	c.stats.TotalKeys = 0
	c.mu.Unlock()
}

// GetStats returns a snapshot of current cache statistics.
func (c *Cache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// HitRate returns the cache hit rate as a percentage
func (c *Cache) HitRate() float64 {
	stats := c.GetStats()
	total := stats.Hits + stats.Misses
	if total == 0 {
		return 0.0
	}
	return float64(stats.Hits) / float64(total) * 100.0
}

// Close stops the cleanup goroutine and drops subscribers.
func (c *Cache) Close() {
	c.once.Do(func() {
		close(c.stop)
		c.subMu.Lock()
		c.subs = make(map[uint64]subscription)
		c.subMu.Unlock()
	})
}

func (c *Cache) subscribersFor(key Key) []func(Key) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	ids := make([]uint64, 0, len(c.subs))
	for id, s := range c.subs {
		if key.Overlaps(s.prefix) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]func(Key), 0, len(ids))
	for _, id := range ids {
		out = append(out, c.subs[id].fn)
	}
	return out
}

// cleanupLoop periodically removes expired entries
func (c *Cache) cleanupLoop() {
	interval := 5 * time.Minute
	if c.ttl > 0 && c.ttl < interval {
		interval = c.ttl
	}
	ticker := c.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

// cleanup removes all expired entries
func (c *Cache) cleanup() {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	evictions := int64(0)
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			evictions++
		}
	}

	c.stats.Evictions += evictions
	c.stats.TotalKeys = int64(len(c.entries))
	c.stats.LastCleanup = now
}

func (c *Cache) recordLookup(hit bool) {
	c.mu.Lock()
	if hit {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.mu.Unlock()
	metrics.RecordCacheLookup(hit)
}
