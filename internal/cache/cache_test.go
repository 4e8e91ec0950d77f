// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package cache

import (
	"reflect"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	c := New(ttl, mock)
	t.Cleanup(c.Close)
	return c, mock
}

func TestCacheBasicOperations(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	c.Set("key1", "value1")
	value, exists := c.Get("key1")
	if !exists {
		t.Error("Expected key1 to exist")
	}
	if value != "value1" {
		t.Errorf("Expected value1, got %v", value)
	}

	if _, exists = c.Get("key2"); exists {
		t.Error("Expected key2 to not exist")
	}

	stats := c.GetStats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit and 1 miss", stats)
	}
	if c.HitRate() != 50 {
		t.Errorf("HitRate() = %v, want 50", c.HitRate())
	}
}

func TestCacheExpiration(t *testing.T) {
	c, mock := newTestCache(t, 100*time.Millisecond)

	c.Set("key1", "value1")
	if _, exists := c.Get("key1"); !exists {
		t.Error("Expected key1 to exist immediately after set")
	}

	mock.Add(150 * time.Millisecond)

	if _, exists := c.Get("key1"); exists {
		t.Error("Expected key1 to be expired")
	}
}

func TestCacheDeleteAndClear(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	c.Set("key1", "value1")
	c.Set("key2", "value2")
	c.Delete("key1")
	if _, exists := c.Get("key1"); exists {
		t.Error("Expected key1 to be deleted")
	}

	c.Clear()
	if len(c.Keys()) != 0 {
		t.Errorf("Keys() after Clear = %v", c.Keys())
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		key    Key
		prefix Key
		want   bool
	}{
		{key: "tasks", prefix: "tasks", want: true},
		{key: "tasks:7", prefix: "tasks", want: true},
		{key: "tasks2", prefix: "tasks", want: false},
		{key: "projects:3:activity", prefix: "projects:3", want: true},
		{key: "projects:30", prefix: "projects:3", want: false},
		{key: "anything", prefix: "", want: true},
	}
	for _, tt := range tests {
		if got := tt.key.HasPrefix(tt.prefix); got != tt.want {
			t.Errorf("Key(%q).HasPrefix(%q) = %v, want %v", tt.key, tt.prefix, got, tt.want)
		}
	}

	if got := NewKey("comments", "", "task", "7"); got != "comments:task:7" {
		t.Errorf("NewKey = %q", got)
	}
	if got := NewKey("projects").Child("3", "activity"); got != "projects:3:activity" {
		t.Errorf("Child = %q", got)
	}
	if got := Key("a:b").Segments(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Segments = %v", got)
	}
}

func TestInvalidate_RemovesSubtree(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	for _, k := range []Key{"projects", "projects:3", "projects:3:activity", "projects:30", "tasks", "tasks2"} {
		c.Set(k, true)
	}

	removed := c.Invalidate("projects:3", "tasks")

	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	want := []Key{"projects", "projects:30", "tasks2"}
	if got := c.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if c.GetStats().Invalidations != 2 {
		t.Errorf("Invalidations = %d, want 2", c.GetStats().Invalidations)
	}
}

func TestSubscribe_OverlappingKeys(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	var project, comments []Key
	c.Subscribe("projects:3", func(k Key) { project = append(project, k) })
	cancel := c.Subscribe("comments", func(k Key) { comments = append(comments, k) })

	c.Invalidate("projects")
	c.Invalidate("projects:3:activity")
	c.Invalidate("projects:4")
	c.Invalidate("comments:task:7")

	if want := []Key{"projects", "projects:3:activity"}; !reflect.DeepEqual(project, want) {
		t.Errorf("project subscriber saw %v, want %v", project, want)
	}
	if want := []Key{"comments:task:7"}; !reflect.DeepEqual(comments, want) {
		t.Errorf("comments subscriber saw %v, want %v", comments, want)
	}

	cancel()
	c.Invalidate("comments")
	if len(comments) != 1 {
		t.Error("cancelled subscriber still notified")
	}
}

func TestCleanup_RemovesExpired(t *testing.T) {
	c, mock := newTestCache(t, time.Minute)
	c.Set("short", 1)
	c.SetWithTTL("long", 2, time.Hour)

	mock.Add(2 * time.Minute)
	c.cleanup()

	if got := c.Keys(); !reflect.DeepEqual(got, []Key{"long"}) {
		t.Errorf("Keys() = %v, want [long]", got)
	}
	if c.GetStats().TotalKeys != 1 {
		t.Errorf("TotalKeys = %d", c.GetStats().TotalKeys)
	}
}
