// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

/*
Package cache provides the client-side query cache for non-collaborative
resources (tasks, projects, comments, document lists).

Collaborative documents are kept consistent by their CRDT providers. Everything
else is fetched over REST and cached here until the session's update channel
reports that the server-side copy changed.

# Keys

Keys are hierarchical, colon separated:

	tasks                      task collection
	projects                   project collection
	projects:3                 everything derived from project 3
	projects:3:activity        project 3's activity feed
	projects:3:documents       project 3's document list
	comments:task:7            comment thread of task 7
	comments:document:d-1      comment thread of document d-1
	documents                  broad document list
	documents:d-1              one document's metadata

Invalidating a key removes it and everything below it. Matching is per
segment, so invalidating "tasks" leaves "tasks2" alone.

# Subscriptions

UI layers subscribe to the keys they render and refetch when told:

	cancel := c.Subscribe(cache.NewKey("projects", "3"), func(k cache.Key) {
	    refetchProject(3)
	})
	defer cancel()

A subscriber hears about any invalidation that overlaps its key, whether
broader ("projects") or narrower ("projects:3:activity").

# Thread Safety

All methods are safe for concurrent use. Subscriber callbacks run on the
goroutine that called Invalidate, after the entries are gone.
*/
package cache
