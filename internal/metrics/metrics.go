// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

// Package metrics exposes Prometheus instrumentation for the sync client.
//
// Every channel-scoped series carries a "channel" label: "collab" for
// per-document providers and "updates" for the session-wide update channel.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Channel label values.
const (
	ChannelCollab  = "collab"
	ChannelUpdates = "updates"
)

var (
	// Connection Metrics
	ConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildsync_connect_attempts_total",
			Help: "Total number of socket dial attempts",
		},
		[]string{"channel", "result"}, // "ok", "error"
	)

	ConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guildsync_connections_open",
			Help: "Current number of authenticated open sockets",
		},
		[]string{"channel"},
	)

	ReconnectsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildsync_reconnects_scheduled_total",
			Help: "Total number of reconnect attempts scheduled",
		},
		[]string{"channel", "reason"}, // "transient", "auth"
	)

	AuthRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildsync_auth_rejections_total",
			Help: "Total number of sockets closed with an auth rejection",
		},
		[]string{"channel"},
	)

	ForcedLogouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildsync_forced_logouts_total",
			Help: "Total number of forced logouts after repeated auth rejections",
		},
		[]string{"channel"},
	)

	// Frame Metrics
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildsync_frames_received_total",
			Help: "Total number of inbound frames by kind",
		},
		[]string{"channel", "kind"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildsync_frames_dropped_total",
			Help: "Total number of inbound frames dropped as malformed or unexpected",
		},
		[]string{"channel"},
	)

	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildsync_frames_sent_total",
			Help: "Total number of outbound frames by kind",
		},
		[]string{"channel", "kind"},
	)

	// Sync Metrics
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "guildsync_sync_duration_seconds",
			Help:    "Time from socket open until the document reported synced",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	SyncStalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guildsync_sync_stalls_total",
			Help: "Total number of sync cycles that hit the stall timeout",
		},
	)

	// Registry Metrics
	ActiveProviders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guildsync_active_providers",
			Help: "Current number of providers held by the registry",
		},
	)

	CollaboratorsVisible = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guildsync_collaborators_visible",
			Help: "Collaborators currently visible per open document",
		},
		[]string{"document_id"},
	)

	// Cache Metrics
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildsync_cache_invalidations_total",
			Help: "Total number of cache invalidations by resource",
		},
		[]string{"resource"},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guildsync_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guildsync_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// Credential Metrics
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildsync_token_refreshes_total",
			Help: "Total number of credential refresh attempts",
		},
		[]string{"result"}, // "ok", "error", "circuit_open"
	)

	// Control API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildsync_api_requests_total",
			Help: "Total number of control API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guildsync_api_request_duration_seconds",
			Help:    "Control API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guildsync_api_active_requests",
			Help: "Current number of in-flight control API requests",
		},
	)

	// Relay Metrics
	RelayClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guildsync_relay_clients",
			Help: "Current number of authenticated relay clients",
		},
		[]string{"channel"},
	)
)

// RecordConnectAttempt records a dial and its outcome.
func RecordConnectAttempt(channel string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ConnectAttempts.WithLabelValues(channel, result).Inc()
}

// TrackConnection adjusts the open connection gauge.
func TrackConnection(channel string, open bool) {
	if open {
		ConnectionsOpen.WithLabelValues(channel).Inc()
	} else {
		ConnectionsOpen.WithLabelValues(channel).Dec()
	}
}

// RecordReconnect records a scheduled retry.
func RecordReconnect(channel string, authRejected bool) {
	reason := "transient"
	if authRejected {
		reason = "auth"
		AuthRejections.WithLabelValues(channel).Inc()
	}
	ReconnectsScheduled.WithLabelValues(channel, reason).Inc()
}

// RecordForcedLogout records an exhausted auth policy. The triggering
// rejection is counted too.
func RecordForcedLogout(channel string) {
	AuthRejections.WithLabelValues(channel).Inc()
	ForcedLogouts.WithLabelValues(channel).Inc()
}

// RecordFrame records an inbound frame of the given kind.
func RecordFrame(channel, kind string) {
	FramesReceived.WithLabelValues(channel, kind).Inc()
}

// RecordFrameSent records an outbound frame of the given kind.
func RecordFrameSent(channel, kind string) {
	FramesSent.WithLabelValues(channel, kind).Inc()
}

// RecordDroppedFrame records a frame discarded without processing.
func RecordDroppedFrame(channel string) {
	FramesDropped.WithLabelValues(channel).Inc()
}

// RecordSynced records how long the initial catch-up took.
func RecordSynced(d time.Duration) {
	SyncDuration.Observe(d.Seconds())
}

// RecordSyncStall records a sync cycle that timed out.
func RecordSyncStall() {
	SyncStalls.Inc()
}

// SetCollaborators records the roster size of an open document.
func SetCollaborators(documentID string, n int) {
	CollaboratorsVisible.WithLabelValues(documentID).Set(float64(n))
}

// ForgetCollaborators drops the roster series of a closed document.
func ForgetCollaborators(documentID string) {
	CollaboratorsVisible.DeleteLabelValues(documentID)
}

// RecordInvalidation records a cache invalidation caused by a resource event.
func RecordInvalidation(resource string) {
	CacheInvalidations.WithLabelValues(resource).Inc()
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		CacheHits.Inc()
	} else {
		CacheMisses.Inc()
	}
}

// RecordAPIRequest records one control API request. route is the matched
// route pattern, never the raw path, to keep label cardinality bounded.
func RecordAPIRequest(method, route, status string, d time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
