// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package protocol

// Close codes (RFC 6455 section 7.4).
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseAbnormal        = 1006
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011

	// CloseAuthRejected is the close code a server uses to reject the AUTH
	// frame; it is the websocket equivalent of HTTP 403.
	CloseAuthRejected = ClosePolicyViolation
)

// IsAuthRejection reports whether code means the credential was rejected.
func IsAuthRejection(code int) bool {
	return code == CloseAuthRejected
}
