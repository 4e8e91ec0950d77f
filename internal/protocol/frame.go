// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package protocol

import (
	"errors"
	"fmt"
)

// Kind is the leading type byte of a frame.
type Kind byte

const (
	KindAuth      Kind = 0
	KindSync      Kind = 1
	KindAwareness Kind = 2
	KindEvent     Kind = 3
)

var (
	// ErrEmptyFrame is returned when decoding a zero-length message.
	ErrEmptyFrame = errors.New("empty frame")

	// ErrUnknownKind is returned when the leading byte is not a known Kind.
	ErrUnknownKind = errors.New("unknown frame kind")
)

// String returns the lowercase kind name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindSync:
		return "sync"
	case KindAwareness:
		return "awareness"
	case KindEvent:
		return "event"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

// Valid reports whether k is one of the defined frame kinds.
func (k Kind) Valid() bool {
	return k <= KindEvent
}

// Frame is a decoded protocol message.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// Encode builds a wire frame from a kind and payload. The payload is copied.
func Encode(kind Kind, payload []byte) []byte {
	buf := make([]byte, 1+len(payload))
	buf[0] = byte(kind)
	copy(buf[1:], payload)
	return buf
}

// Decode splits a wire frame into its kind and payload. The returned payload
// aliases data.
func Decode(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, ErrEmptyFrame
	}
	kind := Kind(data[0])
	if !kind.Valid() {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnknownKind, data[0])
	}
	return Frame{Kind: kind, Payload: data[1:]}, nil
}
