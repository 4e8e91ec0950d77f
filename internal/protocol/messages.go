// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package protocol

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// Auth is the AUTH frame payload.
type Auth struct {
	Token   string `json:"token"`
	GuildID string `json:"guild_id,omitempty"`
}

// EncodeAuth builds a complete AUTH frame.
func EncodeAuth(a Auth) ([]byte, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal auth: %w", err)
	}
	return Encode(KindAuth, payload), nil
}

// DecodeAuth parses an AUTH payload.
func DecodeAuth(payload []byte) (Auth, error) {
	var a Auth
	if err := json.Unmarshal(payload, &a); err != nil {
		return Auth{}, fmt.Errorf("unmarshal auth: %w", err)
	}
	return a, nil
}

// Cursor is a collaborator's selection inside the document.
type Cursor struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

// PresenceState is the ephemeral state a client broadcasts about itself.
type PresenceState struct {
	Name       string  `json:"name"`
	Color      string  `json:"color"`
	ColorLight string  `json:"color_light,omitempty"`
	Cursor     *Cursor `json:"cursor,omitempty"`
}

// AwarenessEntry is one client's state in an awareness delta. A nil State
// removes the client from every roster.
type AwarenessEntry struct {
	ClientID uint32         `json:"client_id"`
	Clock    uint32         `json:"clock"`
	State    *PresenceState `json:"state"`
}

// Awareness is the AWARENESS frame payload.
type Awareness struct {
	States []AwarenessEntry `json:"states"`
}

// EncodeAwareness builds a complete AWARENESS frame.
func EncodeAwareness(a Awareness) ([]byte, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal awareness: %w", err)
	}
	return Encode(KindAwareness, payload), nil
}

// DecodeAwareness parses an AWARENESS payload.
func DecodeAwareness(payload []byte) (Awareness, error) {
	var a Awareness
	if err := json.Unmarshal(payload, &a); err != nil {
		return Awareness{}, fmt.Errorf("unmarshal awareness: %w", err)
	}
	return a, nil
}

// Resource names carried by EVENT frames.
const (
	ResourceTask     = "task"
	ResourceProject  = "project"
	ResourceComment  = "comment"
	ResourceDocument = "document"
)

// ID is a resource identifier that the server may send either as a JSON
// number or as a string.
type ID string

// UnmarshalJSON accepts `7`, `"7"` and `null`.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// String returns the identifier text.
func (id ID) String() string { return string(id) }

// EventData is the data object of a resource change notification.
type EventData struct {
	TaskID     ID `json:"task_id,omitempty"`
	ProjectID  ID `json:"project_id,omitempty"`
	DocumentID ID `json:"document_id,omitempty"`
}

// ResourceEvent is the EVENT frame payload.
type ResourceEvent struct {
	Resource string    `json:"resource"`
	Data     EventData `json:"data"`
}

// EncodeEvent builds a complete EVENT frame.
func EncodeEvent(e ResourceEvent) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return Encode(KindEvent, payload), nil
}

// DecodeEvent parses an EVENT payload.
func DecodeEvent(payload []byte) (ResourceEvent, error) {
	var e ResourceEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return ResourceEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return e, nil
}
