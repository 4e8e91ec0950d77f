// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package provider

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tomtom215/guildsync/internal/transport"
)

// Key identifies one shared provider.
type Key struct {
	// ServerURL is the REST API base, e.g. https://app.example.com/api/v1.
	ServerURL  string
	DocumentID string
}

func (k Key) String() string {
	return k.ServerURL + "#" + k.DocumentID
}

// Validate checks that both parts are present.
func (k Key) Validate() error {
	if strings.TrimSpace(k.ServerURL) == "" || strings.TrimSpace(k.DocumentID) == "" {
		return fmt.Errorf("%w: %q", ErrInvalidKey, k.String())
	}
	return nil
}

// SocketURL returns the collaboration endpoint for the key.
func (k Key) SocketURL() (string, error) {
	u, err := transport.SocketURL(k.ServerURL, "documents/"+url.PathEscape(k.DocumentID)+"/collaborate")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return u, nil
}
