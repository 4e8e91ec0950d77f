// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package credential

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/guildsync/internal/logging"
	"github.com/tomtom215/guildsync/internal/metrics"
)

// refreshSkew renews tokens slightly before they expire.
const refreshSkew = 30 * time.Second

// HTTPConfig configures an HTTPSource.
type HTTPConfig struct {
	// TokenURL receives POST {"refresh_token": ...}.
	TokenURL     string
	RefreshToken string

	// GuildID overrides the guild id returned by the endpoint.
	GuildID string

	// Initial is an access token to use until it expires.
	Initial string

	Client *http.Client
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	GuildID     string `json:"guild_id,omitempty"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
}

// HTTPSource exchanges a refresh token for access tokens on demand. Calls to
// the token endpoint go through a circuit breaker so a down auth service does
// not get hammered by every reconnect attempt.
type HTTPSource struct {
	cfg HTTPConfig
	cb  *gobreaker.CircuitBreaker[Credential]
	now func() time.Time

	mu     sync.Mutex
	cached Credential
}

// NewHTTPSource creates a refreshing source.
func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	s := &HTTPSource{cfg: cfg, now: time.Now}
	if cfg.Initial != "" {
		s.cached = FromToken(cfg.Initial, cfg.GuildID)
	}
	s.cb = gobreaker.NewCircuitBreaker[Credential](gobreaker.Settings{
		Name:        "token-refresh",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		// A rejected refresh token is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRefreshRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("token refresh circuit state change")
		},
	})
	return s
}

// Credential implements Source.
func (s *HTTPSource) Credential(ctx context.Context) (Credential, error) {
	s.mu.Lock()
	cached := s.cached
	s.mu.Unlock()

	if cached.Token != "" && !cached.Expired(s.now().Add(refreshSkew)) {
		return cached, nil
	}
	if s.cfg.RefreshToken == "" || s.cfg.TokenURL == "" {
		if cached.Token == "" {
			return Credential{}, ErrNoToken
		}
		return Credential{}, ErrTokenExpired
	}

	cred, err := s.cb.Execute(func() (Credential, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.TokenRefreshes.WithLabelValues("circuit_open").Inc()
		default:
			metrics.TokenRefreshes.WithLabelValues("error").Inc()
		}
		logging.Warn().Err(err).
			Str("token_url", s.cfg.TokenURL).
			Str("refresh_token", logging.RedactToken(s.cfg.RefreshToken)).
			Str("expired_token", logging.RedactToken(cached.Token)).
			Msg("token refresh failed")
		return Credential{}, err
	}
	metrics.TokenRefreshes.WithLabelValues("ok").Inc()
	logging.Debug().Str("token", logging.RedactToken(cred.Token)).Time("expiry", cred.Expiry).Msg("access token refreshed")

	s.mu.Lock()
	s.cached = cred
	s.mu.Unlock()
	return cred, nil
}

// Invalidate drops the cached access token so the next call refreshes.
func (s *HTTPSource) Invalidate() {
	s.mu.Lock()
	s.cached = Credential{}
	s.mu.Unlock()
}

func (s *HTTPSource) refresh(ctx context.Context) (Credential, error) {
	body, err := json.Marshal(refreshRequest{RefreshToken: s.cfg.RefreshToken})
	if err != nil {
		return Credential{}, fmt.Errorf("marshal refresh request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenURL, bytes.NewReader(body))
	if err != nil {
		return Credential{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("refresh token: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return Credential{}, ErrRefreshRejected
	case resp.StatusCode != http.StatusOK:
		return Credential{}, fmt.Errorf("refresh token: unexpected status %d", resp.StatusCode)
	}

	var out refreshResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Credential{}, fmt.Errorf("decode refresh response: %w", err)
	}
	if out.AccessToken == "" {
		return Credential{}, ErrNoToken
	}

	guildID := s.cfg.GuildID
	if guildID == "" {
		guildID = out.GuildID
	}
	cred := FromToken(out.AccessToken, guildID)
	if cred.Expiry.IsZero() && out.ExpiresIn > 0 {
		cred.Expiry = s.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	return cred, nil
}
