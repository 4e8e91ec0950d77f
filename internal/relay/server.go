// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package relay

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/guildsync/internal/logging"
	"github.com/tomtom215/guildsync/internal/metrics"
	"github.com/tomtom215/guildsync/internal/middleware"
	"github.com/tomtom215/guildsync/internal/protocol"
)

const maxBodyBytes = 1 << 20

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// PublishRequest is the body of POST /api/v1/events.
type PublishRequest struct {
	Resource string             `json:"resource" validate:"required,oneof=task project comment document"`
	Data     protocol.EventData `json:"data"`
}

// TokenRequest is the body of POST /api/v1/auth/token.
type TokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	GuildID      string `json:"guild_id,omitempty"`
}

// TokenResponse is returned by the token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	GuildID     string `json:"guild_id,omitempty"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Server exposes the hub over HTTP.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewServer creates the relay HTTP server for hub.
func NewServer(hub *Hub) *Server {
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    4096,
			WriteBufferSize:   4096,
			EnableCompression: true,
			// Clients are native processes, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler builds the relay routes.
//
//	GET  /healthz
//	GET  /metrics
//	GET  /api/v1/documents/{documentID}/collaborate   (websocket)
//	GET  /api/v1/events/updates                       (websocket)
//	POST /api/v1/events                               (bearer token)
//	POST /api/v1/auth/token
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/documents/{documentID}/collaborate", s.collaborate)
		r.Get("/events/updates", s.updates)

		r.Group(func(r chi.Router) {
			r.Use(middleware.PrometheusMetrics)
			r.Post("/events", s.publish)
			r.Post("/auth/token", s.issueToken)
		})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"clients": s.hub.GetClientCount(),
	})
}

func (s *Server) collaborate(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")
	if strings.TrimSpace(documentID) == "" {
		http.Error(w, "document id required", http.StatusBadRequest)
		return
	}
	s.upgrade(w, r, metrics.ChannelCollab, documentID)
}

func (s *Server) updates(w http.ResponseWriter, r *http.Request) {
	s.upgrade(w, r, metrics.ChannelUpdates, "")
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request, channel, documentID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logging.Ctx(r.Context()).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	log := logging.WithComponent("relay").With().
		Str("channel", channel).
		Str("document", documentID).
		Str("remote", r.RemoteAddr).
		Logger()
	newClient(s.hub, conn, channel, documentID, log).Start()
}

func (s *Server) publish(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if err := s.hub.auth.Verify(protocol.Auth{Token: token}); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req PublishRequest
	if !decodeBody(w, r, &req) {
		return
	}
	delivered, err := s.hub.Publish(protocol.ResourceEvent{Resource: req.Resource, Data: req.Data})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"delivered": delivered})
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	token, ttl, err := s.hub.auth.Issue(req.RefreshToken, req.GuildID)
	switch {
	case errors.Is(err, ErrIssuingDisabled):
		writeError(w, http.StatusNotFound, "token issuing disabled")
		return
	case errors.Is(err, ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "refresh token rejected")
		return
	case err != nil:
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed to issue token")
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: token,
		GuildID:     req.GuildID,
		ExpiresIn:   int64(ttl.Seconds()),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := getValidator().Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
