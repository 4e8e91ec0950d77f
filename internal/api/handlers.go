// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/tomtom215/guildsync/internal/cache"
	"github.com/tomtom215/guildsync/internal/crdt"
	"github.com/tomtom215/guildsync/internal/logging"
	"github.com/tomtom215/guildsync/internal/presence"
	"github.com/tomtom215/guildsync/internal/protocol"
	"github.com/tomtom215/guildsync/internal/provider"
	"github.com/tomtom215/guildsync/internal/session"
)

// maxBodyBytes bounds request bodies on mutating endpoints.
const maxBodyBytes = 4 << 10

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

// Handler serves the local control API for one session.
type Handler struct {
	session   *session.Session
	newDoc    func() crdt.Document
	startTime time.Time
}

// NewHandler creates a handler. Documents opened through the API are backed
// by newDoc; nil uses an in-memory document.
func NewHandler(s *session.Session, newDoc func() crdt.Document) *Handler {
	if newDoc == nil {
		newDoc = func() crdt.Document { return crdt.NewMemoryDocument() }
	}
	return &Handler{
		session:   s,
		newDoc:    newDoc,
		startTime: time.Now(),
	}
}

// HealthStatus is the /healthz payload.
type HealthStatus struct {
	Status    string  `json:"status"`
	LoggedOut bool    `json:"logged_out"`
	Providers int     `json:"providers"`
	Uptime    float64 `json:"uptime_seconds"`
}

// ProviderView is the JSON rendering of one provider.
type ProviderView struct {
	DocumentID    string                  `json:"document_id"`
	Key           string                  `json:"key"`
	Status        provider.Status         `json:"status"`
	Synced        bool                    `json:"synced"`
	Releasing     bool                    `json:"releasing"`
	AuthFailures  int                     `json:"auth_failures"`
	Error         string                  `json:"error,omitempty"`
	ClientID      uint32                  `json:"client_id"`
	Local         protocol.PresenceState  `json:"local"`
	Collaborators []presence.Collaborator `json:"collaborators"`
}

// UpdatesView describes the generic update channel.
type UpdatesView struct {
	Enabled      bool   `json:"enabled"`
	Status       string `json:"status,omitempty"`
	AuthFailures int    `json:"auth_failures"`
	LoggedOut    bool   `json:"logged_out"`
}

// CacheView describes the query cache.
type CacheView struct {
	Keys    []cache.Key `json:"keys"`
	Stats   cache.Stats `json:"stats"`
	HitRate float64     `json:"hit_rate"`
}

// CursorRequest moves the local cursor. Head defaults to Anchor.
type CursorRequest struct {
	Anchor *int `json:"anchor" validate:"required,min=0"`
	Head   *int `json:"head" validate:"omitempty,min=0"`
}

func viewOf(p *provider.Provider) ProviderView {
	v := ProviderView{
		DocumentID:    p.Key().DocumentID,
		Key:           p.Key().String(),
		Status:        p.Status(),
		Synced:        p.Synced(),
		Releasing:     p.Releasing(),
		AuthFailures:  p.AuthFailures(),
		ClientID:      p.ClientID(),
		Local:         p.LocalPresence(),
		Collaborators: p.Collaborators(),
	}
	if err := p.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}

// Health reports whether the session is still logged in.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "healthy",
		LoggedOut: h.session.LoggedOut(),
		Providers: h.session.Registry().Len(),
		Uptime:    time.Since(h.startTime).Seconds(),
	}
	rw := NewResponseWriter(w, r)
	if status.LoggedOut {
		status.Status = "logged_out"
		rw.ErrorWithDetails(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "session has ended", status)
		return
	}
	rw.Success(status)
}

// ListProviders returns every live provider.
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers := h.session.Providers()
	out := make([]ProviderView, 0, len(providers))
	for _, p := range providers {
		out = append(out, viewOf(p))
	}
	NewResponseWriter(w, r).Success(out)
}

// GetProvider returns one provider.
func (h *Handler) GetProvider(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}
	NewResponseWriter(w, r).Success(viewOf(p))
}

// Connect opens the document's provider, creating it on first use.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	documentID := chi.URLParam(r, "documentID")

	p, err := h.session.Open(documentID, nil)
	if errors.Is(err, provider.ErrNoDocument) {
		p, err = h.session.Open(documentID, h.newDoc())
	}
	switch {
	case errors.Is(err, session.ErrLoggedOut):
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "session has ended")
		return
	case errors.Is(err, provider.ErrInvalidKey):
		rw.BadRequest(err.Error())
		return
	case errors.Is(err, provider.ErrDocumentBound):
		rw.Error(http.StatusConflict, ErrCodeConflict, err.Error())
		return
	case err != nil:
		logging.Ctx(r.Context()).Error().Err(err).Str("document_id", documentID).Msg("failed to open provider")
		rw.Error(http.StatusInternalServerError, ErrCodeInternalError, "failed to open provider")
		return
	}

	logging.Ctx(r.Context()).Info().Str("document_id", documentID).Msg("provider opened via API")
	rw.Success(viewOf(p))
}

// Disconnect closes the provider's socket without destroying it.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}
	p.Disconnect()
	NewResponseWriter(w, r).Success(viewOf(p))
}

// Release schedules the provider's debounced teardown.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.session.Release(p.Key().DocumentID)
	NewResponseWriter(w, r).Success(viewOf(p))
}

// SetCursor moves the local cursor broadcast to collaborators.
func (h *Handler) SetCursor(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}
	rw := NewResponseWriter(w, r)

	var req CursorRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}
	if err := getValidator().Struct(&req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			rw.ErrorWithDetails(http.StatusBadRequest, ErrCodeValidationFailed, "cursor validation failed", fields)
			return
		}
		rw.BadRequest(err.Error())
		return
	}

	head := *req.Anchor
	if req.Head != nil {
		head = *req.Head
	}
	p.SetCursor(&protocol.Cursor{Anchor: *req.Anchor, Head: head})
	rw.Success(viewOf(p))
}

// ClearCursor removes the local cursor.
func (h *Handler) ClearCursor(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}
	p.SetCursor(nil)
	NewResponseWriter(w, r).Success(viewOf(p))
}

// Updates reports the state of the generic update channel.
func (h *Handler) Updates(w http.ResponseWriter, r *http.Request) {
	view := UpdatesView{LoggedOut: h.session.LoggedOut()}
	if ch := h.session.Updates(); ch != nil {
		view.Enabled = true
		view.Status = ch.Status().String()
		view.AuthFailures = ch.AuthFailures()
	}
	NewResponseWriter(w, r).Success(view)
}

// Cache lists live cache keys and statistics.
func (h *Handler) Cache(w http.ResponseWriter, r *http.Request) {
	c := h.session.Cache()
	NewResponseWriter(w, r).Success(CacheView{
		Keys:    c.Keys(),
		Stats:   c.GetStats(),
		HitRate: c.HitRate(),
	})
}

// Logout ends the session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.session.Logout()
	logging.Ctx(r.Context()).Info().Msg("session logged out via API")
	NewResponseWriter(w, r).Success(map[string]bool{"logged_out": true})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*provider.Provider, bool) {
	documentID := chi.URLParam(r, "documentID")
	p, ok := h.session.Provider(documentID)
	if !ok {
		NewResponseWriter(w, r).NotFound("no provider for document " + documentID)
		return nil, false
	}
	return p, true
}
