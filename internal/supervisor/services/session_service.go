// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package services

import (
	"context"
	"fmt"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/guildsync/internal/crdt"
	"github.com/tomtom215/guildsync/internal/logging"
	"github.com/tomtom215/guildsync/internal/provider"
)

// Session is the part of session.Session the service drives.
type Session interface {
	Open(documentID string, doc crdt.Document, opts ...provider.Option) (*provider.Provider, error)
	Release(documentID string)
	Done() <-chan struct{}
}

// DocumentFactory returns the document handle for a document id.
type DocumentFactory func(documentID string) crdt.Document

// SessionService keeps a fixed set of documents open for the lifetime of a
// session. When the session ends it terminates the supervisor tree, since
// nothing can reconnect without a new login.
type SessionService struct {
	session   Session
	documents []string
	newDoc    DocumentFactory
	docs      map[string]crdt.Document
}

// NewSessionService creates the service. newDoc defaults to an in-memory
// document per id.
func NewSessionService(s Session, documents []string, newDoc DocumentFactory) *SessionService {
	if newDoc == nil {
		newDoc = func(string) crdt.Document { return crdt.NewMemoryDocument() }
	}
	return &SessionService{
		session:   s,
		documents: append([]string(nil), documents...),
		newDoc:    newDoc,
		docs:      make(map[string]crdt.Document, len(documents)),
	}
}

// Serve implements suture.Service. Documents are opened on every start and
// released when the service stops; handles survive restarts so a document
// keeps its provider binding.
func (s *SessionService) Serve(ctx context.Context) error {
	log := logging.WithComponent("session-service")

	opened := make([]string, 0, len(s.documents))
	for _, id := range s.documents {
		doc, ok := s.docs[id]
		if !ok {
			doc = s.newDoc(id)
			s.docs[id] = doc
		}
		if _, err := s.session.Open(id, doc); err != nil {
			log.Error().Err(err).Str("document_id", id).Msg("failed to open document")
			continue
		}
		opened = append(opened, id)
	}
	log.Info().Int("documents", len(opened)).Msg("session documents open")

	select {
	case <-ctx.Done():
		for _, id := range opened {
			s.session.Release(id)
		}
		return ctx.Err()
	case <-s.session.Done():
		log.Warn().Msg("session ended; stopping")
		return fmt.Errorf("%w: session ended", suture.ErrTerminateSupervisorTree)
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *SessionService) String() string { return "session" }
