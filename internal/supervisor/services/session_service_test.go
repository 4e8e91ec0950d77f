// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package services

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/guildsync/internal/crdt"
	"github.com/tomtom215/guildsync/internal/provider"
)

type fakeSession struct {
	mu       sync.Mutex
	opened   []string
	released []string
	docs     map[string]crdt.Document
	fail     map[string]bool
	done     chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{docs: map[string]crdt.Document{}, fail: map[string]bool{}, done: make(chan struct{})}
}

func (f *fakeSession) Open(id string, doc crdt.Document, _ ...provider.Option) (*provider.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[id] {
		return nil, errors.New("boom")
	}
	if prev, ok := f.docs[id]; ok && prev != doc {
		return nil, provider.ErrDocumentBound
	}
	f.docs[id] = doc
	f.opened = append(f.opened, id)
	return nil, nil
}

func (f *fakeSession) Release(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, id)
}

func (f *fakeSession) Done() <-chan struct{} { return f.done }

func (f *fakeSession) snapshot() (opened, released []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...), append([]string(nil), f.released...)
}

func TestSessionService_OpensAndReleases(t *testing.T) {
	sess := newFakeSession()
	sess.fail["broken"] = true
	svc := NewSessionService(sess, []string{"a", "broken", "b"}, nil)

	for round := 0; round < 2; round++ {
		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- svc.Serve(ctx) }()

		deadline := time.Now().Add(2 * time.Second)
		for {
			opened, _ := sess.snapshot()
			if len(opened) == 2*(round+1) || time.Now().After(deadline) {
				break
			}
			time.Sleep(2 * time.Millisecond)
		}
		cancel()
		if err := <-errCh; !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve() = %v", err)
		}
	}

	opened, released := sess.snapshot()
	if want := []string{"a", "b", "a", "b"}; !reflect.DeepEqual(opened, want) {
		t.Errorf("opened = %v, want %v (same handles across restarts)", opened, want)
	}
	if want := []string{"a", "b", "a", "b"}; !reflect.DeepEqual(released, want) {
		t.Errorf("released = %v, want %v", released, want)
	}
}

func TestSessionService_TerminatesTreeOnLogout(t *testing.T) {
	sess := newFakeSession()
	svc := NewSessionService(sess, []string{"a"}, nil)
	close(sess.done)

	err := svc.Serve(context.Background())
	if !errors.Is(err, suture.ErrTerminateSupervisorTree) {
		t.Errorf("Serve() = %v, want ErrTerminateSupervisorTree", err)
	}
	if svc.String() != "session" {
		t.Errorf("String() = %q", svc.String())
	}
}
