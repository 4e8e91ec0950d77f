// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package crdt

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/multiformats/go-varint"
)

// Sync message steps used by MemoryDocument.
const (
	stepRequest byte = 0
	stepReply   byte = 1
	stepUpdate  byte = 2
)

// ErrMalformed is returned for SYNC messages that cannot be decoded.
var ErrMalformed = errors.New("malformed sync message")

type digest [sha256.Size]byte

// MemoryDocument is a grow-only set of opaque updates. Merging is set union,
// so replicas converge regardless of delivery order. It stands in for a real
// CRDT library in the daemon, the dev relay and tests.
type MemoryDocument struct {
	mu        sync.Mutex
	updates   map[digest][]byte
	order     []digest
	observers map[uint64]func([]byte)
	changes   map[uint64]func()
	nextID    uint64
}

// NewMemoryDocument creates an empty replica.
func NewMemoryDocument() *MemoryDocument {
	return &MemoryDocument{
		updates:   make(map[digest][]byte),
		observers: make(map[uint64]func([]byte)),
		changes:   make(map[uint64]func()),
	}
}

// Insert records a local edit and notifies local update observers.
func (d *MemoryDocument) Insert(update []byte) {
	d.mu.Lock()
	added := d.addLocked(update)
	observers := d.snapshotObservers()
	changes := d.snapshotChanges()
	d.mu.Unlock()

	if !added {
		return
	}
	msg := encodeUpdate(update)
	for _, fn := range observers {
		fn(msg)
	}
	for _, fn := range changes {
		fn()
	}
}

// Len returns the number of distinct updates held.
func (d *MemoryDocument) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}

// Updates returns the updates in the order this replica learned them.
func (d *MemoryDocument) Updates() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, 0, len(d.order))
	for _, k := range d.order {
		out = append(out, append([]byte(nil), d.updates[k]...))
	}
	return out
}

// OnChange registers fn to run after any update, local or remote, is merged.
func (d *MemoryDocument) OnChange(fn func()) (cancel func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.changes[id] = fn
	return func() {
		d.mu.Lock()
		delete(d.changes, id)
		d.mu.Unlock()
	}
}

// SyncRequest implements Document.
func (d *MemoryDocument) SyncRequest() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := []byte{stepRequest}
	buf = append(buf, varint.ToUvarint(uint64(len(d.order)))...)
	for _, k := range d.order {
		buf = append(buf, k[:]...)
	}
	return buf
}

// HandleSync implements Document.
func (d *MemoryDocument) HandleSync(msg []byte) ([]byte, bool, error) {
	if len(msg) == 0 {
		return nil, false, ErrMalformed
	}
	body := msg[1:]

	switch msg[0] {
	case stepRequest:
		known, err := decodeDigests(body)
		if err != nil {
			return nil, false, err
		}
		return d.replyFor(known), false, nil

	case stepReply:
		updates, err := decodeUpdates(body)
		if err != nil {
			return nil, false, err
		}
		d.merge(updates)
		return nil, true, nil

	case stepUpdate:
		updates, err := decodeUpdates(body)
		if err != nil {
			return nil, false, err
		}
		d.merge(updates)
		return nil, false, nil

	default:
		return nil, false, fmt.Errorf("%w: step %d", ErrMalformed, msg[0])
	}
}

// OnLocalUpdate implements Document.
func (d *MemoryDocument) OnLocalUpdate(fn func(msg []byte)) (cancel func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.observers[id] = fn
	return func() {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
	}
}

// UpdateMessage wraps a single raw update as a SYNC message.
func UpdateMessage(update []byte) []byte {
	return encodeUpdate(update)
}

func (d *MemoryDocument) replyFor(known map[digest]struct{}) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	var missing [][]byte
	for _, k := range d.order {
		if _, ok := known[k]; !ok {
			missing = append(missing, d.updates[k])
		}
	}
	buf := []byte{stepReply}
	buf = append(buf, varint.ToUvarint(uint64(len(missing)))...)
	for _, u := range missing {
		buf = append(buf, varint.ToUvarint(uint64(len(u)))...)
		buf = append(buf, u...)
	}
	return buf
}

func (d *MemoryDocument) merge(updates [][]byte) {
	d.mu.Lock()
	added := false
	for _, u := range updates {
		if d.addLocked(u) {
			added = true
		}
	}
	changes := d.snapshotChanges()
	d.mu.Unlock()

	if added {
		for _, fn := range changes {
			fn()
		}
	}
}

func (d *MemoryDocument) addLocked(update []byte) bool {
	k := digest(sha256.Sum256(update))
	if _, ok := d.updates[k]; ok {
		return false
	}
	d.updates[k] = append([]byte(nil), update...)
	d.order = append(d.order, k)
	return true
}

func (d *MemoryDocument) snapshotObservers() []func([]byte) {
	out := make([]func([]byte), 0, len(d.observers))
	for _, fn := range d.observers {
		out = append(out, fn)
	}
	return out
}

func (d *MemoryDocument) snapshotChanges() []func() {
	out := make([]func(), 0, len(d.changes))
	for _, fn := range d.changes {
		out = append(out, fn)
	}
	return out
}

func encodeUpdate(update []byte) []byte {
	buf := []byte{stepUpdate}
	buf = append(buf, varint.ToUvarint(1)...)
	buf = append(buf, varint.ToUvarint(uint64(len(update)))...)
	return append(buf, update...)
}

func decodeDigests(body []byte) (map[digest]struct{}, error) {
	n, read, err := varint.FromUvarint(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	body = body[read:]
	if uint64(len(body)) != n*sha256.Size {
		return nil, fmt.Errorf("%w: state vector length", ErrMalformed)
	}
	known := make(map[digest]struct{}, n)
	for i := uint64(0); i < n; i++ {
		var k digest
		copy(k[:], body[i*sha256.Size:])
		known[k] = struct{}{}
	}
	return known, nil
}

func decodeUpdates(body []byte) ([][]byte, error) {
	n, read, err := varint.FromUvarint(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	body = body[read:]
	updates := make([][]byte, 0, n)
	for i := uint64(0); i < n; i++ {
		size, read, err := varint.FromUvarint(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		body = body[read:]
		if uint64(len(body)) < size {
			return nil, fmt.Errorf("%w: truncated update", ErrMalformed)
		}
		updates = append(updates, body[:size])
		body = body[size:]
	}
	if len(body) != 0 {
		return nil, fmt.Errorf("%w: trailing bytes", ErrMalformed)
	}
	return updates, nil
}

var _ Document = (*MemoryDocument)(nil)
