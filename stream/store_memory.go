// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/gavel-foundation/gavel/lib/ref"
)

// MemoryStore is an in-memory Store for tests and single-process
// embedding. Entries live for the life of the process unless trimmed.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[ref.RoomID][]LogEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[ref.RoomID][]LogEntry)}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.rooms[entry.Room]
	if n := len(log); n > 0 && log[n-1].Sequence+1 != entry.Sequence {
		return fmt.Errorf("stream: out-of-order append to %s: have %d, got %d",
			entry.Room, log[n-1].Sequence, entry.Sequence)
	}
	s.rooms[entry.Room] = append(log, entry)
	return nil
}

// Range implements Store.
func (s *MemoryStore) Range(ctx context.Context, room ref.RoomID, fromExclusive, toInclusive uint64, limit int) ([]LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []LogEntry
	for _, entry := range s.rooms[room] {
		if entry.Sequence <= fromExclusive || entry.Sequence > toInclusive {
			continue
		}
		out = append(out, entry)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Head implements Store.
func (s *MemoryStore) Head(ctx context.Context, room ref.RoomID) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.rooms[room]
	if len(log) == 0 {
		return 0, nil
	}
	return log[len(log)-1].Sequence, nil
}

// Oldest implements Store.
func (s *MemoryStore) Oldest(ctx context.Context, room ref.RoomID) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.rooms[room]
	if len(log) == 0 {
		return 0, nil
	}
	return log[0].Sequence, nil
}

// Trim drops entries of room with sequence below keepFrom, simulating
// retention compaction. Range calls into the dropped region then report
// a sequence gap, which routes reconnecting clients to a snapshot.
func (s *MemoryStore) Trim(room ref.RoomID, keepFrom uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.rooms[room]
	for i, entry := range log {
		if entry.Sequence >= keepFrom {
			s.rooms[room] = log[i:]
			return
		}
	}
	s.rooms[room] = nil
}
