// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gavel-foundation/gavel/lib/codec"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "log.db"), 2, nil)
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func testEntry(t *testing.T, seq uint64, body string) LogEntry {
	t.Helper()
	payload, err := codec.Marshal(MessagePayload{Body: body})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return LogEntry{
		Room:          testRoom,
		Sequence:      seq,
		Kind:          KindMessage,
		Payload:       payload,
		Author:        testAlice,
		ProvisionalID: "prov-1",
		Digest:        [32]byte{1, 2, 3},
		CreatedAt:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	want := testEntry(t, 1, "hello")
	if err := store.Append(ctx, want); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := store.Range(ctx, testRoom, 0, 1, 10)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	entry := got[0]
	if entry.Room != want.Room || entry.Sequence != want.Sequence || entry.Kind != want.Kind {
		t.Errorf("entry header = %s/%d/%s, want %s/%d/%s",
			entry.Room, entry.Sequence, entry.Kind, want.Room, want.Sequence, want.Kind)
	}
	if entry.Author != want.Author {
		t.Errorf("Author = %s, want %s", entry.Author, want.Author)
	}
	if entry.ProvisionalID != want.ProvisionalID {
		t.Errorf("ProvisionalID = %q, want %q", entry.ProvisionalID, want.ProvisionalID)
	}
	if entry.Digest != want.Digest {
		t.Errorf("Digest = %x, want %x", entry.Digest, want.Digest)
	}
	if !entry.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", entry.CreatedAt, want.CreatedAt)
	}

	payload, err := DecodePayload(entry)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if body := payload.(MessagePayload).Body; body != "hello" {
		t.Errorf("Body = %q, want %q", body, "hello")
	}
}

func TestSQLiteStoreDuplicateSequenceRejected(t *testing.T) {
	t.Parallel()
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := store.Append(ctx, testEntry(t, 1, "first")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, testEntry(t, 1, "imposter")); err == nil {
		t.Error("duplicate (room, sequence) insert succeeded")
	}
}

func TestSQLiteStoreBoundaries(t *testing.T) {
	t.Parallel()
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	head, err := store.Head(ctx, testRoom)
	if err != nil {
		t.Fatalf("Head on empty room: %v", err)
	}
	if head != 0 {
		t.Errorf("empty Head = %d, want 0", head)
	}

	for seq := uint64(1); seq <= 8; seq++ {
		if err := store.Append(ctx, testEntry(t, seq, "m")); err != nil {
			t.Fatalf("Append %d: %v", seq, err)
		}
	}
	if err := store.Compact(ctx, testRoom, 4); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	head, err = store.Head(ctx, testRoom)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	oldest, err := store.Oldest(ctx, testRoom)
	if err != nil {
		t.Fatalf("Oldest: %v", err)
	}
	if head != 8 || oldest != 4 {
		t.Errorf("head/oldest = %d/%d, want 8/4", head, oldest)
	}
}

func TestSQLiteStoreRangeLimit(t *testing.T) {
	t.Parallel()
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	for seq := uint64(1); seq <= 10; seq++ {
		if err := store.Append(ctx, testEntry(t, seq, "m")); err != nil {
			t.Fatalf("Append %d: %v", seq, err)
		}
	}

	got, err := store.Range(ctx, testRoom, 2, 10, 3)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	for i, entry := range got {
		if want := uint64(3 + i); entry.Sequence != want {
			t.Errorf("entry %d has sequence %d, want %d", i, entry.Sequence, want)
		}
	}
}
