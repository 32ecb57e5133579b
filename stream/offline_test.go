// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"testing"
	"time"

	"github.com/gavel-foundation/gavel/lib/clock"
	"github.com/gavel-foundation/gavel/lib/config"
	"github.com/gavel-foundation/gavel/lib/testutil"
	"github.com/gavel-foundation/gavel/transport"
)

const testRetention = time.Hour

func newTestQueue(t *testing.T) (*OfflineQueue, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewOfflineQueue(testRetention, fake, nil), fake
}

func queuedMention(seq uint64) TargetedNotification {
	return TargetedNotification{
		Principal: testAlice,
		Kind:      NotifyMention,
		Room:      testRoom,
		Sequence:  seq,
		Actor:     testBob,
	}
}

func TestOfflineQueueDrainPreservesOrder(t *testing.T) {
	t.Parallel()
	queue, _ := newTestQueue(t)

	queue.Enqueue(queuedMention(1))
	queue.Enqueue(queuedMention(2))
	queue.Enqueue(queuedMention(3))

	got := queue.Drain(testAlice)
	if len(got) != 3 {
		t.Fatalf("drained %d notifications, want 3", len(got))
	}
	for i, notification := range got {
		if notification.Sequence != uint64(i+1) {
			t.Errorf("position %d has sequence %d", i, notification.Sequence)
		}
	}
	if again := queue.Drain(testAlice); len(again) != 0 {
		t.Errorf("second drain returned %d notifications", len(again))
	}
}

func TestOfflineQueueDropsExpired(t *testing.T) {
	t.Parallel()
	queue, fake := newTestQueue(t)

	queue.Enqueue(queuedMention(1))
	fake.Advance(testRetention + time.Minute)
	queue.Enqueue(queuedMention(2))

	got := queue.Drain(testAlice)
	if len(got) != 1 || got[0].Sequence != 2 {
		t.Fatalf("drained %v, want only sequence 2", got)
	}
}

func TestOfflineQueueSweep(t *testing.T) {
	t.Parallel()
	queue, fake := newTestQueue(t)

	queue.Enqueue(queuedMention(1))
	queue.Enqueue(TargetedNotification{Principal: testBob, Kind: NotifyActivity, Room: testRoom, Sequence: 2})
	fake.Advance(testRetention / 2)
	queue.Enqueue(queuedMention(3))
	fake.Advance(testRetention/2 + time.Minute)

	if dropped := queue.Sweep(); dropped != 2 {
		t.Errorf("Sweep dropped %d, want 2", dropped)
	}
	if got := queue.Pending(testAlice); got != 1 {
		t.Errorf("Pending(alice) = %d, want 1", got)
	}
	if got := queue.Pending(testBob); got != 0 {
		t.Errorf("Pending(bob) = %d, want 0", got)
	}
}

// reconcilerFixture wires a journal, registry, and reconciler with
// live fan-out attached, mirroring the service wiring.
type reconcilerFixture struct {
	journal    *Journal
	store      *MemoryStore
	registry   *Registry
	reconciler *Reconciler
	queue      *OfflineQueue
}

func newReconcilerFixture(t *testing.T, replayLimit int) *reconcilerFixture {
	t.Helper()
	fake := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	journal := NewJournal(store, fake, nil)
	registry := NewRegistry(RegistryConfig{
		Policy:      config.SingleSession,
		IdleTimeout: testIdleTimeout,
		Buffer:      32,
		Clock:       fake,
	})
	t.Cleanup(registry.Close)
	dispatcher := NewDispatcher(registry, nil)
	journal.SetCommitHook(dispatcher.PublishEntry)
	queue := NewOfflineQueue(testRetention, fake, nil)

	reconciler, err := NewReconciler(journal, queue, replayLimit, nil)
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}
	return &reconcilerFixture{
		journal:    journal,
		store:      store,
		registry:   registry,
		reconciler: reconciler,
		queue:      queue,
	}
}

func (f *reconcilerFixture) connect(t *testing.T, lastSeen uint64) (*Session, *transport.Memory) {
	t.Helper()
	tr := transport.NewMemory(64)
	session, err := f.registry.Connect(testAlice, testRoom, tr)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := f.reconciler.Resync(context.Background(), session, lastSeen); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	return session, tr
}

func requireEntryFrame(t *testing.T, tr *transport.Memory) LogEntry {
	t.Helper()
	frame := testutil.RequireReceive(t, tr.Frames(), waitTimeout, "waiting for entry frame")
	if frame.Kind != transport.FrameEntry {
		t.Fatalf("frame kind = %s, want %s", frame.Kind, transport.FrameEntry)
	}
	var entry LogEntry
	if err := frame.DecodePayload(&entry); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	return entry
}

func TestReconcilerUpToDateClient(t *testing.T) {
	t.Parallel()
	f := newReconcilerFixture(t, 500)

	for i := 0; i < 3; i++ {
		appendMessage(t, f.journal, testRoom, testBob, "m")
	}
	_, tr := f.connect(t, 3)

	testutil.RequireNoReceive(t, tr.Frames(), 50*time.Millisecond, "up-to-date client got replay")
}

func TestReconcilerReplaysMissedRange(t *testing.T) {
	t.Parallel()
	f := newReconcilerFixture(t, 500)

	for i := 0; i < 10; i++ {
		appendMessage(t, f.journal, testRoom, testBob, "m")
	}
	_, tr := f.connect(t, 4)

	for want := uint64(5); want <= 10; want++ {
		entry := requireEntryFrame(t, tr)
		if entry.Sequence != want {
			t.Fatalf("replayed sequence %d, want %d", entry.Sequence, want)
		}
	}
	testutil.RequireNoReceive(t, tr.Frames(), 50*time.Millisecond, "extra frame after replay")
}

func TestReconcilerSnapshotBeyondReplayWindow(t *testing.T) {
	t.Parallel()
	f := newReconcilerFixture(t, 5)

	m1 := appendMessage(t, f.journal, testRoom, testBob, "keep me")
	m2 := appendMessage(t, f.journal, testRoom, testBob, "delete me")
	if _, _, err := f.journal.Edit(context.Background(), testRoom, m1.Sequence, testBob,
		EditPayload{Body: "kept, edited"}, ""); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if _, _, err := f.journal.Tombstone(context.Background(), testRoom, m2.Sequence, testBob, "", ""); err != nil {
		t.Fatalf("Tombstone: %v", err)
	}
	for i := 0; i < 6; i++ {
		appendMessage(t, f.journal, testRoom, testBob, "filler")
	}

	_, tr := f.connect(t, 0)

	frame := testutil.RequireReceive(t, tr.Frames(), waitTimeout, "snapshot frame")
	if frame.Kind != transport.FrameSnapshot {
		t.Fatalf("frame kind = %s, want %s", frame.Kind, transport.FrameSnapshot)
	}
	var snapshot Snapshot
	if err := frame.DecodePayload(&snapshot); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if snapshot.Head != 10 {
		t.Errorf("snapshot head = %d, want 10", snapshot.Head)
	}

	entries, err := DecodeSnapshotEntries(snapshot)
	if err != nil {
		t.Fatalf("DecodeSnapshotEntries: %v", err)
	}
	// m1, its edit, and six fillers survive; m2 and its tombstone fold
	// away.
	if len(entries) != 8 {
		t.Fatalf("snapshot has %d entries, want 8: %v", len(entries), entries)
	}
	for _, entry := range entries {
		if entry.Sequence == m2.Sequence || entry.Kind == KindTombstone {
			t.Errorf("snapshot leaked folded entry %d (%s)", entry.Sequence, entry.Kind)
		}
	}
}

func TestReconcilerSnapshotOnCompactedHistory(t *testing.T) {
	t.Parallel()
	f := newReconcilerFixture(t, 500)

	for i := 0; i < 10; i++ {
		appendMessage(t, f.journal, testRoom, testBob, "m")
	}
	f.store.Trim(testRoom, 6)

	// The gap fits the replay window, but the range is gone; the
	// reconciler must fall back to a snapshot.
	_, tr := f.connect(t, 2)

	frame := testutil.RequireReceive(t, tr.Frames(), waitTimeout, "snapshot frame")
	if frame.Kind != transport.FrameSnapshot {
		t.Fatalf("frame kind = %s, want %s", frame.Kind, transport.FrameSnapshot)
	}
	var snapshot Snapshot
	if err := frame.DecodePayload(&snapshot); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if snapshot.OldestRetained != 6 {
		t.Errorf("OldestRetained = %d, want 6", snapshot.OldestRetained)
	}
}

func TestReconcilerFlushesQueueAndParkedEntries(t *testing.T) {
	t.Parallel()
	f := newReconcilerFixture(t, 500)

	appendMessage(t, f.journal, testRoom, testBob, "missed")
	f.queue.Enqueue(queuedMention(1))

	tr := transport.NewMemory(64)
	session, err := f.registry.Connect(testAlice, testRoom, tr)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// Commits while reconciliation is pending are parked.
	appendMessage(t, f.journal, testRoom, testBob, "live during resync")

	if err := f.reconciler.Resync(context.Background(), session, 0); err != nil {
		t.Fatalf("Resync: %v", err)
	}

	// Replay covers both committed entries, the queued mention follows,
	// and the parked copy of the second entry flushes last. The client
	// dedupes the redelivery by sequence; order is what matters here.
	wantKinds := []transport.FrameKind{
		transport.FrameEntry,
		transport.FrameEntry,
		transport.FrameNotification,
		transport.FrameEntry,
	}
	for i, want := range wantKinds {
		frame := testutil.RequireReceive(t, tr.Frames(), waitTimeout, "frame %d", i)
		if frame.Kind != want {
			t.Fatalf("frame %d kind = %s, want %s", i, frame.Kind, want)
		}
	}
	if got := f.queue.Pending(testAlice); got != 0 {
		t.Errorf("queue still holds %d notifications", got)
	}
}
