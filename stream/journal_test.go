// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gavel-foundation/gavel/lib/clock"
	"github.com/gavel-foundation/gavel/lib/ref"
)

var (
	testRoom  = ref.MustParseRoomID("chat:board-general")
	testDoc   = ref.MustParseRoomID("doc:q3-minutes")
	testAlice = ref.MustParsePrincipalID("@alice")
	testBob   = ref.MustParsePrincipalID("@bob")
	testCarol = ref.MustParsePrincipalID("@carol")
)

func newTestJournal(t *testing.T) (*Journal, *MemoryStore, *clock.FakeClock) {
	t.Helper()
	store := NewMemoryStore()
	fake := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewJournal(store, fake, nil), store, fake
}

func appendMessage(t *testing.T, journal *Journal, room ref.RoomID, author ref.PrincipalID, body string) LogEntry {
	t.Helper()
	entry, appended, err := journal.Append(context.Background(), Submission{
		Room:    room,
		Author:  author,
		Kind:    KindMessage,
		Payload: MessagePayload{Body: body},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if !appended {
		t.Fatalf("Append reported duplicate for a fresh submission")
	}
	return entry
}

func TestJournalAssignsGaplessSequences(t *testing.T) {
	t.Parallel()
	journal, _, _ := newTestJournal(t)

	for want := uint64(1); want <= 5; want++ {
		entry := appendMessage(t, journal, testRoom, testAlice, fmt.Sprintf("message %d", want))
		if entry.Sequence != want {
			t.Fatalf("sequence = %d, want %d", entry.Sequence, want)
		}
	}

	head, err := journal.Head(context.Background(), testRoom)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head != 5 {
		t.Errorf("Head = %d, want 5", head)
	}
}

func TestJournalRoomsAreIndependent(t *testing.T) {
	t.Parallel()
	journal, _, _ := newTestJournal(t)

	const perRoom = 25
	var wg sync.WaitGroup
	for _, room := range []ref.RoomID{testRoom, testDoc} {
		room := room
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perRoom; i++ {
				appendMessage(t, journal, room, testAlice, "m")
			}
		}()
	}
	wg.Wait()

	for _, room := range []ref.RoomID{testRoom, testDoc} {
		entries, err := journal.Range(context.Background(), room, 0, perRoom, perRoom)
		if err != nil {
			t.Fatalf("Range(%s): %v", room, err)
		}
		if len(entries) != perRoom {
			t.Fatalf("room %s has %d entries, want %d", room, len(entries), perRoom)
		}
		for i, entry := range entries {
			if entry.Sequence != uint64(i+1) {
				t.Errorf("room %s entry %d has sequence %d", room, i, entry.Sequence)
			}
		}
	}
}

func TestJournalCommitHookObservesSequenceOrder(t *testing.T) {
	t.Parallel()
	journal, _, _ := newTestJournal(t)

	var mu sync.Mutex
	var committed []uint64
	journal.SetCommitHook(func(entry LogEntry) {
		mu.Lock()
		committed = append(committed, entry.Sequence)
		mu.Unlock()
	})

	const writers, perWriter = 4, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				appendMessage(t, journal, testRoom, testAlice, "m")
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(committed) != writers*perWriter {
		t.Fatalf("hook fired %d times, want %d", len(committed), writers*perWriter)
	}
	for i, seq := range committed {
		if seq != uint64(i+1) {
			t.Fatalf("hook saw sequence %d at position %d", seq, i)
		}
	}
}

func TestJournalDuplicateProvisionalID(t *testing.T) {
	t.Parallel()
	journal, _, _ := newTestJournal(t)

	sub := Submission{
		Room:          testRoom,
		Author:        testAlice,
		Kind:          KindMessage,
		Payload:       MessagePayload{Body: "queued while offline"},
		ProvisionalID: "prov-42",
	}
	first, appended, err := journal.Append(context.Background(), sub)
	if err != nil {
		t.Fatalf("first Append: %v", err)
	}
	if !appended {
		t.Fatal("first Append reported duplicate")
	}

	second, appended, err := journal.Append(context.Background(), sub)
	if err != nil {
		t.Fatalf("resubmission: %v", err)
	}
	if appended {
		t.Error("resubmission appended a second entry")
	}
	if second.Sequence != first.Sequence {
		t.Errorf("resubmission returned sequence %d, want %d", second.Sequence, first.Sequence)
	}
	if second.Digest != first.Digest {
		t.Error("resubmission returned a different digest")
	}

	head, err := journal.Head(context.Background(), testRoom)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head != 1 {
		t.Errorf("Head = %d after duplicate, want 1", head)
	}
}

func TestJournalRejectsConflictingResubmission(t *testing.T) {
	t.Parallel()
	journal, _, _ := newTestJournal(t)

	first, _, err := journal.Append(context.Background(), Submission{
		Room:          testRoom,
		Author:        testAlice,
		Kind:          KindMessage,
		Payload:       MessagePayload{Body: "motion to adjourn"},
		ProvisionalID: "prov-7",
	})
	if err != nil {
		t.Fatalf("first Append: %v", err)
	}

	// Reusing the provisional ID for different content is a client bug
	// and must not silently return the original entry.
	_, appended, err := journal.Append(context.Background(), Submission{
		Room:          testRoom,
		Author:        testAlice,
		Kind:          KindMessage,
		Payload:       MessagePayload{Body: "motion withdrawn"},
		ProvisionalID: "prov-7",
	})
	if err == nil {
		t.Fatal("conflicting resubmission accepted")
	}
	if appended {
		t.Error("conflicting resubmission appended an entry")
	}

	head, err := journal.Head(context.Background(), testRoom)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head != first.Sequence {
		t.Errorf("Head = %d after rejected resubmission, want %d", head, first.Sequence)
	}
}

func TestJournalEditSupersedes(t *testing.T) {
	t.Parallel()
	journal, _, _ := newTestJournal(t)

	original := appendMessage(t, journal, testRoom, testAlice, "draft")
	edit, appended, err := journal.Edit(context.Background(), testRoom, original.Sequence, testAlice,
		EditPayload{Body: "final"}, "")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if !appended {
		t.Fatal("Edit reported duplicate")
	}
	if edit.Supersedes != original.Sequence {
		t.Errorf("Supersedes = %d, want %d", edit.Supersedes, original.Sequence)
	}
	if edit.Sequence != original.Sequence+1 {
		t.Errorf("edit got sequence %d, want %d", edit.Sequence, original.Sequence+1)
	}

	// The original is still in the log, untouched.
	kept, err := journal.Range(context.Background(), testRoom, 0, original.Sequence, 1)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	payload, err := DecodePayload(kept[0])
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if got := payload.(MessagePayload).Body; got != "draft" {
		t.Errorf("original body = %q, want %q", got, "draft")
	}
}

func TestJournalEditUnknownTarget(t *testing.T) {
	t.Parallel()
	journal, _, _ := newTestJournal(t)

	appendMessage(t, journal, testRoom, testAlice, "only entry")
	_, _, err := journal.Edit(context.Background(), testRoom, 99, testAlice, EditPayload{Body: "x"}, "")
	if !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("Edit of missing target = %v, want ErrUnknownTarget", err)
	}
}

func TestJournalTombstoneOfReactionRejected(t *testing.T) {
	t.Parallel()
	journal, _, _ := newTestJournal(t)

	message := appendMessage(t, journal, testRoom, testAlice, "vote?")
	reaction, _, err := journal.Append(context.Background(), Submission{
		Room:       testRoom,
		Author:     testBob,
		Kind:       KindReaction,
		Payload:    ReactionPayload{Emoji: "👍"},
		Supersedes: message.Sequence,
	})
	if err != nil {
		t.Fatalf("reaction Append: %v", err)
	}

	_, _, err = journal.Tombstone(context.Background(), testRoom, reaction.Sequence, testBob, "", "")
	if !errors.Is(err, ErrNotSupersedable) {
		t.Errorf("Tombstone of reaction = %v, want ErrNotSupersedable", err)
	}
}

func TestJournalStandaloneKindRejectsTarget(t *testing.T) {
	t.Parallel()
	journal, _, _ := newTestJournal(t)

	appendMessage(t, journal, testRoom, testAlice, "first")
	_, _, err := journal.Append(context.Background(), Submission{
		Room:       testRoom,
		Author:     testBob,
		Kind:       KindMessage,
		Payload:    MessagePayload{Body: "not a reply mechanism"},
		Supersedes: 1,
	})
	if err == nil {
		t.Error("message with Supersedes was accepted")
	}
}

func TestJournalRejectsMismatchedPayload(t *testing.T) {
	t.Parallel()
	journal, _, _ := newTestJournal(t)

	_, _, err := journal.Append(context.Background(), Submission{
		Room:    testRoom,
		Author:  testAlice,
		Kind:    KindMessage,
		Payload: ReactionPayload{Emoji: "👍"},
	})
	if err == nil {
		t.Error("mismatched payload type was accepted")
	}
}

func TestJournalReactionToggle(t *testing.T) {
	t.Parallel()
	journal, _, _ := newTestJournal(t)

	message := appendMessage(t, journal, testRoom, testAlice, "motion carried")
	react := func(author ref.PrincipalID, emoji string) {
		t.Helper()
		_, _, err := journal.Append(context.Background(), Submission{
			Room:       testRoom,
			Author:     author,
			Kind:       KindReaction,
			Payload:    ReactionPayload{Emoji: emoji},
			Supersedes: message.Sequence,
		})
		if err != nil {
			t.Fatalf("reaction: %v", err)
		}
	}

	react(testBob, "👍")
	react(testCarol, "👍")
	react(testBob, "🎉")
	react(testCarol, "👍") // toggle off

	counts, err := journal.Reactions(context.Background(), testRoom, message.Sequence)
	if err != nil {
		t.Fatalf("Reactions: %v", err)
	}
	want := map[string]int{"👍": 1, "🎉": 1}
	if len(counts) != len(want) {
		t.Fatalf("counts = %v, want %v", counts, want)
	}
	for emoji, n := range want {
		if counts[emoji] != n {
			t.Errorf("counts[%q] = %d, want %d", emoji, counts[emoji], n)
		}
	}
}

func TestJournalRangeReportsGapAfterCompaction(t *testing.T) {
	t.Parallel()
	journal, store, _ := newTestJournal(t)

	for i := 0; i < 10; i++ {
		appendMessage(t, journal, testRoom, testAlice, "m")
	}
	store.Trim(testRoom, 6)

	_, err := journal.Range(context.Background(), testRoom, 2, 10, 0)
	if !IsSequenceGap(err) {
		t.Fatalf("Range into compacted history = %v, want SequenceGapError", err)
	}
	var gap *SequenceGapError
	errors.As(err, &gap)
	if gap.Oldest != 6 {
		t.Errorf("gap.Oldest = %d, want 6", gap.Oldest)
	}

	// Ranges that start at retained history still work.
	entries, err := journal.Range(context.Background(), testRoom, 5, 10, 0)
	if err != nil {
		t.Fatalf("Range from retained position: %v", err)
	}
	if len(entries) != 5 {
		t.Errorf("got %d entries, want 5", len(entries))
	}
}

func TestJournalDigestIsDeterministic(t *testing.T) {
	t.Parallel()
	journal, _, _ := newTestJournal(t)

	a := appendMessage(t, journal, testRoom, testAlice, "same body")
	b := appendMessage(t, journal, testRoom, testBob, "same body")
	c := appendMessage(t, journal, testRoom, testAlice, "different body")

	if a.Digest != b.Digest {
		t.Error("identical payloads produced different digests")
	}
	if a.Digest == c.Digest {
		t.Error("different payloads produced the same digest")
	}
}
