// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"

	"github.com/gavel-foundation/gavel/lib/clock"
	"github.com/gavel-foundation/gavel/lib/ref"
)

// provisionalCacheSize bounds the per-room provisional-ID memory. A
// client resubmitting an optimistic entry after reconnect hits this
// cache; 1024 covers far more in-flight submissions than any client
// holds while offline.
const provisionalCacheSize = 1024

// rangePageSize caps how many entries a single store read returns.
// Reconciliation paginates; nothing scans a room's history unbounded.
const rangePageSize = 256

// Store is the durable backing of the journal. Durability policy (disk
// format, fsync, replication) belongs to the storage collaborator; the
// journal only needs ordered appends and range reads.
//
// Implementations must serialize nothing themselves; the journal
// guarantees that Append is called at most once at a time per room,
// with gapless increasing sequences.
type Store interface {
	// Append persists one committed entry.
	Append(ctx context.Context, entry LogEntry) error

	// Range returns entries of room with sequence in (fromExclusive,
	// toInclusive], in sequence order, at most limit entries.
	Range(ctx context.Context, room ref.RoomID, fromExclusive, toInclusive uint64, limit int) ([]LogEntry, error)

	// Head returns the highest committed sequence of room, zero when
	// the room's log is empty.
	Head(ctx context.Context, room ref.RoomID) (uint64, error)

	// Oldest returns the lowest retained sequence of room, zero when
	// empty. A store that has compacted history away reports the
	// first sequence it still has.
	Oldest(ctx context.Context, room ref.RoomID) (uint64, error)
}

// Submission is a client-originated request to append one entry.
type Submission struct {
	Room   ref.RoomID
	Author ref.PrincipalID
	Kind   EntryKind

	// Payload must be the payload struct matching Kind (see
	// payload.go).
	Payload any

	// Supersedes names the target entry for reactions, edits, and
	// tombstones. Must be zero for other kinds.
	Supersedes uint64

	// ProvisionalID is the client's optimistic ID for this submission.
	// Resubmitting with the same ID (the offline round-trip) returns
	// the already-committed entry instead of appending twice.
	ProvisionalID string
}

// Journal is the append-only, per-room ordered event log: the single
// source of truth every other component derives from.
//
// Sequence assignment is serialized per room and only per room. Rooms
// are fully independent; there is no global write lock.
type Journal struct {
	store  Store
	clock  clock.Clock
	logger *slog.Logger

	// onCommit runs inside the committing room's write turn, so
	// fan-out observes commits in sequence order. Set once at wiring
	// time, before traffic.
	onCommit func(LogEntry)

	mu    sync.Mutex
	rooms map[ref.RoomID]*roomLog
}

// roomLog is the per-room serialization point.
type roomLog struct {
	mu   sync.Mutex
	head uint64

	// provisional maps a submission's provisional ID to its committed
	// sequence, making resubmission idempotent.
	provisional *lru.Cache[string, uint64]
}

// NewJournal creates a journal over the given store.
func NewJournal(store Store, clk clock.Clock, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Journal{
		store:  store,
		clock:  clk,
		logger: logger,
		rooms:  make(map[ref.RoomID]*roomLog),
	}
}

// SetCommitHook registers fn to run for every newly committed entry,
// inside the committing room's write turn. Call before any traffic.
func (j *Journal) SetCommitHook(fn func(LogEntry)) {
	j.onCommit = fn
}

// Append validates the submission, assigns the room's next sequence
// number, and persists the entry. Returns the committed entry and
// whether this call appended it: a duplicate resubmission (same
// provisional ID) returns the original entry and false, with no error;
// idempotency is the contract, not a failure.
func (j *Journal) Append(ctx context.Context, sub Submission) (LogEntry, bool, error) {
	if sub.Room.IsZero() {
		return LogEntry{}, false, fmt.Errorf("stream: append without room")
	}
	if sub.Author.IsZero() {
		return LogEntry{}, false, fmt.Errorf("stream: append without author")
	}
	if !sub.Kind.valid() {
		return LogEntry{}, false, fmt.Errorf("stream: unknown entry kind %q", sub.Kind)
	}

	payload, err := encodePayload(sub.Kind, sub.Payload)
	if err != nil {
		return LogEntry{}, false, err
	}

	if err := j.validateTarget(ctx, sub); err != nil {
		return LogEntry{}, false, err
	}

	room, err := j.roomLog(ctx, sub.Room)
	if err != nil {
		return LogEntry{}, false, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	// Resubmission of an already-committed provisional entry: return
	// the original. The client reconciles by provisional ID. The
	// payload digest must match what was committed; a provisional ID
	// reused for different content is a client bug, not a duplicate.
	if sub.ProvisionalID != "" {
		if seq, ok := room.provisional.Get(sub.ProvisionalID); ok {
			existing, err := j.entryAt(ctx, sub.Room, seq)
			if err != nil {
				return LogEntry{}, false, err
			}
			if existing.Digest != blake3.Sum256(payload) {
				return LogEntry{}, false, fmt.Errorf("stream: provisional id %q resubmitted with a different payload (committed seq %d)",
					sub.ProvisionalID, existing.Sequence)
			}
			return existing, false, nil
		}
	}

	entry := LogEntry{
		Room:          sub.Room,
		Sequence:      room.head + 1,
		Kind:          sub.Kind,
		Payload:       payload,
		Author:        sub.Author,
		Supersedes:    sub.Supersedes,
		ProvisionalID: sub.ProvisionalID,
		Digest:        blake3.Sum256(payload),
		CreatedAt:     j.clock.Now(),
	}

	if err := j.store.Append(ctx, entry); err != nil {
		return LogEntry{}, false, fmt.Errorf("stream: persisting %s seq %d: %w", sub.Room, entry.Sequence, err)
	}
	room.head = entry.Sequence
	if sub.ProvisionalID != "" {
		room.provisional.Add(sub.ProvisionalID, entry.Sequence)
	}

	j.logger.Debug("entry committed",
		"room", entry.Room,
		"sequence", entry.Sequence,
		"kind", entry.Kind,
		"author", entry.Author,
	)

	if j.onCommit != nil {
		j.onCommit(entry)
	}
	return entry, true, nil
}

// Edit appends a KindEdit entry superseding target. The original entry
// is untouched; readers resolve the latest edit.
func (j *Journal) Edit(ctx context.Context, room ref.RoomID, target uint64, author ref.PrincipalID, payload EditPayload, provisionalID string) (LogEntry, bool, error) {
	return j.Append(ctx, Submission{
		Room:          room,
		Author:        author,
		Kind:          KindEdit,
		Payload:       payload,
		Supersedes:    target,
		ProvisionalID: provisionalID,
	})
}

// Tombstone appends a KindTombstone entry soft-deleting target. The
// original entry stays in the log; replay remains deterministic.
func (j *Journal) Tombstone(ctx context.Context, room ref.RoomID, target uint64, author ref.PrincipalID, reason string, provisionalID string) (LogEntry, bool, error) {
	return j.Append(ctx, Submission{
		Room:          room,
		Author:        author,
		Kind:          KindTombstone,
		Payload:       TombstonePayload{Reason: reason},
		Supersedes:    target,
		ProvisionalID: provisionalID,
	})
}

// Range returns entries of room in (fromExclusive, toInclusive], in
// order, capped at limit (or rangePageSize if limit is zero or
// larger). Returns a SequenceGapError when the store no longer retains
// the start of the requested range; the caller should fall back to a
// snapshot resync.
func (j *Journal) Range(ctx context.Context, room ref.RoomID, fromExclusive, toInclusive uint64, limit int) ([]LogEntry, error) {
	if limit <= 0 || limit > rangePageSize {
		limit = rangePageSize
	}
	if toInclusive <= fromExclusive {
		return nil, nil
	}

	oldest, err := j.store.Oldest(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("stream: reading oldest of %s: %w", room, err)
	}
	if oldest > fromExclusive+1 {
		return nil, &SequenceGapError{Room: room, From: fromExclusive, Oldest: oldest}
	}

	entries, err := j.store.Range(ctx, room, fromExclusive, toInclusive, limit)
	if err != nil {
		return nil, fmt.Errorf("stream: reading range (%d, %d] of %s: %w", fromExclusive, toInclusive, room, err)
	}
	return entries, nil
}

// Head returns the room's last assigned sequence number, zero when
// the room has no entries.
func (j *Journal) Head(ctx context.Context, room ref.RoomID) (uint64, error) {
	log, err := j.roomLog(ctx, room)
	if err != nil {
		return 0, err
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	return log.head, nil
}

// Oldest returns the first sequence the store still retains for room,
// zero when the room's log is empty. Snapshot resync reads forward
// from here.
func (j *Journal) Oldest(ctx context.Context, room ref.RoomID) (uint64, error) {
	oldest, err := j.store.Oldest(ctx, room)
	if err != nil {
		return 0, fmt.Errorf("stream: reading oldest of %s: %w", room, err)
	}
	return oldest, nil
}

// Reactions folds the room's reaction entries targeting the given
// sequence into current counts per emoji. Reacting is a toggle: the
// same author reacting with the same emoji an even number of times
// cancels out. This is how the UI's "remove reaction" maps onto an
// append-only log.
func (j *Journal) Reactions(ctx context.Context, room ref.RoomID, target uint64) (map[string]int, error) {
	head, err := j.Head(ctx, room)
	if err != nil {
		return nil, err
	}

	// parity tracks per-emoji, per-author toggle state.
	parity := make(map[string]map[ref.PrincipalID]bool)

	for from := uint64(0); from < head; {
		page, err := j.Range(ctx, room, from, head, rangePageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, entry := range page {
			from = entry.Sequence
			if entry.Kind != KindReaction || entry.Supersedes != target {
				continue
			}
			payload, err := DecodePayload(entry)
			if err != nil {
				return nil, err
			}
			emoji := payload.(ReactionPayload).Emoji
			if parity[emoji] == nil {
				parity[emoji] = make(map[ref.PrincipalID]bool)
			}
			parity[emoji][entry.Author] = !parity[emoji][entry.Author]
		}
	}

	counts := make(map[string]int)
	for emoji, authors := range parity {
		for _, on := range authors {
			if on {
				counts[emoji]++
			}
		}
	}
	return counts, nil
}

// validateTarget checks the Supersedes field against the submission's
// kind: reactions, edits, and tombstones must name an existing,
// supersedable entry; other kinds must not name one.
func (j *Journal) validateTarget(ctx context.Context, sub Submission) error {
	switch sub.Kind {
	case KindReaction, KindEdit, KindTombstone:
		if sub.Supersedes == 0 {
			return fmt.Errorf("stream: %s requires a target entry", sub.Kind)
		}
		target, err := j.entryAt(ctx, sub.Room, sub.Supersedes)
		if err != nil {
			return err
		}
		if !target.Kind.supersedable() {
			return fmt.Errorf("%w: seq %d is %s", ErrNotSupersedable, target.Sequence, target.Kind)
		}
	default:
		if sub.Supersedes != 0 {
			return fmt.Errorf("stream: %s must not name a target entry", sub.Kind)
		}
	}
	return nil
}

// entryAt fetches the single entry at the given sequence.
func (j *Journal) entryAt(ctx context.Context, room ref.RoomID, seq uint64) (LogEntry, error) {
	entries, err := j.store.Range(ctx, room, seq-1, seq, 1)
	if err != nil {
		return LogEntry{}, fmt.Errorf("stream: reading %s seq %d: %w", room, seq, err)
	}
	if len(entries) == 0 {
		return LogEntry{}, fmt.Errorf("%w: %s seq %d", ErrUnknownTarget, room, seq)
	}
	return entries[0], nil
}

// roomLog returns the room's serialization point, creating it on first
// use with the head loaded from the store.
func (j *Journal) roomLog(ctx context.Context, room ref.RoomID) (*roomLog, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if log, ok := j.rooms[room]; ok {
		return log, nil
	}

	head, err := j.store.Head(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("stream: loading head of %s: %w", room, err)
	}
	provisional, err := lru.New[string, uint64](provisionalCacheSize)
	if err != nil {
		return nil, fmt.Errorf("stream: creating provisional cache: %w", err)
	}
	log := &roomLog{head: head, provisional: provisional}
	j.rooms[room] = log
	return log, nil
}
