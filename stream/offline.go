// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/gavel-foundation/gavel/lib/clock"
	"github.com/gavel-foundation/gavel/lib/codec"
	"github.com/gavel-foundation/gavel/lib/ref"
	"github.com/gavel-foundation/gavel/transport"
)

// Snapshot is the payload of a FrameSnapshot: the room's full visible
// entry set in one message, for clients whose reconnect gap exceeds
// the replay window. Entries is a zstd-compressed CBOR array of
// LogEntry, already folded: tombstoned entries, their tombstones, and
// superseded edits are removed.
type Snapshot struct {
	Room ref.RoomID `cbor:"room"`

	// Head is the room's last assigned sequence at snapshot time; the
	// client resumes live consumption from here.
	Head uint64 `cbor:"head"`

	// OldestRetained is the first sequence the snapshot covers.
	// History before it has been compacted away.
	OldestRetained uint64 `cbor:"oldest_retained"`

	Entries []byte `cbor:"entries"`
}

// DecodeSnapshotEntries decompresses and decodes the snapshot's entry
// set. Client-side helper; the server only encodes.
func DecodeSnapshotEntries(snapshot Snapshot) ([]LogEntry, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("stream: creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(snapshot.Entries, nil)
	if err != nil {
		return nil, fmt.Errorf("stream: decompressing snapshot of %s: %w", snapshot.Room, err)
	}
	var entries []LogEntry
	if err := codec.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("stream: decoding snapshot of %s: %w", snapshot.Room, err)
	}
	return entries, nil
}

// queuedNotification pairs a notification with its queueing time for
// retention sweeping.
type queuedNotification struct {
	notification TargetedNotification
	queuedAt     time.Time
}

// OfflineQueue holds targeted notifications for principals with no
// live session, bounded by a retention window. Room entries are never
// queued here; the journal itself is the backlog for those.
type OfflineQueue struct {
	retention time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	mu      sync.Mutex
	backlog map[ref.PrincipalID][]queuedNotification
}

// NewOfflineQueue creates an empty queue with the given retention
// window.
func NewOfflineQueue(retention time.Duration, clk clock.Clock, logger *slog.Logger) *OfflineQueue {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &OfflineQueue{
		retention: retention,
		clock:     clk,
		logger:    logger,
		backlog:   make(map[ref.PrincipalID][]queuedNotification),
	}
}

// Enqueue holds one notification for a disconnected principal.
func (q *OfflineQueue) Enqueue(notification TargetedNotification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.backlog[notification.Principal] = append(q.backlog[notification.Principal], queuedNotification{
		notification: notification,
		queuedAt:     q.clock.Now(),
	})
}

// Drain returns and clears the principal's backlog, oldest first.
// Expired notifications are dropped on the way out.
func (q *OfflineQueue) Drain(principal ref.PrincipalID) []TargetedNotification {
	q.mu.Lock()
	queued := q.backlog[principal]
	delete(q.backlog, principal)
	q.mu.Unlock()

	cutoff := q.clock.Now().Add(-q.retention)
	var out []TargetedNotification
	for _, item := range queued {
		if item.queuedAt.Before(cutoff) {
			continue
		}
		out = append(out, item.notification)
	}
	return out
}

// Sweep drops notifications older than the retention window across all
// principals and returns how many were dropped. Run periodically.
func (q *OfflineQueue) Sweep() int {
	cutoff := q.clock.Now().Add(-q.retention)

	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := 0
	for principal, queued := range q.backlog {
		kept := queued[:0]
		for _, item := range queued {
			if item.queuedAt.Before(cutoff) {
				dropped++
				continue
			}
			kept = append(kept, item)
		}
		if len(kept) == 0 {
			delete(q.backlog, principal)
		} else {
			q.backlog[principal] = kept
		}
	}
	if dropped > 0 {
		q.logger.Info("offline queue swept", "dropped", dropped)
	}
	return dropped
}

// Pending returns the principal's current backlog depth.
func (q *OfflineQueue) Pending(principal ref.PrincipalID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog[principal])
}

// Reconciler brings a reconnecting session up to date: incremental
// replay of the missed range when it fits the replay window, a full
// compressed snapshot when it does not, then the principal's queued
// notifications, then the flush of any entries that committed while
// reconciliation ran. Nothing reaches the client out of order.
type Reconciler struct {
	journal     *Journal
	queue       *OfflineQueue
	replayLimit int
	logger      *slog.Logger
	encoder     *zstd.Encoder
}

// NewReconciler creates a reconciler over the journal and queue.
func NewReconciler(journal *Journal, queue *OfflineQueue, replayLimit int, logger *slog.Logger) (*Reconciler, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("stream: creating zstd encoder: %w", err)
	}
	return &Reconciler{
		journal:     journal,
		queue:       queue,
		replayLimit: replayLimit,
		logger:      logger,
		encoder:     encoder,
	}, nil
}

// Resync catches session up from lastSeen (the highest sequence the
// client acknowledges holding; zero for a fresh client) and ends its
// reconciliation mode. Must be called exactly once per connect, after
// the registry has registered the session.
func (r *Reconciler) Resync(ctx context.Context, session *Session, lastSeen uint64) error {
	head, err := r.journal.Head(ctx, session.Room)
	if err != nil {
		return err
	}

	// A client claiming a sequence past the head holds state from a
	// log this server does not have. Rebuild it from scratch.
	if lastSeen > head {
		r.logger.Warn("client ahead of log, forcing snapshot",
			"session", session.ID,
			"room", session.Room,
			"claimed", lastSeen,
			"head", head,
		)
		lastSeen = 0
	}

	switch {
	case head == lastSeen:
		// Nothing missed.
	case head-lastSeen > uint64(r.replayLimit):
		if err := r.snapshot(ctx, session, head); err != nil {
			return err
		}
	default:
		err := r.replay(ctx, session, lastSeen, head)
		if IsSequenceGap(err) {
			// The missed range starts before retained history.
			err = r.snapshot(ctx, session, head)
		}
		if err != nil {
			return err
		}
	}

	for _, notification := range r.queue.Drain(session.Principal) {
		frame, err := transport.NewFrame(transport.FrameNotification, notification)
		if err != nil {
			return err
		}
		if err := session.EnqueueReplay(frame); err != nil {
			return err
		}
	}

	return session.EndReconciliation()
}

// replay pages the missed range through the session's pump, in order.
func (r *Reconciler) replay(ctx context.Context, session *Session, from, to uint64) error {
	r.logger.Debug("replaying range",
		"session", session.ID,
		"room", session.Room,
		"from", from,
		"to", to,
	)
	for from < to {
		page, err := r.journal.Range(ctx, session.Room, from, to, rangePageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return fmt.Errorf("stream: replay of %s stalled at %d", session.Room, from)
		}
		for _, entry := range page {
			frame, err := transport.NewFrame(transport.FrameEntry, entry)
			if err != nil {
				return err
			}
			if err := session.EnqueueReplay(frame); err != nil {
				return err
			}
			from = entry.Sequence
		}
	}
	return nil
}

// snapshot ships the room's folded visible state in one compressed
// frame.
func (r *Reconciler) snapshot(ctx context.Context, session *Session, head uint64) error {
	oldest, err := r.journal.Oldest(ctx, session.Room)
	if err != nil {
		return err
	}

	var all []LogEntry
	from := oldest - 1
	for from < head {
		page, err := r.journal.Range(ctx, session.Room, from, head, rangePageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		from = page[len(page)-1].Sequence
	}

	visible := visibleEntries(all)
	raw, err := codec.Marshal(visible)
	if err != nil {
		return fmt.Errorf("stream: encoding snapshot of %s: %w", session.Room, err)
	}

	snapshot := Snapshot{
		Room:           session.Room,
		Head:           head,
		OldestRetained: oldest,
		Entries:        r.encoder.EncodeAll(raw, nil),
	}
	frame, err := transport.NewFrame(transport.FrameSnapshot, snapshot)
	if err != nil {
		return err
	}

	r.logger.Info("snapshot resync",
		"session", session.ID,
		"room", session.Room,
		"head", head,
		"entries", len(visible),
		"bytes", len(snapshot.Entries),
	)
	return session.EnqueueReplay(frame)
}

// visibleEntries folds the append-only log into the set a fresh client
// needs: tombstoned entries disappear along with their tombstones,
// reactions, and edits; superseded edits yield to the latest one.
func visibleEntries(entries []LogEntry) []LogEntry {
	tombstoned := make(map[uint64]bool)
	latestEdit := make(map[uint64]uint64)
	for _, entry := range entries {
		switch entry.Kind {
		case KindTombstone:
			tombstoned[entry.Supersedes] = true
		case KindEdit:
			if entry.Sequence > latestEdit[entry.Supersedes] {
				latestEdit[entry.Supersedes] = entry.Sequence
			}
		}
	}

	var out []LogEntry
	for _, entry := range entries {
		switch entry.Kind {
		case KindTombstone:
			continue
		case KindEdit:
			if tombstoned[entry.Supersedes] || latestEdit[entry.Supersedes] != entry.Sequence {
				continue
			}
		case KindReaction:
			if tombstoned[entry.Supersedes] {
				continue
			}
		default:
			if tombstoned[entry.Sequence] {
				continue
			}
		}
		out = append(out, entry)
	}
	return out
}
