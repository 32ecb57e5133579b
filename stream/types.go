// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"time"

	"github.com/gavel-foundation/gavel/lib/codec"
	"github.com/gavel-foundation/gavel/lib/ref"
)

// EntryKind discriminates the payload of a LogEntry. The set is closed
// and versioned with the payload schema; arbitrary event shapes do
// not enter the log.
type EntryKind string

const (
	// KindMessage is a chat message in a room.
	KindMessage EntryKind = "message"

	// KindComment is a comment on a document or agenda item,
	// optionally threaded under an earlier comment.
	KindComment EntryKind = "comment"

	// KindAnnotation is an inline annotation anchored to a span of a
	// document.
	KindAnnotation EntryKind = "annotation"

	// KindReaction is an emoji reaction to an earlier entry
	// (Supersedes names the target).
	KindReaction EntryKind = "reaction"

	// KindEdit replaces the body of an earlier entry. The original is
	// never mutated; readers resolve the latest superseding edit.
	KindEdit EntryKind = "edit"

	// KindTombstone soft-deletes an earlier entry. The original stays
	// in the log for replay determinism; readers hide it.
	KindTombstone EntryKind = "tombstone"

	// KindMembership records a membership change (member added or
	// removed, document shared) for activity notifications.
	KindMembership EntryKind = "membership"
)

// valid reports whether k is one of the closed set of kinds.
func (k EntryKind) valid() bool {
	switch k {
	case KindMessage, KindComment, KindAnnotation, KindReaction,
		KindEdit, KindTombstone, KindMembership:
		return true
	}
	return false
}

// supersedable reports whether entries of this kind may be targeted by
// an edit or tombstone.
func (k EntryKind) supersedable() bool {
	switch k {
	case KindMessage, KindComment, KindAnnotation:
		return true
	}
	return false
}

// LogEntry is one committed event in a room's append-only log. Once a
// sequence number is assigned the entry is immutable: edits and
// deletions append new entries that reference the original through
// Supersedes.
type LogEntry struct {
	// Room scopes the entry; Sequence is its position in the room's
	// log. Sequences are gapless and strictly increasing per room.
	Room     ref.RoomID `cbor:"room"`
	Sequence uint64     `cbor:"sequence"`

	// Kind discriminates Payload; Payload is the CBOR encoding of the
	// kind's payload type (see payload.go).
	Kind    EntryKind        `cbor:"kind"`
	Payload codec.RawMessage `cbor:"payload"`

	// Author is the submitting principal.
	Author ref.PrincipalID `cbor:"author"`

	// Supersedes is the sequence number of the entry this one targets
	// (edits, tombstones, reactions). Zero for standalone entries.
	Supersedes uint64 `cbor:"supersedes,omitempty"`

	// ProvisionalID echoes the client-assigned optimistic ID of the
	// submission, so a client that queued the entry while offline can
	// reconcile it by ID once the server-assigned sequence arrives.
	// Empty for server-originated entries.
	ProvisionalID string `cbor:"provisional_id,omitempty"`

	// Digest is the BLAKE3 hash of Payload. Stable across resubmission
	// because payload encoding is deterministic; the journal checks it
	// when a provisional ID is resubmitted, and clients may verify
	// received entries against it.
	Digest [32]byte `cbor:"digest"`

	// CreatedAt is the commit time at the journal, not the client's
	// clock.
	CreatedAt time.Time `cbor:"created_at"`
}

// PresenceStatus is a principal's derived state in a room.
type PresenceStatus string

const (
	// StatusOnline: at least one live session, recent activity.
	StatusOnline PresenceStatus = "online"

	// StatusAway: live session, but no activity for the away window.
	StatusAway PresenceStatus = "away"

	// StatusTyping: activity within the typing-decay window.
	StatusTyping PresenceStatus = "typing"

	// StatusOffline: no live session in the room.
	StatusOffline PresenceStatus = "offline"
)

// PresenceState is a principal's presence in one room. Derived state:
// it can be recomputed from the session registry and recent activity
// at any time, and consumers must tolerate brief staleness.
type PresenceState struct {
	Principal      ref.PrincipalID `cbor:"principal"`
	Room           ref.RoomID      `cbor:"room"`
	Status         PresenceStatus  `cbor:"status"`
	LastTransition time.Time       `cbor:"last_transition"`
}

// NotificationKind discriminates targeted notifications.
type NotificationKind string

const (
	// NotifyMention: the principal was mentioned in a message or
	// comment.
	NotifyMention NotificationKind = "mention"

	// NotifyInvitation: the principal was added to a room's resource.
	NotifyInvitation NotificationKind = "invitation"

	// NotifyActivity: something happened in a resource the principal
	// belongs to (document shared, member removed).
	NotifyActivity NotificationKind = "activity"
)

// TargetedNotification is addressed to one principal, independent of
// which rooms they are connected to. Delivery to a principal with no
// live session anywhere is handed to the offline queue; delivery
// beyond that (push, email) belongs to an external collaborator.
type TargetedNotification struct {
	Principal ref.PrincipalID  `cbor:"principal"`
	Kind      NotificationKind `cbor:"kind"`

	// Room and Sequence identify the source entry.
	Room     ref.RoomID `cbor:"room"`
	Sequence uint64     `cbor:"sequence"`

	// Actor is the principal whose entry caused the notification.
	Actor ref.PrincipalID `cbor:"actor"`

	CreatedAt time.Time `cbor:"created_at"`
}

// ActivityKind is a client-reported activity signal.
type ActivityKind string

const (
	// ActivityTyping: the principal is composing.
	ActivityTyping ActivityKind = "typing"

	// ActivityIdle: the principal stopped composing (explicit blur or
	// input cleared); reverts typing immediately instead of waiting
	// for decay.
	ActivityIdle ActivityKind = "idle"
)
