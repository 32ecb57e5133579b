// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"errors"
	"fmt"

	"github.com/gavel-foundation/gavel/lib/ref"
)

// ErrSessionNotFound is returned when an operation names a session ID
// the registry does not know. Disconnect specifically treats this as a
// no-op instead of an error (idempotent disconnect).
var ErrSessionNotFound = errors.New("stream: session not found")

// ErrUnknownTarget is returned when an edit, tombstone, or reaction
// names a sequence number that does not exist in the room's log.
var ErrUnknownTarget = errors.New("stream: target entry not found")

// ErrNotSupersedable is returned when an edit or tombstone targets an
// entry kind that cannot be superseded (reactions, tombstones, edits,
// membership records).
var ErrNotSupersedable = errors.New("stream: target entry kind cannot be edited or deleted")

// SequenceGapError reports that a reconciliation range is no longer
// available: the store's retained history starts after the requested
// position. The caller falls back to a full-snapshot resync; this is
// a routing signal, not a user-visible failure.
type SequenceGapError struct {
	Room ref.RoomID

	// From is the exclusive start the caller asked for; Oldest is the
	// first sequence the store still retains.
	From   uint64
	Oldest uint64
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("stream: %s history starts at %d, after requested position %d",
		e.Room, e.Oldest, e.From)
}

// IsSequenceGap reports whether err is a SequenceGapError.
func IsSequenceGap(err error) bool {
	var gap *SequenceGapError
	return errors.As(err, &gap)
}

// PolicyError is an authorization rejection from the external access
// policy collaborator. It propagates to the submitting caller verbatim
// and is never retried.
type PolicyError struct {
	// Op is the rejected operation ("edit", "tombstone", "submit").
	Op string

	// Actor is the principal that attempted the operation.
	Actor ref.PrincipalID

	// Reason is the collaborator's human-readable denial.
	Reason string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("stream: %s by %s rejected: %s", e.Op, e.Actor, e.Reason)
}

// IsPolicyRejection reports whether err is a PolicyError.
func IsPolicyRejection(err error) bool {
	var policy *PolicyError
	return errors.As(err, &policy)
}
