// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"

	"github.com/gavel-foundation/gavel/lib/codec"
)

// FrameKind discriminates the payload of a Frame. The set is closed:
// unknown kinds are a protocol error, not an extension point.
type FrameKind string

// Server-to-client frame kinds.
const (
	// FrameEntry carries one committed log entry (live fan-out and
	// reconciliation replay both use this kind; consumers dedupe by
	// room and sequence).
	FrameEntry FrameKind = "entry"

	// FramePresence carries one presence state delta.
	FramePresence FrameKind = "presence"

	// FrameNotification carries one targeted notification (mention,
	// invitation, activity).
	FrameNotification FrameKind = "notification"

	// FrameSnapshot carries a zstd-compressed full-room snapshot,
	// sent instead of incremental replay when the reconnect gap
	// exceeds the replay window.
	FrameSnapshot FrameKind = "snapshot"
)

// Client-to-server frame kinds.
const (
	// FrameSubmit carries a client submission (message, comment,
	// reaction, annotation, edit, tombstone) with its provisional ID.
	FrameSubmit FrameKind = "submit"

	// FrameActivity carries a typing/idle activity signal.
	FrameActivity FrameKind = "activity"
)

// Frame is the unit of exchange on a session transport. Payload is the
// CBOR encoding of the kind's payload type; the stream package owns
// those types and this package stays ignorant of them, which keeps the
// dependency arrow pointing from core to transport only at the
// interface level.
type Frame struct {
	Kind    FrameKind        `cbor:"kind"`
	Payload codec.RawMessage `cbor:"payload"`
}

// NewFrame encodes payload and wraps it with the given kind.
func NewFrame(kind FrameKind, payload any) (Frame, error) {
	data, err := codec.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("transport: encoding %s payload: %w", kind, err)
	}
	return Frame{Kind: kind, Payload: data}, nil
}

// DecodePayload decodes the frame's payload into v.
func (f Frame) DecodePayload(v any) error {
	if err := codec.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("transport: decoding %s payload: %w", f.Kind, err)
	}
	return nil
}

// Transport is the outbound handle for one session. Implementations
// must be safe for concurrent Send calls; the fan-out dispatcher and
// the presence tracker write from different goroutines.
//
// Send either delivers the frame to the underlying medium or returns
// an error. An error is terminal for the session: the caller marks it
// stale and disconnects it. Close releases the medium and is safe to
// call more than once.
type Transport interface {
	Send(frame Frame) error
	Close() error
}
