// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"fmt"

	"github.com/gavel-foundation/gavel/lib/codec"
	"github.com/gavel-foundation/gavel/lib/ref"
)

// The log's payload schema is a tagged union: EntryKind selects exactly
// one of the types below. encodePayload enforces the pairing at append
// time, so a kind can never carry a foreign payload shape.

// MessagePayload is the body of a KindMessage entry.
type MessagePayload struct {
	// Body is the message text. Mention tokens ("@handle") inside the
	// body are scanned by the notification router.
	Body string `cbor:"body"`

	// Mentions lists principals explicitly addressed through the
	// composer's mention picker, in addition to any body tokens.
	Mentions []ref.PrincipalID `cbor:"mentions,omitempty"`
}

// CommentPayload is the body of a KindComment entry.
type CommentPayload struct {
	Body string `cbor:"body"`

	// ThreadRoot is the sequence number of the comment this one
	// replies to. Zero for a top-level comment.
	ThreadRoot uint64 `cbor:"thread_root,omitempty"`

	// Anchor names the document element the comment attaches to.
	// Empty for free-floating room comments.
	Anchor string `cbor:"anchor,omitempty"`

	Mentions []ref.PrincipalID `cbor:"mentions,omitempty"`
}

// AnnotationPayload is the body of a KindAnnotation entry.
type AnnotationPayload struct {
	// Anchor names the annotated document element; SpanStart and
	// SpanEnd bound the annotated character range within it.
	Anchor    string `cbor:"anchor"`
	SpanStart int    `cbor:"span_start"`
	SpanEnd   int    `cbor:"span_end"`

	Text string `cbor:"text"`
}

// ReactionPayload is the body of a KindReaction entry. The reacted-to
// entry is named by the LogEntry's Supersedes field, not here.
type ReactionPayload struct {
	Emoji string `cbor:"emoji"`
}

// EditPayload is the body of a KindEdit entry: the full replacement
// body for the entry named by Supersedes.
type EditPayload struct {
	Body string `cbor:"body"`

	Mentions []ref.PrincipalID `cbor:"mentions,omitempty"`
}

// TombstonePayload is the body of a KindTombstone entry.
type TombstonePayload struct {
	// Reason is an optional moderation note; empty for author
	// self-deletes.
	Reason string `cbor:"reason,omitempty"`
}

// MembershipChange enumerates membership payload changes.
type MembershipChange string

const (
	// MemberAdded: Member was granted access to the room's resource.
	MemberAdded MembershipChange = "added"

	// MemberRemoved: Member lost access.
	MemberRemoved MembershipChange = "removed"

	// ResourceShared: the room's resource was shared with Member.
	ResourceShared MembershipChange = "shared"
)

// MembershipPayload is the body of a KindMembership entry.
type MembershipPayload struct {
	Member ref.PrincipalID  `cbor:"member"`
	Change MembershipChange `cbor:"change"`
}

// encodePayload validates that payload is the right type for kind and
// returns its deterministic CBOR encoding.
func encodePayload(kind EntryKind, payload any) (codec.RawMessage, error) {
	ok := false
	switch kind {
	case KindMessage:
		_, ok = payload.(MessagePayload)
	case KindComment:
		_, ok = payload.(CommentPayload)
	case KindAnnotation:
		_, ok = payload.(AnnotationPayload)
	case KindReaction:
		_, ok = payload.(ReactionPayload)
	case KindEdit:
		_, ok = payload.(EditPayload)
	case KindTombstone:
		_, ok = payload.(TombstonePayload)
	case KindMembership:
		_, ok = payload.(MembershipPayload)
	default:
		return nil, fmt.Errorf("stream: unknown entry kind %q", kind)
	}
	if !ok {
		return nil, fmt.Errorf("stream: payload type %T does not match kind %q", payload, kind)
	}
	data, err := codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("stream: encoding %s payload: %w", kind, err)
	}
	return data, nil
}

// DecodePayload decodes an entry's payload into the concrete type for
// its kind and returns it as one of the payload structs.
func DecodePayload(entry LogEntry) (any, error) {
	decode := func(v any) (any, error) {
		if err := codec.Unmarshal(entry.Payload, v); err != nil {
			return nil, fmt.Errorf("stream: decoding %s payload of %s seq %d: %w",
				entry.Kind, entry.Room, entry.Sequence, err)
		}
		return v, nil
	}
	switch entry.Kind {
	case KindMessage:
		v, err := decode(&MessagePayload{})
		if err != nil {
			return nil, err
		}
		return *v.(*MessagePayload), nil
	case KindComment:
		v, err := decode(&CommentPayload{})
		if err != nil {
			return nil, err
		}
		return *v.(*CommentPayload), nil
	case KindAnnotation:
		v, err := decode(&AnnotationPayload{})
		if err != nil {
			return nil, err
		}
		return *v.(*AnnotationPayload), nil
	case KindReaction:
		v, err := decode(&ReactionPayload{})
		if err != nil {
			return nil, err
		}
		return *v.(*ReactionPayload), nil
	case KindEdit:
		v, err := decode(&EditPayload{})
		if err != nil {
			return nil, err
		}
		return *v.(*EditPayload), nil
	case KindTombstone:
		v, err := decode(&TombstonePayload{})
		if err != nil {
			return nil, err
		}
		return *v.(*TombstonePayload), nil
	case KindMembership:
		v, err := decode(&MembershipPayload{})
		if err != nil {
			return nil, err
		}
		return *v.(*MembershipPayload), nil
	}
	return nil, fmt.Errorf("stream: unknown entry kind %q", entry.Kind)
}
