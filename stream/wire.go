// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"fmt"

	"github.com/gavel-foundation/gavel/lib/codec"
)

// SubmitRequest is the payload of a client FrameSubmit. The payload
// bytes stay opaque until the kind is known; ToSubmission validates
// the pairing.
type SubmitRequest struct {
	Kind          EntryKind        `cbor:"kind"`
	Payload       codec.RawMessage `cbor:"payload"`
	Supersedes    uint64           `cbor:"supersedes,omitempty"`
	ProvisionalID string           `cbor:"provisional_id,omitempty"`
}

// ToSubmission decodes the request into a Submission. Room and author
// are deliberately absent: the server takes both from the session.
func (r SubmitRequest) ToSubmission() (Submission, error) {
	var payload any
	switch r.Kind {
	case KindMessage:
		payload = &MessagePayload{}
	case KindComment:
		payload = &CommentPayload{}
	case KindAnnotation:
		payload = &AnnotationPayload{}
	case KindReaction:
		payload = &ReactionPayload{}
	case KindEdit:
		payload = &EditPayload{}
	case KindTombstone:
		payload = &TombstonePayload{}
	default:
		return Submission{}, fmt.Errorf("stream: unsupported submit kind %q", r.Kind)
	}
	if err := codec.Unmarshal(r.Payload, payload); err != nil {
		return Submission{}, fmt.Errorf("stream: decoding %s submit payload: %w", r.Kind, err)
	}

	sub := Submission{
		Kind:          r.Kind,
		Supersedes:    r.Supersedes,
		ProvisionalID: r.ProvisionalID,
	}
	switch p := payload.(type) {
	case *MessagePayload:
		sub.Payload = *p
	case *CommentPayload:
		sub.Payload = *p
	case *AnnotationPayload:
		sub.Payload = *p
	case *ReactionPayload:
		sub.Payload = *p
	case *EditPayload:
		sub.Payload = *p
	case *TombstonePayload:
		sub.Payload = *p
	}
	return sub, nil
}

// ActivityRequest is the payload of a client FrameActivity.
type ActivityRequest struct {
	Kind ActivityKind `cbor:"kind"`
}
