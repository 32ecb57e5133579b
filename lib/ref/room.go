// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// roomSchemes are the resource kinds that own a collaboration room. A
// room scopes one ordered event log and its live sessions: the chat
// thread of a board, the comment stream of a document, or the activity
// feed of a vault.
var roomSchemes = map[string]bool{
	"chat":  true,
	"doc":   true,
	"vault": true,
}

// RoomID is a validated room identifier (e.g., "chat:board-finance",
// "doc:q3-minutes"). The scheme names the owning resource kind; the
// local part is an opaque resource identifier assigned when the
// resource is created.
//
// RoomID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type RoomID struct {
	id string
}

// ParseRoomID validates and wraps a raw room ID string. Returns an
// error if the string is empty, has an unknown scheme, or has an
// empty local part.
func ParseRoomID(raw string) (RoomID, error) {
	if raw == "" {
		return RoomID{}, fmt.Errorf("empty room ID")
	}
	scheme, local, found := strings.Cut(raw, ":")
	if !found {
		return RoomID{}, fmt.Errorf("room ID missing ':' separator: %q", raw)
	}
	if !roomSchemes[scheme] {
		return RoomID{}, fmt.Errorf("room ID has unknown scheme %q: %q", scheme, raw)
	}
	if local == "" {
		return RoomID{}, fmt.Errorf("room ID has empty local part: %q", raw)
	}
	return RoomID{id: raw}, nil
}

// MustParseRoomID is like ParseRoomID but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseRoomID(raw string) RoomID {
	r, err := ParseRoomID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomID(%q): %v", raw, err))
	}
	return r
}

// String returns the full room ID string (e.g., "chat:board-finance").
func (r RoomID) String() string { return r.id }

// IsZero reports whether the RoomID is the zero value (uninitialized).
func (r RoomID) IsZero() bool { return r.id == "" }

// Scheme returns the resource kind that owns the room ("chat", "doc",
// or "vault").
func (r RoomID) Scheme() string {
	scheme, _, _ := strings.Cut(r.id, ":")
	return scheme
}

// MarshalText implements encoding.TextMarshaler.
func (r RoomID) MarshalText() ([]byte, error) {
	if r.id == "" {
		return nil, nil
	}
	return []byte(r.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Validates the
// room ID format. An empty input produces the zero value.
func (r *RoomID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*r = RoomID{}
		return nil
	}
	parsed, err := ParseRoomID(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
