// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// sessionPrefix distinguishes session IDs from the other identifier
// families at a glance in logs and wire frames.
const sessionPrefix = "ses_"

// SessionID identifies one live connection instance for a principal in
// a room. Session IDs are registry-assigned and never reused: a
// reconnect always yields a fresh SessionID, even for the same
// principal and room.
//
// SessionID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type SessionID struct {
	id string
}

// NewSessionID wraps a freshly generated opaque token (typically a
// UUID) as a SessionID. The registry is the only producer.
func NewSessionID(token string) SessionID {
	return SessionID{id: sessionPrefix + token}
}

// ParseSessionID validates and wraps a raw session ID string. Returns
// an error if the string lacks the "ses_" prefix or has no content
// after it.
func ParseSessionID(raw string) (SessionID, error) {
	if raw == "" {
		return SessionID{}, fmt.Errorf("empty session ID")
	}
	if !strings.HasPrefix(raw, sessionPrefix) {
		return SessionID{}, fmt.Errorf("session ID missing %q prefix: %q", sessionPrefix, raw)
	}
	if len(raw) == len(sessionPrefix) {
		return SessionID{}, fmt.Errorf("session ID has no content after prefix: %q", raw)
	}
	return SessionID{id: raw}, nil
}

// MustParseSessionID is like ParseSessionID but panics on error. Use
// in tests where the input is known-valid.
func MustParseSessionID(raw string) SessionID {
	s, err := ParseSessionID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseSessionID(%q): %v", raw, err))
	}
	return s
}

// String returns the full session ID string (e.g., "ses_01f3...").
func (s SessionID) String() string { return s.id }

// IsZero reports whether the SessionID is the zero value.
func (s SessionID) IsZero() bool { return s.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (s SessionID) MarshalText() ([]byte, error) {
	if s.id == "" {
		return nil, nil
	}
	return []byte(s.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Validates the
// session ID format. An empty input produces the zero value.
func (s *SessionID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*s = SessionID{}
		return nil
	}
	parsed, err := ParseSessionID(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
