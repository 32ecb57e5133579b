// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// PrincipalID is a validated authenticated-principal handle (e.g.,
// "@chair.wilson"). Principals arrive from the excluded authentication
// collaborator as opaque identities; the core validates the handle
// shape and nothing else.
//
// The '@' prefix is load-bearing for mention routing: the same token
// that identifies a principal appears verbatim inside message bodies
// ("ping @chair.wilson"), so the notification router can scan for
// mentions without a separate alias table.
//
// PrincipalID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type PrincipalID struct {
	id string
}

// ParsePrincipalID validates and wraps a raw principal handle. The
// handle must start with '@' followed by one or more characters from
// [a-z0-9._-].
func ParsePrincipalID(raw string) (PrincipalID, error) {
	if raw == "" {
		return PrincipalID{}, fmt.Errorf("empty principal ID")
	}
	if raw[0] != '@' {
		return PrincipalID{}, fmt.Errorf("principal ID must start with '@': %q", raw)
	}
	if len(raw) < 2 {
		return PrincipalID{}, fmt.Errorf("principal ID has no content after '@': %q", raw)
	}
	for i := 1; i < len(raw); i++ {
		if !isHandleByte(raw[i]) {
			return PrincipalID{}, fmt.Errorf("principal ID has invalid character %q at position %d: %q", raw[i], i, raw)
		}
	}
	return PrincipalID{id: raw}, nil
}

// MustParsePrincipalID is like ParsePrincipalID but panics on error.
// Use in tests and static initialization where the input is known-valid.
func MustParsePrincipalID(raw string) PrincipalID {
	p, err := ParsePrincipalID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParsePrincipalID(%q): %v", raw, err))
	}
	return p
}

// isHandleByte reports whether b is valid inside a principal handle
// (after the '@' prefix).
func isHandleByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '.' || b == '_' || b == '-':
		return true
	}
	return false
}

// String returns the full handle string (e.g., "@chair.wilson").
func (p PrincipalID) String() string { return p.id }

// IsZero reports whether the PrincipalID is the zero value.
func (p PrincipalID) IsZero() bool { return p.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (p PrincipalID) MarshalText() ([]byte, error) {
	if p.id == "" {
		return nil, nil
	}
	return []byte(p.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Validates the
// handle format. An empty input produces the zero value.
func (p *PrincipalID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*p = PrincipalID{}
		return nil
	}
	parsed, err := ParsePrincipalID(string(data))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
