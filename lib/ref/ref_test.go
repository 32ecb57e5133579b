// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"encoding/json"
	"testing"
)

func TestParseRoomID(t *testing.T) {
	t.Parallel()

	valid := []string{
		"chat:board-finance",
		"doc:q3-minutes",
		"vault:acme-holdings",
		"chat:x",
	}
	for _, raw := range valid {
		room, err := ParseRoomID(raw)
		if err != nil {
			t.Errorf("ParseRoomID(%q): unexpected error: %v", raw, err)
			continue
		}
		if room.String() != raw {
			t.Errorf("ParseRoomID(%q).String(): got %q", raw, room.String())
		}
		if room.IsZero() {
			t.Errorf("ParseRoomID(%q): IsZero on valid room", raw)
		}
	}

	invalid := []string{
		"",
		"chat",
		"chat:",
		"unknown:thing",
		"board-finance",
	}
	for _, raw := range invalid {
		if _, err := ParseRoomID(raw); err == nil {
			t.Errorf("ParseRoomID(%q): expected error, got nil", raw)
		}
	}
}

func TestRoomIDScheme(t *testing.T) {
	t.Parallel()
	room := MustParseRoomID("doc:q3-minutes")
	if room.Scheme() != "doc" {
		t.Errorf("Scheme: got %q, want %q", room.Scheme(), "doc")
	}
}

func TestParsePrincipalID(t *testing.T) {
	t.Parallel()

	valid := []string{"@chair.wilson", "@a", "@ops-bot_2"}
	for _, raw := range valid {
		principal, err := ParsePrincipalID(raw)
		if err != nil {
			t.Errorf("ParsePrincipalID(%q): unexpected error: %v", raw, err)
			continue
		}
		if principal.String() != raw {
			t.Errorf("ParsePrincipalID(%q).String(): got %q", raw, principal.String())
		}
	}

	invalid := []string{"", "@", "chair.wilson", "@Chair", "@two words", "@semi;colon"}
	for _, raw := range invalid {
		if _, err := ParsePrincipalID(raw); err == nil {
			t.Errorf("ParsePrincipalID(%q): expected error, got nil", raw)
		}
	}
}

func TestParseSessionID(t *testing.T) {
	t.Parallel()

	session := NewSessionID("0194fe3c")
	if session.String() != "ses_0194fe3c" {
		t.Errorf("NewSessionID: got %q, want %q", session.String(), "ses_0194fe3c")
	}

	parsed, err := ParseSessionID(session.String())
	if err != nil {
		t.Fatalf("ParseSessionID round-trip: %v", err)
	}
	if parsed != session {
		t.Errorf("ParseSessionID round-trip: got %v, want %v", parsed, session)
	}

	invalid := []string{"", "ses_", "0194fe3c", "sid_0194fe3c"}
	for _, raw := range invalid {
		if _, err := ParseSessionID(raw); err == nil {
			t.Errorf("ParseSessionID(%q): expected error, got nil", raw)
		}
	}
}

func TestTextRoundTrip(t *testing.T) {
	t.Parallel()

	type wrapper struct {
		Room      RoomID      `json:"room"`
		Principal PrincipalID `json:"principal"`
		Session   SessionID   `json:"session"`
	}

	original := wrapper{
		Room:      MustParseRoomID("chat:board-finance"),
		Principal: MustParsePrincipalID("@chair.wilson"),
		Session:   NewSessionID("0194fe3c"),
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded wrapper
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("round-trip: got %+v, want %+v", decoded, original)
	}
}

func TestUnmarshalRejectsInvalid(t *testing.T) {
	t.Parallel()

	var room RoomID
	if err := json.Unmarshal([]byte(`"nonsense"`), &room); err == nil {
		t.Error("unmarshal invalid room ID: expected error, got nil")
	}

	var principal PrincipalID
	if err := json.Unmarshal([]byte(`"NOPE"`), &principal); err == nil {
		t.Error("unmarshal invalid principal ID: expected error, got nil")
	}
}
