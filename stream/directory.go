// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"sort"

	"github.com/gavel-foundation/gavel/lib/ref"
)

// Compile-time interface check.
var _ MembershipDirectory = (*LogDirectory)(nil)

// LogDirectory derives room membership from the room's own membership
// entries: added and shared grant, removed revokes. It serves
// deployments where the collaboration core is the system of record;
// applications with their own access-control store implement
// MembershipDirectory against that instead.
type LogDirectory struct {
	store Store
}

// NewLogDirectory creates a directory over the given store.
func NewLogDirectory(store Store) *LogDirectory {
	return &LogDirectory{store: store}
}

// Members implements MembershipDirectory by folding the room's
// membership entries in sequence order. Membership changes compacted
// out of retained history are lost with it; keep retention above the
// room's lifetime when using this directory.
func (d *LogDirectory) Members(ctx context.Context, room ref.RoomID) ([]ref.PrincipalID, error) {
	head, err := d.store.Head(ctx, room)
	if err != nil {
		return nil, err
	}
	oldest, err := d.store.Oldest(ctx, room)
	if err != nil {
		return nil, err
	}
	if head == 0 {
		return nil, nil
	}

	members := make(map[ref.PrincipalID]bool)
	for from := oldest - 1; from < head; {
		page, err := d.store.Range(ctx, room, from, head, rangePageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, entry := range page {
			from = entry.Sequence
			if entry.Kind != KindMembership {
				continue
			}
			payload, err := DecodePayload(entry)
			if err != nil {
				return nil, err
			}
			membership := payload.(MembershipPayload)
			switch membership.Change {
			case MemberAdded, ResourceShared:
				members[membership.Member] = true
			case MemberRemoved:
				delete(members, membership.Member)
			}
		}
	}

	out := make([]ref.PrincipalID, 0, len(members))
	for member := range members {
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}
