// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gavel-foundation/gavel/lib/clock"
	"github.com/gavel-foundation/gavel/lib/ref"
)

// seenCacheSize bounds the router's replay dedupe memory. Keys are
// per-recipient per-entry; 4096 covers the at-least-once redelivery
// window comfortably.
const seenCacheSize = 4096

// MembershipDirectory resolves a room to the principals allowed in it.
// Owned by the application's access-control layer; the router only
// reads it, to scope mention resolution and activity notifications to
// actual members.
type MembershipDirectory interface {
	Members(ctx context.Context, room ref.RoomID) ([]ref.PrincipalID, error)
}

// Router turns committed entries into targeted notifications. Routing
// is independent of room fan-out: a mention reaches its principal on
// whatever session they hold anywhere, or waits in the offline queue.
type Router struct {
	directory  MembershipDirectory
	dispatcher *Dispatcher
	queue      *OfflineQueue
	clock      clock.Clock
	logger     *slog.Logger

	// seen dedupes redelivered commits; fan-out is at-least-once but
	// a principal is notified about an entry at most once.
	seen *lru.Cache[string, struct{}]
}

// NewRouter creates a router.
func NewRouter(directory MembershipDirectory, dispatcher *Dispatcher, queue *OfflineQueue, clk clock.Clock, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	seen, err := lru.New[string, struct{}](seenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("stream: creating notification dedupe cache: %w", err)
	}
	return &Router{
		directory:  directory,
		dispatcher: dispatcher,
		queue:      queue,
		clock:      clk,
		logger:     logger,
		seen:       seen,
	}, nil
}

// Route derives and delivers the notifications for one committed
// entry. Principals with a live session get a notification frame;
// the rest are queued. Safe to call more than once per entry.
func (r *Router) Route(ctx context.Context, entry LogEntry) error {
	targets, err := r.targets(ctx, entry)
	if err != nil {
		return err
	}

	for _, target := range targets {
		key := fmt.Sprintf("%s|%d|%s|%s", entry.Room, entry.Sequence, target.Principal, target.Kind)
		if _, dup := r.seen.Get(key); dup {
			continue
		}
		r.seen.Add(key, struct{}{})

		if r.dispatcher.DeliverNotification(target) {
			continue
		}
		r.queue.Enqueue(target)
		r.logger.Debug("notification queued",
			"principal", target.Principal,
			"kind", target.Kind,
			"room", target.Room,
			"sequence", target.Sequence,
		)
	}
	return nil
}

// targets computes the notification list for an entry. Mentions only
// resolve to room members; mentioning an outsider is silently inert.
func (r *Router) targets(ctx context.Context, entry LogEntry) ([]TargetedNotification, error) {
	payload, err := DecodePayload(entry)
	if err != nil {
		return nil, err
	}

	note := func(principal ref.PrincipalID, kind NotificationKind) TargetedNotification {
		return TargetedNotification{
			Principal: principal,
			Kind:      kind,
			Room:      entry.Room,
			Sequence:  entry.Sequence,
			Actor:     entry.Author,
			CreatedAt: r.clock.Now(),
		}
	}

	switch p := payload.(type) {
	case MessagePayload:
		return r.mentionTargets(ctx, entry, p.Body, p.Mentions, note)
	case CommentPayload:
		return r.mentionTargets(ctx, entry, p.Body, p.Mentions, note)
	case EditPayload:
		return r.mentionTargets(ctx, entry, p.Body, p.Mentions, note)
	case MembershipPayload:
		return r.membershipTargets(ctx, entry, p, note)
	}
	return nil, nil
}

func (r *Router) mentionTargets(ctx context.Context, entry LogEntry, body string, explicit []ref.PrincipalID, note func(ref.PrincipalID, NotificationKind) TargetedNotification) ([]TargetedNotification, error) {
	mentioned := principalSet(explicit)
	for _, principal := range scanMentions(body) {
		mentioned[principal] = true
	}
	if len(mentioned) == 0 {
		return nil, nil
	}

	members, err := r.directory.Members(ctx, entry.Room)
	if err != nil {
		return nil, fmt.Errorf("stream: resolving members of %s: %w", entry.Room, err)
	}

	var out []TargetedNotification
	for _, member := range members {
		if member == entry.Author {
			continue
		}
		if mentioned[member] {
			out = append(out, note(member, NotifyMention))
		}
	}
	return out, nil
}

func (r *Router) membershipTargets(ctx context.Context, entry LogEntry, payload MembershipPayload, note func(ref.PrincipalID, NotificationKind) TargetedNotification) ([]TargetedNotification, error) {
	members, err := r.directory.Members(ctx, entry.Room)
	if err != nil {
		return nil, fmt.Errorf("stream: resolving members of %s: %w", entry.Room, err)
	}

	var out []TargetedNotification
	switch payload.Change {
	case MemberAdded, ResourceShared:
		if payload.Member != entry.Author {
			out = append(out, note(payload.Member, NotifyInvitation))
		}
		for _, member := range members {
			if member == entry.Author || member == payload.Member {
				continue
			}
			out = append(out, note(member, NotifyActivity))
		}
	case MemberRemoved:
		for _, member := range members {
			if member == entry.Author || member == payload.Member {
				continue
			}
			out = append(out, note(member, NotifyActivity))
		}
	}
	return out, nil
}

// scanMentions extracts "@handle" tokens from a message body. Tokens
// that do not parse as principal IDs are ignored; resolution against
// actual membership happens in the caller.
func scanMentions(body string) []ref.PrincipalID {
	var out []ref.PrincipalID
	for i := 0; i < len(body); i++ {
		if body[i] != '@' {
			continue
		}
		// A mention starts a word: beginning of body or after a
		// non-handle character.
		if i > 0 && isHandleByte(body[i-1]) {
			continue
		}
		end := i + 1
		for end < len(body) && isHandleByte(body[end]) {
			end++
		}
		if end == i+1 {
			continue
		}
		token := strings.TrimRight(body[i:end], "._-")
		if principal, err := ref.ParsePrincipalID(token); err == nil {
			out = append(out, principal)
		}
		i = end - 1
	}
	return out
}

func isHandleByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '.' || b == '_' || b == '-':
		return true
	}
	return false
}

func principalSet(principals []ref.PrincipalID) map[ref.PrincipalID]bool {
	set := make(map[ref.PrincipalID]bool, len(principals))
	for _, principal := range principals {
		set[principal] = true
	}
	return set
}
