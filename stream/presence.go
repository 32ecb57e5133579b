// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gavel-foundation/gavel/lib/clock"
	"github.com/gavel-foundation/gavel/lib/ref"
)

// Tracker derives presence from session lifecycle events and activity
// signals. Presence is soft state: it is never persisted, and every
// transition is timestamped so stale updates lose to newer ones
// regardless of arrival order.
type Tracker struct {
	typingDecay time.Duration
	awayAfter   time.Duration
	clock       clock.Clock
	logger      *slog.Logger

	mu       sync.Mutex
	entries  map[presenceKey]*presenceEntry
	watchers []*watchFeed[PresenceState]
}

type presenceKey struct {
	room      ref.RoomID
	principal ref.PrincipalID
}

type presenceEntry struct {
	state    PresenceState
	sessions int

	// decayTimer reverts typing to online after a quiet interval;
	// awayTimer demotes online to away after a longer one. Both are
	// reset by activity.
	decayTimer clock.Timer
	awayTimer  clock.Timer
}

// TrackerConfig configures a Tracker. AwayAfter is the quiet interval
// before an online principal is shown as away.
type TrackerConfig struct {
	TypingDecay time.Duration
	AwayAfter   time.Duration
	Clock       clock.Clock
	Logger      *slog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tracker{
		typingDecay: cfg.TypingDecay,
		awayAfter:   cfg.AwayAfter,
		clock:       cfg.Clock,
		logger:      logger,
		entries:     make(map[presenceKey]*presenceEntry),
	}
}

// HandleSessionEvent folds one registry event into presence state. The
// tracker counts sessions itself, so a principal with several tabs in
// a room stays online until the last one disconnects.
func (t *Tracker) HandleSessionEvent(event SessionEvent) {
	key := presenceKey{room: event.Session.Room, principal: event.Session.Principal}

	t.mu.Lock()
	switch event.Kind {
	case SessionConnected:
		entry := t.entries[key]
		if entry == nil {
			entry = &presenceEntry{state: PresenceState{
				Principal: key.principal,
				Room:      key.room,
				Status:    StatusOffline,
			}}
			t.entries[key] = entry
		}
		entry.sessions++
		if entry.sessions == 1 {
			t.transitionLocked(key, entry, StatusOnline, t.clock.Now())
			t.resetAwayLocked(key, entry)
		}
	case SessionDisconnected:
		entry := t.entries[key]
		if entry == nil {
			break
		}
		entry.sessions--
		if entry.sessions <= 0 {
			t.stopTimersLocked(entry)
			t.transitionLocked(key, entry, StatusOffline, t.clock.Now())
			delete(t.entries, key)
		}
	}
	t.mu.Unlock()
}

// Activity folds one client activity signal into presence state. A
// typing signal starts (or extends) the typing indicator; an idle
// signal reverts it immediately instead of waiting for decay.
func (t *Tracker) Activity(principal ref.PrincipalID, room ref.RoomID, kind ActivityKind) {
	key := presenceKey{room: room, principal: principal}

	t.mu.Lock()
	entry := t.entries[key]
	if entry == nil {
		// Activity from a principal with no live session in the room
		// is a race with disconnect; drop it.
		t.mu.Unlock()
		return
	}

	switch kind {
	case ActivityTyping:
		t.transitionLocked(key, entry, StatusTyping, t.clock.Now())
		if entry.decayTimer == nil {
			entry.decayTimer = t.clock.AfterFunc(t.typingDecay, func() {
				t.decayTyping(key)
			})
		} else {
			entry.decayTimer.Reset(t.typingDecay)
		}
		t.resetAwayLocked(key, entry)
	case ActivityIdle:
		if entry.state.Status == StatusTyping {
			if entry.decayTimer != nil {
				entry.decayTimer.Stop()
			}
			t.transitionLocked(key, entry, StatusOnline, t.clock.Now())
		}
		t.resetAwayLocked(key, entry)
	}
	t.mu.Unlock()
}

// Snapshot returns the room's current presence states, one per
// principal with at least one live session.
func (t *Tracker) Snapshot(room ref.RoomID) []PresenceState {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []PresenceState
	for key, entry := range t.entries {
		if key.room == room {
			out = append(out, entry.state)
		}
	}
	return out
}

// Watch subscribes to presence transitions. Transitions are buffered
// per watcher and delivered in order; a slow watcher accumulates
// backlog instead of blocking the tracker. The returned cancel
// removes the subscription; the channel is never closed.
func (t *Tracker) Watch() (<-chan PresenceState, func()) {
	feed := newWatchFeed[PresenceState]()
	t.mu.Lock()
	t.watchers = append(t.watchers, feed)
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		for i, w := range t.watchers {
			if w == feed {
				t.watchers = append(t.watchers[:i], t.watchers[i+1:]...)
				break
			}
		}
		t.mu.Unlock()
		feed.close()
	}
	return feed.out, cancel
}

// decayTyping is the typing decay timer callback: typing reverts to
// online if no further activity arrived.
func (t *Tracker) decayTyping(key presenceKey) {
	t.mu.Lock()
	entry := t.entries[key]
	if entry != nil && entry.state.Status == StatusTyping {
		t.transitionLocked(key, entry, StatusOnline, t.clock.Now())
	}
	t.mu.Unlock()
}

// demoteAway is the away timer callback: a quiet online principal is
// shown as away until their next activity.
func (t *Tracker) demoteAway(key presenceKey) {
	t.mu.Lock()
	entry := t.entries[key]
	if entry != nil && entry.state.Status == StatusOnline {
		t.transitionLocked(key, entry, StatusAway, t.clock.Now())
	}
	t.mu.Unlock()
}

func (t *Tracker) resetAwayLocked(key presenceKey, entry *presenceEntry) {
	if entry.state.Status == StatusAway {
		t.transitionLocked(key, entry, StatusOnline, t.clock.Now())
	}
	if entry.awayTimer == nil {
		entry.awayTimer = t.clock.AfterFunc(t.awayAfter, func() {
			t.demoteAway(key)
		})
	} else {
		entry.awayTimer.Reset(t.awayAfter)
	}
}

func (t *Tracker) stopTimersLocked(entry *presenceEntry) {
	if entry.decayTimer != nil {
		entry.decayTimer.Stop()
	}
	if entry.awayTimer != nil {
		entry.awayTimer.Stop()
	}
}

// transitionLocked applies a timestamped transition. Transitions older
// than the current state are ignored, so out-of-order delivery cannot
// regress presence.
func (t *Tracker) transitionLocked(key presenceKey, entry *presenceEntry, status PresenceStatus, at time.Time) {
	if at.Before(entry.state.LastTransition) {
		return
	}
	if entry.state.Status == status {
		return
	}
	entry.state.Status = status
	entry.state.LastTransition = at

	t.logger.Debug("presence transition",
		"principal", key.principal,
		"room", key.room,
		"status", status,
	)

	// Feeding watchers under the lock keeps transitions in order; the
	// feed never blocks, so holding t.mu here is safe even when a
	// watcher has stalled.
	state := entry.state
	for _, feed := range t.watchers {
		feed.send(state)
	}
}
