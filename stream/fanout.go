// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"errors"
	"io"
	"log/slog"

	"github.com/gavel-foundation/gavel/transport"
)

// Dispatcher delivers frames to live sessions. It is deliberately
// dumb: ordering comes from being invoked inside the journal's
// per-room write turn, and backpressure comes from each session's
// bounded outbound buffer. A session that cannot keep up is retired
// rather than skipped; delivery is at-least-once and in order, so
// the only legal ways to miss an entry are disconnection and resync.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over the registry.
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// PublishEntry fans one committed entry out to the room's live
// sessions. Called from the journal's commit hook, inside the room's
// write turn, so every session observes commits in sequence order.
func (d *Dispatcher) PublishEntry(entry LogEntry) {
	frame, err := transport.NewFrame(transport.FrameEntry, entry)
	if err != nil {
		d.logger.Error("encoding entry frame",
			"room", entry.Room,
			"sequence", entry.Sequence,
			"error", err,
		)
		return
	}

	for _, session := range d.registry.SessionsInRoom(entry.Room) {
		d.deliver(session, frame)
	}
}

// PublishPresence fans one presence transition out to the room's live
// sessions, including the transitioning principal's own.
func (d *Dispatcher) PublishPresence(state PresenceState) {
	frame, err := transport.NewFrame(transport.FramePresence, state)
	if err != nil {
		d.logger.Error("encoding presence frame",
			"room", state.Room,
			"principal", state.Principal,
			"error", err,
		)
		return
	}

	for _, session := range d.registry.SessionsInRoom(state.Room) {
		d.deliver(session, frame)
	}
}

// DeliverNotification sends one targeted notification to every live
// session of its principal, in any room. Returns false when the
// principal has no live session; the caller queues it for later.
func (d *Dispatcher) DeliverNotification(notification TargetedNotification) bool {
	frame, err := transport.NewFrame(transport.FrameNotification, notification)
	if err != nil {
		d.logger.Error("encoding notification frame",
			"principal", notification.Principal,
			"error", err,
		)
		return false
	}

	sessions := d.registry.SessionsOf(notification.Principal)
	if len(sessions) == 0 {
		return false
	}
	for _, session := range sessions {
		d.deliver(session, frame)
	}
	return true
}

func (d *Dispatcher) deliver(session *Session, frame transport.Frame) {
	err := session.Enqueue(frame)
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionClosed):
		// Lost the race with a disconnect; the entry reaches the
		// client through reconciliation on its next connect.
	case errors.Is(err, errBufferFull):
		d.logger.Warn("session too slow, retiring",
			"session", session.ID,
			"principal", session.Principal,
			"room", session.Room,
		)
		d.registry.Disconnect(session.ID, "outbound buffer overflow")
	default:
		d.logger.Error("frame delivery failed",
			"session", session.ID,
			"error", err,
		)
		d.registry.Disconnect(session.ID, "delivery failure")
	}
}
