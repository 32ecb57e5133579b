// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream is Gavel's real-time collaboration core: the ordered
// event log, live fan-out, presence, offline reconciliation, and
// notification routing behind the board-governance UI.
//
// The architecture is a per-room single-writer log with everything
// else derived from it:
//
//   - Journal assigns each room's gapless, monotonic sequence numbers.
//     Appending is the only serialization point, scoped per room;
//     rooms never contend with each other.
//   - Registry owns live sessions and their transports, one logical
//     session per principal per room (policy-configurable).
//   - Dispatcher fans committed entries out to a room's live sessions,
//     at-least-once, in sequence order per session.
//   - Tracker derives presence (online/away/typing/offline) from
//     registry events and activity signals, with debounced decay.
//   - Reconciler replays the missed range to a reconnecting session,
//     or ships a compressed snapshot when the gap exceeds the replay
//     window.
//   - Router turns committed entries into targeted notifications
//     (mentions, invitations, activity) independent of room fan-out.
//
// Service wires the pieces together and is the only type most
// embedders touch.
package stream
