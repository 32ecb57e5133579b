// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

// Command gavel-streamd serves the Gavel collaboration core over
// WebSocket: clients connect per room, submit entries and activity
// signals, and receive the room's ordered event stream, presence
// deltas, and targeted notifications.
//
// A small JSON admin surface handles membership changes and presence
// queries; everything stream-shaped travels as CBOR frames on the
// WebSocket.
package main
