// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries frames between the collaboration core and
// one connected client.
//
// Each live session owns exactly one Transport handle, injected at
// connect time by the connection registry. There is no process-wide
// socket. The core never retries a failed Send: a write failure marks
// the session stale and the offline reconciler handles catch-up when
// the client returns.
//
// Frames are CBOR-encoded (lib/codec) on the wire. The Memory
// implementation backs tests; the WebSocket implementation backs the
// embedding server.
package transport
