// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"sync"
)

// Compile-time interface check.
var _ Transport = (*Memory)(nil)

// Memory is an in-process Transport for tests. Sent frames land on a
// buffered channel the test reads from. Failure injection lets fan-out
// tests exercise the stale-session path without a real socket.
type Memory struct {
	mu      sync.Mutex
	frames  chan Frame
	failing bool
	closed  bool
}

// NewMemory creates an in-process transport with the given frame
// buffer depth.
func NewMemory(depth int) *Memory {
	return &Memory{frames: make(chan Frame, depth)}
}

// Send delivers the frame to the internal channel. Returns an error if
// the transport is closed, failure-injected, or the buffer is full (a
// real client this far behind would be stale too).
func (m *Memory) Send(frame Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("transport: send on closed memory transport")
	}
	if m.failing {
		return fmt.Errorf("transport: injected write failure")
	}
	select {
	case m.frames <- frame:
		return nil
	default:
		return fmt.Errorf("transport: memory transport buffer full")
	}
}

// Close marks the transport closed. Idempotent. The frame channel is
// left open so tests can still drain frames sent before the close.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Frames returns the receive side of the transport for test
// assertions.
func (m *Memory) Frames() <-chan Frame { return m.frames }

// SetFailing toggles failure injection: when true, every Send fails.
func (m *Memory) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

// Closed reports whether Close has been called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
