// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock provides the time operations the collaboration core needs.
// Implementations: Real (wraps the time package) and Fake
// (deterministic, advanced manually by tests).
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc schedules f to run after duration d elapses. The
	// returned Timer cancels the pending call with Stop and reschedules
	// with Reset. If d <= 0, f runs immediately: in a new goroutine on
	// the real clock, synchronously on the fake.
	AfterFunc(d time.Duration, f func()) Timer

	// NewTicker returns a channel delivering ticks every d, plus a stop
	// function releasing the underlying resources. Panics if d <= 0.
	// The channel has capacity 1; ticks are dropped when the consumer
	// falls behind, matching time.Ticker.
	NewTicker(d time.Duration) (<-chan time.Time, func())
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the timer from firing. Returns false if the timer
	// already fired or was already stopped.
	Stop() bool

	// Reset reschedules the timer to fire after duration d, reviving
	// it if it already fired. Returns true if the timer was still
	// active before the reset.
	Reset(d time.Duration) bool
}
