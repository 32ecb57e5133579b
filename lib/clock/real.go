// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{inner: time.AfterFunc(d, f)}
}

func (realClock) NewTicker(d time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(d)
	return ticker.C, ticker.Stop
}

type realTimer struct {
	inner *time.Timer
}

func (t realTimer) Stop() bool                 { return t.inner.Stop() }
func (t realTimer) Reset(d time.Duration) bool { return t.inner.Reset(d) }
