// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at the given time. Nothing fires
// until Advance moves the clock past a deadline.
//
// FakeClock is safe for concurrent use by multiple goroutines.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{now: initial}
	fake.registered = sync.NewCond(&fake.mu)
	return fake
}

// FakeClock is a deterministic Clock for tests. Time moves only when
// Advance is called. AfterFunc callbacks run synchronously inside
// Advance, in deadline order; do not call Advance from inside a
// callback, that deadlocks.
type FakeClock struct {
	mu         sync.Mutex
	now        time.Time
	pending    []*fakeTimer
	registered *sync.Cond
}

// fakeTimer is one scheduled AfterFunc or ticker tick source.
type fakeTimer struct {
	deadline time.Time
	callback func()         // nil for ticker timers
	tick     chan time.Time // nil for AfterFunc timers
	interval time.Duration  // non-zero for tickers; rescheduled after firing
	stopped  bool
	fired    bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run when the clock advances past d from now.
// If d <= 0, f runs synchronously before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	if d <= 0 {
		c.mu.Unlock()
		f()
		return &fakeTimerHandle{clock: c, timer: &fakeTimer{fired: true}}
	}
	timer := &fakeTimer{
		deadline: c.now.Add(d),
		callback: f,
	}
	c.pending = append(c.pending, timer)
	c.registered.Broadcast()
	c.mu.Unlock()
	return &fakeTimerHandle{clock: c, timer: timer}
}

// NewTicker returns a channel that receives a tick each time Advance
// crosses a multiple of d. Panics if d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := &fakeTimer{
		deadline: c.now.Add(d),
		tick:     make(chan time.Time, 1),
		interval: d,
	}
	c.pending = append(c.pending, timer)
	c.registered.Broadcast()

	stop := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		timer.stopped = true
	}
	return timer.tick, stop
}

// Advance moves the clock forward by d and fires every pending timer
// whose deadline falls within the new time, in deadline order.
// Callbacks scheduled by a firing callback are themselves fired if
// their deadline also falls within the window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.takeDue(target)
		if len(due) == 0 {
			return
		}
		sort.SliceStable(due, func(i, j int) bool {
			return due[i].deadline.Before(due[j].deadline)
		})
		for _, timer := range due {
			if timer.callback != nil {
				timer.callback()
			} else if timer.tick != nil {
				select {
				case timer.tick <- target:
				default:
					// Consumer is behind; drop the tick like time.Ticker.
				}
			}
		}
	}
}

// takeDue removes timers due at or before target from the pending
// list, reschedules tickers for their next interval, and returns the
// timers that should fire now.
func (c *FakeClock) takeDue(target time.Time) []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, rest []*fakeTimer
	for _, timer := range c.pending {
		switch {
		case timer.stopped:
			// Dropped.
		case !timer.deadline.After(target):
			due = append(due, timer)
		default:
			rest = append(rest, timer)
		}
	}
	for _, timer := range due {
		if timer.interval > 0 {
			timer.deadline = timer.deadline.Add(timer.interval)
			rest = append(rest, timer)
		} else {
			timer.fired = true
		}
	}
	c.pending = rest
	return due
}

// WaitForTimers blocks until at least n timers are pending. This closes
// the race between a goroutine registering its timer and the test
// advancing the clock:
//
//	go startPresenceDecay()
//	fake.WaitForTimers(1)
//	fake.Advance(3 * time.Second)
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeLocked() < n {
		c.registered.Wait()
	}
}

// PendingTimers returns the number of active pending timers.
func (c *FakeClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

func (c *FakeClock) activeLocked() int {
	count := 0
	for _, timer := range c.pending {
		if !timer.stopped {
			count++
		}
	}
	return count
}

// fakeTimerHandle implements Timer for AfterFunc timers on the fake
// clock.
type fakeTimerHandle struct {
	clock *FakeClock
	timer *fakeTimer
}

func (h *fakeTimerHandle) Stop() bool {
	h.clock.mu.Lock()
	defer h.clock.mu.Unlock()
	if h.timer.stopped || h.timer.fired {
		return false
	}
	h.timer.stopped = true
	return true
}

func (h *fakeTimerHandle) Reset(d time.Duration) bool {
	h.clock.mu.Lock()
	defer h.clock.mu.Unlock()
	wasActive := !h.timer.stopped && !h.timer.fired
	h.timer.stopped = false
	h.timer.deadline = h.clock.now.Add(d)
	if h.timer.fired {
		// The timer left the pending list when it fired; put it back.
		h.timer.fired = false
		h.clock.pending = append(h.clock.pending, h.timer)
		h.clock.registered.Broadcast()
	}
	return wasActive
}
