// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestFakeNowAdvances(t *testing.T) {
	t.Parallel()
	fake := Fake(testEpoch)

	if !fake.Now().Equal(testEpoch) {
		t.Errorf("initial Now: got %v, want %v", fake.Now(), testEpoch)
	}

	fake.Advance(90 * time.Second)
	want := testEpoch.Add(90 * time.Second)
	if !fake.Now().Equal(want) {
		t.Errorf("after Advance: got %v, want %v", fake.Now(), want)
	}
}

func TestFakeAfterFuncFiresOnAdvance(t *testing.T) {
	t.Parallel()
	fake := Fake(testEpoch)

	var fired atomic.Bool
	fake.AfterFunc(2*time.Second, func() { fired.Store(true) })

	fake.Advance(1 * time.Second)
	if fired.Load() {
		t.Fatal("timer fired before its deadline")
	}
	fake.Advance(1 * time.Second)
	if !fired.Load() {
		t.Fatal("timer did not fire at its deadline")
	}
}

func TestFakeAfterFuncImmediate(t *testing.T) {
	t.Parallel()
	fake := Fake(testEpoch)

	var fired bool
	fake.AfterFunc(0, func() { fired = true })
	if !fired {
		t.Fatal("AfterFunc(0) did not fire synchronously")
	}
}

func TestFakeTimerStop(t *testing.T) {
	t.Parallel()
	fake := Fake(testEpoch)

	var fired atomic.Bool
	timer := fake.AfterFunc(time.Second, func() { fired.Store(true) })

	if !timer.Stop() {
		t.Error("Stop on active timer: got false, want true")
	}
	if timer.Stop() {
		t.Error("second Stop: got true, want false")
	}
	fake.Advance(2 * time.Second)
	if fired.Load() {
		t.Error("stopped timer fired")
	}
}

func TestFakeTimerResetPushesDeadline(t *testing.T) {
	t.Parallel()
	fake := Fake(testEpoch)

	var fireCount atomic.Int32
	timer := fake.AfterFunc(2*time.Second, func() { fireCount.Add(1) })

	// Reset before the deadline: the original deadline must not fire.
	fake.Advance(1 * time.Second)
	if !timer.Reset(2 * time.Second) {
		t.Error("Reset on active timer: got false, want true")
	}
	fake.Advance(1 * time.Second)
	if fireCount.Load() != 0 {
		t.Fatal("timer fired at superseded deadline")
	}
	fake.Advance(1 * time.Second)
	if fireCount.Load() != 1 {
		t.Fatalf("fire count after reset deadline: got %d, want 1", fireCount.Load())
	}
}

func TestFakeTimerResetRevivesFiredTimer(t *testing.T) {
	t.Parallel()
	fake := Fake(testEpoch)

	var fireCount atomic.Int32
	timer := fake.AfterFunc(time.Second, func() { fireCount.Add(1) })

	fake.Advance(time.Second)
	if fireCount.Load() != 1 {
		t.Fatalf("first fire: got %d, want 1", fireCount.Load())
	}

	if timer.Reset(time.Second) {
		t.Error("Reset on fired timer: got true, want false")
	}
	fake.Advance(time.Second)
	if fireCount.Load() != 2 {
		t.Fatalf("fire count after revival: got %d, want 2", fireCount.Load())
	}
}

func TestFakeTickerDeliversPerInterval(t *testing.T) {
	t.Parallel()
	fake := Fake(testEpoch)

	ticks, stop := fake.NewTicker(time.Second)
	defer stop()

	fake.Advance(time.Second)
	select {
	case <-ticks:
	default:
		t.Fatal("no tick after one interval")
	}

	// Advancing across several intervals with a full channel drops
	// the surplus ticks, matching time.Ticker.
	fake.Advance(3 * time.Second)
	select {
	case <-ticks:
	default:
		t.Fatal("no tick after multi-interval advance")
	}

	stop()
	fake.Advance(5 * time.Second)
	select {
	case <-ticks:
		t.Fatal("tick delivered after stop")
	default:
	}
}

func TestFakeAdvanceFiresInDeadlineOrder(t *testing.T) {
	t.Parallel()
	fake := Fake(testEpoch)

	var order []int
	fake.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	fake.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	fake.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	fake.Advance(5 * time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("fire order: got %v, want [1 2 3]", order)
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	t.Parallel()
	fake := Fake(testEpoch)

	var fired atomic.Bool
	go fake.AfterFunc(time.Second, func() { fired.Store(true) })

	fake.WaitForTimers(1)
	fake.Advance(time.Second)
	if !fired.Load() {
		t.Fatal("timer registered via goroutine did not fire")
	}
}

func TestFakeCascadingCallbacks(t *testing.T) {
	t.Parallel()
	fake := Fake(testEpoch)

	var secondFired bool
	fake.AfterFunc(time.Second, func() {
		// A follow-up scheduled from inside a callback is measured
		// from the post-Advance clock, so it fires on a later Advance.
		fake.AfterFunc(time.Second, func() { secondFired = true })
	})

	fake.Advance(2 * time.Second)
	if secondFired {
		t.Fatal("cascaded timer fired early; its deadline is measured from the advanced clock")
	}
	fake.Advance(time.Second)
	if !secondFired {
		t.Fatal("cascaded timer did not fire on the next Advance")
	}
}
