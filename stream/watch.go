// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import "sync"

// watchFeed delivers events to one watcher without ever blocking the
// producer. Producers append to an ordered backlog; a forwarding
// goroutine drains it to the subscriber channel at the subscriber's
// pace. This keeps the registry and the presence tracker free to emit
// events from inside their own critical sections: a watcher that
// stalls backs up its own backlog, never a connect, disconnect, or
// commit path.
type watchFeed[T any] struct {
	mu      sync.Mutex
	backlog []T

	// wake has capacity one; it coalesces send signals.
	wake chan struct{}
	out  chan T

	done     chan struct{}
	doneOnce sync.Once
}

func newWatchFeed[T any]() *watchFeed[T] {
	f := &watchFeed[T]{
		wake: make(chan struct{}, 1),
		out:  make(chan T),
		done: make(chan struct{}),
	}
	go f.forward()
	return f
}

// send appends one event to the backlog. Never blocks.
func (f *watchFeed[T]) send(event T) {
	f.mu.Lock()
	f.backlog = append(f.backlog, event)
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// close stops the forwarding goroutine. Events still in the backlog
// are dropped; the out channel is never closed, so a receiver racing
// close never sees a spurious zero value.
func (f *watchFeed[T]) close() {
	f.doneOnce.Do(func() { close(f.done) })
}

func (f *watchFeed[T]) forward() {
	for {
		select {
		case <-f.wake:
		case <-f.done:
			return
		}
		for {
			f.mu.Lock()
			if len(f.backlog) == 0 {
				f.mu.Unlock()
				break
			}
			event := f.backlog[0]
			f.backlog = f.backlog[1:]
			f.mu.Unlock()

			select {
			case f.out <- event:
			case <-f.done:
				return
			}
		}
	}
}
