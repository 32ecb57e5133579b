// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts timer scheduling for testability.
//
// The collaboration core is full of short timers: typing-indicator
// decay, away transitions, idle-session disconnects. Production code
// injects Real(); tests inject Fake() and advance time explicitly, so
// no test ever sleeps to wait for a debounce window.
//
// Any production function that would call time.Now, time.AfterFunc, or
// time.NewTicker must take a Clock instead (or be a method on a struct
// holding one).
package clock
