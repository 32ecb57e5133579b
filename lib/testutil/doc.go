// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides small helpers shared by Gavel's test
// suites: channel operations with timeout safety valves so a broken
// delivery path fails a test instead of hanging it.
package testutil
