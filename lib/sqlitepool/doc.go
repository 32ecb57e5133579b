// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides a SQLite connection pool with Gavel's
// standard pragmas applied to every connection.
//
// The durable log store is the only writer-heavy consumer, and SQLite
// serializes writes regardless of pool size, so the pool exists for
// concurrent range reads during reconciliation, not write parallelism.
package sqlitepool
