// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Gavel's standard CBOR encoding.
//
// All wire frames and persisted log payloads go through this package
// so that every serialized byte sequence is deterministic: the same
// logical value always encodes to the same bytes. That property is
// what makes payload digests stable across processes: a resubmitted
// entry hashes to the same digest it hashed to before the disconnect.
package codec
