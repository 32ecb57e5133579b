// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated identifier types for Gavel's
// collaboration core: rooms, principals, and sessions.
//
// All types are immutable value types constructed through Parse
// functions that validate at the boundary. Raw strings from transports,
// storage, or configuration are parsed exactly once; everything past
// the boundary operates on the typed form. The zero value of each type
// is invalid; use IsZero to check.
//
// Every type implements encoding.TextMarshaler and TextUnmarshaler so
// it serializes as a plain string in JSON, YAML, and CBOR.
package ref
