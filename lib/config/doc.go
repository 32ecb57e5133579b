// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Gavel's
// collaboration core.
//
// Configuration is loaded from a single YAML file specified by:
//   - GAVEL_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This keeps deployed
// behavior deterministic and auditable: the timing knobs here (idle
// timeout, typing decay, replay window) directly change user-visible
// semantics, so they must never come from a hidden override.
package config
