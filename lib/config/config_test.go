// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gavel.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	t.Parallel()
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate(): %v", err)
	}
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
stream:
  typing_decay: 3s
  session_policy: multi
storage:
  path: /var/lib/gavel/stream.db
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Stream.TypingDecay.Std() != 3*time.Second {
		t.Errorf("typing_decay: got %v, want 3s", cfg.Stream.TypingDecay.Std())
	}
	if cfg.Stream.SessionPolicy != MultiSession {
		t.Errorf("session_policy: got %q, want %q", cfg.Stream.SessionPolicy, MultiSession)
	}
	if cfg.Storage.Path != "/var/lib/gavel/stream.db" {
		t.Errorf("storage.path: got %q", cfg.Storage.Path)
	}
	// Untouched fields keep their defaults.
	if cfg.Stream.IdleTimeout.Std() != 5*time.Minute {
		t.Errorf("idle_timeout default: got %v, want 5m", cfg.Stream.IdleTimeout.Std())
	}
	if cfg.Stream.ReplayLimit != 500 {
		t.Errorf("replay_limit default: got %d, want 500", cfg.Stream.ReplayLimit)
	}
}

func TestLoadFileRejectsBadDuration(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "stream:\n  typing_decay: soon\n")

	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile with invalid duration: expected error, got nil")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Stream.TypingDecay = 0
	cfg.Stream.SessionPolicy = "per-tab"
	cfg.Storage.Path = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate: expected error, got nil")
	}
	for _, fragment := range []string{"typing_decay", "session_policy", "storage.path"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("Validate error missing %q: %v", fragment, err)
		}
	}
}

func TestValidateTypingDecayShorterThanIdle(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Stream.IdleTimeout = Duration(2 * time.Second)
	cfg.Stream.TypingDecay = Duration(2 * time.Second)

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate with typing_decay == idle_timeout: expected error, got nil")
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	// Mutates the environment; not parallel.
	t.Setenv("GAVEL_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load without GAVEL_CONFIG: expected error, got nil")
	}
}

func TestLoadUsesEnvVar(t *testing.T) {
	path := writeConfig(t, "server:\n  listen_address: 127.0.0.1:9100\n")
	t.Setenv("GAVEL_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddress != "127.0.0.1:9100" {
		t.Errorf("listen_address: got %q", cfg.Server.ListenAddress)
	}
}
