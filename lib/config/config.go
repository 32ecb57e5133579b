// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SessionPolicy controls how many live sessions one principal may hold
// in one room.
type SessionPolicy string

const (
	// SingleSession retires a principal's previous session in a room
	// when a new one connects (second login invalidates the first).
	SingleSession SessionPolicy = "single"

	// MultiSession allows concurrent sessions per principal per room
	// (every tab gets its own session and its own event stream).
	MultiSession SessionPolicy = "multi"
)

// Duration is a time.Duration that unmarshals from a YAML string like
// "2500ms" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the master configuration for the collaboration core.
type Config struct {
	// Stream configures the real-time core's timing and policy knobs.
	Stream StreamConfig `yaml:"stream"`

	// Storage configures the durable log store.
	Storage StorageConfig `yaml:"storage"`

	// Server configures the embedding WebSocket server.
	Server ServerConfig `yaml:"server"`
}

// StreamConfig holds the timing and policy knobs of the stream core:
// every field here has a direct user-visible effect.
type StreamConfig struct {
	// IdleTimeout disconnects a session that has shown no activity for
	// this long. Default: 5m.
	IdleTimeout Duration `yaml:"idle_timeout"`

	// TypingDecay reverts a principal's typing indicator to online
	// after this quiet interval. Default: 2500ms.
	TypingDecay Duration `yaml:"typing_decay"`

	// ReplayLimit caps the number of entries replayed to a
	// reconnecting session. A gap larger than this triggers a
	// full-snapshot resync instead of incremental replay. Default: 500.
	ReplayLimit int `yaml:"replay_limit"`

	// QueueRetention bounds how long targeted notifications are held
	// for a disconnected principal before being dropped. Default: 1h.
	QueueRetention Duration `yaml:"queue_retention"`

	// SessionPolicy is "single" or "multi" (see SessionPolicy).
	// Default: single.
	SessionPolicy SessionPolicy `yaml:"session_policy"`

	// FanoutBuffer is the per-session outbound frame buffer depth. A
	// session whose buffer overflows is marked stale and disconnected.
	// Default: 64.
	FanoutBuffer int `yaml:"fanout_buffer"`
}

// StorageConfig configures the durable log store.
type StorageConfig struct {
	// Path is the SQLite database file. ":memory:" selects an
	// in-memory database (tests and ephemeral deployments).
	Path string `yaml:"path"`

	// PoolSize is the SQLite connection pool size. Zero means the
	// pool's own default.
	PoolSize int `yaml:"pool_size"`
}

// ServerConfig configures the embedding server binary.
type ServerConfig struct {
	// ListenAddress is the host:port the WebSocket endpoint binds to.
	ListenAddress string `yaml:"listen_address"`
}

// Default returns the default configuration. These are real operating
// defaults, not placeholders: a config file only needs to name the
// values it changes.
func Default() *Config {
	return &Config{
		Stream: StreamConfig{
			IdleTimeout:    Duration(5 * time.Minute),
			TypingDecay:    Duration(2500 * time.Millisecond),
			ReplayLimit:    500,
			QueueRetention: Duration(time.Hour),
			SessionPolicy:  SingleSession,
			FanoutBuffer:   64,
		},
		Storage: StorageConfig{
			Path: ":memory:",
		},
		Server: ServerConfig{
			ListenAddress: "127.0.0.1:7420",
		},
	}
}

// Load loads configuration from the file named by the GAVEL_CONFIG
// environment variable. Fails if the variable is unset; there is no
// fallback search path.
func Load() (*Config, error) {
	path := os.Getenv("GAVEL_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("GAVEL_CONFIG environment variable not set; " +
			"set it to the path of your gavel.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merging it
// over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Stream.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stream.idle_timeout must be positive"))
	}
	if c.Stream.TypingDecay <= 0 {
		errs = append(errs, fmt.Errorf("stream.typing_decay must be positive"))
	}
	if c.Stream.TypingDecay.Std() >= c.Stream.IdleTimeout.Std() {
		errs = append(errs, fmt.Errorf("stream.typing_decay must be shorter than stream.idle_timeout"))
	}
	if c.Stream.ReplayLimit <= 0 {
		errs = append(errs, fmt.Errorf("stream.replay_limit must be positive"))
	}
	if c.Stream.QueueRetention <= 0 {
		errs = append(errs, fmt.Errorf("stream.queue_retention must be positive"))
	}
	if c.Stream.SessionPolicy != SingleSession && c.Stream.SessionPolicy != MultiSession {
		errs = append(errs, fmt.Errorf("stream.session_policy must be %q or %q", SingleSession, MultiSession))
	}
	if c.Stream.FanoutBuffer <= 0 {
		errs = append(errs, fmt.Errorf("stream.fanout_buffer must be positive"))
	}
	if c.Storage.Path == "" {
		errs = append(errs, fmt.Errorf("storage.path is required"))
	}
	if c.Server.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("server.listen_address is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
