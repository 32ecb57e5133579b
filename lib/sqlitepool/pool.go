// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// defaultPoolSize is used when Config.PoolSize is zero or negative.
// Reconciliation range reads are short; four connections cover many
// concurrent reconnects without holding file handles open needlessly.
const defaultPoolSize = 4

// Config holds the parameters for opening a pool. Path is required.
type Config struct {
	// Path is the SQLite database file. Created if absent. Use
	// ":memory:" for an in-memory database; in that case PoolSize is
	// forced to 1 because each in-memory connection is independent.
	Path string

	// PoolSize is the number of pooled connections. Zero or negative
	// selects the default.
	PoolSize int

	// Logger receives pool lifecycle messages. Nil means no logging.
	Logger *slog.Logger

	// Prepare runs once per connection after the standard pragmas,
	// for schema creation and store-specific setup. A returned error
	// discards the connection and surfaces from Take.
	Prepare func(conn *sqlite.Conn) error
}

// Pool is a fixed-size pool of SQLite connections. The pool itself is
// safe for concurrent use; individual connections are not. Take a
// connection per goroutine and Put it back when done.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open creates the pool and validates the configuration. Connections
// are initialized lazily on first Take. The caller must Close the pool
// when done.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	size := cfg.PoolSize
	if size <= 0 {
		size = defaultPoolSize
	}
	if cfg.Path == ":memory:" {
		size = 1
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: size,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, cfg.Prepare)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}

	logger.Info("sqlite pool opened", "path", cfg.Path, "pool_size", size)

	return &Pool{inner: inner, logger: logger, path: cfg.Path}, nil
}

// Take borrows a connection, blocking until one is available or ctx is
// cancelled. Pair every Take with a Put, typically via defer.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Safe to call with nil.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close closes all connections. Blocks until borrowed connections are
// returned. After Close, Take returns an error.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlite pool close error", "path", p.path, "error", err)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Info("sqlite pool closed", "path", p.path)
	return nil
}

// prepareConnection applies the standard pragmas, then the optional
// Prepare callback. Runs once per pooled connection, on first use.
func prepareConnection(conn *sqlite.Conn, prepare func(*sqlite.Conn) error) error {
	// WAL gives concurrent readers against the single log writer.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}

	if prepare != nil {
		if err := prepare(conn); err != nil {
			return fmt.Errorf("sqlitepool: Prepare: %w", err)
		}
	}
	return nil
}
