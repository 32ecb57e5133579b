// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/gavel-foundation/gavel/lib/ref"
	"github.com/gavel-foundation/gavel/lib/sqlitepool"
)

const logSchema = `
CREATE TABLE IF NOT EXISTS log_entries (
	room           TEXT    NOT NULL,
	sequence       INTEGER NOT NULL,
	kind           TEXT    NOT NULL,
	payload        BLOB    NOT NULL,
	author         TEXT    NOT NULL,
	supersedes     INTEGER NOT NULL DEFAULT 0,
	provisional_id TEXT    NOT NULL DEFAULT '',
	digest         BLOB    NOT NULL,
	created_at     INTEGER NOT NULL,
	PRIMARY KEY (room, sequence)
) WITHOUT ROWID;
`

// SQLiteStore is the durable Store, one row per log entry. The primary
// key (room, sequence) makes out-of-order and duplicate appends
// constraint violations rather than silent corruption.
type SQLiteStore struct {
	pool *sqlitepool.Pool
}

// OpenSQLiteStore opens (creating if needed) the log database at path.
// Use ":memory:" for tests. The caller must Close the store.
func OpenSQLiteStore(path string, poolSize int, logger *slog.Logger) (*SQLiteStore, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: poolSize,
		Logger:   logger,
		Prepare: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, logSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("stream: opening log store: %w", err)
	}
	return &SQLiteStore{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, entry LogEntry) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO log_entries
			(room, sequence, kind, payload, author, supersedes, provisional_id, digest, created_at)
		VALUES
			(:room, :sequence, :kind, :payload, :author, :supersedes, :provisional_id, :digest, :created_at)`,
		&sqlitex.ExecOptions{
			Named: map[string]any{
				":room":           entry.Room.String(),
				":sequence":       int64(entry.Sequence),
				":kind":           string(entry.Kind),
				":payload":        []byte(entry.Payload),
				":author":         entry.Author.String(),
				":supersedes":     int64(entry.Supersedes),
				":provisional_id": entry.ProvisionalID,
				":digest":         entry.Digest[:],
				":created_at":     entry.CreatedAt.UnixNano(),
			},
		})
	if err != nil {
		return fmt.Errorf("stream: inserting %s seq %d: %w", entry.Room, entry.Sequence, err)
	}
	return nil
}

// Range implements Store.
func (s *SQLiteStore) Range(ctx context.Context, room ref.RoomID, fromExclusive, toInclusive uint64, limit int) ([]LogEntry, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var out []LogEntry
	err = sqlitex.Execute(conn, `
		SELECT room, sequence, kind, payload, author, supersedes, provisional_id, digest, created_at
		FROM log_entries
		WHERE room = :room AND sequence > :from AND sequence <= :to
		ORDER BY sequence
		LIMIT :limit`,
		&sqlitex.ExecOptions{
			Named: map[string]any{
				":room":  room.String(),
				":from":  int64(fromExclusive),
				":to":    int64(toInclusive),
				":limit": int64(limit),
			},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entry, err := scanEntry(stmt)
				if err != nil {
					return err
				}
				out = append(out, entry)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("stream: selecting range of %s: %w", room, err)
	}
	return out, nil
}

// Head implements Store.
func (s *SQLiteStore) Head(ctx context.Context, room ref.RoomID) (uint64, error) {
	return s.boundary(ctx, room, "MAX")
}

// Oldest implements Store.
func (s *SQLiteStore) Oldest(ctx context.Context, room ref.RoomID) (uint64, error) {
	return s.boundary(ctx, room, "MIN")
}

func (s *SQLiteStore) boundary(ctx context.Context, room ref.RoomID, agg string) (uint64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	var seq uint64
	err = sqlitex.Execute(conn,
		fmt.Sprintf(`SELECT COALESCE(%s(sequence), 0) FROM log_entries WHERE room = :room`, agg),
		&sqlitex.ExecOptions{
			Named: map[string]any{":room": room.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				seq = uint64(stmt.ColumnInt64(0))
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("stream: reading %s sequence of %s: %w", agg, room, err)
	}
	return seq, nil
}

// Compact drops entries of room with sequence below keepFrom, bounding
// retained history. Journal range reads into the dropped region report
// a sequence gap afterwards.
func (s *SQLiteStore) Compact(ctx context.Context, room ref.RoomID, keepFrom uint64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`DELETE FROM log_entries WHERE room = :room AND sequence < :keep`,
		&sqlitex.ExecOptions{
			Named: map[string]any{
				":room": room.String(),
				":keep": int64(keepFrom),
			},
		})
	if err != nil {
		return fmt.Errorf("stream: compacting %s: %w", room, err)
	}
	return nil
}

func scanEntry(stmt *sqlite.Stmt) (LogEntry, error) {
	room, err := ref.ParseRoomID(stmt.GetText("room"))
	if err != nil {
		return LogEntry{}, fmt.Errorf("stream: corrupt room column: %w", err)
	}
	author, err := ref.ParsePrincipalID(stmt.GetText("author"))
	if err != nil {
		return LogEntry{}, fmt.Errorf("stream: corrupt author column: %w", err)
	}

	entry := LogEntry{
		Room:          room,
		Sequence:      uint64(stmt.GetInt64("sequence")),
		Kind:          EntryKind(stmt.GetText("kind")),
		Author:        author,
		Supersedes:    uint64(stmt.GetInt64("supersedes")),
		ProvisionalID: stmt.GetText("provisional_id"),
		CreatedAt:     time.Unix(0, stmt.GetInt64("created_at")).UTC(),
	}

	entry.Payload = make([]byte, stmt.GetLen("payload"))
	stmt.GetBytes("payload", entry.Payload)

	if n := stmt.GetLen("digest"); n != len(entry.Digest) {
		return LogEntry{}, fmt.Errorf("stream: corrupt digest column: %d bytes", n)
	}
	stmt.GetBytes("digest", entry.Digest[:])

	return entry, nil
}
