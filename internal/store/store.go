// Package store is nanoclaw's relational persistence layer: channels,
// messages, router state, sessions and tasks all live in one sqlite
// database opened once per process.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// schemaVersion is bumped whenever the DDL below changes shape.
const schemaVersion = 1

// Store wraps a sqlite connection pool with nanoclaw's schema.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and applies
// the schema migration.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: serialize writers through one connection

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS schema_meta (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
	jid TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	last_message_time TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS registered_groups (
	channel_id TEXT PRIMARY KEY,
	config_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL,
	sender_name TEXT NOT NULL,
	content TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	mentions_bot INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_channel_ts ON messages(channel_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(timestamp);

CREATE TABLE IF NOT EXISTS sessions (
	group_folder TEXT PRIMARY KEY,
	session_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS router_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	group_folder TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	prompt TEXT NOT NULL,
	schedule_type TEXT NOT NULL,
	schedule_value TEXT NOT NULL,
	context_mode TEXT NOT NULL,
	status TEXT NOT NULL,
	next_run TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(status, next_run);
CREATE INDEX IF NOT EXISTS idx_tasks_group ON tasks(group_folder);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return err
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_meta`).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		_, err := s.db.ExecContext(ctx, `INSERT INTO schema_meta(version) VALUES (?)`, schemaVersion)
		return err
	}
	return nil
}
