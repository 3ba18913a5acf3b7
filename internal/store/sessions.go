package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SessionID returns the opaque session id for a group folder, or "" if the
// group has no session yet.
func (s *Store) SessionID(ctx context.Context, groupFolder string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT session_id FROM sessions WHERE group_folder = ?`, groupFolder).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get session: %w", err)
	}
	return id, nil
}

// SetSessionID records the session id the sandbox persisted its history
// under for a group folder.
func (s *Store) SetSessionID(ctx context.Context, groupFolder, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions(group_folder, session_id) VALUES (?, ?)
		ON CONFLICT(group_folder) DO UPDATE SET session_id=excluded.session_id
	`, groupFolder, sessionID)
	if err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}
