package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	keyLastTimestamp      = "last_timestamp"
	keyLastAgentTimestamp = "last_agent_timestamp"
)

// LastTimestamp returns the global dispatch-dedup watermark, or "" if unset.
func (s *Store) LastTimestamp(ctx context.Context) (string, error) {
	return s.getRouterValue(ctx, keyLastTimestamp)
}

// SetLastTimestamp persists the global watermark. Callers must advance it
// monotonically; the store does not enforce that itself.
func (s *Store) SetLastTimestamp(ctx context.Context, ts string) error {
	return s.setRouterValue(ctx, keyLastTimestamp, ts)
}

// LastAgentTimestamp returns the per-channel "last message consumed by the
// agent" watermark, or "" if the channel has never been dispatched.
func (s *Store) LastAgentTimestamp(ctx context.Context, channelID string) (string, error) {
	m, err := s.lastAgentTimestamps(ctx)
	if err != nil {
		return "", err
	}
	return m[channelID], nil
}

// SetLastAgentTimestamp advances the per-channel watermark and persists the
// whole map in one write (the map is small: one entry per registered channel).
func (s *Store) SetLastAgentTimestamp(ctx context.Context, channelID, ts string) error {
	m, err := s.lastAgentTimestamps(ctx)
	if err != nil {
		return err
	}
	if m == nil {
		m = make(map[string]string)
	}
	m[channelID] = ts
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal last_agent_timestamp: %w", err)
	}
	return s.setRouterValue(ctx, keyLastAgentTimestamp, string(raw))
}

func (s *Store) lastAgentTimestamps(ctx context.Context) (map[string]string, error) {
	raw, err := s.getRouterValue(ctx, keyLastAgentTimestamp)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode last_agent_timestamp: %w", err)
	}
	return m, nil
}

func (s *Store) getRouterValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM router_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get router state %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) setRouterValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO router_state(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set router state %s: %w", key, err)
	}
	return nil
}
