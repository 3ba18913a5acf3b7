package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// channelConfigJSON is the wire shape persisted in registered_groups.config_json.
type channelConfigJSON struct {
	Name            string            `json:"name"`
	Folder          string            `json:"folder"`
	Trigger         string            `json:"trigger"`
	RequiresTrigger bool              `json:"requiresTrigger"`
	ContainerConfig map[string]string `json:"containerConfig,omitempty"`
	AddedAt         string            `json:"addedAt"`
}

// RegisterChannel creates (or replaces) a channel's registration. Channels
// are never implicitly destroyed; this is the only write path for the row.
func (s *Store) RegisterChannel(ctx context.Context, c Channel) error {
	cfg := channelConfigJSON{
		Name:            c.Name,
		Folder:          c.Folder,
		Trigger:         c.Trigger,
		RequiresTrigger: c.RequiresTrigger,
		ContainerConfig: c.ContainerConfig,
		AddedAt:         c.AddedAt,
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal channel config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO registered_groups(channel_id, config_json) VALUES (?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET config_json=excluded.config_json
	`, c.ChannelID, string(raw))
	if err != nil {
		return fmt.Errorf("register channel: %w", err)
	}
	return nil
}

// ErrChannelNotFound is returned when a channel id has no registration row.
var ErrChannelNotFound = errors.New("channel not registered")

// GetChannel looks up a single registered channel by id.
func (s *Store) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT config_json FROM registered_groups WHERE channel_id = ?`, channelID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return Channel{}, fmt.Errorf("get channel: %w", err)
	}
	return decodeChannel(channelID, raw)
}

// ListChannels returns every registered channel.
func (s *Store) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id, config_json FROM registered_groups`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		c, err := decodeChannel(id, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ChannelByFolder finds the registered channel whose folder matches, if any.
func (s *Store) ChannelByFolder(ctx context.Context, folder string) (Channel, bool, error) {
	channels, err := s.ListChannels(ctx)
	if err != nil {
		return Channel{}, false, err
	}
	for _, c := range channels {
		if c.Folder == folder {
			return c, true, nil
		}
	}
	return Channel{}, false, nil
}

func decodeChannel(channelID, raw string) (Channel, error) {
	var cfg channelConfigJSON
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return Channel{}, fmt.Errorf("decode channel config: %w", err)
	}
	return Channel{
		ChannelID:       channelID,
		Name:            cfg.Name,
		Folder:          cfg.Folder,
		Trigger:         cfg.Trigger,
		RequiresTrigger: cfg.RequiresTrigger,
		ContainerConfig: cfg.ContainerConfig,
		AddedAt:         cfg.AddedAt,
	}, nil
}
