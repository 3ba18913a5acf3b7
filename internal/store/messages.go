package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// RecordChatMeta unconditionally upserts channel-discovery metadata,
// including for channels that are not registered.
func (s *Store) RecordChatMeta(ctx context.Context, jid, name, lastMessageTime string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats(jid, name, last_message_time) VALUES (?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET name=excluded.name, last_message_time=excluded.last_message_time
	`, jid, name, lastMessageTime)
	if err != nil {
		return fmt.Errorf("record chat meta: %w", err)
	}
	return nil
}

// AppendMessage inserts a new message row. ID is generated if empty.
func (s *Store) AppendMessage(ctx context.Context, m Message) (Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	mentions := 0
	if m.MentionsBot {
		mentions = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages(id, channel_id, sender_name, content, timestamp, mentions_bot)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ID, m.ChannelID, m.SenderName, m.Content, m.Timestamp, mentions)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

// MessagesSinceGlobal returns messages across all registered channels with
// timestamp strictly greater than since, excluding the given bot sender name,
// ordered by timestamp ascending.
func (s *Store) MessagesSinceGlobal(ctx context.Context, since, botSenderName string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.channel_id, m.sender_name, m.content, m.timestamp, m.mentions_bot
		FROM messages m
		JOIN registered_groups g ON g.channel_id = m.channel_id
		WHERE m.timestamp > ? AND m.sender_name != ?
		ORDER BY m.timestamp ASC
	`, since, botSenderName)
	if err != nil {
		return nil, fmt.Errorf("messages since global: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MessagesSinceChannel returns messages for one channel with timestamp
// strictly greater than since, excluding the given bot sender name.
func (s *Store) MessagesSinceChannel(ctx context.Context, channelID, since, botSenderName string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_id, sender_name, content, timestamp, mentions_bot
		FROM messages
		WHERE channel_id = ? AND timestamp > ? AND sender_name != ?
		ORDER BY timestamp ASC
	`, channelID, since, botSenderName)
	if err != nil {
		return nil, fmt.Errorf("messages since channel: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var m Message
		var mentions int
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.SenderName, &m.Content, &m.Timestamp, &mentions); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.MentionsBot = mentions != 0
		out = append(out, m)
	}
	return out, rows.Err()
}
