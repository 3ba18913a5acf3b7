// Package supervisor wires message intake, the polling loop, startup
// recovery, and the per-channel processor that turns a backlog of stored
// messages into one sandboxed agent invocation.
package supervisor

import (
	"context"

	"github.com/nanoclaw/nanoclaw/internal/containerrunner"
	"github.com/nanoclaw/nanoclaw/internal/store"
)

// ChatEvent is one inbound event from the chat platform client, already
// normalized to the fields intake needs. Mention/reply detection upstream
// of this point is the chat client's job (§1.2); intake only persists.
type ChatEvent struct {
	JID             string
	ChatName        string
	ChannelID       string
	SenderName      string
	Text            string
	Timestamp       string
	Attachments     []store.Attachment
	LastMessageTime string
	// MentionsBot is true iff the platform's native signal says so: an
	// @-mention of the bot user, or a reply to a message the bot authored.
	// Separate from and OR'd with the per-channel trigger regex match in
	// processChannel.
	MentionsBot bool
}

// OutboundChat sends a reply and refreshes the "typing" indicator for a
// channel. The concrete chat client (internal/channels) also owns chunking
// a long reply into multiple sends.
type OutboundChat interface {
	SendMessage(ctx context.Context, channelID, text string) error
	SendTyping(ctx context.Context, channelID string) error
}

// ContainerRunner is the subset of *containerrunner.Runner the processor
// needs; narrowed to an interface so tests can fake it.
type ContainerRunner interface {
	Run(ctx context.Context, inv containerrunner.Invocation, onSpawn containerrunner.OnSpawn) ([]byte, error)
}

// SessionResolver looks up the live session id for a group, used so a
// scheduled task running in context_mode=group resumes the same history
// the chat-driven processor uses.
type SessionResolver interface {
	SessionID(ctx context.Context, groupFolder string) (string, error)
}
