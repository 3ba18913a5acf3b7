package store

import (
	"strings"
	"time"
)

// timestampLayout is RFC3339 with fixed-width fractional nanoseconds, chosen
// so lexicographic string ordering of timestamps always matches chronological
// ordering (see DESIGN.md open-question resolution).
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTimestamp renders t in nanoclaw's canonical, lexicographically
// sortable timestamp format (always UTC).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// ParseTimestamp parses a timestamp produced by FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(timestampLayout, s)
}

// Channel is a registered chat endpoint and its supervisor-side config.
type Channel struct {
	ChannelID       string
	Name            string
	Folder          string
	Trigger         string // optional override of the global trigger regex
	RequiresTrigger bool
	ContainerConfig map[string]string // optional per-channel container overrides
	AddedAt         string
}

// ChatMeta is channel-discovery metadata recorded for every inbound chat
// event, including channels that are not (yet) registered.
type ChatMeta struct {
	JID             string
	Name            string
	LastMessageTime string
}

// Message is an ingested, append-only chat event.
type Message struct {
	ID          string
	ChannelID   string
	SenderName  string
	Content     string
	Timestamp   string
	MentionsBot bool
}

// ScheduleKind enumerates how a Task's next_run is computed.
type ScheduleKind string

const (
	ScheduleCron     ScheduleKind = "cron"
	ScheduleInterval ScheduleKind = "interval"
	ScheduleOnce     ScheduleKind = "once"
)

// ContextMode controls whether a scheduled task resumes the group's live
// session or starts fresh.
type ContextMode string

const (
	ContextGroup    ContextMode = "group"
	ContextIsolated ContextMode = "isolated"
)

// TaskStatus is a Task's active/paused lifecycle state.
type TaskStatus string

const (
	TaskActive TaskStatus = "active"
	TaskPaused TaskStatus = "paused"
)

// Task is a scheduled future agent invocation.
type Task struct {
	ID            string
	GroupFolder   string
	ChannelID     string
	Prompt        string
	ScheduleKind  ScheduleKind
	ScheduleValue string
	ContextMode   ContextMode
	Status        TaskStatus
	NextRun       string // ISO-8601, empty means none scheduled
	CreatedAt     string
}

// BuildMessageContent appends one formatted line per attachment after text.
// If text is empty, the attachment lines become the entire content.
func BuildMessageContent(text string, attachments []Attachment) string {
	if len(attachments) == 0 {
		return text
	}
	lines := make([]string, 0, len(attachments))
	for _, a := range attachments {
		lines = append(lines, "[file: "+a.Name+" | "+a.MimeType+" | "+a.RelPath+"]")
	}
	joined := strings.Join(lines, "\n")
	if text == "" {
		return joined
	}
	return text + "\n" + joined
}

// Attachment describes a single file attached to an inbound message.
type Attachment struct {
	Name     string
	MimeType string
	RelPath  string
}
