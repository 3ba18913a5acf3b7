package channels

import (
	"context"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nanoclaw/nanoclaw/internal/supervisor"
)

func newTestClient() *TelegramClient {
	c := NewTelegramClient("token", "nano", nil, nil)
	c.bot = &tgbotapi.BotAPI{Self: tgbotapi.User{ID: 999, UserName: "nanobot"}}
	return c
}

func TestChannelIDRoundTrip(t *testing.T) {
	c := newTestClient()
	id := c.channelID(12345)
	if id != "telegram:12345" {
		t.Fatalf("unexpected channel id: %s", id)
	}
	chatID, err := c.chatID(id)
	if err != nil {
		t.Fatalf("chatID: %v", err)
	}
	if chatID != 12345 {
		t.Fatalf("expected 12345, got %d", chatID)
	}
}

func TestChatIDRejectsForeignChannel(t *testing.T) {
	c := newTestClient()
	if _, err := c.chatID("whatsapp:12345"); err == nil {
		t.Fatal("expected error for a non-telegram channel id")
	}
}

func TestMentionsBotEntityDetectsAtMention(t *testing.T) {
	c := newTestClient()
	msg := &tgbotapi.Message{
		Text: "hey @nanobot status?",
		Entities: []tgbotapi.MessageEntity{
			{Type: "mention", Offset: 4, Length: 8},
		},
	}
	if !c.mentionsBotEntity(msg) {
		t.Fatal("expected mention entity to be detected")
	}
}

func TestMentionsBotEntityIgnoresOtherMentions(t *testing.T) {
	c := newTestClient()
	msg := &tgbotapi.Message{
		Text: "hey @someoneelse status?",
		Entities: []tgbotapi.MessageEntity{
			{Type: "mention", Offset: 4, Length: 12},
		},
	}
	if c.mentionsBotEntity(msg) {
		t.Fatal("expected unrelated mention not to match the bot")
	}
}

func TestRepliesToBotDetectsReply(t *testing.T) {
	c := newTestClient()
	msg := &tgbotapi.Message{
		ReplyToMessage: &tgbotapi.Message{From: &tgbotapi.User{ID: 999}},
	}
	if !c.repliesToBot(msg) {
		t.Fatal("expected reply-to-bot to be detected")
	}
}

func TestRepliesToBotIgnoresReplyToOtherUser(t *testing.T) {
	c := newTestClient()
	msg := &tgbotapi.Message{
		ReplyToMessage: &tgbotapi.Message{From: &tgbotapi.User{ID: 1}},
	}
	if c.repliesToBot(msg) {
		t.Fatal("expected reply to a non-bot user not to match")
	}
}

func TestHandleMessageSetsMentionsBotOnEntityMention(t *testing.T) {
	c := newTestClient()
	var got supervisor.ChatEvent
	c.intake = func(ctx context.Context, evt supervisor.ChatEvent) error {
		got = evt
		return nil
	}
	msg := &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: 1},
		Text: "hey @nanobot status?",
		Entities: []tgbotapi.MessageEntity{
			{Type: "mention", Offset: 4, Length: 8},
		},
		Date: 1700000000,
	}
	c.handleMessage(context.Background(), msg)

	if !got.MentionsBot {
		t.Fatal("expected MentionsBot to be set from the mention entity")
	}
	if got.Text != msg.Text {
		t.Fatalf("expected stored text unchanged, got %q", got.Text)
	}
}

func TestHandleMessageLeavesMentionsBotFalseForPlainText(t *testing.T) {
	c := newTestClient()
	var got supervisor.ChatEvent
	c.intake = func(ctx context.Context, evt supervisor.ChatEvent) error {
		got = evt
		return nil
	}
	msg := &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: 1},
		Text: "just chatting, no mention",
		Date: 1700000000,
	}
	c.handleMessage(context.Background(), msg)

	if got.MentionsBot {
		t.Fatal("expected MentionsBot false for plain text with no mention or reply")
	}
	if got.Text != msg.Text {
		t.Fatalf("expected stored text unchanged, got %q", got.Text)
	}
}

func TestSenderNamePrefersUsername(t *testing.T) {
	if got := senderName(&tgbotapi.User{UserName: "alice", FirstName: "Alice"}); got != "alice" {
		t.Fatalf("expected username, got %q", got)
	}
}

func TestSenderNameFallsBackToFullName(t *testing.T) {
	if got := senderName(&tgbotapi.User{FirstName: "Alice", LastName: "Smith"}); got != "Alice Smith" {
		t.Fatalf("expected full name fallback, got %q", got)
	}
}

func TestChatNamePrefersTitleThenUsername(t *testing.T) {
	if got := chatName(&tgbotapi.Chat{Title: "Team Chat"}); got != "Team Chat" {
		t.Fatalf("expected title, got %q", got)
	}
	if got := chatName(&tgbotapi.Chat{UserName: "alice"}); got != "alice" {
		t.Fatalf("expected username fallback, got %q", got)
	}
}
