package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nanoclaw/nanoclaw/internal/store"
	"github.com/nanoclaw/nanoclaw/internal/supervisor"
)

// channelIDPrefix namespaces Telegram chat ids in the channel_id column, so
// a future second platform client cannot collide with them.
const channelIDPrefix = "telegram:"

// IntakeFunc matches supervisor.Supervisor.Intake's signature. Defined here,
// not imported as a method value type, so tests can fake it without
// constructing a Supervisor.
type IntakeFunc func(ctx context.Context, evt supervisor.ChatEvent) error

// TelegramClient is nanoclaw's chat platform client. It implements
// supervisor.OutboundChat and feeds inbound updates to an IntakeFunc.
type TelegramClient struct {
	token         string
	assistantName string
	intake        IntakeFunc
	logger        *slog.Logger

	bot *tgbotapi.BotAPI
}

// NewTelegramClient constructs a client. Start must be called before the bot
// connects; SendMessage/SendTyping are safe to call only after Start returns
// without error (or concurrently with Start, once the bot field is set).
func NewTelegramClient(token, assistantName string, intake IntakeFunc, logger *slog.Logger) *TelegramClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramClient{token: token, assistantName: assistantName, intake: intake, logger: logger}
}

// Start connects the bot and runs the long-poll loop until ctx is canceled,
// reconnecting with exponential backoff on disconnect. It blocks.
func (c *TelegramClient) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(c.token)
	if err != nil {
		return fmt.Errorf("telegram init: %w", err)
	}
	c.bot = bot
	c.logger.Info("telegram_connected", "bot_username", bot.Self.UserName)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := c.bot.GetUpdatesChan(u)

		pollErr := c.pollUpdates(ctx, updates)
		c.bot.StopReceivingUpdates()

		if pollErr == nil {
			return nil
		}

		c.logger.Warn("telegram_disconnected", "error", pollErr, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// pollUpdates drains the update channel until ctx is done, the channel
// closes, or no update arrives within 2.5x the long-poll timeout, which
// signals a stalled connection the library itself will not report.
func (c *TelegramClient) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	const stallTimeout = 150 * time.Second
	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message != nil {
				c.handleMessage(ctx, update.Message)
			}
		case <-timer.C:
			return fmt.Errorf("no updates for %v", stallTimeout)
		}
	}
}

func (c *TelegramClient) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	channelID := c.channelID(msg.Chat.ID)
	evt := supervisor.ChatEvent{
		JID:             channelID,
		ChatName:        chatName(msg.Chat),
		ChannelID:       channelID,
		SenderName:      senderName(msg.From),
		Text:            text,
		Timestamp:       timestampOf(msg),
		LastMessageTime: timestampOf(msg),
		MentionsBot:     c.mentionsBotEntity(msg) || c.repliesToBot(msg),
	}

	if err := c.intake(ctx, evt); err != nil {
		c.logger.Error("telegram_intake_failed", "channel_id", channelID, "error", err)
	}
}

// mentionsBotEntity reports whether msg contains a Telegram mention entity
// for the bot's own @username — a signal a plain trigger regex over text
// cannot see.
func (c *TelegramClient) mentionsBotEntity(msg *tgbotapi.Message) bool {
	if c.bot == nil {
		return false
	}
	botUsername := "@" + c.bot.Self.UserName
	for _, e := range msg.Entities {
		if e.Type != "mention" {
			continue
		}
		if e.Offset+e.Length > len(msg.Text) {
			continue
		}
		if strings.EqualFold(msg.Text[e.Offset:e.Offset+e.Length], botUsername) {
			return true
		}
	}
	return false
}

func (c *TelegramClient) repliesToBot(msg *tgbotapi.Message) bool {
	if c.bot == nil || msg.ReplyToMessage == nil || msg.ReplyToMessage.From == nil {
		return false
	}
	return msg.ReplyToMessage.From.ID == c.bot.Self.ID
}

// SendMessage sends text to chatID, chunking it into Telegram-safe pieces.
func (c *TelegramClient) SendMessage(ctx context.Context, channelID, text string) error {
	chatID, err := c.chatID(channelID)
	if err != nil {
		return err
	}
	for _, chunk := range ChunkMessage(text) {
		if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// SendTyping sends one "typing" chat action; the supervisor calls this on a
// timer to keep the indicator alive for the duration of an agent turn.
func (c *TelegramClient) SendTyping(ctx context.Context, channelID string) error {
	chatID, err := c.chatID(channelID)
	if err != nil {
		return err
	}
	if _, err := c.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("telegram typing: %w", err)
	}
	return nil
}

func (c *TelegramClient) channelID(chatID int64) string {
	return channelIDPrefix + strconv.FormatInt(chatID, 10)
}

func (c *TelegramClient) chatID(channelID string) (int64, error) {
	raw := strings.TrimPrefix(channelID, channelIDPrefix)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("channel id %q is not a telegram chat id: %w", channelID, err)
	}
	return id, nil
}

func chatName(chat *tgbotapi.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	if chat.UserName != "" {
		return chat.UserName
	}
	return strconv.FormatInt(chat.ID, 10)
}

func senderName(from *tgbotapi.User) string {
	if from == nil {
		return "unknown"
	}
	if from.UserName != "" {
		return from.UserName
	}
	return strings.TrimSpace(from.FirstName + " " + from.LastName)
}

func timestampOf(msg *tgbotapi.Message) string {
	return store.FormatTimestamp(time.Unix(int64(msg.Date), 0))
}
