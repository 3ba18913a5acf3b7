package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/nanoclaw/nanoclaw/internal/bus"
	"github.com/nanoclaw/nanoclaw/internal/queue"
	"github.com/nanoclaw/nanoclaw/internal/store"
)

// Config holds the supervisor's tunables and collaborators.
type Config struct {
	Store    *store.Store
	Queue    *queue.Queue
	Bus      *bus.Bus
	Logger   *slog.Logger
	Outbound OutboundChat
	Runner   ContainerRunner

	AssistantName   string
	MainGroupFolder string
	BotSenderName   string
	PollInterval    time.Duration
	TypingInterval  time.Duration

	GroupsDir   string
	DataDir     string
	ProjectRoot string
	Secrets     map[string]string // GEMINI_API_KEY, GEMINI_MODEL

	// Now is overridable for deterministic tests.
	Now func() time.Time
}

// Supervisor owns intake, the polling loop, startup recovery, and the
// per-channel processor that the queue invokes for every channel.
type Supervisor struct {
	cfg Config

	defaultTrigger *regexp.Regexp

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Supervisor and wires it as the queue's message
// processor. Call Start to begin the polling loop.
func New(cfg Config) (*Supervisor, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.TypingInterval <= 0 {
		cfg.TypingInterval = 9 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.AssistantName == "" {
		cfg.AssistantName = "nano"
	}
	if cfg.MainGroupFolder == "" {
		cfg.MainGroupFolder = "main"
	}

	trigger, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(cfg.AssistantName) + `\b`)
	if err != nil {
		return nil, fmt.Errorf("compile default trigger: %w", err)
	}

	s := &Supervisor{cfg: cfg, defaultTrigger: trigger}
	cfg.Queue.SetMessageProcessor(s.processChannel)
	return s, nil
}

func (s *Supervisor) now() time.Time {
	return s.cfg.Now()
}

// SetOutbound injects the chat client used to deliver replies and typing
// indicators. Resolves the cyclic reference between the supervisor and a
// channel client that needs Intake before it can be constructed.
func (s *Supervisor) SetOutbound(outbound OutboundChat) {
	s.cfg.Outbound = outbound
}

// Start begins the poll loop in a background goroutine, after running
// startup recovery synchronously.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.recoverOnStartup(ctx); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.pollLoop(ctx)
	return nil
}

// Stop cancels the poll loop and waits for it to exit.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Shutdown stops the poll loop, then asks the queue to terminate any
// in-flight subprocess and waits up to grace before force-killing survivors.
func (s *Supervisor) Shutdown(ctx context.Context, grace time.Duration) {
	s.Stop()
	s.cfg.Queue.Shutdown(ctx, grace)
}

func (s *Supervisor) matchesTrigger(channel store.Channel, text string) bool {
	trigger := s.defaultTrigger
	if channel.Trigger != "" {
		if re, err := regexp.Compile(`(?i)` + channel.Trigger); err == nil {
			trigger = re
		} else if s.cfg.Logger != nil {
			s.cfg.Logger.Warn("invalid_channel_trigger", "channel_id", channel.ChannelID, "trigger", channel.Trigger, "error", err)
		}
	}
	return trigger.MatchString(text)
}

func buildContentWithAttachments(text string, attachments []store.Attachment) string {
	return store.BuildMessageContent(text, attachments)
}

func messageFromEvent(evt ChatEvent, content string, mentions bool) store.Message {
	return store.Message{
		ChannelID:   evt.ChannelID,
		SenderName:  evt.SenderName,
		Content:     content,
		Timestamp:   evt.Timestamp,
		MentionsBot: mentions,
	}
}

// isMain reports whether a channel's folder is the main group folder.
func (s *Supervisor) isMain(folder string) bool {
	return folder == s.cfg.MainGroupFolder
}
