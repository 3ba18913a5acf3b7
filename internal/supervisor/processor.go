package supervisor

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/nanoclaw/nanoclaw/internal/containerrunner"
	"github.com/nanoclaw/nanoclaw/internal/shared"
	"github.com/nanoclaw/nanoclaw/internal/store"
)

// processChannel is installed as the queue's MessageProcessor. It fetches
// the channel's backlog since last_agent_timestamp, gates on the trigger
// for non-main channels that require one, and otherwise invokes the
// container-runner for exactly one agent turn.
func (s *Supervisor) processChannel(ctx context.Context, channelID string) error {
	channel, err := s.cfg.Store.GetChannel(ctx, channelID)
	if err != nil {
		return fmt.Errorf("get channel: %w", err)
	}

	since, err := s.cfg.Store.LastAgentTimestamp(ctx, channelID)
	if err != nil {
		return fmt.Errorf("get last_agent_timestamp: %w", err)
	}

	messages, err := s.cfg.Store.MessagesSinceChannel(ctx, channelID, since, s.cfg.BotSenderName)
	if err != nil {
		return fmt.Errorf("messages since channel: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	isMain := s.isMain(channel.Folder)
	if !isMain && channel.RequiresTrigger {
		triggered := false
		for _, m := range messages {
			if m.MentionsBot || s.matchesTrigger(channel, m.Content) {
				triggered = true
				break
			}
		}
		if !triggered {
			// No mention anywhere in the backlog: success without running
			// the agent. last_agent_timestamp still advances below so this
			// backlog is not re-offered on the next poll.
			return s.cfg.Store.SetLastAgentTimestamp(ctx, channelID, messages[len(messages)-1].Timestamp)
		}
	}

	prompt := formatMessagesBlock(messages)
	sessionID, err := s.cfg.Store.SessionID(ctx, channel.Folder)
	if err != nil {
		return fmt.Errorf("get session id: %w", err)
	}

	stopTyping := s.startTypingIndicator(ctx, channelID)
	defer stopTyping()

	output, err := s.invokeAgent(ctx, channel, isMain, prompt, sessionID, false)
	if err != nil {
		return fmt.Errorf("invoke agent: %w", err)
	}

	if err := s.cfg.Store.SetLastAgentTimestamp(ctx, channelID, messages[len(messages)-1].Timestamp); err != nil {
		return fmt.Errorf("advance last_agent_timestamp: %w", err)
	}

	return s.deliverOutput(ctx, channelID, channel.Folder, output)
}

// DispatchScheduledTask matches scheduler.Dispatcher: it enqueues the
// task's invocation onto the per-channel queue (deduped by task id), which
// shares the queue with intake so a scheduled task and a chat-triggered
// turn for the same channel can never run concurrently.
func (s *Supervisor) DispatchScheduledTask(ctx context.Context, task store.Task, sessionID string) {
	s.cfg.Queue.EnqueueTask(ctx, task.ChannelID, task.ID, func(ctx context.Context) error {
		return s.runScheduledTask(ctx, task, sessionID)
	})
}

// runScheduledTask builds and runs the invocation for one fired task.
func (s *Supervisor) runScheduledTask(ctx context.Context, task store.Task, sessionID string) error {
	channel, err := s.cfg.Store.GetChannel(ctx, task.ChannelID)
	if err != nil {
		return fmt.Errorf("get channel: %w", err)
	}
	isMain := s.isMain(channel.Folder)

	output, err := s.invokeAgent(ctx, channel, isMain, scheduledPrompt(task.Prompt), sessionID, true)
	if err != nil {
		return fmt.Errorf("invoke scheduled agent: %w", err)
	}
	return s.deliverOutput(ctx, task.ChannelID, channel.Folder, output)
}

func scheduledPrompt(prompt string) string {
	return "[Scheduled task — not from a user]\n\n" + prompt
}

func (s *Supervisor) invokeAgent(ctx context.Context, channel store.Channel, isMain bool, prompt, sessionID string, isScheduledTask bool) (*shared.ContainerOutput, error) {
	var sessionPtr *string
	if sessionID != "" {
		sessionPtr = &sessionID
	}

	input := shared.ContainerInput{
		Prompt:          prompt,
		SessionID:       sessionPtr,
		GroupFolder:     channel.Folder,
		ChannelID:       channel.ChannelID,
		IsMain:          isMain,
		IsScheduledTask: isScheduledTask,
	}
	stdin, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal container input: %w", err)
	}

	inv := containerrunner.Invocation{
		GroupFolder: channel.Folder,
		Mounts:      s.mountsFor(channel.Folder, isMain),
		Secrets:     s.cfg.Secrets,
		Stdin:       stdin,
	}

	onSpawn := func(proc *containerrunner.Handle, containerName string) {
		s.cfg.Queue.RegisterProcess(channel.ChannelID, proc, containerName)
	}

	raw, err := s.cfg.Runner.Run(ctx, inv, onSpawn)
	if err != nil {
		return nil, err
	}

	var output shared.ContainerOutput
	if err := json.Unmarshal(raw, &output); err != nil {
		return nil, fmt.Errorf("parse container output: %w", err)
	}
	if output.Status == shared.StatusError {
		return nil, fmt.Errorf("agent reported error: %s", output.Error)
	}

	if output.NewSessionID != "" {
		if err := s.cfg.Store.SetSessionID(ctx, channel.Folder, output.NewSessionID); err != nil {
			return nil, fmt.Errorf("persist session id: %w", err)
		}
	}
	return &output, nil
}

func (s *Supervisor) mountsFor(folder string, isMain bool) []containerrunner.Mount {
	mounts := []containerrunner.Mount{
		{HostPath: filepath.Join(s.cfg.GroupsDir, folder), ContainerPath: "/workspace/group"},
		{HostPath: filepath.Join(s.cfg.DataDir, "ipc", folder), ContainerPath: "/workspace/ipc"},
	}
	if isMain {
		mounts = append(mounts,
			containerrunner.Mount{HostPath: s.cfg.ProjectRoot, ContainerPath: "/workspace/project"},
			containerrunner.Mount{HostPath: filepath.Join(s.cfg.GroupsDir, "global"), ContainerPath: "/workspace/global"},
		)
	}
	return mounts
}

func (s *Supervisor) deliverOutput(ctx context.Context, channelID, groupFolder string, output *shared.ContainerOutput) error {
	if output.Result == nil || output.Result.OutputType != shared.OutputTypeMessage {
		return nil // log-only turn, or agent chose silence: a legal outcome
	}
	if strings.TrimSpace(output.Result.UserMessage) == "" {
		return nil
	}
	if s.cfg.Outbound == nil {
		return nil
	}
	return s.cfg.Outbound.SendMessage(ctx, channelID, output.Result.UserMessage)
}

// startTypingIndicator refreshes the typing indicator every TypingInterval
// until the returned function is called.
func (s *Supervisor) startTypingIndicator(ctx context.Context, channelID string) func() {
	if s.cfg.Outbound == nil {
		return func() {}
	}
	stop := make(chan struct{})
	go func() {
		_ = s.cfg.Outbound.SendTyping(ctx, channelID)
		ticker := time.NewTicker(s.cfg.TypingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.cfg.Outbound.SendTyping(ctx, channelID)
			}
		}
	}()
	return func() { close(stop) }
}

type xmlMessage struct {
	Sender string `xml:"sender,attr"`
	Time   string `xml:"timestamp,attr"`
	Text   string `xml:",chardata"`
}

type xmlMessages struct {
	XMLName  xml.Name     `xml:"messages"`
	Messages []xmlMessage `xml:"message"`
}

// formatMessagesBlock renders the channel's backlog as an XML-escaped
// <messages> block, the literal prompt shape the agent expects.
func formatMessagesBlock(messages []store.Message) string {
	block := xmlMessages{}
	for _, m := range messages {
		block.Messages = append(block.Messages, xmlMessage{Sender: m.SenderName, Time: m.Timestamp, Text: m.Content})
	}
	raw, err := xml.MarshalIndent(block, "", "  ")
	if err != nil {
		// xml.Marshal over plain strings cannot fail; this path exists only
		// to satisfy the error return.
		return ""
	}
	return string(raw)
}
