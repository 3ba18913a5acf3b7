package supervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/nanoclaw/nanoclaw/internal/ipc"
	"github.com/nanoclaw/nanoclaw/internal/scheduler"
	"github.com/nanoclaw/nanoclaw/internal/store"
)

// IPCHandlers adapts a Supervisor to ipc.Handlers: the watcher only parses
// and authorizes a dropped file, every store/queue/chat effect lives here.
type IPCHandlers struct {
	s *Supervisor
}

// NewIPCHandlers builds the ipc.Handlers implementation for s.
func NewIPCHandlers(s *Supervisor) *IPCHandlers {
	return &IPCHandlers{s: s}
}

func (h *IPCHandlers) DeliverMessage(ctx context.Context, channelID, text string) error {
	if err := h.s.cfg.Outbound.SendMessage(ctx, channelID, text); err != nil {
		return fmt.Errorf("deliver message to %s: %w", channelID, err)
	}
	return nil
}

func (h *IPCHandlers) ScheduleTask(ctx context.Context, sourceFolder string, f ipc.TaskFile) error {
	if err := scheduler.ValidateScheduleValue(store.ScheduleKind(f.ScheduleType), f.ScheduleValue); err != nil {
		return fmt.Errorf("schedule task: %w", err)
	}
	task := store.Task{
		GroupFolder:   sourceFolder,
		ChannelID:     f.TargetChannelID,
		Prompt:        f.Prompt,
		ScheduleKind:  store.ScheduleKind(f.ScheduleType),
		ScheduleValue: f.ScheduleValue,
		ContextMode:   store.ContextMode(f.ContextMode),
		Status:        store.TaskActive,
		CreatedAt:     store.FormatTimestamp(h.s.now()),
	}
	if _, err := h.s.cfg.Store.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (h *IPCHandlers) SetTaskStatus(ctx context.Context, sourceFolder, taskID, action string) error {
	task, err := h.s.cfg.Store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("set task status: %w", err)
	}
	if !h.s.isMain(sourceFolder) && task.GroupFolder != sourceFolder {
		return fmt.Errorf("unauthorized: folder %q may not modify task %q owned by %q", sourceFolder, taskID, task.GroupFolder)
	}

	switch action {
	case "pause":
		return h.s.cfg.Store.SetTaskStatus(ctx, taskID, store.TaskPaused)
	case "resume":
		return h.s.cfg.Store.SetTaskStatus(ctx, taskID, store.TaskActive)
	case "cancel":
		return h.s.cfg.Store.CancelTask(ctx, taskID)
	default:
		return fmt.Errorf("unknown task action %q", action)
	}
}

func (h *IPCHandlers) RefreshGroups(ctx context.Context) error {
	return nil
}

func (h *IPCHandlers) RegisterChannel(ctx context.Context, f ipc.TaskFile) error {
	if f.ChannelID == "" || f.Name == "" || f.Folder == "" {
		return errors.New("register_channel: channelId, name and folder are required")
	}
	return h.s.cfg.Store.RegisterChannel(ctx, store.Channel{
		ChannelID:       f.ChannelID,
		Name:            f.Name,
		Folder:          f.Folder,
		Trigger:         f.Trigger,
		RequiresTrigger: true,
		ContainerConfig: f.ContainerConfig,
		AddedAt:         store.FormatTimestamp(h.s.now()),
	})
}

// GroupResolver adapts the store to ipc.GroupResolver.
type GroupResolver struct {
	Store           *store.Store
	MainGroupFolder string
}

func (r GroupResolver) IsMainFolder(folder string) bool {
	return folder == r.MainGroupFolder
}

func (r GroupResolver) ChannelFolder(ctx context.Context, channelID string) (string, bool) {
	channel, err := r.Store.GetChannel(ctx, channelID)
	if err != nil {
		return "", false
	}
	return channel.Folder, true
}

func (r GroupResolver) GroupFolders(ctx context.Context) []string {
	channels, err := r.Store.ListChannels(ctx)
	if err != nil {
		return []string{r.MainGroupFolder}
	}
	seen := map[string]bool{r.MainGroupFolder: true}
	folders := []string{r.MainGroupFolder}
	for _, c := range channels {
		if !seen[c.Folder] {
			seen[c.Folder] = true
			folders = append(folders, c.Folder)
		}
	}
	return folders
}
