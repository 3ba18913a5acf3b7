package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nanoclaw/nanoclaw/internal/bus"
)

// GroupResolver answers the authorization questions the watcher needs
// without importing the store package directly.
type GroupResolver interface {
	IsMainFolder(folder string) bool
	// ChannelFolder returns the registered folder owning channelID, if any.
	ChannelFolder(ctx context.Context, channelID string) (folder string, ok bool)
	// GroupFolders lists every folder the watcher should poll (main plus
	// every registered channel's folder).
	GroupFolders(ctx context.Context) []string
}

// Config holds the watcher's tunables.
type Config struct {
	DataDir      string
	PollInterval time.Duration
	Resolver     GroupResolver
	Handlers     Handlers
	Bus          *bus.Bus
	Logger       *slog.Logger
}

// Watcher scans every group's ipc/{messages,tasks} directories on a fixed
// cadence, with an fsnotify subscription that only schedules an earlier
// poll: it never substitutes for one, so scan order and semantics are
// unaffected by its presence.
type Watcher struct {
	cfg    Config
	cancel context.CancelFunc
	wg     sync.WaitGroup
	wake   chan struct{}
}

// New constructs a Watcher. Call Start to begin polling.
func New(cfg Config) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Watcher{cfg: cfg, wake: make(chan struct{}, 1)}
}

// Start begins the poll loop and, best-effort, an fsnotify watch on the
// ipc directory tree for an early-wake nudge.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	if fw, err := fsnotify.NewWatcher(); err == nil {
		root := filepath.Join(w.cfg.DataDir, "ipc")
		if err := fw.Add(root); err == nil {
			for _, folder := range w.cfg.Resolver.GroupFolders(ctx) {
				w.watchGroupDirs(fw, folder)
			}
			w.wg.Add(1)
			go w.watchFS(ctx, fw)
		} else {
			fw.Close()
		}
	} else if w.cfg.Logger != nil {
		w.cfg.Logger.Warn("ipc_fsnotify_unavailable", "error", err)
	}

	w.wg.Add(1)
	go w.loop(ctx)
}

// watchGroupDirs adds the messages/ and tasks/ subdirectories of a group's
// ipc mount, if they already exist. New groups registered at runtime are
// picked up as their directories are created (see watchFS).
func (w *Watcher) watchGroupDirs(fw *fsnotify.Watcher, folder string) {
	groupDir := filepath.Join(w.cfg.DataDir, "ipc", folder)
	_ = fw.Add(groupDir)
	for _, kind := range []string{"messages", "tasks"} {
		_ = fw.Add(filepath.Join(groupDir, kind))
	}
}

// Stop cancels the poll loop and waits for it to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Watcher) watchFS(ctx context.Context, fw *fsnotify.Watcher) {
	defer w.wg.Done()
	defer fw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			// A newly created group/messages/tasks directory is watched
			// immediately so its own future writes also produce a nudge.
			if ev.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = fw.Add(ev.Name)
				}
			}
			select {
			case w.wake <- struct{}{}:
			default:
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if w.cfg.Logger != nil {
				w.cfg.Logger.Warn("ipc_fsnotify_error", "error", err)
			}
		}
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scanAll(ctx)
		case <-w.wake:
			w.scanAll(ctx)
		}
	}
}

func (w *Watcher) scanAll(ctx context.Context) {
	for _, folder := range w.cfg.Resolver.GroupFolders(ctx) {
		w.scanMessages(ctx, folder)
		w.scanTasks(ctx, folder)
	}
}

func (w *Watcher) groupDir(folder, kind string) string {
	return filepath.Join(w.cfg.DataDir, "ipc", folder, kind)
}

func (w *Watcher) errorsDir() string {
	return filepath.Join(w.cfg.DataDir, "ipc", "errors")
}

// listJSON returns *.json files in dir in filesystem-listing order; no
// cross-file ordering guarantee is relied upon beyond that.
func listJSON(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (w *Watcher) scanMessages(ctx context.Context, folder string) {
	dir := w.groupDir(folder, "messages")
	names, err := listJSON(dir)
	if err != nil {
		if w.cfg.Logger != nil {
			w.cfg.Logger.Error("ipc_list_messages_failed", "folder", folder, "error", err)
		}
		return
	}
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := w.handleMessageFile(ctx, folder, name, path); err != nil {
			w.quarantine(folder, name, path, err)
			continue
		}
		w.remove(path)
	}
}

func (w *Watcher) handleMessageFile(ctx context.Context, sourceFolder, name, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if err := validateShape(messageSchema, raw); err != nil {
		return err
	}
	var msg MessageFile
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if err := msg.validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if !w.authorizeMessage(ctx, sourceFolder, msg.ChannelID) {
		return fmt.Errorf("unauthorized: folder %q may not message channel %q", sourceFolder, msg.ChannelID)
	}
	if err := w.cfg.Handlers.DeliverMessage(ctx, msg.ChannelID, msg.Text); err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	if w.cfg.Bus != nil {
		w.cfg.Bus.Publish(bus.TopicIPCMessageDelivered, msg.ChannelID)
	}
	return nil
}

func (w *Watcher) authorizeMessage(ctx context.Context, sourceFolder, targetChannelID string) bool {
	if w.cfg.Resolver.IsMainFolder(sourceFolder) {
		return true
	}
	folder, ok := w.cfg.Resolver.ChannelFolder(ctx, targetChannelID)
	return ok && folder == sourceFolder
}

func (w *Watcher) scanTasks(ctx context.Context, folder string) {
	dir := w.groupDir(folder, "tasks")
	names, err := listJSON(dir)
	if err != nil {
		if w.cfg.Logger != nil {
			w.cfg.Logger.Error("ipc_list_tasks_failed", "folder", folder, "error", err)
		}
		return
	}
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := w.handleTaskFile(ctx, folder, name, path); err != nil {
			w.quarantine(folder, name, path, err)
			continue
		}
		w.remove(path)
	}
}

func (w *Watcher) handleTaskFile(ctx context.Context, sourceFolder, name, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if err := validateShape(taskSchema, raw); err != nil {
		return err
	}
	var tf TaskFile
	if err := json.Unmarshal(raw, &tf); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if err := tf.validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	isMain := w.cfg.Resolver.IsMainFolder(sourceFolder)
	switch tf.Type {
	case TypeRefreshGroups, TypeRegisterChannel:
		if !isMain {
			return fmt.Errorf("unauthorized: %q is main-only", tf.Type)
		}
	case TypeScheduleTask:
		if !isMain {
			folder, ok := w.cfg.Resolver.ChannelFolder(ctx, tf.TargetChannelID)
			if !ok || folder != sourceFolder {
				return fmt.Errorf("unauthorized: folder %q may not schedule on channel %q", sourceFolder, tf.TargetChannelID)
			}
		}
	case TypePauseTask, TypeResumeTask, TypeCancelTask:
		// Task ownership (group_folder match) is enforced by IPCHandlers.SetTaskStatus,
		// which looks the task up before mutating it; sourceFolder is threaded through.
	}

	return w.dispatchTask(ctx, sourceFolder, tf)
}

func (w *Watcher) dispatchTask(ctx context.Context, sourceFolder string, tf TaskFile) error {
	var err error
	switch tf.Type {
	case TypeScheduleTask:
		err = w.cfg.Handlers.ScheduleTask(ctx, sourceFolder, tf)
	case TypePauseTask:
		err = w.cfg.Handlers.SetTaskStatus(ctx, sourceFolder, tf.TaskID, "pause")
	case TypeResumeTask:
		err = w.cfg.Handlers.SetTaskStatus(ctx, sourceFolder, tf.TaskID, "resume")
	case TypeCancelTask:
		err = w.cfg.Handlers.SetTaskStatus(ctx, sourceFolder, tf.TaskID, "cancel")
	case TypeRefreshGroups:
		err = w.cfg.Handlers.RefreshGroups(ctx)
	case TypeRegisterChannel:
		err = w.cfg.Handlers.RegisterChannel(ctx, tf)
	default:
		err = fmt.Errorf("unknown task type %q", tf.Type)
	}
	if err == nil && w.cfg.Bus != nil {
		w.cfg.Bus.Publish(bus.TopicIPCActionApplied, tf.Type)
	}
	return err
}

func (w *Watcher) remove(path string) {
	if err := os.Remove(path); err != nil && w.cfg.Logger != nil {
		w.cfg.Logger.Error("ipc_remove_failed", "path", path, "error", err)
	}
}

// quarantine moves a poison file to ipc/errors/{sourceGroup}-{filename}
// rather than retrying it; a malformed or unauthorized file never blocks
// the scan of files after it.
func (w *Watcher) quarantine(sourceFolder, name, path string, cause error) {
	if w.cfg.Logger != nil {
		w.cfg.Logger.Warn("ipc_quarantine", "folder", sourceFolder, "file", name, "error", cause)
	}
	if err := os.MkdirAll(w.errorsDir(), 0o755); err != nil {
		if w.cfg.Logger != nil {
			w.cfg.Logger.Error("ipc_quarantine_mkdir_failed", "error", err)
		}
		return
	}
	dest := filepath.Join(w.errorsDir(), fmt.Sprintf("%s-%s", sourceFolder, name))
	if err := os.Rename(path, dest); err != nil && w.cfg.Logger != nil {
		w.cfg.Logger.Error("ipc_quarantine_rename_failed", "error", err)
	}
	if w.cfg.Bus != nil {
		w.cfg.Bus.Publish(bus.TopicIPCQuarantined, name)
	}
}
