package ipc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeResolver struct {
	mainFolder string
	folders    map[string]string // channelID -> folder
	allFolders []string
}

func (r *fakeResolver) IsMainFolder(folder string) bool { return folder == r.mainFolder }

func (r *fakeResolver) ChannelFolder(ctx context.Context, channelID string) (string, bool) {
	f, ok := r.folders[channelID]
	return f, ok
}

func (r *fakeResolver) GroupFolders(ctx context.Context) []string { return r.allFolders }

type fakeHandlers struct {
	mu         sync.Mutex
	delivered  []string
	scheduled  []TaskFile
	statusOps  []string
	refreshed  int
	registered []TaskFile
}

func (h *fakeHandlers) DeliverMessage(ctx context.Context, channelID, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.delivered = append(h.delivered, channelID+":"+text)
	return nil
}

func (h *fakeHandlers) ScheduleTask(ctx context.Context, sourceFolder string, f TaskFile) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scheduled = append(h.scheduled, f)
	return nil
}

func (h *fakeHandlers) SetTaskStatus(ctx context.Context, sourceFolder, taskID, action string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statusOps = append(h.statusOps, sourceFolder+":"+action+":"+taskID)
	return nil
}

func (h *fakeHandlers) RefreshGroups(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refreshed++
	return nil
}

func (h *fakeHandlers) RegisterChannel(ctx context.Context, f TaskFile) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registered = append(h.registered, f)
	return nil
}

func writeMessageFile(t *testing.T, dataDir, folder, name string, msg MessageFile) {
	t.Helper()
	dir := filepath.Join(dataDir, "ipc", folder, "messages")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), raw, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeTaskFile(t *testing.T, dataDir, folder, name string, tf TaskFile) {
	t.Helper()
	dir := filepath.Join(dataDir, "ipc", folder, "tasks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(tf)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), raw, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestMainFolderMayMessageAnyChannel(t *testing.T) {
	dataDir := t.TempDir()
	writeMessageFile(t, dataDir, "main", "m1.json", MessageFile{Type: "message", ChannelID: "c-other", Text: "hi"})

	resolver := &fakeResolver{mainFolder: "main", folders: map[string]string{}, allFolders: []string{"main"}}
	handlers := &fakeHandlers{}
	w := New(Config{DataDir: dataDir, Resolver: resolver, Handlers: handlers})

	w.scanMessages(context.Background(), "main")

	if len(handlers.delivered) != 1 || handlers.delivered[0] != "c-other:hi" {
		t.Fatalf("expected message delivered, got %+v", handlers.delivered)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "ipc", "main", "messages", "m1.json")); !os.IsNotExist(err) {
		t.Fatal("expected message file to be removed after delivery")
	}
}

func TestNonMainFolderRestrictedToOwnChannel(t *testing.T) {
	dataDir := t.TempDir()
	writeMessageFile(t, dataDir, "teamgroup", "m1.json", MessageFile{Type: "message", ChannelID: "c-not-mine", Text: "hi"})

	resolver := &fakeResolver{
		mainFolder: "main",
		folders:    map[string]string{"c-mine": "teamgroup"},
		allFolders: []string{"teamgroup"},
	}
	handlers := &fakeHandlers{}
	w := New(Config{DataDir: dataDir, Resolver: resolver, Handlers: handlers})

	w.scanMessages(context.Background(), "teamgroup")

	if len(handlers.delivered) != 0 {
		t.Fatalf("expected delivery to be rejected, got %+v", handlers.delivered)
	}
	// Quarantined, not left in place, and not retried.
	if _, err := os.Stat(filepath.Join(dataDir, "ipc", "teamgroup", "messages", "m1.json")); !os.IsNotExist(err) {
		t.Fatal("expected poison file to be moved out of messages/")
	}
	if _, err := os.Stat(filepath.Join(dataDir, "ipc", "errors", "teamgroup-m1.json")); err != nil {
		t.Fatalf("expected poison file quarantined, stat error: %v", err)
	}
}

func TestMalformedJSONQuarantined(t *testing.T) {
	dataDir := t.TempDir()
	dir := filepath.Join(dataDir, "ipc", "main", "messages")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	resolver := &fakeResolver{mainFolder: "main", allFolders: []string{"main"}}
	handlers := &fakeHandlers{}
	w := New(Config{DataDir: dataDir, Resolver: resolver, Handlers: handlers})

	w.scanMessages(context.Background(), "main")

	if _, err := os.Stat(filepath.Join(dataDir, "ipc", "errors", "main-bad.json")); err != nil {
		t.Fatalf("expected malformed file quarantined: %v", err)
	}
}

func TestRegisterChannelRequiresMain(t *testing.T) {
	dataDir := t.TempDir()
	writeTaskFile(t, dataDir, "teamgroup", "t1.json", TaskFile{
		Type: TypeRegisterChannel, ChannelID: "c1", Name: "n", Folder: "f", Trigger: "x",
	})

	resolver := &fakeResolver{mainFolder: "main", allFolders: []string{"teamgroup"}}
	handlers := &fakeHandlers{}
	w := New(Config{DataDir: dataDir, Resolver: resolver, Handlers: handlers})

	w.scanTasks(context.Background(), "teamgroup")

	if len(handlers.registered) != 0 {
		t.Fatalf("expected register_channel from non-main to be rejected, got %+v", handlers.registered)
	}
}

func TestScheduleTaskFromMain(t *testing.T) {
	dataDir := t.TempDir()
	writeTaskFile(t, dataDir, "main", "t1.json", TaskFile{
		Type: TypeScheduleTask, Prompt: "p", ScheduleType: "once",
		ScheduleValue: "2026-01-01T00:00:00Z", ContextMode: "isolated", TargetChannelID: "c-anything",
	})

	resolver := &fakeResolver{mainFolder: "main", allFolders: []string{"main"}}
	handlers := &fakeHandlers{}
	w := New(Config{DataDir: dataDir, Resolver: resolver, Handlers: handlers})

	w.scanTasks(context.Background(), "main")

	if len(handlers.scheduled) != 1 {
		t.Fatalf("expected 1 scheduled task, got %d", len(handlers.scheduled))
	}
}

func TestPauseResumeCancelCarrySourceFolder(t *testing.T) {
	dataDir := t.TempDir()
	writeTaskFile(t, dataDir, "teamgroup", "t1.json", TaskFile{Type: TypePauseTask, TaskID: "task-1"})

	resolver := &fakeResolver{mainFolder: "main", allFolders: []string{"teamgroup"}}
	handlers := &fakeHandlers{}
	w := New(Config{DataDir: dataDir, Resolver: resolver, Handlers: handlers})

	w.scanTasks(context.Background(), "teamgroup")

	if len(handlers.statusOps) != 1 || handlers.statusOps[0] != "teamgroup:pause:task-1" {
		t.Fatalf("expected sourceFolder threaded through to the handler, got %+v", handlers.statusOps)
	}
}

func TestEarlyWakeDoesNotChangeSemantics(t *testing.T) {
	dataDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dataDir, "ipc", "main", "messages"), 0o755); err != nil {
		t.Fatal(err)
	}
	resolver := &fakeResolver{mainFolder: "main", allFolders: []string{"main"}}
	handlers := &fakeHandlers{}
	w := New(Config{DataDir: dataDir, Resolver: resolver, Handlers: handlers, PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	writeMessageFile(t, dataDir, "main", "m1.json", MessageFile{Type: "message", ChannelID: "c1", Text: "hi"})

	deadline := time.After(2 * time.Second)
	for {
		handlers.mu.Lock()
		n := len(handlers.delivered)
		handlers.mu.Unlock()
		if n == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("expected fsnotify-driven early wake to deliver message before the hour-long ticker fires")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
