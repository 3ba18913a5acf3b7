package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/nanoclaw/nanoclaw/internal/bus"
	"github.com/nanoclaw/nanoclaw/internal/ipc"
	"github.com/nanoclaw/nanoclaw/internal/queue"
	"github.com/nanoclaw/nanoclaw/internal/store"
)

func newTestSupervisor(t *testing.T, st *store.Store, outbound OutboundChat) *Supervisor {
	t.Helper()
	sup, err := New(Config{
		Store: st, Queue: queue.New(queue.Config{MaxConcurrentContainers: 1}, nil, bus.New()),
		Bus: bus.New(), Outbound: outbound,
		AssistantName: "nano", MainGroupFolder: "main",
	})
	if err != nil {
		t.Fatal(err)
	}
	return sup
}

func TestIPCHandlersDeliverMessage(t *testing.T) {
	st := openTestStore(t)
	outbound := &fakeOutbound{}
	h := NewIPCHandlers(newTestSupervisor(t, st, outbound))

	if err := h.DeliverMessage(context.Background(), "c1", "hello"); err != nil {
		t.Fatalf("DeliverMessage: %v", err)
	}
	if len(outbound.sent) != 1 || outbound.sent[0] != "hello" {
		t.Fatalf("expected message delivered to outbound, got %+v", outbound.sent)
	}
}

func TestIPCHandlersScheduleTaskCreatesActiveTask(t *testing.T) {
	st := openTestStore(t)
	h := NewIPCHandlers(newTestSupervisor(t, st, &fakeOutbound{}))
	ctx := context.Background()

	err := h.ScheduleTask(ctx, "team", ipc.TaskFile{
		TargetChannelID: "c1",
		Prompt:          "check in",
		ScheduleType:    "once",
		ScheduleValue:   "2026-01-01T00:00:00Z",
		ContextMode:     "isolated",
	})
	if err != nil {
		t.Fatalf("ScheduleTask: %v", err)
	}

	tasks, err := st.ListAllTasks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if tasks[0].Status != store.TaskActive {
		t.Fatalf("expected newly scheduled task to be active, got %s", tasks[0].Status)
	}
	if tasks[0].GroupFolder != "team" {
		t.Fatalf("expected source folder carried through, got %q", tasks[0].GroupFolder)
	}
}

func TestIPCHandlersSetTaskStatusActions(t *testing.T) {
	st := openTestStore(t)
	h := NewIPCHandlers(newTestSupervisor(t, st, &fakeOutbound{}))
	ctx := context.Background()

	created, err := st.CreateTask(ctx, store.Task{
		GroupFolder: "team", ChannelID: "c1", Prompt: "p",
		ScheduleKind: store.ScheduleOnce, ScheduleValue: "2026-01-01T00:00:00Z",
		Status: store.TaskActive, CreatedAt: store.FormatTimestamp(time.Now()),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := h.SetTaskStatus(ctx, "team", created.ID, "pause"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	got, err := st.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.TaskPaused {
		t.Fatalf("expected paused, got %s", got.Status)
	}

	if err := h.SetTaskStatus(ctx, "team", created.ID, "resume"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	got, err = st.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.TaskActive {
		t.Fatalf("expected active after resume, got %s", got.Status)
	}

	if err := h.SetTaskStatus(ctx, "team", created.ID, "bogus"); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestIPCHandlersSetTaskStatusRejectsCrossGroup(t *testing.T) {
	st := openTestStore(t)
	h := NewIPCHandlers(newTestSupervisor(t, st, &fakeOutbound{}))
	ctx := context.Background()

	created, err := st.CreateTask(ctx, store.Task{
		GroupFolder: "team", ChannelID: "c1", Prompt: "p",
		ScheduleKind: store.ScheduleOnce, ScheduleValue: "2026-01-01T00:00:00Z",
		Status: store.TaskActive, CreatedAt: store.FormatTimestamp(time.Now()),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := h.SetTaskStatus(ctx, "other", created.ID, "pause"); err == nil {
		t.Fatal("expected error pausing a task owned by a different folder")
	}
	got, err := st.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.TaskActive {
		t.Fatalf("expected task untouched after rejected cross-group pause, got %s", got.Status)
	}

	if err := h.SetTaskStatus(ctx, "main", created.ID, "pause"); err != nil {
		t.Fatalf("expected main folder to pause any group's task: %v", err)
	}
}

func TestIPCHandlersRegisterChannelRequiresFields(t *testing.T) {
	st := openTestStore(t)
	h := NewIPCHandlers(newTestSupervisor(t, st, &fakeOutbound{}))

	if err := h.RegisterChannel(context.Background(), ipc.TaskFile{}); err == nil {
		t.Fatal("expected error when channelId/name/folder are missing")
	}

	err := h.RegisterChannel(context.Background(), ipc.TaskFile{
		ChannelID: "c2", Name: "ops", Folder: "ops",
	})
	if err != nil {
		t.Fatalf("RegisterChannel: %v", err)
	}

	ch, err := st.GetChannel(context.Background(), "c2")
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if ch.Folder != "ops" || !ch.RequiresTrigger {
		t.Fatalf("expected registered channel with trigger required, got %+v", ch)
	}
}

func TestGroupResolverIsMainFolder(t *testing.T) {
	r := GroupResolver{MainGroupFolder: "main"}
	if !r.IsMainFolder("main") {
		t.Fatal("expected main folder recognized")
	}
	if r.IsMainFolder("team") {
		t.Fatal("expected non-main folder rejected")
	}
}

func TestGroupResolverChannelFolder(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.RegisterChannel(ctx, store.Channel{ChannelID: "c1", Name: "team", Folder: "team", AddedAt: store.FormatTimestamp(time.Now())}); err != nil {
		t.Fatal(err)
	}
	r := GroupResolver{Store: st, MainGroupFolder: "main"}

	folder, ok := r.ChannelFolder(ctx, "c1")
	if !ok || folder != "team" {
		t.Fatalf("expected folder 'team', got %q ok=%v", folder, ok)
	}

	if _, ok := r.ChannelFolder(ctx, "missing"); ok {
		t.Fatal("expected ok=false for unknown channel")
	}
}

func TestGroupResolverGroupFoldersIncludesMainAndDedupes(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.RegisterChannel(ctx, store.Channel{ChannelID: "c1", Name: "team", Folder: "team", AddedAt: store.FormatTimestamp(time.Now())}); err != nil {
		t.Fatal(err)
	}
	if err := st.RegisterChannel(ctx, store.Channel{ChannelID: "c2", Name: "team2", Folder: "team", AddedAt: store.FormatTimestamp(time.Now())}); err != nil {
		t.Fatal(err)
	}
	r := GroupResolver{Store: st, MainGroupFolder: "main"}

	folders := r.GroupFolders(ctx)
	if len(folders) != 2 {
		t.Fatalf("expected main + team deduped, got %v", folders)
	}
	if folders[0] != "main" {
		t.Fatalf("expected main folder listed first, got %v", folders)
	}
}
