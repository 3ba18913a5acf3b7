package supervisor

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/nanoclaw/nanoclaw/internal/bus"
	"github.com/nanoclaw/nanoclaw/internal/containerrunner"
	"github.com/nanoclaw/nanoclaw/internal/queue"
	"github.com/nanoclaw/nanoclaw/internal/shared"
	"github.com/nanoclaw/nanoclaw/internal/store"
)

type fakeOutbound struct {
	sent    []string
	typings int
}

func (f *fakeOutbound) SendMessage(ctx context.Context, channelID, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeOutbound) SendTyping(ctx context.Context, channelID string) error {
	f.typings++
	return nil
}

type fakeRunner struct {
	output shared.ContainerOutput
	err    error
	calls  int
}

func (f *fakeRunner) Run(ctx context.Context, inv containerrunner.Invocation, onSpawn containerrunner.OnSpawn) ([]byte, error) {
	f.calls++
	if onSpawn != nil {
		onSpawn(&containerrunner.Handle{}, "nanoclaw-test-abc123")
	}
	if f.err != nil {
		return nil, f.err
	}
	raw, _ := json.Marshal(f.output)
	return raw, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "nanoclaw.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestIntakeStoresNativeMentionsBotWithoutTriggerFallback mirrors §4.2:
// mentions_bot on the stored message is exactly the event's own signal,
// never derived from (or polluted by) the trigger regex.
func TestIntakeStoresNativeMentionsBotWithoutTriggerFallback(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.RegisterChannel(ctx, store.Channel{ChannelID: "c1", Name: "team", Folder: "team", RequiresTrigger: true, AddedAt: store.FormatTimestamp(time.Now())}); err != nil {
		t.Fatal(err)
	}

	sup, err := New(Config{
		Store: st, Queue: queue.New(queue.Config{MaxConcurrentContainers: 1}, nil, bus.New()),
		Bus: bus.New(), Outbound: &fakeOutbound{},
		AssistantName: "nano", MainGroupFolder: "main",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := sup.Intake(ctx, ChatEvent{
		ChannelID: "c1", SenderName: "alice", Text: "hey nano, status?",
		Timestamp: store.FormatTimestamp(time.Now()), MentionsBot: false,
	}); err != nil {
		t.Fatalf("Intake: %v", err)
	}

	messages, err := st.MessagesSinceChannel(ctx, "c1", "", "nano")
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 stored message, got %d", len(messages))
	}
	if messages[0].MentionsBot {
		t.Fatalf("expected mentions_bot to reflect the event's own signal (false), not the trigger regex match against text")
	}
	if messages[0].Content != "hey nano, status?" {
		t.Fatalf("expected text unpolluted by trigger annotation, got %q", messages[0].Content)
	}
}

func TestProcessChannelGatesOnTriggerWhenRequired(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.RegisterChannel(ctx, store.Channel{ChannelID: "c1", Name: "team", Folder: "team", RequiresTrigger: true, AddedAt: store.FormatTimestamp(time.Now())}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.AppendMessage(ctx, store.Message{ChannelID: "c1", SenderName: "alice", Content: "hello there", Timestamp: store.FormatTimestamp(time.Now()), MentionsBot: false}); err != nil {
		t.Fatal(err)
	}

	runner := &fakeRunner{}
	outbound := &fakeOutbound{}
	sup, err := New(Config{
		Store: st, Queue: queue.New(queue.Config{MaxConcurrentContainers: 1}, nil, bus.New()),
		Bus: bus.New(), Outbound: outbound, Runner: runner,
		AssistantName: "nano", MainGroupFolder: "main",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := sup.processChannel(ctx, "c1"); err != nil {
		t.Fatalf("processChannel: %v", err)
	}
	if runner.calls != 0 {
		t.Fatalf("expected agent not invoked without trigger, got %d calls", runner.calls)
	}

	got, err := st.LastAgentTimestamp(ctx, "c1")
	if err != nil || got == "" {
		t.Fatalf("expected last_agent_timestamp advanced even without trigger, got %q err=%v", got, err)
	}
}

func TestProcessChannelInvokesAgentOnTrigger(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.RegisterChannel(ctx, store.Channel{ChannelID: "c1", Name: "team", Folder: "team", RequiresTrigger: true, AddedAt: store.FormatTimestamp(time.Now())}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.AppendMessage(ctx, store.Message{ChannelID: "c1", SenderName: "alice", Content: "hey nano, status?", Timestamp: store.FormatTimestamp(time.Now()), MentionsBot: true}); err != nil {
		t.Fatal(err)
	}

	runner := &fakeRunner{output: shared.ContainerOutput{
		Status: shared.StatusSuccess,
		Result: &shared.AgentResult{OutputType: shared.OutputTypeMessage, UserMessage: "all good"},
	}}
	outbound := &fakeOutbound{}
	sup, err := New(Config{
		Store: st, Queue: queue.New(queue.Config{MaxConcurrentContainers: 1}, nil, bus.New()),
		Bus: bus.New(), Outbound: outbound, Runner: runner,
		AssistantName: "nano", MainGroupFolder: "main", TypingInterval: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := sup.processChannel(ctx, "c1"); err != nil {
		t.Fatalf("processChannel: %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("expected exactly 1 agent invocation, got %d", runner.calls)
	}
	if len(outbound.sent) != 1 || outbound.sent[0] != "all good" {
		t.Fatalf("expected reply delivered, got %+v", outbound.sent)
	}
}

// TestProcessChannelTriggersOnNativeMentionWithoutRegexMatch mirrors §4.2:
// mentions_bot (the platform's own @-mention/reply-to-bot signal) triggers
// the gate on its own, even when the message text never matches the
// trigger regex.
func TestProcessChannelTriggersOnNativeMentionWithoutRegexMatch(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.RegisterChannel(ctx, store.Channel{ChannelID: "c1", Name: "team", Folder: "team", RequiresTrigger: true, AddedAt: store.FormatTimestamp(time.Now())}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.AppendMessage(ctx, store.Message{ChannelID: "c1", SenderName: "alice", Content: "status?", Timestamp: store.FormatTimestamp(time.Now()), MentionsBot: true}); err != nil {
		t.Fatal(err)
	}

	runner := &fakeRunner{output: shared.ContainerOutput{
		Status: shared.StatusSuccess,
		Result: &shared.AgentResult{OutputType: shared.OutputTypeMessage, UserMessage: "all good"},
	}}
	sup, err := New(Config{
		Store: st, Queue: queue.New(queue.Config{MaxConcurrentContainers: 1}, nil, bus.New()),
		Bus: bus.New(), Outbound: &fakeOutbound{}, Runner: runner,
		AssistantName: "nano", MainGroupFolder: "main", TypingInterval: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := sup.processChannel(ctx, "c1"); err != nil {
		t.Fatalf("processChannel: %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("expected native mention signal alone to trigger the agent, got %d calls", runner.calls)
	}
}

func TestProcessChannelMainNeverGated(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.RegisterChannel(ctx, store.Channel{ChannelID: "c-main", Name: "main", Folder: "main", RequiresTrigger: true, AddedAt: store.FormatTimestamp(time.Now())}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.AppendMessage(ctx, store.Message{ChannelID: "c-main", SenderName: "operator", Content: "no mention here", Timestamp: store.FormatTimestamp(time.Now()), MentionsBot: false}); err != nil {
		t.Fatal(err)
	}

	runner := &fakeRunner{output: shared.ContainerOutput{Status: shared.StatusSuccess, Result: &shared.AgentResult{OutputType: shared.OutputTypeLog}}}
	sup, err := New(Config{
		Store: st, Queue: queue.New(queue.Config{MaxConcurrentContainers: 1}, nil, bus.New()),
		Bus: bus.New(), Outbound: &fakeOutbound{}, Runner: runner,
		AssistantName: "nano", MainGroupFolder: "main", TypingInterval: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := sup.processChannel(ctx, "c-main"); err != nil {
		t.Fatalf("processChannel: %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("expected main channel to always invoke the agent, got %d calls", runner.calls)
	}
}

func TestRecoverOnStartupEnqueuesBacklog(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.RegisterChannel(ctx, store.Channel{ChannelID: "c1", Name: "team", Folder: "team", AddedAt: store.FormatTimestamp(time.Now())}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.AppendMessage(ctx, store.Message{ChannelID: "c1", SenderName: "alice", Content: "hi", Timestamp: store.FormatTimestamp(time.Now())}); err != nil {
		t.Fatal(err)
	}

	runner := &fakeRunner{output: shared.ContainerOutput{Status: shared.StatusSuccess, Result: &shared.AgentResult{OutputType: shared.OutputTypeLog}}}
	q := queue.New(queue.Config{MaxConcurrentContainers: 1}, nil, bus.New())
	sup, err := New(Config{
		Store: st, Queue: q, Bus: bus.New(), Outbound: &fakeOutbound{}, Runner: runner,
		AssistantName: "nano", MainGroupFolder: "main", TypingInterval: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := sup.recoverOnStartup(ctx); err != nil {
		t.Fatalf("recoverOnStartup: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for runner.calls == 0 {
		select {
		case <-deadline:
			t.Fatal("expected recovery to enqueue and eventually invoke the agent")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSetOutboundReplacesOutbound(t *testing.T) {
	st := openTestStore(t)
	first := &fakeOutbound{}
	second := &fakeOutbound{}
	sup, err := New(Config{
		Store: st, Queue: queue.New(queue.Config{MaxConcurrentContainers: 1}, nil, bus.New()),
		Bus: bus.New(), Outbound: first,
		AssistantName: "nano", MainGroupFolder: "main",
	})
	if err != nil {
		t.Fatal(err)
	}

	sup.SetOutbound(second)
	if err := sup.cfg.Outbound.SendMessage(context.Background(), "c1", "hi"); err != nil {
		t.Fatal(err)
	}
	if len(first.sent) != 0 || len(second.sent) != 1 {
		t.Fatalf("expected message delivered through the replaced outbound only, first=%+v second=%+v", first.sent, second.sent)
	}
}

func TestShutdownStopsPollLoopAndDrainsQueue(t *testing.T) {
	st := openTestStore(t)
	q := queue.New(queue.Config{MaxConcurrentContainers: 1}, nil, bus.New())
	sup, err := New(Config{
		Store: st, Queue: q, Bus: bus.New(), Outbound: &fakeOutbound{}, Runner: &fakeRunner{},
		AssistantName: "nano", MainGroupFolder: "main", PollInterval: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sup.Shutdown(ctx, 200*time.Millisecond)

	if q.ActiveCount() != 0 {
		t.Fatalf("expected no active work after shutdown, got %d", q.ActiveCount())
	}
}
