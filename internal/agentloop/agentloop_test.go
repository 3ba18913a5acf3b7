package agentloop

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/nanoclaw/nanoclaw/internal/shared"
)

// fakeClient replays a scripted sequence of turns, one per call to
// GenerateTurn, so loop tests never touch the network.
type fakeClient struct {
	turns []*genai.Content
	calls int
}

func (f *fakeClient) GenerateTurn(_ context.Context, _ []*genai.Content, _ string) (*genai.Content, error) {
	if f.calls >= len(f.turns) {
		panic("fakeClient: ran out of scripted turns")
	}
	turn := f.turns[f.calls]
	f.calls++
	return turn, nil
}

func textTurn(text string) *genai.Content {
	return genai.NewContentFromText(text, genai.RoleModel)
}

func callTurn(name string, args map[string]any) *genai.Content {
	return genai.NewContentFromParts([]*genai.Part{{FunctionCall: &genai.FunctionCall{Name: name, Args: args}}}, genai.RoleModel)
}

func newTestConfig(t *testing.T, client Client) Config {
	t.Helper()
	base := t.TempDir()
	groupDir := filepath.Join(base, "group")
	ipcDir := filepath.Join(base, "ipc")
	for _, d := range []string{groupDir, ipcDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return Config{
		Client:      client,
		GroupDir:    groupDir,
		IPCDir:      ipcDir,
		SessionsDir: filepath.Join(groupDir, ".sessions"),
		ConvDir:     filepath.Join(groupDir, "conversations"),
		Now:         func() string { return "2026-07-30T00:00:00Z" },
	}
}

func TestRunTerminatesOnTextReply(t *testing.T) {
	client := &fakeClient{turns: []*genai.Content{textTurn("hello there")}}
	loop := New(newTestConfig(t, client))

	out, err := loop.Run(context.Background(), shared.ContainerInput{Prompt: "hi", IsMain: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != shared.StatusSuccess {
		t.Fatalf("status = %q", out.Status)
	}
	if out.Result.OutputType != shared.OutputTypeMessage || out.Result.UserMessage != "hello there" {
		t.Fatalf("result = %+v", out.Result)
	}
	if out.NewSessionID == "" {
		t.Fatal("expected a session id to be minted")
	}
}

func TestRunExecutesFunctionCallsThenReplies(t *testing.T) {
	client := &fakeClient{turns: []*genai.Content{
		callTurn(toolListFiles, map[string]any{"path": ""}),
		textTurn("done"),
	}}
	loop := New(newTestConfig(t, client))

	out, err := loop.Run(context.Background(), shared.ContainerInput{Prompt: "list", IsMain: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("expected 2 model calls, got %d", client.calls)
	}
	if out.Result.UserMessage != "done" {
		t.Fatalf("result = %+v", out.Result)
	}
}

func TestRunExhaustsMaxTurns(t *testing.T) {
	turns := make([]*genai.Content, 3)
	for i := range turns {
		turns[i] = callTurn(toolListFiles, map[string]any{"path": ""})
	}
	cfg := newTestConfig(t, &fakeClient{turns: turns})
	cfg.MaxTurns = 3
	loop := New(cfg)

	out, err := loop.Run(context.Background(), shared.ContainerInput{Prompt: "loop forever", IsMain: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Result.OutputType != shared.OutputTypeLog {
		t.Fatalf("expected outputType=log on exhaustion, got %+v", out.Result)
	}
}

func TestRunPersistsAndReloadsSession(t *testing.T) {
	cfg := newTestConfig(t, &fakeClient{turns: []*genai.Content{textTurn("first")}})
	loop := New(cfg)

	out, err := loop.Run(context.Background(), shared.ContainerInput{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	cfg.Client = &fakeClient{turns: []*genai.Content{textTurn("second")}}
	loop2 := New(cfg)
	sessionID := out.NewSessionID
	out2, err := loop2.Run(context.Background(), shared.ContainerInput{Prompt: "again", SessionID: &sessionID})
	if err != nil {
		t.Fatalf("Run second: %v", err)
	}
	if out2.NewSessionID != sessionID {
		t.Fatalf("expected session id to be reused, got %q want %q", out2.NewSessionID, sessionID)
	}

	raw, err := os.ReadFile(filepath.Join(cfg.SessionsDir, sessionID+".json"))
	if err != nil {
		t.Fatalf("read persisted session: %v", err)
	}
	var contents []*genai.Content
	if err := json.Unmarshal(raw, &contents); err != nil {
		t.Fatalf("decode persisted session: %v", err)
	}
	if len(contents) < 4 {
		t.Fatalf("expected both turns' user+model content persisted, got %d entries", len(contents))
	}
}

func TestTextResultStripsSilentMarker(t *testing.T) {
	content := textTurn("  [SILENT]  ")
	result := textResult(content)
	if result.OutputType != shared.OutputTypeLog {
		t.Fatalf("expected outputType=log for an all-marker reply, got %+v", result)
	}
}

func TestTextResultKeepsRemainingTextAroundMarker(t *testing.T) {
	content := textTurn("noted [SILENT]")
	result := textResult(content)
	if result.OutputType != shared.OutputTypeMessage || result.UserMessage != "noted" {
		t.Fatalf("result = %+v", result)
	}
}

func TestSystemPromptAppendsGlobalOnlyForMain(t *testing.T) {
	base := t.TempDir()
	groupDir := filepath.Join(base, "group")
	globalDir := filepath.Join(base, "global")
	for _, d := range []string{groupDir, globalDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(groupDir, "GEMINI.md"), []byte("group soul"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(globalDir, "GEMINI.md"), []byte("global soul"), 0o644); err != nil {
		t.Fatal(err)
	}

	loop := New(Config{GroupDir: groupDir, GlobalDir: globalDir})

	mainPrompt, err := loop.systemPrompt(true)
	if err != nil {
		t.Fatalf("systemPrompt(main): %v", err)
	}
	if !containsAll(mainPrompt, "group soul", "global soul") {
		t.Fatalf("main prompt missing expected content: %q", mainPrompt)
	}

	nonMainPrompt, err := loop.systemPrompt(false)
	if err != nil {
		t.Fatalf("systemPrompt(non-main): %v", err)
	}
	if !containsAll(nonMainPrompt, "group soul") || containsAll(nonMainPrompt, "global soul") {
		t.Fatalf("non-main prompt should omit global content: %q", nonMainPrompt)
	}
}

func containsAll(haystack string, needles ...string) bool {
	for _, n := range needles {
		if !strings.Contains(haystack, n) {
			return false
		}
	}
	return true
}
