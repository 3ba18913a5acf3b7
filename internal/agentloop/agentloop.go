// Package agentloop implements the sandboxed agent's bounded
// function-calling loop: load prior turns, append the new prompt, call the
// model, execute any requested tools, and repeat until the model answers
// with text or MaxTurns is exhausted. It is the business logic behind the
// cmd/nanoclaw-agent binary.
package agentloop

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/nanoclaw/nanoclaw/internal/shared"
)

// Config holds the loop's tunables and collaborators.
type Config struct {
	Client        Client
	MaxTurns      int
	AssistantName string

	GroupDir    string // /workspace/group
	GlobalDir   string // /workspace/global, only mounted when IsMain
	IPCDir      string // /workspace/ipc
	ProjectDir  string // /workspace/project, only mounted when IsMain
	SessionsDir string // GroupDir/.sessions
	ConvDir     string // GroupDir/conversations

	Now func() string // RFC3339-ish timestamp for tool-authored IPC files
}

// Client is the narrow surface the loop needs from the genai SDK, isolated
// so tests can fake model turns without a live API key.
type Client interface {
	GenerateTurn(ctx context.Context, contents []*genai.Content, systemPrompt string) (*genai.Content, error)
}

// Loop runs one bounded function-calling conversation.
type Loop struct {
	cfg Config
}

// New constructs a Loop. MaxTurns defaults to 30 per the agent contract.
func New(cfg Config) *Loop {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 30
	}
	if cfg.AssistantName == "" {
		cfg.AssistantName = "nano"
	}
	return &Loop{cfg: cfg}
}

// Run executes the loop for one ContainerInput and returns the
// ContainerOutput to be framed onto stdout.
func (l *Loop) Run(ctx context.Context, input shared.ContainerInput) (*shared.ContainerOutput, error) {
	sessionID := ""
	if input.SessionID != nil {
		sessionID = *input.SessionID
	}

	contents, err := loadSession(l.cfg.SessionsDir, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	contents = append(contents, genai.NewContentFromText(input.Prompt, genai.RoleUser))

	systemPrompt, err := l.systemPrompt(input.IsMain)
	if err != nil {
		return nil, fmt.Errorf("build system prompt: %w", err)
	}

	tc := &toolContext{
		groupDir:   l.cfg.GroupDir,
		ipcDir:     l.cfg.IPCDir,
		channelID:  input.ChannelID,
		now:        l.cfg.Now,
		isMain:     input.IsMain,
		globalDir:  l.cfg.GlobalDir,
		projectDir: l.cfg.ProjectDir,
	}

	var result *shared.AgentResult
	for turn := 0; turn < l.cfg.MaxTurns; turn++ {
		reply, err := l.cfg.Client.GenerateTurn(ctx, contents, systemPrompt)
		if err != nil {
			return nil, fmt.Errorf("generate turn %d: %w", turn, err)
		}
		contents = append(contents, reply)

		calls := functionCalls(reply)
		if len(calls) == 0 {
			result = textResult(reply)
			break
		}

		responses := make([]*genai.Part, 0, len(calls))
		for _, call := range calls {
			out, callErr := Dispatch(ctx, call.Name, call.Args, tc)
			if callErr != nil {
				out = map[string]any{"error": callErr.Error()}
			}
			responses = append(responses, genai.NewPartFromFunctionResponse(call.Name, out))
		}
		contents = append(contents, genai.NewContentFromParts(responses, genai.RoleUser))
	}

	if result == nil {
		result = &shared.AgentResult{OutputType: shared.OutputTypeLog, InternalLog: "max turns exhausted without a final answer"}
	}

	newSessionID, err := saveSession(l.cfg.SessionsDir, sessionID, contents)
	if err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	if err := writeTranscript(l.cfg.ConvDir, newSessionID, contents); err != nil {
		return nil, fmt.Errorf("write transcript: %w", err)
	}

	return &shared.ContainerOutput{
		Status:       shared.StatusSuccess,
		Result:       result,
		NewSessionID: newSessionID,
	}, nil
}

func (l *Loop) systemPrompt(isMain bool) (string, error) {
	prompt, err := readSoul(l.cfg.GroupDir)
	if err != nil {
		return "", err
	}
	if isMain {
		global, err := readSoul(l.cfg.GlobalDir)
		if err != nil {
			return "", err
		}
		if global != "" {
			prompt = strings.TrimSpace(prompt + "\n\n" + global)
		}
	}
	return prompt, nil
}

// functionCalls extracts every FunctionCall part from a model turn, in
// order; a turn may request several calls to execute before replying.
func functionCalls(content *genai.Content) []*genai.FunctionCall {
	var calls []*genai.FunctionCall
	for _, part := range content.Parts {
		if part.FunctionCall != nil {
			calls = append(calls, part.FunctionCall)
		}
	}
	return calls
}

// silentMarker lets the agent answer without producing a user-visible
// reply (e.g. housekeeping turns). Stray whitespace around it is trimmed
// before checking whether anything textual remains.
const silentMarker = "[SILENT]"

func textResult(content *genai.Content) *shared.AgentResult {
	var sb strings.Builder
	for _, part := range content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(strings.ReplaceAll(sb.String(), silentMarker, ""))
	if text == "" {
		return &shared.AgentResult{OutputType: shared.OutputTypeLog, InternalLog: sb.String()}
	}
	return &shared.AgentResult{OutputType: shared.OutputTypeMessage, UserMessage: text}
}
