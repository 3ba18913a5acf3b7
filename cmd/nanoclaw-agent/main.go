// Command nanoclaw-agent is the sandboxed subprocess entrypoint: it reads a
// ContainerInput from stdin, runs the bounded agent function-calling loop,
// and writes a framed ContainerOutput to stdout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/nanoclaw/nanoclaw/internal/agentloop"
	"github.com/nanoclaw/nanoclaw/internal/containerrunner"
	"github.com/nanoclaw/nanoclaw/internal/shared"
)

func main() {
	if err := run(); err != nil {
		out, marshalErr := json.Marshal(shared.ContainerOutput{Status: shared.StatusError, Error: err.Error()})
		if marshalErr != nil {
			out = []byte(`{"status":"error","error":"agent failed and the error itself could not be encoded"}`)
		}
		os.Stdout.Write(containerrunner.WriteFramedOutput(out))
		os.Exit(1)
	}
}

func run() error {
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	var input shared.ContainerInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return fmt.Errorf("decode ContainerInput: %w", err)
	}

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is not set")
	}
	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		model = "gemini-2.0-flash"
	}

	ctx := context.Background()
	client, err := agentloop.NewGenaiClient(ctx, apiKey, model)
	if err != nil {
		return fmt.Errorf("init genai client: %w", err)
	}

	groupDir := "/workspace/group"
	loop := agentloop.New(agentloop.Config{
		Client:      client,
		MaxTurns:    maxTurnsFromEnv(),
		GroupDir:    groupDir,
		GlobalDir:   "/workspace/global",
		IPCDir:      "/workspace/ipc",
		ProjectDir:  "/workspace/project",
		SessionsDir: groupDir + "/.sessions",
		ConvDir:     groupDir + "/conversations",
	})

	output, err := loop.Run(ctx, input)
	if err != nil {
		return fmt.Errorf("run agent loop: %w", err)
	}

	raw, err = json.Marshal(output)
	if err != nil {
		return fmt.Errorf("encode ContainerOutput: %w", err)
	}
	_, err = os.Stdout.Write(containerrunner.WriteFramedOutput(raw))
	return err
}

func maxTurnsFromEnv() int {
	raw := os.Getenv("NANOCLAW_MAX_TURNS")
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0
	}
	return v
}
