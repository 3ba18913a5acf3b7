package agentloop

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GenaiClient is the real Client, backed directly by the official Gemini
// Go SDK — this sandbox's fixed two-env-var contract (GEMINI_API_KEY,
// GEMINI_MODEL) needs exactly one provider, not a multi-provider
// abstraction.
type GenaiClient struct {
	client *genai.Client
	model  string
	tools  []*genai.Tool
}

// NewGenaiClient constructs a client against the Gemini API.
func NewGenaiClient(ctx context.Context, apiKey, model string) (*GenaiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("new genai client: %w", err)
	}
	return &GenaiClient{client: client, model: model, tools: []*genai.Tool{{FunctionDeclarations: toolDeclarations}}}, nil
}

// GenerateTurn calls the model once with the accumulated contents and
// returns the single response candidate's content, thoughtSignature parts
// included verbatim so the next turn can round-trip them.
func (c *GenaiClient) GenerateTurn(ctx context.Context, contents []*genai.Content, systemPrompt string) (*genai.Content, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Tools:             c.tools,
	})
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("generate content: empty response")
	}
	return resp.Candidates[0].Content, nil
}
