package shared

// ContainerInput is the JSON object the host writes to a sandboxed agent's
// stdin before closing it (§6.1).
type ContainerInput struct {
	Prompt          string  `json:"prompt"`
	SessionID       *string `json:"sessionId"`
	GroupFolder     string  `json:"groupFolder"`
	ChannelID       string  `json:"channelId"`
	IsMain          bool    `json:"isMain"`
	IsScheduledTask bool    `json:"isScheduledTask"`
	Images          []Image `json:"images,omitempty"`
}

// Image is one inline attachment passed to the sandbox.
type Image struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

// ContainerOutput is the JSON object the sandboxed agent writes to its
// framed stdout block before exiting (§6.2).
type ContainerOutput struct {
	Status       string       `json:"status"` // "success" | "error"
	Result       *AgentResult `json:"result"`
	NewSessionID string       `json:"newSessionId,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// AgentResult is the agent's turn outcome.
type AgentResult struct {
	OutputType  string `json:"outputType"` // "message" | "log"
	UserMessage string `json:"userMessage,omitempty"`
	InternalLog string `json:"internalLog,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"

	OutputTypeMessage = "message"
	OutputTypeLog     = "log"
)
