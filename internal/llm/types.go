package llm

// Role represents the role of a message sender in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in a conversation.
type Message struct {
	Role    Role
	Content string
}

// CompletionRequest contains the parameters for an LLM completion request.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// CompletionResponse contains the result of an LLM completion request.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
	FinishReason string
}

// ProviderConfig is one user's generation setup: which provider to talk to,
// the credential to use, and the generation parameters. It is supplied by
// the configuration layer and read-only to the engine.
type ProviderConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string // optional override, mainly for local deployments
	Model       string
	Temperature float64
	MaxTokens   int
}
