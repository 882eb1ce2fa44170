// Package providers implements the LLM backends that generate agent
// replies. The relay only needs plain text turns: one request carrying the
// system prompt plus conversation history, one text reply back.
package providers

import "context"

// Provider is the interface all reply backends implement.
type Provider interface {
	// GenerateReply sends the conversation to the backend and returns the
	// reply text.
	GenerateReply(ctx context.Context, req Request) (string, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}

// Request contains the input for a GenerateReply call.
type Request struct {
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Error codes surfaced to callers. Codes map onto the gateway's transport
// error taxonomy.
const (
	CodeBadRequest  = "bad_request"
	CodeRateLimited = "rate_limited"
	CodeTimeout     = "timeout"
	CodeUnavailable = "unavailable"
)

// Error is a classified provider failure. Retryable errors may be retried
// with backoff; others abort the turn.
type Error struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}
