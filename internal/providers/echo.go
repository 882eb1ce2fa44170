package providers

import (
	"context"
	"strings"
)

// EchoProvider is a deterministic provider for development and tests: it
// replies with the last user message.
type EchoProvider struct{}

func NewEchoProvider() *EchoProvider { return &EchoProvider{} }

func (p *EchoProvider) Name() string         { return "echo" }
func (p *EchoProvider) DefaultModel() string { return "echo-1" }

func (p *EchoProvider) GenerateReply(_ context.Context, req Request) (string, error) {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role != "assistant" {
			return strings.TrimSpace(req.Messages[i].Content), nil
		}
	}
	return "", nil
}
