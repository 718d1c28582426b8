package ai

import (
	"context"
	"fmt"
	"strings"

	"streamchat/pkg/domain"
)

// Provider tags.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Turn is one role-tagged entry of conversation history.
type Turn struct {
	Role domain.Role
	Text string
}

// ChatRequest is what a StreamProvider needs to start one reply.
type ChatRequest struct {
	Model        ModelDescriptor
	SystemPrompt string
	Turns        []Turn
}

// StreamProvider streams a reply for a conversation.
// Gemini, OpenAI-compatible and Ollama clients implement this interface.
type StreamProvider interface {
	StreamChat(ctx context.Context, req ChatRequest) (*ChunkStream, error)
}

// Providers maps provider tags to their implementation.
type Providers map[string]StreamProvider

// For returns the provider registered under tag.
func (p Providers) For(tag string) (StreamProvider, error) {
	provider, ok := p[strings.TrimSpace(tag)]
	if !ok || provider == nil {
		return nil, fmt.Errorf("no provider configured for %q", tag)
	}
	return provider, nil
}
