package ai

import (
	"context"
	"fmt"
	"strings"
)

// TextGenerator generates text from a system prompt and user prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// modelTextClient is a vendor client that takes the model per call.
// GeminiClient, OllamaClient and OpenAICompatClient implement it.
type modelTextClient interface {
	GenerateText(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
}

// Generator wraps a vendor client with a fixed model.
type Generator struct {
	client modelTextClient
	model  string
}

// NewGenerator builds a TextGenerator bound to model.
func NewGenerator(client modelTextClient, model string) (*Generator, error) {
	if client == nil {
		return nil, fmt.Errorf("generator client required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("generator model required")
	}
	return &Generator{client: client, model: model}, nil
}

// GenerateText implements TextGenerator.
func (g *Generator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.client.GenerateText(ctx, g.model, systemPrompt, userPrompt)
}
