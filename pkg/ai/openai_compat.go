package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"streamchat/pkg/domain"
)

// OpenAICompatClient calls any OpenAI-compatible /v1/chat/completions endpoint.
// Works with vLLM, LiteLLM, LocalAI, Deepseek, OpenRouter, self-hosted models, etc.
type OpenAICompatClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOpenAICompatClient builds an OpenAI-compatible client.
// baseURL should include the /v1 prefix, e.g. "http://localhost:8000/v1".
// apiKey can be empty for local models that do not require authentication.
func NewOpenAICompatClient(baseURL, apiKey string) *OpenAICompatClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &OpenAICompatClient{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (c *OpenAICompatClient) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

// GenerateText returns a single completion using the chat completions API.
func (c *OpenAICompatClient) GenerateText(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", fmt.Errorf("openai-compat generation model required")
	}
	messages := make([]oaiMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: userPrompt})

	body, err := json.Marshal(oaiChatRequest{Model: model, Messages: messages})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers() {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai-compat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return "", oaiAPIError(resp.Status, raw)
	}

	var chatResp oaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("openai-compat decode: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from openai-compat api")
	}
	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty response from openai-compat api")
	}
	return text, nil
}

// StreamChat implements StreamProvider using chat completions with stream=true.
// Reasoning deltas (reasoning_content or reasoning) become thinking chunks.
func (c *OpenAICompatClient) StreamChat(ctx context.Context, req ChatRequest) (*ChunkStream, error) {
	messages := make([]oaiMessage, 0, len(req.Turns)+1)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, turn := range req.Turns {
		messages = append(messages, oaiMessage{Role: string(turn.Role), Content: turn.Text})
	}
	reqBody := oaiChatRequest{
		Model:    req.Model.UpstreamModel(),
		Messages: messages,
		Stream:   true,
	}
	headers := c.headers()
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Accept"] = "text/event-stream"
	resp, err := postStream(ctx, streamClient(c.httpClient), c.baseURL+"/chat/completions", headers, reqBody, oaiAPIError)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Err: err}
	}

	return NewChunkStream(func(yield func(Chunk) bool) (FinishReason, error) {
		defer resp.Body.Close()
		events := newSSEReader(resp.Body)
		reason := FinishStop
		finished := false
		for {
			payload, err := events.Next()
			if errors.Is(err, errStreamDone) {
				return reason, nil
			}
			if errors.Is(err, io.EOF) {
				if !finished {
					return FinishError, &ProviderError{Provider: ProviderOpenAI, Err: errors.New("stream ended before finish_reason")}
				}
				return reason, nil
			}
			if err != nil {
				return FinishError, &ProviderError{Provider: ProviderOpenAI, Err: err}
			}
			var event oaiStreamChunk
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				return FinishError, &ProviderError{Provider: ProviderOpenAI, Err: fmt.Errorf("decode stream event: %w", err)}
			}
			if event.Error != nil && event.Error.Message != "" {
				return FinishError, &ProviderError{Provider: ProviderOpenAI, Err: errors.New(event.Error.Message)}
			}
			for _, choice := range event.Choices {
				if choice.Index != 0 {
					continue
				}
				thinking := choice.Delta.ReasoningContent
				if thinking == "" {
					thinking = choice.Delta.Reasoning
				}
				if thinking != "" && !yield(Chunk{Type: domain.ChunkThinking, Text: thinking}) {
					return FinishOther, nil
				}
				if choice.Delta.Content != "" && !yield(Chunk{Type: domain.ChunkText, Text: choice.Delta.Content}) {
					return FinishOther, nil
				}
				if choice.FinishReason != nil && *choice.FinishReason != "" {
					reason = oaiFinishReason(*choice.FinishReason)
					finished = true
				}
			}
		}
	}), nil
}

func oaiFinishReason(reason string) FinishReason {
	switch reason {
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	default:
		return FinishOther
	}
}

func oaiAPIError(status string, body []byte) error {
	var errResp oaiErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		return fmt.Errorf("openai-compat api error: %s", errResp.Error.Message)
	}
	return fmt.Errorf("openai-compat api error: %s", status)
}

// OpenAI-compatible request/response types.

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiChatRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
	Stream   bool         `json:"stream,omitempty"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
}

type oaiStreamChunk struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			Reasoning        string `json:"reasoning"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
