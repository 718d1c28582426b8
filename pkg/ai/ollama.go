package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"streamchat/pkg/domain"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// OllamaClient calls the Ollama HTTP API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaClient constructs a client with the provided base URL.
func NewOllamaClient(baseURL string) *OllamaClient {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &OllamaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// GenerateText returns a single non-streamed completion from /api/chat.
func (c *OllamaClient) GenerateText(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", fmt.Errorf("ollama generation model required")
	}
	messages := make([]ollamaChatMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: userPrompt})

	var resp ollamaChatResponse
	if _, err := c.doJSON(ctx, "/api/chat", ollamaChatRequest{Model: model, Messages: messages}, &resp); err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return "", fmt.Errorf("empty response from ollama")
	}
	return resp.Message.Content, nil
}

// StreamChat implements StreamProvider using /api/chat, which streams one
// JSON object per line.
func (c *OllamaClient) StreamChat(ctx context.Context, req ChatRequest) (*ChunkStream, error) {
	messages := make([]ollamaChatMessage, 0, len(req.Turns)+1)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, turn := range req.Turns {
		messages = append(messages, ollamaChatMessage{Role: string(turn.Role), Content: turn.Text})
	}
	reqBody := ollamaChatRequest{
		Model:    req.Model.UpstreamModel(),
		Messages: messages,
		Stream:   true,
	}
	resp, err := postStream(ctx, streamClient(c.httpClient), c.baseURL+"/api/chat", nil, reqBody, ollamaAPIError)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOllama, Err: err}
	}

	return NewChunkStream(func(yield func(Chunk) bool) (FinishReason, error) {
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64<<10), maxStreamLineSize)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var event ollamaChatResponse
			if err := json.Unmarshal(line, &event); err != nil {
				return FinishError, &ProviderError{Provider: ProviderOllama, Err: fmt.Errorf("decode stream line: %w", err)}
			}
			if event.Error != "" {
				return FinishError, &ProviderError{Provider: ProviderOllama, Err: errors.New(event.Error)}
			}
			if event.Message.Thinking != "" {
				if !yield(Chunk{Type: domain.ChunkThinking, Text: event.Message.Thinking}) {
					return FinishOther, nil
				}
			}
			if event.Message.Content != "" {
				if !yield(Chunk{Type: domain.ChunkText, Text: event.Message.Content}) {
					return FinishOther, nil
				}
			}
			if event.Done {
				return ollamaFinishReason(event.DoneReason), nil
			}
		}
		if err := scanner.Err(); err != nil {
			return FinishError, &ProviderError{Provider: ProviderOllama, Err: err}
		}
		return FinishError, &ProviderError{Provider: ProviderOllama, Err: errors.New("stream ended before done")}
	}), nil
}

func ollamaFinishReason(reason string) FinishReason {
	switch reason {
	case "", "stop":
		return FinishStop
	case "length":
		return FinishLength
	default:
		return FinishOther
	}
}

func ollamaAPIError(status string, body []byte) error {
	var errResp ollamaErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("ollama api error: %s", errResp.Error)
	}
	return fmt.Errorf("ollama api error: %s", status)
}

func (c *OllamaClient) doJSON(ctx context.Context, path string, payload any, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp ollamaErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			return resp.StatusCode, fmt.Errorf("ollama api error: %s", errResp.Error)
		}
		return resp.StatusCode, fmt.Errorf("ollama api error: %s", resp.Status)
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}

// Ollama /api/chat request/response types.

type ollamaChatMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatResponse struct {
	Message    ollamaChatMessage `json:"message"`
	Done       bool              `json:"done"`
	DoneReason string            `json:"done_reason"`
	Error      string            `json:"error"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}
