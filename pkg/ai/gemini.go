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

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient calls the Google AI Studio (Gemini) API.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewGeminiClient constructs a client with the provided API key. An empty
// baseURL selects the public endpoint.
func NewGeminiClient(apiKey, baseURL string) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// GenerateText returns the generated response for a prompt.
func (c *GeminiClient) GenerateText(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	reqBody := generateRequest{
		Contents: []content{
			{
				Role:  "user",
				Parts: []part{{Text: userPrompt}},
			},
		},
		SystemInstruction: systemInstruction(systemPrompt),
	}
	var resp generateResponse
	if err := c.doJSON(ctx, fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, normalizeModel(model), c.apiKey), reqBody, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if !p.Thought {
			sb.WriteString(p.Text)
		}
	}
	return sb.String(), nil
}

// StreamChat implements StreamProvider using streamGenerateContent over SSE.
// Parts flagged as thoughts are emitted as thinking chunks.
func (c *GeminiClient) StreamChat(ctx context.Context, req ChatRequest) (*ChunkStream, error) {
	reqBody := generateRequest{
		Contents:          make([]content, 0, len(req.Turns)),
		SystemInstruction: systemInstruction(req.SystemPrompt),
	}
	if req.Model.Thinking {
		reqBody.GenerationConfig = &generationConfig{ThinkingConfig: &thinkingConfig{IncludeThoughts: true}}
	}
	for _, turn := range req.Turns {
		role := "user"
		if turn.Role == domain.RoleAssistant {
			role = "model"
		}
		reqBody.Contents = append(reqBody.Contents, content{Role: role, Parts: []part{{Text: turn.Text}}})
	}
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, normalizeModel(req.Model.UpstreamModel()))
	headers := map[string]string{"x-goog-api-key": c.apiKey, "Accept": "text/event-stream"}
	resp, err := postStream(ctx, streamClient(c.httpClient), url, headers, reqBody, geminiAPIError)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderGemini, Err: err}
	}

	return NewChunkStream(func(yield func(Chunk) bool) (FinishReason, error) {
		defer resp.Body.Close()
		events := newSSEReader(resp.Body)
		reason := FinishStop
		finished := false
		for {
			payload, err := events.Next()
			if errors.Is(err, io.EOF) || errors.Is(err, errStreamDone) {
				if !finished {
					return FinishError, &ProviderError{Provider: ProviderGemini, Err: errors.New("stream ended before finishReason")}
				}
				return reason, nil
			}
			if err != nil {
				return FinishError, &ProviderError{Provider: ProviderGemini, Err: err}
			}
			var event generateResponse
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				return FinishError, &ProviderError{Provider: ProviderGemini, Err: fmt.Errorf("decode stream event: %w", err)}
			}
			if event.Error != nil && event.Error.Message != "" {
				return FinishError, &ProviderError{Provider: ProviderGemini, Err: errors.New(event.Error.Message)}
			}
			if len(event.Candidates) == 0 {
				if event.PromptFeedback.BlockReason != "" {
					reason = FinishOther
					finished = true
				}
				continue
			}
			candidate := event.Candidates[0]
			for _, p := range candidate.Content.Parts {
				if p.Text == "" {
					continue
				}
				chunk := Chunk{Type: domain.ChunkText, Text: p.Text}
				if p.Thought {
					chunk.Type = domain.ChunkThinking
				}
				if !yield(chunk) {
					return FinishOther, nil
				}
			}
			if candidate.FinishReason != "" {
				reason = geminiFinishReason(candidate.FinishReason)
				finished = true
			}
		}
	}), nil
}

func geminiFinishReason(reason string) FinishReason {
	switch reason {
	case "STOP":
		return FinishStop
	case "MAX_TOKENS":
		return FinishLength
	default:
		return FinishOther
	}
}

func geminiAPIError(status string, body []byte) error {
	var errResp errorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		return fmt.Errorf("gemini api error: %s", errResp.Error.Message)
	}
	return fmt.Errorf("gemini api error: %s", status)
}

func systemInstruction(systemPrompt string) *content {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil
	}
	return &content{Parts: []part{{Text: systemPrompt}}}
}

func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	model = strings.TrimPrefix(model, "models/")
	return model
}

func (c *GeminiClient) doJSON(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return geminiAPIError(resp.Status, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	return nil
}

type part struct {
	Text    string `json:"text"`
	Thought bool   `json:"thought,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	ThinkingConfig *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type thinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
