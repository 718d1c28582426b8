package ai

import (
	"context"
	"sync"
)

// ScriptedProvider replays a fixed chunk list. Tests use it in place of a
// vendor client.
type ScriptedProvider struct {
	Chunks []Chunk
	// Reason is reported after a clean end. Empty means stop.
	Reason FinishReason
	// SetupErr fails StreamChat before any chunk.
	SetupErr error
	// StreamErr ends the stream with an error after all chunks were yielded.
	StreamErr error

	mu       sync.Mutex
	requests []ChatRequest
}

// StreamChat implements StreamProvider.
func (p *ScriptedProvider) StreamChat(ctx context.Context, req ChatRequest) (*ChunkStream, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.SetupErr != nil {
		return nil, &ProviderError{Provider: "scripted", Err: p.SetupErr}
	}
	chunks := append([]Chunk(nil), p.Chunks...)
	return NewChunkStream(func(yield func(Chunk) bool) (FinishReason, error) {
		for _, c := range chunks {
			if err := ctx.Err(); err != nil {
				return FinishError, &ProviderError{Provider: "scripted", Err: err}
			}
			if !yield(c) {
				return FinishOther, nil
			}
		}
		if p.StreamErr != nil {
			return FinishError, &ProviderError{Provider: "scripted", Err: p.StreamErr}
		}
		if p.Reason == "" {
			return FinishStop, nil
		}
		return p.Reason, nil
	}), nil
}

// Requests returns the requests received so far.
func (p *ScriptedProvider) Requests() []ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ChatRequest(nil), p.requests...)
}
