package ai

import (
	"fmt"
	"iter"

	"streamchat/pkg/domain"
)

// Chunk is one incremental unit of model output.
type Chunk struct {
	Type domain.ChunkType
	Text string
}

// FinishReason explains why a chunk stream ended.
type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishError  FinishReason = "error"
	FinishLength FinishReason = "length"
	FinishOther  FinishReason = "other"
)

// ProviderError reports a vendor call that could not be established or
// that broke while streaming.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ProduceFunc pushes chunks into yield until the vendor stream ends or yield
// returns false, then reports the finish reason and any mid-stream failure.
type ProduceFunc func(yield func(Chunk) bool) (FinishReason, error)

// ChunkStream is a single-pass pull iterator over provider output.
// The zero value is not usable; build one with NewChunkStream.
type ChunkStream struct {
	next   func() (Chunk, bool)
	stop   func()
	reason FinishReason
	err    error
	done   bool
}

// NewChunkStream wraps produce as a pull iterator. produce runs lazily on the
// first call to Next.
func NewChunkStream(produce ProduceFunc) *ChunkStream {
	s := &ChunkStream{}
	seq := iter.Seq[Chunk](func(yield func(Chunk) bool) {
		reason, err := produce(yield)
		s.reason, s.err = reason, err
	})
	s.next, s.stop = iter.Pull(seq)
	return s
}

// Next returns the next chunk. ok is false once the stream is exhausted.
func (s *ChunkStream) Next() (Chunk, bool) {
	if s.done {
		return Chunk{}, false
	}
	c, ok := s.next()
	if !ok {
		s.finish()
	}
	return c, ok
}

// FinishReason is meaningful after Next has returned false or Close was called.
func (s *ChunkStream) FinishReason() FinishReason {
	return s.reason
}

// Err returns the mid-stream failure, if any.
func (s *ChunkStream) Err() error {
	return s.err
}

// Close abandons the stream and releases the underlying vendor response.
// It is safe to call more than once.
func (s *ChunkStream) Close() {
	if s.done {
		return
	}
	s.stop()
	s.finish()
}

func (s *ChunkStream) finish() {
	s.done = true
	switch {
	case s.err != nil:
		s.reason = FinishError
	case s.reason == "":
		s.reason = FinishOther
	}
}
