package ai

import (
	"context"

	"github.com/fabell4/marion/internal/models"
)

// Options are the per-request generation knobs passed to every provider
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Provider is a single upstream LLM endpoint. Implementations normalize
// their own wire format into models.ChatReply and record their own name
// in the Provider field.
type Provider interface {
	Name() string
	Send(ctx context.Context, messages []models.Message, opts Options) (*models.ChatReply, error)
}

// StreamEvent is one incremental fragment of a streamed reply. Err is set
// on mid-stream failure; the channel is closed after the terminal event.
type StreamEvent struct {
	Delta string
	Err   error
}

// Streamer is implemented by providers that can deliver the reply
// incrementally.
type Streamer interface {
	Provider
	Stream(ctx context.Context, messages []models.Message, opts Options) (<-chan StreamEvent, error)
}
