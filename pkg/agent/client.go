// Package agent wraps the model-provider SDKs behind a single
// streaming client interface. Each session owns one client built from
// its resolved credentials; the provider choice is fixed at creation.
package agent

import (
	"context"
	"fmt"

	"github.com/harun/tiller/pkg/credentials"
)

// Default request cap applied when a request does not set MaxTokens.
const defaultMaxTokens = 8192

// Client streams model responses. Implementations are safe for use by
// a single session; turns on one session never overlap.
type Client interface {
	// Stream sends one turn and returns a channel of response events.
	// The channel closes after a Done or Err event. Cancelling ctx
	// aborts the stream.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)

	// Model returns the model identifier requests are sent with.
	Model() string

	// Provider returns the backend name (anthropic, openai).
	Provider() string
}

// New builds the client for the resolved credential set's provider.
func New(res credentials.Resolved) (Client, error) {
	switch res.Provider {
	case "anthropic":
		return NewAnthropicClient(res)
	case "openai":
		return NewOpenAIClient(res)
	default:
		return nil, fmt.Errorf("unsupported provider %q", res.Provider)
	}
}
