package llm

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by providers whose credential is missing or
// still set to a placeholder. It is a per-request error, not a startup one,
// so the server can run and report the problem on first use.
var ErrNotConfigured = errors.New("llm: API key not configured")

// Provider defines the interface for interacting with LLM backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	Complete(ctx context.Context, messages []Message, tools []Tool) (*Response, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}
