// internal/engine/window.go
package engine

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/munch/pkg/llm"
)

// Window bounds prior history by token count so long conversations keep
// fitting the model's context, preferring the most recent messages.
type Window struct {
	tokenizer *tiktoken.Tiktoken
	budget    int
}

// NewWindow creates a window for the given model. maxTokens is the model's
// context size, reserve is held back for the system prompt and the response.
func NewWindow(model string, maxTokens, reserve int) (*Window, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Window{tokenizer: enc, budget: maxTokens - reserve}, nil
}

func (w *Window) countTokens(msg llm.Message) int {
	n := len(w.tokenizer.Encode(msg.Content, nil, nil))
	for _, tc := range msg.Tools {
		n += len(w.tokenizer.Encode(tc.Function.Name, nil, nil))
		n += len(w.tokenizer.Encode(string(tc.Function.Arguments), nil, nil))
	}
	return n
}

// Trim returns the longest suffix of history that fits the budget. The
// newest messages carry the live ordering context (current restaurant, cart,
// checkout stage), so they win over older ones.
func (w *Window) Trim(history []llm.Message) []llm.Message {
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		n := w.countTokens(history[i])
		if used+n > w.budget {
			break
		}
		used += n
		start = i
	}
	return history[start:]
}
