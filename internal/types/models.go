// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// Message is one entry in a chat transcript. Messages are append-only and
// immutable once written.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Chat is an ordered conversation thread owned by a single session.
type Chat struct {
	ID        ChatID    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	Messages  []Message `json:"messages"`
}

// ChatSummary is the listing view of a chat, without message bodies.
type ChatSummary struct {
	ID        ChatID    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// ToolInfo describes one entry of the discovered tool catalog.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolSummary is ToolInfo without the input schema, for status responses.
type ToolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CallStatus is the lifecycle state of a single tool invocation. A record
// starts as "calling" and transitions exactly once to "success" or "error".
type CallStatus string

const (
	CallStatusCalling CallStatus = "calling"
	CallStatusSuccess CallStatus = "success"
	CallStatusError   CallStatus = "error"
)

// ToolCallRecord is the per-invocation trace returned to the client so the
// UI can show what the assistant actually did. It is never persisted.
type ToolCallRecord struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args"`
	Status CallStatus     `json:"status"`
	Result string         `json:"result,omitempty"`
	Data   any            `json:"data,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Location is an optional GPS hint sent with a chat message and interpolated
// into the system prompt.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
