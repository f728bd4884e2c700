// internal/types/interfaces.go
package types

import "context"

// ChatStore persists chats and their message sequences, partitioned by
// session. Expected conditions (unknown chat, unknown session) are reported
// as explicit errors, never panics.
type ChatStore interface {
	CreateChat(ctx context.Context, sessionID SessionID, title string) (ChatID, error)
	AppendMessage(ctx context.Context, sessionID SessionID, chatID ChatID, role, content string) error
	ListChats(ctx context.Context, sessionID SessionID) ([]ChatSummary, error)
	Messages(ctx context.Context, sessionID SessionID, chatID ChatID) ([]Message, error)
	DeleteChat(ctx context.Context, sessionID SessionID, chatID ChatID) error
}

// ToolClient is the view of the remote tool connection that the
// orchestration engine needs: catalog access and invocation. The engine
// performs no retries; remote errors propagate as-is.
type ToolClient interface {
	Connected() bool
	Tools() []ToolInfo
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}
