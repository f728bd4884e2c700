// internal/engine/engine.go
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/user/munch/internal/types"
	"github.com/user/munch/pkg/llm"
)

// fallbackAnswer is returned when the model produces no text at all.
const fallbackAnswer = "I processed your request but did not get a text response."

// Engine implements the tool-calling orchestration loop: it turns one user
// message into zero or more remote tool invocations, feeds results back to
// the model, and iterates until the model produces a plain answer or the
// round cap is hit.
type Engine struct {
	provider    llm.Provider
	tools       types.ToolClient
	store       types.ChatStore
	window      *Window // nil disables history trimming
	maxRounds   int
	resultLimit int
}

// New creates an Engine. maxRounds caps tool rounds per turn; resultLimit
// bounds the tool result text kept on trace records.
func New(provider llm.Provider, tools types.ToolClient, store types.ChatStore, window *Window, maxRounds, resultLimit int) *Engine {
	if maxRounds <= 0 {
		maxRounds = 10
	}
	if resultLimit <= 0 {
		resultLimit = 2000
	}
	return &Engine{
		provider:    provider,
		tools:       tools,
		store:       store,
		window:      window,
		maxRounds:   maxRounds,
		resultLimit: resultLimit,
	}
}

// TurnResult is the outcome of one full turn.
type TurnResult struct {
	Response  string                 `json:"response"`
	ToolCalls []types.ToolCallRecord `json:"toolCalls"`
	ChatID    types.ChatID           `json:"chatId"`
}

// RunTurn executes one user-message-in, assistant-answer-out cycle. An empty
// chatID creates a new chat. If history is nil, prior messages are loaded
// from the store. A tool failure is recovered within the turn by feeding an
// error string back to the model; a model failure aborts the turn, returning
// the tool-call trace accumulated so far alongside the error.
func (e *Engine) RunTurn(ctx context.Context, sessionID types.SessionID, chatID types.ChatID, userMessage string, history []llm.Message, loc *types.Location) (*TurnResult, error) {
	if chatID == "" {
		id, err := e.store.CreateChat(ctx, sessionID, "")
		if err != nil {
			return nil, fmt.Errorf("create chat: %w", err)
		}
		chatID = id
	}

	// The user message is persisted before any model call so a crash
	// mid-turn cannot lose it.
	if err := e.store.AppendMessage(ctx, sessionID, chatID, "user", userMessage); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	if history == nil {
		loaded, err := e.loadHistory(ctx, sessionID, chatID)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		history = loaded
	}
	if e.window != nil {
		history = e.window.Trim(history)
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt(loc)})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: userMessage})

	var llmTools []llm.Tool
	if e.tools.Connected() {
		if catalog := e.tools.Tools(); len(catalog) > 0 {
			llmTools = functionSchemas(catalog)
		}
	}

	calls := []types.ToolCallRecord{}
	partial := func() *TurnResult { return &TurnResult{ToolCalls: calls, ChatID: chatID} }

	resp, err := e.provider.Complete(ctx, messages, llmTools)
	if err != nil {
		return partial(), fmt.Errorf("model call: %w", err)
	}

	for round := 0; round < e.maxRounds && len(resp.ToolCalls) > 0; round++ {
		messages = append(messages, llm.Message{
			Role:    "assistant",
			Content: resp.Content,
			Tools:   resp.ToolCalls,
		})

		// Sequential, in the order received: later calls may depend on
		// state mutated by earlier ones.
		for _, tc := range resp.ToolCalls {
			rec, feedback := e.invokeTool(ctx, tc)
			calls = append(calls, rec)
			messages = append(messages, llm.Message{
				Role:    "tool",
				Content: feedback,
				Tools:   []llm.ToolCall{{ID: tc.ID}},
			})
		}

		resp, err = e.provider.Complete(ctx, messages, llmTools)
		if err != nil {
			return partial(), fmt.Errorf("model call: %w", err)
		}
	}

	if len(resp.ToolCalls) > 0 {
		slog.Warn("tool round cap reached", "chat_id", string(chatID), "rounds", e.maxRounds)
	}

	final := resp.Content
	if final == "" {
		final = fallbackAnswer
	}

	if err := e.store.AppendMessage(ctx, sessionID, chatID, "assistant", final); err != nil {
		return partial(), fmt.Errorf("persist assistant message: %w", err)
	}

	return &TurnResult{Response: final, ToolCalls: calls, ChatID: chatID}, nil
}

// invokeTool runs one requested tool invocation and returns its trace record
// plus the text fed back to the model. Failures never abort the turn: the
// model receives "Error: <message>" and can react.
func (e *Engine) invokeTool(ctx context.Context, tc llm.ToolCall) (types.ToolCallRecord, string) {
	name := tc.Function.Name

	args := parseArgs(tc.Function.Arguments)

	rec := types.ToolCallRecord{
		ID:     tc.ID,
		Name:   name,
		Args:   args,
		Status: types.CallStatusCalling,
	}

	result, err := e.tools.CallTool(ctx, name, args)
	if err != nil {
		slog.Error("tool call failed", "tool", name, "error", err)
		rec.Status = types.CallStatusError
		rec.Error = err.Error()
		return rec, "Error: " + err.Error()
	}

	rec.Status = types.CallStatusSuccess
	rec.Result = truncate(result, e.resultLimit)

	// Best-effort structured parse for the UI's rich cards; plain text
	// results simply carry no data payload.
	var data any
	if err := json.Unmarshal([]byte(result), &data); err == nil {
		rec.Data = data
	}

	return rec, result
}

// loadHistory converts the chat's persisted transcript into model messages.
// Only user and assistant roles are replayed; stored tool transcripts are an
// implementation detail of past turns.
func (e *Engine) loadHistory(ctx context.Context, sessionID types.SessionID, chatID types.ChatID) ([]llm.Message, error) {
	stored, err := e.store.Messages(ctx, sessionID, chatID)
	if err != nil {
		return nil, err
	}

	// The user message for this turn is already persisted; everything
	// before it is prior history.
	if n := len(stored); n > 0 && stored[n-1].Role == "user" {
		stored = stored[:n-1]
	}

	history := make([]llm.Message, 0, len(stored))
	for _, m := range stored {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}
	return history, nil
}

// parseArgs decodes tool call arguments. The chat completions wire format
// carries arguments as a JSON-encoded string, but scripted providers hand
// over the object directly; both are accepted. Unparseable arguments degrade
// to an empty mapping, same as the model sending none.
func parseArgs(raw json.RawMessage) map[string]any {
	args := map[string]any{}
	if len(raw) == 0 {
		return args
	}
	data := []byte(raw)
	var quoted string
	if err := json.Unmarshal(data, &quoted); err == nil {
		data = []byte(quoted)
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return map[string]any{}
	}
	return args
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
