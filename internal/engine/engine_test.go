package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/user/munch/internal/store"
	"github.com/user/munch/internal/types"
	"github.com/user/munch/pkg/llm"
)

// scriptedProvider returns canned responses in order and records every
// request it receives.
type scriptedProvider struct {
	responses []*llm.Response
	errs      []error
	calls     [][]llm.Message
	toolDefs  [][]llm.Tool
}

func (p *scriptedProvider) Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	p.calls = append(p.calls, messages)
	p.toolDefs = append(p.toolDefs, tools)
	i := len(p.calls) - 1
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i >= len(p.responses) {
		return p.responses[len(p.responses)-1], nil
	}
	return p.responses[i], nil
}

type fakeTools struct {
	connected bool
	catalog   []types.ToolInfo
	results   map[string]string
	errs      map[string]error
	called    []string
}

func (f *fakeTools) Connected() bool        { return f.connected }
func (f *fakeTools) Tools() []types.ToolInfo { return f.catalog }

func (f *fakeTools) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	f.called = append(f.called, name)
	if err, ok := f.errs[name]; ok {
		return "", err
	}
	return f.results[name], nil
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{
		ID:   id,
		Type: "function",
		Function: llm.FunctionCall{
			Name:      name,
			Arguments: json.RawMessage(args),
		},
	}
}

func newTestEngine(t *testing.T, p llm.Provider, tools types.ToolClient) (*Engine, *store.HistoryStore, types.SessionID) {
	t.Helper()
	hs := store.NewHistoryStore(t.TempDir())
	return New(p, tools, hs, nil, 10, 2000), hs, types.NewSessionID()
}

func TestRunTurnPlainAnswer(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{{Content: "Hi there"}}}
	tools := &fakeTools{}
	eng, hs, sid := newTestEngine(t, p, tools)

	res, err := eng.RunTurn(context.Background(), sid, "", "hello", nil, nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Response != "Hi there" {
		t.Errorf("response = %q", res.Response)
	}
	if len(res.ToolCalls) != 0 {
		t.Errorf("expected empty tool trace, got %d", len(res.ToolCalls))
	}
	if res.ChatID == "" {
		t.Error("expected a chat to be created")
	}
	if p.toolDefs[0] != nil {
		t.Error("disconnected tool client should yield no tool definitions")
	}

	msgs, err := hs.Messages(context.Background(), sid, res.ChatID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("unexpected transcript: %+v", msgs)
	}
}

func TestRunTurnToolCall(t *testing.T) {
	payload := `{"restaurants":[{"name":"Pizza Palace"}]}`
	p := &scriptedProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("call_1", "search_restaurants", `{"query":"pizza"}`)}},
		{Content: "Found Pizza Palace"},
	}}
	tools := &fakeTools{
		connected: true,
		catalog:   []types.ToolInfo{{Name: "search_restaurants"}},
		results:   map[string]string{"search_restaurants": payload},
	}
	eng, _, sid := newTestEngine(t, p, tools)

	res, err := eng.RunTurn(context.Background(), sid, "", "find pizza", nil, nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Response != "Found Pizza Palace" {
		t.Errorf("response = %q", res.Response)
	}
	if len(res.ToolCalls) != 1 {
		t.Fatalf("trace length = %d", len(res.ToolCalls))
	}
	rec := res.ToolCalls[0]
	if rec.Status != types.CallStatusSuccess {
		t.Errorf("status = %q", rec.Status)
	}
	if rec.Result != payload {
		t.Errorf("result = %q", rec.Result)
	}
	if rec.Args["query"] != "pizza" {
		t.Errorf("args = %v", rec.Args)
	}
	if rec.Data == nil {
		t.Error("expected parsed data payload")
	}

	// Second model call must carry the tool result back.
	second := p.calls[1]
	last := second[len(second)-1]
	if last.Role != "tool" || last.Content != payload {
		t.Errorf("tool feedback message = %+v", last)
	}
	if len(last.Tools) != 1 || last.Tools[0].ID != "call_1" {
		t.Errorf("tool feedback missing call id: %+v", last.Tools)
	}
}

func TestRunTurnToolError(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("call_1", "place_order", `{}`)}},
		{Content: "The order could not be placed."},
	}}
	tools := &fakeTools{
		connected: true,
		catalog:   []types.ToolInfo{{Name: "place_order"}},
		errs:      map[string]error{"place_order": errors.New("restaurant closed")},
	}
	eng, _, sid := newTestEngine(t, p, tools)

	res, err := eng.RunTurn(context.Background(), sid, "", "order pizza", nil, nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Response == "" {
		t.Error("tool failure must not abort the turn")
	}
	rec := res.ToolCalls[0]
	if rec.Status != types.CallStatusError || rec.Error != "restaurant closed" {
		t.Errorf("record = %+v", rec)
	}

	second := p.calls[1]
	last := second[len(second)-1]
	if last.Content != "Error: restaurant closed" {
		t.Errorf("model feedback = %q", last.Content)
	}
}

func TestRunTurnMalformedArguments(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("call_1", "get_menu", `{not json`)}},
		{Content: "Here is the menu"},
	}}
	tools := &fakeTools{
		connected: true,
		catalog:   []types.ToolInfo{{Name: "get_menu"}},
		results:   map[string]string{"get_menu": "menu text"},
	}
	eng, _, sid := newTestEngine(t, p, tools)

	res, err := eng.RunTurn(context.Background(), sid, "", "menu please", nil, nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if len(tools.called) != 1 {
		t.Fatal("tool should still be invoked with empty arguments")
	}
	if len(res.ToolCalls[0].Args) != 0 {
		t.Errorf("args = %v, want empty", res.ToolCalls[0].Args)
	}
}

func TestRunTurnStringEncodedArguments(t *testing.T) {
	// The chat completions wire format double-encodes arguments as a string.
	p := &scriptedProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("call_1", "search_restaurants", `"{\"query\":\"dosa\"}"`)}},
		{Content: "Found dosa places"},
	}}
	tools := &fakeTools{
		connected: true,
		catalog:   []types.ToolInfo{{Name: "search_restaurants"}},
		results:   map[string]string{"search_restaurants": "ok"},
	}
	eng, _, sid := newTestEngine(t, p, tools)

	res, err := eng.RunTurn(context.Background(), sid, "", "dosa", nil, nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.ToolCalls[0].Args["query"] != "dosa" {
		t.Errorf("args = %v", res.ToolCalls[0].Args)
	}
}

func TestRunTurnRoundCap(t *testing.T) {
	// The model keeps demanding tool calls forever.
	p := &scriptedProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("call_x", "search_restaurants", `{}`)}},
	}}
	tools := &fakeTools{
		connected: true,
		catalog:   []types.ToolInfo{{Name: "search_restaurants"}},
		results:   map[string]string{"search_restaurants": "ok"},
	}
	eng, _, sid := newTestEngine(t, p, tools)

	res, err := eng.RunTurn(context.Background(), sid, "", "loop", nil, nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if len(tools.called) != 10 {
		t.Errorf("tool invocations = %d, want 10", len(tools.called))
	}
	// Initial call plus one per round.
	if len(p.calls) != 11 {
		t.Errorf("model calls = %d, want 11", len(p.calls))
	}
	if res.Response != fallbackAnswer {
		t.Errorf("response = %q", res.Response)
	}
}

func TestRunTurnModelError(t *testing.T) {
	p := &scriptedProvider{
		responses: []*llm.Response{
			{ToolCalls: []llm.ToolCall{toolCall("call_1", "search_restaurants", `{}`)}},
			nil,
		},
		errs: []error{nil, errors.New("upstream 500")},
	}
	tools := &fakeTools{
		connected: true,
		catalog:   []types.ToolInfo{{Name: "search_restaurants"}},
		results:   map[string]string{"search_restaurants": "ok"},
	}
	eng, _, sid := newTestEngine(t, p, tools)

	res, err := eng.RunTurn(context.Background(), sid, "", "find food", nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if res == nil || len(res.ToolCalls) != 1 {
		t.Fatalf("expected partial trace, got %+v", res)
	}
}

func TestRunTurnResultTruncation(t *testing.T) {
	big := strings.Repeat("x", 5000)
	p := &scriptedProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("call_1", "get_menu", `{}`)}},
		{Content: "done"},
	}}
	tools := &fakeTools{
		connected: true,
		catalog:   []types.ToolInfo{{Name: "get_menu"}},
		results:   map[string]string{"get_menu": big},
	}
	eng, _, sid := newTestEngine(t, p, tools)

	res, err := eng.RunTurn(context.Background(), sid, "", "menu", nil, nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if got := len(res.ToolCalls[0].Result); got != 2000 {
		t.Errorf("trace result length = %d, want 2000", got)
	}
	// The model still sees the full result.
	second := p.calls[1]
	if got := len(second[len(second)-1].Content); got != 5000 {
		t.Errorf("model feedback length = %d, want 5000", got)
	}
}

func TestRunTurnEmptyContentFallback(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{{Content: ""}}}
	eng, _, sid := newTestEngine(t, p, &fakeTools{})

	res, err := eng.RunTurn(context.Background(), sid, "", "hello", nil, nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Response != fallbackAnswer {
		t.Errorf("response = %q", res.Response)
	}
}

func TestRunTurnExistingChatHistory(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{{Content: "second answer"}}}
	eng, hs, sid := newTestEngine(t, p, &fakeTools{})
	ctx := context.Background()

	first, err := eng.RunTurn(ctx, sid, "", "first question", nil, nil)
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}

	if _, err := eng.RunTurn(ctx, sid, first.ChatID, "second question", nil, nil); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	// The second model call must replay the first exchange.
	msgs := p.calls[1]
	if msgs[0].Role != "system" {
		t.Fatalf("first message role = %q", msgs[0].Role)
	}
	var roles []string
	for _, m := range msgs[1:] {
		roles = append(roles, m.Role)
	}
	want := []string{"user", "assistant", "user"}
	if len(roles) != len(want) {
		t.Fatalf("roles = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("roles = %v, want %v", roles, want)
		}
	}

	hist, err := hs.Messages(ctx, sid, first.ChatID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(hist) != 4 {
		t.Errorf("stored messages = %d, want 4", len(hist))
	}
}

func TestRunTurnLocationInPrompt(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{{Content: "nearby places"}}}
	eng, _, sid := newTestEngine(t, p, &fakeTools{})

	loc := &types.Location{Lat: 12.9716, Lng: 77.5946}
	if _, err := eng.RunTurn(context.Background(), sid, "", "what is near me", nil, loc); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	sys := p.calls[0][0]
	if !strings.Contains(sys.Content, "12.9716") || !strings.Contains(sys.Content, "77.5946") {
		t.Errorf("system prompt missing coordinates: %q", sys.Content)
	}
}
