// internal/mcp/manager.go
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/user/munch/internal/types"
)

// ErrNotConnected reports a tool invocation attempted without an established
// connection. It is an expected condition, fed back to the model rather than
// surfaced to the end user.
var ErrNotConnected = errors.New("mcp: not connected")

// Status is the connection lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// State is a point-in-time snapshot of the connection, safe to serve to any
// number of concurrent status polls.
type State struct {
	Connected  bool                `json:"connected"`
	Connecting bool                `json:"connecting"`
	ToolCount  int                 `json:"toolCount"`
	Tools      []types.ToolSummary `json:"tools"`
	Error      string              `json:"error,omitempty"`
	AuthURL    string              `json:"authUrl,omitempty"`
}

// ConnectResult is the outcome of one Connect call.
type ConnectResult struct {
	Success    bool                `json:"success"`
	Connecting bool                `json:"connecting,omitempty"`
	Tools      []types.ToolSummary `json:"tools,omitempty"`
	Error      string              `json:"error,omitempty"`
	AuthURL    string              `json:"authUrl,omitempty"`
	Help       string              `json:"help,omitempty"`
}

// Config holds the manager's connection settings.
type Config struct {
	BaseURL      string
	Transport    string // "direct" or "proxy"
	CallbackPort int
	AuthTimeout  time.Duration
	DataDir      string
}

// Manager owns the lifecycle of the connection to the remote tool service:
// handshake (including the interactive OAuth step), tool discovery, tool
// invocation, teardown. It is an injectable instance; all state lives here,
// not in package globals.
type Manager struct {
	transport   Transport
	dataDir     string
	authTimeout time.Duration

	// handshake admits at most one in-flight connection attempt.
	handshake *semaphore.Weighted

	mu      sync.Mutex
	status  Status
	conn    Conn
	tools   []types.ToolInfo
	lastErr string
	authURL string
	cancel  context.CancelFunc
}

// NewManager creates a Manager using the transport strategy named in cfg.
func NewManager(cfg Config) (*Manager, error) {
	var t Transport
	switch cfg.Transport {
	case "", "direct":
		t = newDirectTransport(cfg.BaseURL, cfg.CallbackPort, cfg.DataDir)
	case "proxy":
		t = newProxyTransport(cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown mcp transport %q", cfg.Transport)
	}

	timeout := cfg.AuthTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &Manager{
		transport:   t,
		dataDir:     cfg.DataDir,
		authTimeout: timeout,
		handshake:   semaphore.NewWeighted(1),
		status:      StatusDisconnected,
	}, nil
}

const busyMessage = "Connection already in progress. Complete the login in the browser window, or wait for it to time out and try again."

const retryHelp = "Stale tokens have been cleared. Try connecting again; when the browser opens, complete the login. If it keeps failing, wait a minute before retrying."

// Connect establishes the connection. It is idempotent once connected and
// returns a busy signal when a handshake is already in flight; it never
// starts a second concurrent handshake. A fresh attempt blocks until the
// handshake succeeds, fails, or the bounded authorization wait expires.
func (m *Manager) Connect(ctx context.Context) *ConnectResult {
	m.mu.Lock()
	switch m.status {
	case StatusConnecting:
		res := &ConnectResult{Connecting: true, Error: busyMessage, AuthURL: m.authURL}
		m.mu.Unlock()
		return res
	case StatusConnected:
		res := &ConnectResult{Success: true, Tools: summarize(m.tools)}
		m.mu.Unlock()
		return res
	}
	m.mu.Unlock()

	// Closes the race between the status check above and handshake start:
	// whoever fails to acquire reports busy instead of dialing twice.
	if !m.handshake.TryAcquire(1) {
		m.mu.Lock()
		res := &ConnectResult{Connecting: true, Error: busyMessage, AuthURL: m.authURL}
		m.mu.Unlock()
		return res
	}
	defer m.handshake.Release(1)

	// Tear down leftovers from a previous failed attempt. Stale cached auth
	// artifacts corrupt the new handshake if not removed first.
	m.teardown(StatusConnecting)
	CleanStaleAuth(m.dataDir)

	// The handshake outlives the triggering request on purpose; its only
	// bound is the authorization timeout.
	hctx, cancel := context.WithTimeout(context.Background(), m.authTimeout)
	defer cancel()

	m.mu.Lock()
	m.lastErr = ""
	m.authURL = ""
	m.cancel = cancel
	m.mu.Unlock()

	slog.Info("connecting to tool service", "transport", m.transport.Name(), "timeout", m.authTimeout)

	conn, err := m.transport.Dial(hctx, m.setAuthURL)
	if err != nil {
		return m.fail(err)
	}

	listRes, err := conn.ListTools(hctx, mcp.ListToolsRequest{})
	if err != nil {
		conn.Close()
		return m.fail(fmt.Errorf("list tools: %w", err))
	}

	tools := make([]types.ToolInfo, 0, len(listRes.Tools))
	for _, t := range listRes.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		tools = append(tools, types.ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}

	m.mu.Lock()
	m.conn = conn
	m.tools = tools
	m.status = StatusConnected
	m.authURL = ""
	m.cancel = nil
	m.mu.Unlock()

	slog.Info("tool service connected", "tools", len(tools))
	for _, t := range tools {
		slog.Debug("discovered tool", "name", t.Name)
	}

	return &ConnectResult{Success: true, Tools: summarize(tools)}
}

// fail records a handshake failure and rolls state back so a later Connect
// starts fresh. The captured authorization URL survives into the result so
// the user can still finish the login manually before retrying.
func (m *Manager) fail(err error) *ConnectResult {
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = fmt.Sprintf("connection timed out: authorization was not completed within %s", m.authTimeout)
	}

	m.mu.Lock()
	savedURL := m.authURL
	m.lastErr = msg
	m.cancel = nil
	// A concurrent Disconnect may already have reset us; don't clobber it.
	if m.status == StatusConnecting {
		m.status = StatusError
	}
	m.mu.Unlock()

	slog.Error("tool service connection failed", "error", err)
	CleanStaleAuth(m.dataDir)

	return &ConnectResult{Error: msg, AuthURL: savedURL, Help: retryHelp}
}

// teardown closes any existing connection and resets catalog state, leaving
// the manager in the given status. lastErr is preserved.
func (m *Manager) teardown(status Status) {
	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	m.conn = nil
	m.tools = nil
	m.authURL = ""
	m.cancel = nil
	m.status = status
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		// Best effort; a dead transport has nothing left to close cleanly.
		if err := conn.Close(); err != nil {
			slog.Debug("close connection", "error", err)
		}
	}
}

// Disconnect tears the connection down from any state, including
// mid-handshake, and always succeeds.
func (m *Manager) Disconnect() {
	m.teardown(StatusDisconnected)
	m.mu.Lock()
	m.lastErr = ""
	m.mu.Unlock()
	slog.Info("tool service disconnected")
}

// CallTool invokes a remote tool. It requires an established connection and
// performs no retries; the orchestration layer decides what a failure means.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	m.mu.Lock()
	conn := m.conn
	connected := m.status == StatusConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		return "", fmt.Errorf("%w: connect first", ErrNotConnected)
	}

	slog.Info("calling tool", "name", name)

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := conn.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("call tool %s: %w", name, err)
	}

	text := flattenContent(res.Content)
	if res.IsError {
		return "", fmt.Errorf("tool %s failed: %s", name, text)
	}
	return text, nil
}

// flattenContent joins content blocks into one text payload: text blocks
// verbatim, anything else as its JSON encoding.
func flattenContent(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, item := range content {
		if tc, ok := mcp.AsTextContent(item); ok {
			parts = append(parts, tc.Text)
			continue
		}
		if data, err := json.Marshal(item); err == nil {
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, "\n")
}

// Connected reports whether the manager holds an established connection.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == StatusConnected
}

// Tools returns the discovered tool catalog, full schemas included.
func (m *Manager) Tools() []types.ToolInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ToolInfo, len(m.tools))
	copy(out, m.tools)
	return out
}

// State returns a snapshot of the connection for status endpoints. It has no
// side effects.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Connected:  m.status == StatusConnected,
		Connecting: m.status == StatusConnecting,
		ToolCount:  len(m.tools),
		Tools:      summarize(m.tools),
		Error:      m.lastErr,
		AuthURL:    m.authURL,
	}
}

// setAuthURL publishes the pending authorization URL as soon as the
// transport learns it, so status polls can show it mid-handshake.
func (m *Manager) setAuthURL(url string) {
	m.mu.Lock()
	m.authURL = url
	m.mu.Unlock()
	slog.Info("authorization URL captured", "url", url)
}

func summarize(tools []types.ToolInfo) []types.ToolSummary {
	out := make([]types.ToolSummary, 0, len(tools))
	for _, t := range tools {
		out = append(out, types.ToolSummary{Name: t.Name, Description: t.Description})
	}
	return out
}
