// internal/mcp/transport.go
package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// Conn is the subset of the MCP client the manager drives after the
// handshake: catalog discovery, invocation, teardown.
type Conn interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Transport dials the remote tool service and returns an initialized
// connection. Implementations publish the interactive authorization URL via
// publishAuthURL as soon as it is known, not only at the end of the
// handshake, so overlapping status queries can surface it.
type Transport interface {
	Name() string
	Dial(ctx context.Context, publishAuthURL func(string)) (Conn, error)
}

// clientName and clientVersion identify this host to the remote service.
const (
	clientName    = "munch"
	clientVersion = "1.0.0"
)

func initialize(ctx context.Context, c *client.Client) error {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	if _, err := c.Initialize(ctx, req); err != nil {
		return err
	}
	return nil
}

// directTransport speaks streamable HTTP to the service and performs the
// OAuth authorization code flow itself: PKCE, dynamic client registration,
// a temporary localhost callback listener, file-backed tokens.
type directTransport struct {
	baseURL      string
	callbackPort int
	tokens       *fileTokenStore
}

func newDirectTransport(baseURL string, callbackPort int, dataDir string) *directTransport {
	return &directTransport{
		baseURL:      baseURL,
		callbackPort: callbackPort,
		tokens:       newFileTokenStore(dataDir),
	}
}

func (d *directTransport) Name() string { return "direct" }

func (d *directTransport) Dial(ctx context.Context, publishAuthURL func(string)) (Conn, error) {
	c, err := client.NewOAuthStreamableHttpClient(d.baseURL, transport.OAuthConfig{
		RedirectURI: fmt.Sprintf("http://localhost:%d/oauth/callback", d.callbackPort),
		Scopes:      []string{"mcp.read", "mcp.write"},
		TokenStore:  d.tokens,
		PKCEEnabled: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("start transport: %w", err)
	}

	err = initialize(ctx, c)
	if client.IsOAuthAuthorizationRequiredError(err) {
		if err := d.authorize(ctx, client.GetOAuthHandler(err), publishAuthURL); err != nil {
			c.Close()
			return nil, err
		}
		if err := initialize(ctx, c); err != nil {
			c.Close()
			return nil, fmt.Errorf("initialize after authorization: %w", err)
		}
	} else if err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}

	return c, nil
}

// authorize runs the interactive part of the handshake: registers the
// client, publishes the authorization URL for the user's browser, waits for
// the redirect, and exchanges the code. The wait is bounded by ctx.
func (d *directTransport) authorize(ctx context.Context, handler *transport.OAuthHandler, publishAuthURL func(string)) error {
	if err := handler.RegisterClient(ctx, clientName); err != nil {
		return fmt.Errorf("register client: %w", err)
	}

	verifier, err := client.GenerateCodeVerifier()
	if err != nil {
		return fmt.Errorf("generate code verifier: %w", err)
	}
	challenge := client.GenerateCodeChallenge(verifier)
	state, err := client.GenerateState()
	if err != nil {
		return fmt.Errorf("generate state: %w", err)
	}

	authURL, err := handler.GetAuthorizationURL(ctx, state, challenge)
	if err != nil {
		return fmt.Errorf("build authorization URL: %w", err)
	}

	wait := newAuthWait()
	cb := startCallbackServer(d.callbackPort, state, wait)
	defer cb.close()

	publishAuthURL(authURL)
	slog.Info("authorization required, open this URL in a browser", "url", authURL)

	res, err := wait.wait(ctx)
	if err != nil {
		return fmt.Errorf("authorization wait: %w", err)
	}

	if err := handler.ProcessAuthorizationResponse(ctx, res.code, res.state, verifier); err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	return nil
}

// proxyTransport delegates the handshake to a spawned mcp-remote subprocess
// speaking stdio. The authorization URL is scraped from the subprocess
// stderr.
type proxyTransport struct {
	baseURL string
}

func newProxyTransport(baseURL string) *proxyTransport {
	return &proxyTransport{baseURL: baseURL}
}

func (p *proxyTransport) Name() string { return "proxy" }

var authURLPattern = regexp.MustCompile(`https://\S+/authorize\S*`)

func (p *proxyTransport) Dial(ctx context.Context, publishAuthURL func(string)) (Conn, error) {
	c, err := client.NewStdioMCPClient("npx", os.Environ(), "-y", "mcp-remote", p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("spawn mcp-remote: %w", err)
	}

	if stderr, ok := client.GetStderr(c); ok {
		go scanForAuthURL(stderr, publishAuthURL)
	}

	if err := initialize(ctx, c); err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return c, nil
}

// scanForAuthURL watches subprocess stderr for the OAuth authorization URL
// and publishes the first match. All output is logged for debugging.
func scanForAuthURL(stderr io.Reader, publishAuthURL func(string)) {
	published := false
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if !published {
			if url := authURLPattern.FindString(line); url != "" {
				publishAuthURL(url)
				published = true
			}
		}
		slog.Debug("mcp-remote", "line", line)
	}
}
