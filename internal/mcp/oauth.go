// internal/mcp/oauth.go
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/mark3labs/mcp-go/client/transport"
)

// authDirName is where OAuth artifacts (tokens, registration) are cached
// under the data dir. Stale files here can corrupt a fresh handshake, so the
// manager wipes the directory before each new connection attempt.
const authDirName = "mcp-auth"

// callbackResult carries the outcome of the browser redirect back to the
// handshake goroutine.
type callbackResult struct {
	code  string
	state string
	err   error
}

// authWait is a one-shot wait handle for the interactive authorization step.
// It is satisfied exactly once, by the OAuth callback or by an error, and
// waiting is bounded by the caller's context.
type authWait struct {
	once sync.Once
	ch   chan callbackResult
}

func newAuthWait() *authWait {
	return &authWait{ch: make(chan callbackResult, 1)}
}

// complete resolves the wait. Later calls are ignored.
func (w *authWait) complete(res callbackResult) {
	w.once.Do(func() {
		w.ch <- res
	})
}

// wait blocks until the wait is completed or ctx expires.
func (w *authWait) wait(ctx context.Context) (callbackResult, error) {
	select {
	case res := <-w.ch:
		if res.err != nil {
			return callbackResult{}, res.err
		}
		return res, nil
	case <-ctx.Done():
		return callbackResult{}, ctx.Err()
	}
}

// callbackServer runs a temporary localhost listener for the OAuth redirect.
// It feeds the received code into the wait handle and is torn down by the
// caller once the handshake finishes either way.
type callbackServer struct {
	srv *http.Server
}

func startCallbackServer(port int, expectedState string, wait *authWait) *callbackServer {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errMsg := q.Get("error"); errMsg != "" {
			wait.complete(callbackResult{err: fmt.Errorf("authorization rejected: %s", errMsg)})
			http.Error(w, "Authorization failed. You can close this window.", http.StatusBadRequest)
			return
		}
		if q.Get("state") != expectedState {
			wait.complete(callbackResult{err: errors.New("authorization callback state mismatch")})
			http.Error(w, "State mismatch. You can close this window.", http.StatusBadRequest)
			return
		}
		wait.complete(callbackResult{code: q.Get("code"), state: q.Get("state")})
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><h3>Login complete.</h3><p>You can close this window and return to the app.</p></body></html>"))
	})

	cs := &callbackServer{
		srv: &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux},
	}
	go func() {
		if err := cs.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			wait.complete(callbackResult{err: fmt.Errorf("callback listener: %w", err)})
		}
	}()
	return cs
}

func (cs *callbackServer) close() {
	cs.srv.Close()
}

// fileTokenStore persists the OAuth token as JSON under the auth dir. The
// transport reads it back across refreshes within the lifetime of a
// connection.
type fileTokenStore struct {
	path string
	mu   sync.Mutex
}

func newFileTokenStore(dataDir string) *fileTokenStore {
	return &fileTokenStore{path: filepath.Join(dataDir, authDirName, "token.json")}
}

// GetToken implements transport.TokenStore.
func (s *fileTokenStore) GetToken(ctx context.Context) (*transport.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("no token available")
		}
		return nil, fmt.Errorf("read token: %w", err)
	}

	var token transport.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}
	return &token, nil
}

// SaveToken implements transport.TokenStore.
func (s *fileTokenStore) SaveToken(ctx context.Context, token *transport.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create auth dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp token: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp token: %w", err)
	}
	return nil
}

// CleanStaleAuth removes cached OAuth artifacts under dataDir. Leftovers from
// a failed attempt cause opaque handshake errors on the next one, so this
// runs before every fresh connect attempt and after a failed one.
func CleanStaleAuth(dataDir string) {
	dir := filepath.Join(dataDir, authDirName)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("could not clean stale auth files", "dir", dir, "error", err)
		return
	}
	slog.Info("removed stale auth artifacts", "dir", dir)
}
