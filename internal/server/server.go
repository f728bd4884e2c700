// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/user/munch/internal/engine"
	"github.com/user/munch/internal/mcp"
	"github.com/user/munch/internal/store"
	"github.com/user/munch/internal/types"
	"github.com/user/munch/pkg/llm"
)

// TurnRunner executes one chat turn. Satisfied by engine.Engine.
type TurnRunner interface {
	RunTurn(ctx context.Context, sessionID types.SessionID, chatID types.ChatID, userMessage string, history []llm.Message, loc *types.Location) (*engine.TurnResult, error)
}

// Connection is the view of the tool connection the HTTP layer needs.
// Satisfied by mcp.Manager.
type Connection interface {
	Connect(ctx context.Context) *mcp.ConnectResult
	Disconnect()
	State() mcp.State
	Connected() bool
	Tools() []types.ToolInfo
}

// Server is the HTTP surface of the application: session bootstrap, the
// connection lifecycle endpoints, the chat endpoint, history CRUD, and the
// static UI.
type Server struct {
	engine  TurnRunner
	manager Connection
	store   types.ChatStore
	mux     *http.ServeMux
}

// NewServer wires the API routes. staticDir serves the browser UI; empty
// disables static serving.
func NewServer(eng TurnRunner, manager Connection, chats types.ChatStore, staticDir string) *Server {
	s := &Server{
		engine:  eng,
		manager: manager,
		store:   chats,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/session", s.handleSession)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/connect", s.handleConnect)
	s.mux.HandleFunc("POST /api/disconnect", s.handleDisconnect)
	s.mux.HandleFunc("GET /api/tools", s.handleTools)
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("GET /api/chats", s.handleListChats)
	s.mux.HandleFunc("POST /api/chats/new", s.handleNewChat)
	s.mux.HandleFunc("GET /api/chats/{chatID}", s.handleGetChat)
	s.mux.HandleFunc("DELETE /api/chats/{chatID}", s.handleDeleteChat)
	if staticDir != "" {
		s.mux.Handle("GET /", http.FileServer(http.Dir(staticDir)))
	}
	return s
}

// ServeHTTP delegates to the internal mux with permissive CORS, implementing
// http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Session-ID")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sessionID extracts the caller's session from the X-Session-ID header.
func sessionID(r *http.Request) types.SessionID {
	return types.SessionID(r.Header.Get("X-Session-ID"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": string(types.NewSessionID())})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.State())
}

// handleConnect performs the full handshake synchronously: the response
// arrives only when the connection is established or has failed. Concurrent
// callers receive a "connecting" result immediately instead of piling onto
// the handshake.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	res := s.manager.Connect(r.Context())
	status := http.StatusOK
	if !res.Success && !res.Connecting {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.manager.Disconnect()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	tools := s.manager.Tools()
	if tools == nil {
		tools = []types.ToolInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connected": s.manager.Connected(),
		"tools":     tools,
	})
}

// chatRequest is the JSON body for POST /api/chat. The session id may come
// in the body instead of the header; a caller-supplied history overrides the
// stored transcript for this turn.
type chatRequest struct {
	Message   string          `json:"message"`
	SessionID types.SessionID `json:"sessionId"`
	ChatID    types.ChatID    `json:"chatId"`
	History   []llm.Message   `json:"history"`
	Location  *types.Location `json:"location"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	sid := sessionID(r)
	if sid == "" {
		sid = req.SessionID
	}
	if sid == "" {
		writeError(w, http.StatusBadRequest, "session id required (X-Session-ID header or sessionId field)")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	res, err := s.engine.RunTurn(r.Context(), sid, req.ChatID, req.Message, req.History, req.Location)
	if err != nil {
		slog.Error("chat turn failed", "session_id", string(sid), "error", err)
		s.writeTurnError(w, err, res)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"response":  res.Response,
		"toolCalls": res.ToolCalls,
		"chatId":    res.ChatID,
		"sessionId": sid,
	})
}

// writeTurnError maps an engine failure to a JSON error the UI can render,
// keeping whatever tool-call trace accumulated before the failure.
func (s *Server) writeTurnError(w http.ResponseWriter, err error, partial *engine.TurnResult) {
	body := map[string]any{"error": err.Error()}
	if partial != nil {
		if partial.ChatID != "" {
			body["chatId"] = partial.ChatID
		}
		if len(partial.ToolCalls) > 0 {
			body["toolCalls"] = partial.ToolCalls
		}
	}
	writeJSON(w, http.StatusInternalServerError, body)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		writeError(w, http.StatusBadRequest, "X-Session-ID header required")
		return
	}
	chats, err := s.store.ListChats(r.Context(), sid)
	if err != nil {
		slog.Error("list chats failed", "session_id", string(sid), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if chats == nil {
		chats = []types.ChatSummary{}
	}
	writeJSON(w, http.StatusOK, chats)
}

func (s *Server) handleNewChat(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		writeError(w, http.StatusBadRequest, "X-Session-ID header required")
		return
	}
	id, err := s.store.CreateChat(r.Context(), sid, "")
	if err != nil {
		slog.Error("create chat failed", "session_id", string(sid), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"chatId": string(id)})
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		writeError(w, http.StatusBadRequest, "X-Session-ID header required")
		return
	}
	chatID := types.ChatID(r.PathValue("chatID"))
	msgs, err := s.store.Messages(r.Context(), sid, chatID)
	if err != nil {
		if errors.Is(err, store.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		slog.Error("get chat failed", "session_id", string(sid), "chat_id", string(chatID), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		writeError(w, http.StatusBadRequest, "X-Session-ID header required")
		return
	}
	chatID := types.ChatID(r.PathValue("chatID"))
	if err := s.store.DeleteChat(r.Context(), sid, chatID); err != nil {
		slog.Error("delete chat failed", "session_id", string(sid), "chat_id", string(chatID), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
