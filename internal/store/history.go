// internal/store/history.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/user/munch/internal/types"
)

// ErrChatNotFound reports a lookup for a chat id the session does not own.
var ErrChatNotFound = errors.New("chat not found")

// DefaultTitle is the title a chat carries until its first user message.
const DefaultTitle = "New Chat"

// maxTitleLen bounds auto-derived chat titles, ellipsis included.
const maxTitleLen = 40

// HistoryStore is a JSON-file-backed conversation store. All chats for all
// sessions live in a single chat_history.json keyed by session id; every
// mutation rewrites the whole file atomically (tmp + rename).
type HistoryStore struct {
	path string
	mu   sync.RWMutex
}

// NewHistoryStore creates a store persisting to chat_history.json under root.
func NewHistoryStore(root string) *HistoryStore {
	return &HistoryStore{path: filepath.Join(root, "chat_history.json")}
}

// load reads the history file. A missing file is an empty history.
func (s *HistoryStore) load() (map[types.SessionID][]*types.Chat, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.SessionID][]*types.Chat), nil
		}
		return nil, fmt.Errorf("read history: %w", err)
	}

	history := make(map[types.SessionID][]*types.Chat)
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return history, nil
}

// save marshals with indentation and writes atomically.
func (s *HistoryStore) save(history map[types.SessionID][]*types.Chat) error {
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp history: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp history: %w", err)
	}
	return nil
}

func findChat(chats []*types.Chat, id types.ChatID) *types.Chat {
	for _, c := range chats {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// CreateChat adds a new chat for the session and returns its id.
// An empty title gets the default.
func (s *HistoryStore) CreateChat(_ context.Context, sessionID types.SessionID, title string) (types.ChatID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.load()
	if err != nil {
		return "", err
	}

	if title == "" {
		title = DefaultTitle
	}
	chat := &types.Chat{
		ID:        types.NewChatID(),
		Title:     title,
		CreatedAt: time.Now(),
		Messages:  []types.Message{},
	}

	// Newest chat first, matching the sidebar ordering
	history[sessionID] = append([]*types.Chat{chat}, history[sessionID]...)

	if err := s.save(history); err != nil {
		return "", err
	}
	return chat.ID, nil
}

// AppendMessage appends a message to the chat. An unknown chat id is created
// on the fly with that id, so a chat-creation call racing the first message
// never loses the message. The first user message of a chat still holding the
// default title derives the title.
func (s *HistoryStore) AppendMessage(_ context.Context, sessionID types.SessionID, chatID types.ChatID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.load()
	if err != nil {
		return err
	}

	chat := findChat(history[sessionID], chatID)
	if chat == nil {
		chat = &types.Chat{
			ID:        chatID,
			Title:     DefaultTitle,
			CreatedAt: time.Now(),
			Messages:  []types.Message{},
		}
		history[sessionID] = append([]*types.Chat{chat}, history[sessionID]...)
	}

	chat.Messages = append(chat.Messages, types.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})

	if chat.Title == DefaultTitle && role == "user" {
		chat.Title = deriveTitle(content)
	}

	return s.save(history)
}

// deriveTitle truncates a first user message into a sidebar title.
func deriveTitle(content string) string {
	if utf8.RuneCountInString(content) <= maxTitleLen {
		return content
	}
	runes := []rune(content)
	return string(runes[:maxTitleLen-3]) + "..."
}

// ListChats returns chat summaries for the session, newest first, without
// message bodies.
func (s *HistoryStore) ListChats(_ context.Context, sessionID types.SessionID) ([]types.ChatSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, err := s.load()
	if err != nil {
		return nil, err
	}

	chats := history[sessionID]
	summaries := make([]types.ChatSummary, 0, len(chats))
	for _, c := range chats {
		summaries = append(summaries, types.ChatSummary{
			ID:        c.ID,
			Title:     c.Title,
			CreatedAt: c.CreatedAt,
		})
	}
	return summaries, nil
}

// Messages returns the full ordered message list for the chat.
func (s *HistoryStore) Messages(_ context.Context, sessionID types.SessionID, chatID types.ChatID) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, err := s.load()
	if err != nil {
		return nil, err
	}

	chat := findChat(history[sessionID], chatID)
	if chat == nil {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	return chat.Messages, nil
}

// DeleteChat removes the chat from the session. Deleting an unknown chat is
// a no-op.
func (s *HistoryStore) DeleteChat(_ context.Context, sessionID types.SessionID, chatID types.ChatID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.load()
	if err != nil {
		return err
	}

	chats := history[sessionID]
	if findChat(chats, chatID) == nil {
		return nil
	}

	kept := make([]*types.Chat, 0, len(chats)-1)
	for _, c := range chats {
		if c.ID != chatID {
			kept = append(kept, c)
		}
	}
	history[sessionID] = kept

	return s.save(history)
}
