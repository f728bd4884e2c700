// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
)

type SessionID string
type ChatID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// NewChatID returns a short, URL-safe chat identifier.
func NewChatID() ChatID {
	return ChatID(shortuuid.New())
}
