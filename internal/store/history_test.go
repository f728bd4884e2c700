// internal/store/history_test.go
package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/user/munch/internal/types"
)

func TestCreateAndListChats(t *testing.T) {
	store := NewHistoryStore(t.TempDir())
	ctx := context.Background()
	sid := types.NewSessionID()

	id1, err := store.CreateChat(ctx, sid, "")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := store.CreateChat(ctx, sid, "Dosa hunt")
	if err != nil {
		t.Fatal(err)
	}

	chats, err := store.ListChats(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(chats))
	}
	// Newest first
	if chats[0].ID != id2 || chats[1].ID != id1 {
		t.Error("expected newest chat first")
	}
	if chats[1].Title != DefaultTitle {
		t.Errorf("expected default title, got %q", chats[1].Title)
	}
	if chats[0].Title != "Dosa hunt" {
		t.Errorf("expected explicit title, got %q", chats[0].Title)
	}
}

func TestAppendMessageRoundTrip(t *testing.T) {
	store := NewHistoryStore(t.TempDir())
	ctx := context.Background()
	sid := types.NewSessionID()

	id, err := store.CreateChat(ctx, sid, "")
	if err != nil {
		t.Fatal(err)
	}

	want := []struct{ role, content string }{
		{"user", "find me dosa near me"},
		{"assistant", "Here are some options."},
		{"user", "the cheapest one"},
	}
	for _, m := range want {
		if err := store.AppendMessage(ctx, sid, id, m.role, m.content); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := store.Messages(ctx, sid, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, m := range msgs {
		if m.Role != want[i].role || m.Content != want[i].content {
			t.Errorf("message %d: got (%s, %q)", i, m.Role, m.Content)
		}
		if m.Timestamp.IsZero() {
			t.Errorf("message %d: zero timestamp", i)
		}
	}
}

func TestAppendMessageAutoCreatesChat(t *testing.T) {
	store := NewHistoryStore(t.TempDir())
	ctx := context.Background()
	sid := types.NewSessionID()
	unknown := types.ChatID("never-created")

	if err := store.AppendMessage(ctx, sid, unknown, "user", "hello"); err != nil {
		t.Fatal(err)
	}

	msgs, err := store.Messages(ctx, sid, unknown)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Fatalf("expected auto-created chat with one message, got %v", msgs)
	}

	chats, err := store.ListChats(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].ID != unknown {
		t.Error("expected auto-created chat to keep the given id")
	}
}

func TestTitleDerivation(t *testing.T) {
	store := NewHistoryStore(t.TempDir())
	ctx := context.Background()
	sid := types.NewSessionID()

	id, _ := store.CreateChat(ctx, sid, "")

	long := strings.Repeat("pani puri ", 10)
	if err := store.AppendMessage(ctx, sid, id, "user", long); err != nil {
		t.Fatal(err)
	}

	chats, _ := store.ListChats(ctx, sid)
	title := chats[0].Title
	if len([]rune(title)) != maxTitleLen {
		t.Errorf("expected %d-rune title, got %d (%q)", maxTitleLen, len([]rune(title)), title)
	}
	if !strings.HasSuffix(title, "...") {
		t.Errorf("expected ellipsis marker, got %q", title)
	}

	// A later user message must not overwrite the derived title
	if err := store.AppendMessage(ctx, sid, id, "user", "something else entirely"); err != nil {
		t.Fatal(err)
	}
	chats, _ = store.ListChats(ctx, sid)
	if chats[0].Title != title {
		t.Errorf("title changed from %q to %q", title, chats[0].Title)
	}
}

func TestShortTitleKeptWhole(t *testing.T) {
	store := NewHistoryStore(t.TempDir())
	ctx := context.Background()
	sid := types.NewSessionID()

	id, _ := store.CreateChat(ctx, sid, "")
	if err := store.AppendMessage(ctx, sid, id, "user", "dosa"); err != nil {
		t.Fatal(err)
	}
	chats, _ := store.ListChats(ctx, sid)
	if chats[0].Title != "dosa" {
		t.Errorf("expected title dosa, got %q", chats[0].Title)
	}
}

func TestSessionIsolation(t *testing.T) {
	store := NewHistoryStore(t.TempDir())
	ctx := context.Background()
	sidA := types.NewSessionID()
	sidB := types.NewSessionID()

	id, _ := store.CreateChat(ctx, sidA, "mine")

	chats, err := store.ListChats(ctx, sidB)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 0 {
		t.Error("session B sees session A's chats")
	}

	if _, err := store.Messages(ctx, sidB, id); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("expected ErrChatNotFound across sessions, got %v", err)
	}
}

func TestDeleteChat(t *testing.T) {
	store := NewHistoryStore(t.TempDir())
	ctx := context.Background()
	sid := types.NewSessionID()

	id, _ := store.CreateChat(ctx, sid, "")
	if err := store.DeleteChat(ctx, sid, id); err != nil {
		t.Fatal(err)
	}
	chats, _ := store.ListChats(ctx, sid)
	if len(chats) != 0 {
		t.Error("chat not deleted")
	}

	// Deleting again is a no-op
	if err := store.DeleteChat(ctx, sid, id); err != nil {
		t.Errorf("delete of unknown chat should be a no-op, got %v", err)
	}
}

func TestPersistenceAcrossReopens(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	sid := types.NewSessionID()

	store := NewHistoryStore(dir)
	id, _ := store.CreateChat(ctx, sid, "")
	if err := store.AppendMessage(ctx, sid, id, "user", "order pani puri"); err != nil {
		t.Fatal(err)
	}

	reopened := NewHistoryStore(dir)
	msgs, err := reopened.Messages(ctx, sid, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "order pani puri" {
		t.Error("history not persisted across reopen")
	}
}
