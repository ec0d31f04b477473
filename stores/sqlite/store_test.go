package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"realtime-chat/core"
)

func setupTestDB(t *testing.T) *sqliteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewStore_TablesCreated(t *testing.T) {
	store := setupTestDB(t)

	for _, table := range []string{"users", "conversations", "conversation_members", "messages"} {
		var name string
		err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("%s table not created: %v", table, err)
		}
	}
}

func TestNewStore_CreatesFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chat.db")
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("NewStore() did not create database file")
	}
}

func TestNewStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chat.db")
	ctx := context.Background()

	first, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	first.SaveUser(ctx, &core.User{ID: "u1", FullName: "Ada"})
	first.Close()

	second, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	if _, err := second.FindUser(ctx, "u1"); err != nil {
		t.Errorf("user lost across reopen: %v", err)
	}
}

func TestSaveUser_InsertThenUpdate(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	user := &core.User{ID: "u1", Email: "ada@example.com", FullName: "Ada"}
	if err := store.SaveUser(ctx, user); err != nil {
		t.Fatalf("SaveUser() insert failed: %v", err)
	}
	created := user.CreatedAt

	update := &core.User{ID: "u1", Email: "ada@example.org", FullName: "Ada L."}
	if err := store.SaveUser(ctx, update); err != nil {
		t.Fatalf("SaveUser() update failed: %v", err)
	}

	got, err := store.FindUser(ctx, "u1")
	if err != nil {
		t.Fatalf("FindUser() failed: %v", err)
	}
	if got.Email != "ada@example.org" || got.FullName != "Ada L." {
		t.Errorf("FindUser() = %+v, want updated profile", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed: %v -> %v", created, got.CreatedAt)
	}
}

func TestFindUser_NotFound(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.FindUser(context.Background(), "ghost")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindUser() error = %v, want ErrNotFound", err)
	}
}

func TestConversations(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	c1, err := store.CreateConversation(ctx, []string{"u1", "u2"})
	if err != nil {
		t.Fatalf("CreateConversation() failed: %v", err)
	}
	if _, err := store.CreateConversation(ctx, []string{"u3", "u1"}); err != nil {
		t.Fatalf("CreateConversation() failed: %v", err)
	}
	store.CreateConversation(ctx, []string{"u2", "u3"})

	list, err := store.ListConversations(ctx, "u1")
	if err != nil {
		t.Fatalf("ListConversations() failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListConversations(u1) returned %d, want 2", len(list))
	}
	if list[0].ID != c1.ID {
		t.Errorf("first conversation = %s, want %s", list[0].ID, c1.ID)
	}
	if len(list[1].Members) != 2 || list[1].Members[0] != "u3" {
		t.Errorf("members order not preserved: %v", list[1].Members)
	}

	found, err := store.FindConversationBetween(ctx, "u2", "u1")
	if err != nil {
		t.Fatalf("FindConversationBetween() failed: %v", err)
	}
	if found.ID != c1.ID {
		t.Errorf("FindConversationBetween() = %s, want %s", found.ID, c1.ID)
	}

	if _, err := store.FindConversationBetween(ctx, "u1", "u9"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindConversationBetween(u1,u9) error = %v, want ErrNotFound", err)
	}
}

func TestMessages(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m := &core.Message{
			ConversationID: "c1",
			SenderID:       "u1",
			Message:        fmt.Sprintf("m%d", i),
			FilePaths:      []string{fmt.Sprintf("uploads/%d.png", i)},
		}
		if err := store.CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage() failed: %v", err)
		}
	}
	store.CreateMessage(ctx, &core.Message{ConversationID: "c2", SenderID: "u2", Message: "elsewhere"})

	messages, err := store.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("ListMessages() failed: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("ListMessages() returned %d, want 3", len(messages))
	}
	for i, m := range messages {
		if m.Message != fmt.Sprintf("m%d", i) {
			t.Errorf("messages[%d] = %q", i, m.Message)
		}
		if len(m.FilePaths) != 1 || m.FilePaths[0] != fmt.Sprintf("uploads/%d.png", i) {
			t.Errorf("messages[%d].FilePaths = %v", i, m.FilePaths)
		}
	}
}

func TestMessages_NoAttachments(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	store.CreateMessage(ctx, &core.Message{ConversationID: "c1", SenderID: "u1", Message: "plain"})

	messages, _ := store.ListMessages(ctx, "c1")
	if len(messages) != 1 {
		t.Fatalf("ListMessages() returned %d, want 1", len(messages))
	}
	if messages[0].FilePaths == nil || len(messages[0].FilePaths) != 0 {
		t.Errorf("FilePaths = %v, want empty slice", messages[0].FilePaths)
	}
}

func TestListMessages_Empty(t *testing.T) {
	store := setupTestDB(t)

	messages, err := store.ListMessages(context.Background(), "none")
	if err != nil {
		t.Fatalf("ListMessages() failed: %v", err)
	}
	if messages == nil || len(messages) != 0 {
		t.Errorf("ListMessages() = %v, want empty slice", messages)
	}
}

func TestFindConversation(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	created, _ := store.CreateConversation(ctx, []string{"u1", "u2"})
	got, err := store.FindConversation(ctx, created.ID)
	if err != nil {
		t.Fatalf("FindConversation() failed: %v", err)
	}
	if got.ID != created.ID || len(got.Members) != 2 || got.Members[0] != "u1" {
		t.Errorf("FindConversation() = %+v", got)
	}

	if _, err := store.FindConversation(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindConversation(missing) error = %v, want ErrNotFound", err)
	}
}
