package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/chatdesk/chatdesk/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func at(t *testing.T, s string) *time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatal(err)
	}
	return &parsed
}

func TestUpsertConversationIdempotent(t *testing.T) {
	db := testDB(t)
	c := &model.Conversation{
		UUID:          "c1",
		Status:        model.StatusOpen,
		MessageCount:  3,
		LastMessageAt: at(t, "2026-08-30T12:00:00Z"),
		CreatedAt:     time.Now(),
	}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	if convs[0].MessageCount != 3 || convs[0].Status != model.StatusOpen {
		t.Errorf("conversation = %+v", convs[0])
	}
}

func TestUpsertConversationNonRegression(t *testing.T) {
	db := testDB(t)
	fresh := &model.Conversation{
		UUID:          "c1",
		Status:        model.StatusClosed,
		MessageCount:  5,
		LastMessageAt: at(t, "2026-08-30T12:00:00Z"),
		CreatedAt:     time.Now(),
	}
	if err := db.UpsertConversation(fresh); err != nil {
		t.Fatal(err)
	}

	// A stale replay with an older timestamp must not win.
	stale := &model.Conversation{
		UUID:          "c1",
		Status:        model.StatusInProgress,
		MessageCount:  4,
		LastMessageAt: at(t, "2026-08-30T11:00:00Z"),
		CreatedAt:     time.Now(),
	}
	if err := db.UpsertConversation(stale); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.MessageCount != 5 {
		t.Errorf("message_count = %d, want 5", got.MessageCount)
	}
	if got.Status != model.StatusClosed {
		t.Errorf("status = %s, want closed", got.Status)
	}
	if !got.LastMessageAt.Equal(*at(t, "2026-08-30T12:00:00Z")) {
		t.Errorf("last_message_at = %v", got.LastMessageAt)
	}
}

func TestUpsertConversationKeepsJoinedAt(t *testing.T) {
	db := testDB(t)
	joined := &model.Conversation{
		UUID:          "c1",
		Status:        model.StatusInProgress,
		MessageCount:  2,
		LastMessageAt: at(t, "2026-08-30T11:00:00Z"),
		JoinedAt:      at(t, "2026-08-30T10:30:00Z"),
		CreatedAt:     time.Now(),
	}
	if err := db.UpsertConversation(joined); err != nil {
		t.Fatal(err)
	}

	// A later update without joined_at must not clear it.
	update := &model.Conversation{
		UUID:          "c1",
		Status:        model.StatusInProgress,
		MessageCount:  3,
		LastMessageAt: at(t, "2026-08-30T11:05:00Z"),
		CreatedAt:     time.Now(),
	}
	if err := db.UpsertConversation(update); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.JoinedAt == nil {
		t.Fatal("joined_at cleared by update")
	}
	if got.MessageCount != 3 {
		t.Errorf("message_count = %d, want 3", got.MessageCount)
	}
}

func TestUpsertMessageIdempotent(t *testing.T) {
	db := testDB(t)
	m := &model.Message{
		ConversationUUID: "c1",
		UUID:             "m1",
		Content:          "hello",
		Type:             model.MessageUser,
		CreatedAt:        time.Now(),
	}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestListMessagesNewestFirst(t *testing.T) {
	db := testDB(t)
	base := time.Now().Add(-time.Hour)
	for i, uuid := range []string{"m1", "m2", "m3"} {
		err := db.UpsertMessage(&model.Message{
			ConversationUUID: "c1",
			UUID:             uuid,
			Type:             model.MessageUser,
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.ListMessages("c1", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].UUID != "m3" || msgs[1].UUID != "m2" {
		t.Errorf("messages = %+v", msgs)
	}
}
