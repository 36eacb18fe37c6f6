package sqlitestore

import (
	"context"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/kadirpekel/agentrt/convo"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conversations.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAddMessageThenGetHistoryRoundTrips(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	u, _ := url.Parse("https://example.com/doc")
	msg := convo.NewAssistantMessage("m1", []convo.Part{
		convo.TextPart("hello"),
		convo.ToolCallPart("tc1", "search", map[string]any{"endpoint": u.String(), "when": time.Now().Format(time.RFC3339)}),
	})

	if err := store.AddMessage(ctx, "conv1", msg); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	history, err := store.GetHistory(ctx, "conv1")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 1 || history[0].ID != "m1" {
		t.Fatalf("expected one message m1, got %+v", history)
	}
}

func TestAddMessagesPreservesOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	msgs := []convo.Message{
		convo.NewUserMessage("u1", "first"),
		convo.NewAssistantMessage("a1", []convo.Part{convo.TextPart("second")}),
		convo.NewUserMessage("u2", "third"),
	}
	if err := store.AddMessages(ctx, "conv1", msgs); err != nil {
		t.Fatalf("AddMessages: %v", err)
	}

	history, err := store.GetHistory(ctx, "conv1")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	for i, want := range []string{"u1", "a1", "u2"} {
		if history[i].ID != want {
			t.Fatalf("message %d: expected id %q, got %q", i, want, history[i].ID)
		}
	}
}

func TestSetThenGetRoundTripsConversation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	conv := &convo.Conversation{
		ID:        "conv1",
		CreatedAt: time.Now().Truncate(time.Second),
		UpdatedAt: time.Now().Truncate(time.Second),
		Policy:    convo.Policy{MaxMessages: 50, MaxCharacters: 4000, StrictLookup: true},
		Messages:  []convo.Message{convo.NewUserMessage("u1", "hi")},
	}
	if err := store.Set(ctx, "conv1", conv); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := store.Get(ctx, "conv1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected conversation to be found")
	}
	if got.Policy.MaxMessages != 50 || !got.Policy.StrictLookup {
		t.Fatalf("policy mismatch: %+v", got.Policy)
	}
	if len(got.Messages) != 1 || got.Messages[0].ID != "u1" {
		t.Fatalf("expected one message u1, got %+v", got.Messages)
	}
}

func TestGetMissingConversationReturnsNotFound(t *testing.T) {
	store := openTestStore(t)
	_, ok, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing conversation")
	}
}

func TestDeleteRemovesConversationAndMessages(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.AddMessage(ctx, "conv1", convo.NewUserMessage("u1", "hi")); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if err := store.Delete(ctx, "conv1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, err := store.Get(ctx, "conv1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected conversation to be gone after delete")
	}
	history, err := store.GetHistory(ctx, "conv1")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected messages to be gone after delete, got %d", len(history))
	}
}

func TestClearRemovesAllConversations(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.AddMessage(ctx, "conv1", convo.NewUserMessage("u1", "hi")); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if err := store.AddMessage(ctx, "conv2", convo.NewUserMessage("u2", "hi")); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for _, id := range []string{"conv1", "conv2"} {
		_, ok, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if ok {
			t.Fatalf("expected %q to be cleared", id)
		}
	}
}
