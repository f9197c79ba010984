package session

import (
	"context"
	"testing"

	"github.com/metricsmith/sage/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateGetDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "CTR investigation")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sess.ID == "" {
		t.Fatal("Expected generated session ID")
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != "CTR investigation" {
		t.Errorf("Title = %q", got.Title)
	}

	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, sess.ID); err == nil {
		t.Error("Expected error getting deleted session")
	}
	if err := store.Delete(ctx, sess.ID); err == nil {
		t.Error("Expected error deleting missing session")
	}
}

func TestAppendAndLoadMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	turns := []model.Message{
		{Role: model.RoleUser, Content: "How did campaign X do?"},
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{
			{ID: "c1", Name: "ads_campaign_performance", Arguments: map[string]any{"days": float64(7)}},
		}},
		{Role: model.RoleTool, Content: `{"cost":12}`, ToolCallID: "c1", ToolName: "ads_campaign_performance"},
		{Role: model.RoleAssistant, Content: "It spent $12 this week."},
	}
	if err := store.AppendMessages(ctx, sess.ID, turns); err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}

	loaded, err := store.Messages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(loaded) != 4 {
		t.Fatalf("Expected 4 messages, got %d", len(loaded))
	}
	if loaded[1].ToolCalls[0].Name != "ads_campaign_performance" {
		t.Errorf("Tool calls did not round-trip: %+v", loaded[1])
	}
	if loaded[2].ToolCallID != "c1" {
		t.Errorf("ToolCallID = %q", loaded[2].ToolCallID)
	}

	// Appending again continues the sequence.
	if err := store.AppendMessages(ctx, sess.ID, []model.Message{
		{Role: model.RoleUser, Content: "And last month?"},
	}); err != nil {
		t.Fatalf("AppendMessages() second call error = %v", err)
	}
	loaded, err = store.Messages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(loaded) != 5 || loaded[4].Content != "And last month?" {
		t.Errorf("Sequence continuation broken: %d messages", len(loaded))
	}
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, _ := store.Create(ctx, "a")
	b, _ := store.Create(ctx, "b")

	// Touch the older session so it becomes most recent.
	if err := store.AppendMessages(ctx, a.ID, []model.Message{
		{Role: model.RoleUser, Content: "bump"},
	}); err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}

	sessions, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != a.ID || sessions[1].ID != b.ID {
		t.Errorf("Expected newest-first order, got %v then %v", sessions[0].ID, sessions[1].ID)
	}
}
