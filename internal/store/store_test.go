package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTurnHistoryOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, role := range []string{"user", "assistant", "user", "assistant"} {
		err := s.AddTurn(ctx, &Turn{
			ConversationID: "conv-1",
			Role:           role,
			Content:        role,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	history, err := s.GetHistory(ctx, "conv-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 4 {
		t.Fatalf("got %d turns, want 4", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].CreatedAt.Before(history[i-1].CreatedAt) {
			t.Errorf("history not ascending at index %d", i)
		}
	}

	// Limit keeps the most recent turns, still ascending.
	last2, err := s.GetHistory(ctx, "conv-1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(last2) != 2 || last2[0].Role != "user" || last2[1].Role != "assistant" {
		t.Errorf("limited history = %+v", last2)
	}

	n, err := s.CountTurns(ctx, "conv-1")
	if err != nil || n != 4 {
		t.Errorf("CountTurns = %d, %v", n, err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess := &Session{ID: "s1", ConversationID: "c1", CreatedAt: time.Now().UTC(), LastActiveAt: time.Now().UTC()}
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatal(err)
	}

	sess.Title = "hello there"
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSessionByID(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "hello there" || got.ConversationID != "c1" {
		t.Errorf("got %+v", got)
	}

	list, err := s.ListSessions(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListSessions = %d, %v", len(list), err)
	}

	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSessionByID(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete got %v, want ErrNotFound", err)
	}
}

func TestMemoryCRUDAndDimension(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := &MemoryEntry{Type: MemoryFact, Content: "likes coffee", Importance: 0.7, Embedding: []float32{1, 0, 0}}
	if err := s.AddMemory(ctx, m); err != nil {
		t.Fatal(err)
	}

	// A different dimension is rejected once the first vector fixed it.
	err := s.AddMemory(ctx, &MemoryEntry{Type: MemoryFact, Content: "x", Embedding: []float32{1, 0}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("got %v, want ErrDimensionMismatch", err)
	}

	got, err := s.GetMemory(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Embedding) != 3 || got.Embedding[0] != 1 {
		t.Errorf("embedding round trip: %v", got.Embedding)
	}

	got.Importance = 0.9
	if err := s.UpdateMemory(ctx, got); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListMemories(ctx, MemoryFact, 0.8)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListMemories = %d, %v", len(list), err)
	}

	if err := s.TouchMemoryAccess(ctx, []string{m.ID}); err != nil {
		t.Fatal(err)
	}
	touched, _ := s.GetMemory(ctx, m.ID)
	if touched.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1", touched.AccessCount)
	}

	if err := s.DeleteMemory(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetMemory(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete got %v", err)
	}
}

func TestTraceRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tr := &Trace{
		ConversationID: "c1",
		UserInput:      "do the thing",
		Steps: []TraceStep{
			{Kind: StepLLMCall, Iteration: 1, Text: "thinking"},
			{Kind: StepToolCall, Name: "shell", Input: map[string]any{"command": "ls"}},
			{Kind: StepToolResult, Name: "shell", Content: "ok", DurationMs: 12},
		},
		Response: "done",
		Error:    "",
	}
	if err := s.AddTrace(ctx, tr); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTrace(ctx, tr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Steps) != 3 || got.Steps[1].Kind != StepToolCall || got.Steps[1].Name != "shell" {
		t.Errorf("steps round trip: %+v", got.Steps)
	}

	traces, err := s.GetTraces(ctx, 10, 0)
	if err != nil || len(traces) != 1 {
		t.Fatalf("GetTraces = %d, %v", len(traces), err)
	}
}

func TestClampImportance(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{-1, 0}, {0, 0}, {0.5, 0.5}, {1, 1}, {3, 1},
	}
	for _, tt := range tests {
		if got := ClampImportance(tt.in); got != tt.want {
			t.Errorf("ClampImportance(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
