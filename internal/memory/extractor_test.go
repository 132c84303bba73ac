package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/cogent/internal/providers"
	"github.com/nextlevelbuilder/cogent/internal/store"
)

// scriptedProvider returns canned responses for extractor tests.
type scriptedProvider struct {
	content string
	err     error
	calls   int
}

func (s *scriptedProvider) Name() string         { return "scripted" }
func (s *scriptedProvider) DefaultModel() string { return "scripted-model" }

func (s *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &providers.ChatResponse{Content: s.content}, nil
}

func (s *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return s.Chat(ctx, req)
}

func seedTurns(t *testing.T, st *store.Store, convID string, n int) {
	t.Helper()
	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if err := st.AddTurn(context.Background(), &store.Turn{
			ConversationID: convID, Role: role, Content: "message",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestExtractAddsValidatedMemories(t *testing.T) {
	st := openTestStore(t)
	seedTurns(t, st, "c1", 4)

	prov := &scriptedProvider{content: "```json\n" + `[
		{"type":"fact","content":"user works at a bakery","importance":0.8},
		{"type":"bogus","content":"ignored","importance":0.5},
		{"type":"preference","content":"  ","importance":0.5},
		{"type":"episodic","content":"deploys on Fridays went badly","importance":2.5}
	]` + "\n```"}

	e := NewExtractor(prov, NewRecall(st), st, "")
	e.Extract(context.Background(), "c1")

	entries, err := st.ListMemories(context.Background(), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d memories, want 2 (invalid type and empty content dropped)", len(entries))
	}
	for _, e := range entries {
		if e.Importance > 1 {
			t.Errorf("importance not clamped: %v", e.Importance)
		}
		if e.SourceTurnID == "" {
			t.Error("SourceTurnID not set")
		}
	}
}

func TestExtractDedupUpdatesImportance(t *testing.T) {
	st := openTestStore(t)
	seedTurns(t, st, "c1", 2)
	ctx := context.Background()

	existing := &store.MemoryEntry{
		Type: store.MemoryFact, Content: "user works at a bakery",
		Importance: 0.4, Embedding: FallbackEmbed("user works at a bakery"),
		CreatedAt: time.Now().UTC(),
	}
	if err := st.AddMemory(ctx, existing); err != nil {
		t.Fatal(err)
	}

	prov := &scriptedProvider{content: `[{"type":"fact","content":"user works at a bakery","importance":0.9}]`}
	e := NewExtractor(prov, NewRecall(st), st, "")
	e.Extract(ctx, "c1")

	entries, _ := st.ListMemories(ctx, "", 0)
	if len(entries) != 1 {
		t.Fatalf("duplicate was inserted: %d entries", len(entries))
	}
	if entries[0].Importance != 0.9 {
		t.Errorf("importance = %v, want 0.9 (raised by dedup)", entries[0].Importance)
	}

	// Lower importance must not downgrade the stored entry.
	prov.content = `[{"type":"fact","content":"user works at a bakery","importance":0.2}]`
	e.Extract(ctx, "c1")
	entries, _ = st.ListMemories(ctx, "", 0)
	if entries[0].Importance != 0.9 {
		t.Errorf("importance = %v, want 0.9 (not lowered)", entries[0].Importance)
	}
}

func TestExtractFailuresAreSwallowed(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// No turns: no LLM call at all.
	prov := &scriptedProvider{content: "[]"}
	e := NewExtractor(prov, NewRecall(st), st, "")
	e.Extract(ctx, "empty-conv")
	if prov.calls != 0 {
		t.Errorf("LLM called for empty conversation")
	}

	// LLM failure: no panic, no memories.
	seedTurns(t, st, "c1", 2)
	bad := NewExtractor(&scriptedProvider{err: errors.New("down")}, NewRecall(st), st, "")
	bad.Extract(ctx, "c1")

	// Unparseable output: same.
	garbled := NewExtractor(&scriptedProvider{content: "sorry, I cannot"}, NewRecall(st), st, "")
	garbled.Extract(ctx, "c1")

	entries, _ := st.ListMemories(ctx, "", 0)
	if len(entries) != 0 {
		t.Errorf("failures should not produce memories, got %d", len(entries))
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct{ in, want string }{
		{"[]", "[]"},
		{"```json\n[]\n```", "[]"},
		{"```\n[1]\n```", "[1]"},
		{"  [2]  ", "[2]"},
	}
	for _, tt := range tests {
		if got := StripFences(tt.in); got != tt.want {
			t.Errorf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
