package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/cogent/internal/providers"
	"github.com/nextlevelbuilder/cogent/internal/store"
)

// dedupThreshold is the cosine similarity above which a proposed memory is
// considered a duplicate of an existing entry of the same type.
const dedupThreshold = 0.75

const extractorPrompt = `You distill long-term memories from a conversation transcript.

Extract ONLY durable information worth remembering across conversations:
- facts about the user or their world
- stable preferences
- entities (people, projects, places) the user cares about
- episodic lessons ("X did not work for the user")

Do NOT extract:
- one-off actions or requests already completed
- the assistant's own behavior or phrasing
- tool execution details or transient state

Current memories (avoid re-extracting these):
%s

Transcript:
%s

Respond with ONLY a JSON array, no prose:
[{"type":"fact|preference|entity|episodic","content":"...","importance":0.0-1.0}]
Return [] if nothing qualifies.`

// Extractor distills recent turns into long-term memories via the LLM.
// All failures are logged and dropped: extraction never breaks a turn.
type Extractor struct {
	provider providers.Provider
	recall   *Recall
	store    *store.Store
	model    string
	logger   *slog.Logger
}

// NewExtractor builds an extractor. model may be empty to use the
// provider default.
func NewExtractor(p providers.Provider, recall *Recall, st *store.Store, model string) *Extractor {
	return &Extractor{
		provider: p,
		recall:   recall,
		store:    st,
		model:    model,
		logger:   slog.Default().With("component", "memory-extractor"),
	}
}

type extractedMemory struct {
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
}

// Extract runs one extraction pass over the conversation's recent turns.
func (e *Extractor) Extract(ctx context.Context, conversationID string) {
	turns, err := e.store.GetHistory(ctx, conversationID, 10)
	if err != nil {
		e.logger.Warn("extraction: history fetch failed", "conversation", conversationID, "error", err)
		return
	}
	if len(turns) == 0 {
		return
	}
	newestTurnID := turns[len(turns)-1].ID

	existing, err := e.store.ListMemories(ctx, "", 0)
	if err != nil {
		e.logger.Warn("extraction: memory list failed", "error", err)
		existing = nil
	}

	prompt := fmt.Sprintf(extractorPrompt, formatMemoryList(existing), formatTranscript(turns))

	temp := 0.1
	resp, err := e.provider.Chat(ctx, providers.ChatRequest{
		Messages:    []providers.Message{providers.TextMessage("user", prompt)},
		Model:       e.model,
		Temperature: &temp,
		MaxTokens:   1024,
	})
	if err != nil {
		e.logger.Warn("extraction: LLM call failed", "error", err)
		return
	}

	proposed, err := parseExtracted(resp.Content)
	if err != nil {
		e.logger.Warn("extraction: unparseable output", "error", err)
		return
	}

	for _, p := range proposed {
		if !store.ValidMemoryType(p.Type) || strings.TrimSpace(p.Content) == "" {
			continue
		}
		importance := store.ClampImportance(p.Importance)

		similar, err := e.recall.FindSimilar(ctx, p.Content, p.Type, dedupThreshold)
		if err != nil {
			e.logger.Warn("extraction: similarity check failed", "error", err)
			continue
		}
		if similar != nil {
			if importance > similar.Importance {
				similar.Importance = importance
				if err := e.store.UpdateMemory(ctx, similar); err != nil {
					e.logger.Warn("extraction: importance update failed", "id", similar.ID, "error", err)
				}
			}
			continue
		}

		entry := &store.MemoryEntry{
			Type:         p.Type,
			Content:      strings.TrimSpace(p.Content),
			Importance:   importance,
			Embedding:    e.recall.Embed(ctx, p.Content),
			SourceTurnID: newestTurnID,
		}
		if err := e.store.AddMemory(ctx, entry); err != nil {
			e.logger.Warn("extraction: memory insert failed", "error", err)
		}
	}
}

func formatTranscript(turns []store.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		if t.Role == "tool" {
			continue
		}
		content := t.Content
		if len(content) > 500 {
			content = content[:500] + "…"
		}
		fmt.Fprintf(&sb, "%s: %s\n", t.Role, content)
	}
	return sb.String()
}

func formatMemoryList(entries []store.MemoryEntry) string {
	if len(entries) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for _, m := range entries {
		fmt.Fprintf(&sb, "- [%s] %s\n", m.Type, m.Content)
	}
	return sb.String()
}

func parseExtracted(raw string) ([]extractedMemory, error) {
	cleaned := StripFences(raw)
	var out []extractedMemory
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, fmt.Errorf("decode extraction JSON: %w", err)
	}
	return out, nil
}

// StripFences removes a wrapping markdown code fence from LLM output.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
