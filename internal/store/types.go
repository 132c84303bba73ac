package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDimensionMismatch is returned when an embedding vector does not match
// the dimension already established for this store instance.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Turn is the persisted form of one conversation message.
type Turn struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"` // "user", "assistant", "tool"
	Content        string    `json:"content"`
	ToolCallsJSON  string    `json:"toolCalls,omitempty"`   // assistant turns: serialized []providers.ToolCall
	ToolResultsJSON string   `json:"toolResults,omitempty"` // tool turns: serialized []providers.Block
	Model          string    `json:"model,omitempty"`
	TokensIn       int       `json:"tokensIn,omitempty"`
	TokensOut      int       `json:"tokensOut,omitempty"`
	DurationMs     int64     `json:"durationMs,omitempty"`
	ToolCallCount  int       `json:"toolCallCount,omitempty"`
	TraceID        string    `json:"traceId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Session is a user-facing handle over a conversation.
type Session struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Title          string    `json:"title,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActiveAt   time.Time `json:"lastActiveAt"`
}

// Memory entry types.
const (
	MemoryFact       = "fact"
	MemoryPreference = "preference"
	MemoryEntity     = "entity"
	MemoryEpisodic   = "episodic"
)

// ValidMemoryType reports whether t is a known memory type.
func ValidMemoryType(t string) bool {
	switch t {
	case MemoryFact, MemoryPreference, MemoryEntity, MemoryEpisodic:
		return true
	}
	return false
}

// MemoryEntry is one long-term memory row.
type MemoryEntry struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Content      string    `json:"content"`
	Importance   float64   `json:"importance"` // clamped to [0,1]
	Embedding    []float32 `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	AccessedAt   time.Time `json:"accessedAt"`
	AccessCount  int       `json:"accessCount"`
	SourceTurnID string    `json:"sourceTurnId,omitempty"`
}

// ClampImportance bounds v to [0,1].
func ClampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Trace step kinds.
const (
	StepLLMCall    = "llm_call"
	StepToolCall   = "tool_call"
	StepToolResult = "tool_result"
)

// TraceStep is one entry in a turn's execution trace.
type TraceStep struct {
	Kind      string         `json:"kind"`
	Iteration int            `json:"iteration,omitempty"`
	TokensIn  int            `json:"tokensIn,omitempty"`
	TokensOut int            `json:"tokensOut,omitempty"`
	Text      string         `json:"text,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"isError,omitempty"`
	DurationMs int64         `json:"durationMs,omitempty"`
}

// Trace is the structured log of one agent turn.
type Trace struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	UserInput      string      `json:"userInput"`
	SystemPrompt   string      `json:"systemPrompt,omitempty"`
	SkillMatch     string      `json:"skillMatch,omitempty"`
	Steps          []TraceStep `json:"steps"`
	Response       string      `json:"response,omitempty"`
	Model          string      `json:"model,omitempty"`
	TokensIn       int         `json:"tokensIn"`
	TokensOut      int         `json:"tokensOut"`
	DurationMs     int64       `json:"durationMs"`
	Error          string      `json:"error,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}
