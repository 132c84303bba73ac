package providers

import "context"

// Provider is the interface all LLM providers must implement.
// Concrete HTTP adapters live outside the core; the core consumes
// only this surface plus the unified content-block vocabulary.
type Provider interface {
	// Chat sends messages to the LLM and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream sends messages and streams response chunks via callback.
	// Returns the final complete response after streaming ends.
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}

// Embedder is implemented by providers that can embed text.
// Optional: the memory store and skill registry fall back to
// lexical scoring when no embedder is available.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatRequest contains the input for a Chat/ChatStream call.
type ChatRequest struct {
	Messages      []Message `json:"messages"`
	SystemPrompt  string    `json:"system,omitempty"`
	Tools         []ToolDefinition `json:"tools,omitempty"`
	Model         string    `json:"model,omitempty"`
	Temperature   *float64  `json:"temperature,omitempty"`
	MaxTokens     int       `json:"max_tokens,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
}

// ChatResponse is the result from an LLM call.
type ChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"` // "stop", "tool_calls", "length"
	Model        string     `json:"model,omitempty"`
	Usage        *Usage     `json:"usage,omitempty"`
}

// Stream chunk kinds.
const (
	ChunkText         = "text"
	ChunkToolUseStart = "tool_use_start"
	ChunkToolUseDelta = "tool_use_delta"
	ChunkDone         = "done"
)

// StreamChunk is one piece of a streaming response.
// Exactly one variant is populated, selected by Type.
type StreamChunk struct {
	Type string `json:"type"`

	// ChunkText
	Text string `json:"text,omitempty"`

	// ChunkToolUseStart
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// ChunkToolUseDelta: a fragment of JSON arguments appended to the
	// most recently started tool call.
	InputFragment string `json:"input_fragment,omitempty"`

	// ChunkDone
	Model string `json:"model,omitempty"`
	Usage *Usage `json:"usage,omitempty"`
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes a tool available to the LLM.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON schema
}

// Usage tracks token consumption for one call.
type Usage struct {
	TokensIn  int `json:"tokens_in"`
	TokensOut int `json:"tokens_out"`
}

// Add accumulates another usage into this one.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.TokensIn += other.TokensIn
	u.TokensOut += other.TokensOut
}
