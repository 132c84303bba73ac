package agent

// Event types emitted by RunStream.
const (
	EventStateChange      = "state_change"
	EventThinking         = "thinking"
	EventResponseChunk    = "response_chunk"
	EventToolCall         = "tool_call"
	EventToolResult       = "tool_result"
	EventResponseComplete = "response_complete"
	EventError            = "error"
)

// Loop states surfaced via state_change events.
const (
	StateThinking  = "thinking"
	StateToolUse   = "tool_use"
	StateResponded = "responded"
)

// Event is one item of the run's event stream. Exactly the fields for
// its Type are populated.
type Event struct {
	Type string `json:"type"`

	// EventStateChange
	State string `json:"state,omitempty"`

	// EventResponseChunk
	Text string `json:"text,omitempty"`

	// EventToolCall / EventToolResult
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	Result     string         `json:"result,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`

	// EventResponseComplete: final message plus aggregate run usage.
	Message       string `json:"message,omitempty"`
	TokensIn      int    `json:"tokens_in,omitempty"`
	TokensOut     int    `json:"tokens_out,omitempty"`
	ToolCallCount int    `json:"tool_call_count,omitempty"`

	// EventError
	Error string `json:"error,omitempty"`
}
