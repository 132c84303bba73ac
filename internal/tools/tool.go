// Package tools holds the tool registry and the built-in tools the agent
// loop dispatches to.
package tools

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/cogent/internal/planner"
	"github.com/nextlevelbuilder/cogent/internal/scheduler"
	"github.com/nextlevelbuilder/cogent/internal/skills"
)

// Tool is a named capability the LLM can invoke.
type Tool interface {
	Name() string
	Description() string
	Category() string
	// Parameters is the JSON-schema description of the tool's input.
	Parameters() map[string]any
	Execute(ctx context.Context, input map[string]any, tc *Context) (*Result, error)
}

// Result is the unified return type from tool execution.
type Result struct {
	Content  string         `json:"content"`
	IsError  bool           `json:"is_error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// AutoComplete signals the agent loop that no further LLM round is
	// needed; the final reply is derived from sent files or "Done.".
	AutoComplete bool `json:"auto_complete,omitempty"`
}

// NewResult builds a success result.
func NewResult(content string) *Result { return &Result{Content: content} }

// ErrorResult builds an error result. Tool errors are fed back to the
// model as content, never propagated as Go errors.
func ErrorResult(message string) *Result { return &Result{Content: message, IsError: true} }

// SentFile records a file surfaced to the user during a run.
type SentFile struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// SentFiles is a concurrency-safe accumulator of files sent this run.
type SentFiles struct {
	mu    sync.Mutex
	files []SentFile
}

// Add records a sent file.
func (s *SentFiles) Add(f SentFile) {
	s.mu.Lock()
	s.files = append(s.files, f)
	s.mu.Unlock()
}

// Drain returns and clears the accumulated files.
func (s *SentFiles) Drain() []SentFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.files
	s.files = nil
	return out
}

// Context is the capability record passed by value into each tool call.
// Tools see read-only service interfaces; they never hold back-references
// to the agent loop.
type Context struct {
	// Transport-supplied callbacks (all optional).
	PromptUser func(ctx context.Context, question string) (string, error)
	NotifyUser func(ctx context.Context, message string) error
	SendFile   func(ctx context.Context, path, caption string) error
	SentFiles  *SentFiles

	// Orchestrator-owned services.
	SaveMemory   func(ctx context.Context, content, memType string, importance float64) error
	Scheduler    *scheduler.Scheduler
	SkillRegistry *skills.Registry
	Planner      *planner.Planner
	DelegateTask func(ctx context.Context, task string) (string, error)

	PreSelectedSkillName string
	WorkDir              string
	OriginalUserText     string
}
