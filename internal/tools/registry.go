package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/cogent/internal/providers"
)

// Registry holds named tools and dispatches calls.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	r.tools[t.Name()] = t
	r.mu.Unlock()
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.tools, name)
	r.mu.Unlock()
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns registered tool names sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the LLM-facing view of all tools.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, providers.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute looks up and runs a tool. When the name is unknown but matches
// a registered skill id, the call transparently reroutes to use_skill.
// Runtime errors and panics become error results, never failures.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any, tc *Context) (result *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool panicked", "tool", name, "panic", rec)
			result = ErrorResult(fmt.Sprintf("tool %s crashed: %v", name, rec))
		}
	}()

	tool, ok := r.Get(name)
	if !ok {
		// A model sometimes calls a skill as if it were a tool.
		if tc != nil && tc.SkillRegistry != nil {
			if _, found := tc.SkillRegistry.Get(name); found {
				if useSkill, haveTool := r.Get(UseSkillName); haveTool {
					return r.execute(ctx, useSkill, map[string]any{"name": name}, tc)
				}
			}
		}
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}
	return r.execute(ctx, tool, input, tc)
}

func (r *Registry) execute(ctx context.Context, tool Tool, input map[string]any, tc *Context) *Result {
	res, err := tool.Execute(ctx, input, tc)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if res == nil {
		return NewResult("")
	}
	return res
}
