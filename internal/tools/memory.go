package tools

import (
	"context"
	"strings"

	"github.com/nextlevelbuilder/cogent/internal/store"
)

// SaveMemoryTool lets the model persist a long-term memory explicitly.
type SaveMemoryTool struct{}

func (t *SaveMemoryTool) Name() string     { return "save_memory" }
func (t *SaveMemoryTool) Category() string { return "memory" }
func (t *SaveMemoryTool) Description() string {
	return "Save a durable fact, preference, or lesson about the user for future conversations."
}

func (t *SaveMemoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The memory content, a single self-contained sentence",
			},
			"type": map[string]any{
				"type":        "string",
				"enum":        []string{"fact", "preference", "entity", "episodic"},
				"description": "Memory category (default fact)",
			},
			"importance": map[string]any{
				"type":        "number",
				"description": "How important this memory is, 0.0-1.0 (default 0.5)",
			},
		},
		"required": []string{"content"},
	}
}

func (t *SaveMemoryTool) Execute(ctx context.Context, input map[string]any, tc *Context) (*Result, error) {
	content, _ := input["content"].(string)
	if strings.TrimSpace(content) == "" {
		return ErrorResult("save_memory requires content"), nil
	}
	memType, _ := input["type"].(string)
	if memType == "" {
		memType = "fact"
	}
	importance := 0.5
	if v, ok := input["importance"].(float64); ok {
		importance = store.ClampImportance(v)
	}
	if tc == nil || tc.SaveMemory == nil {
		return ErrorResult("memory is not available in this context"), nil
	}
	if err := tc.SaveMemory(ctx, content, memType, importance); err != nil {
		return ErrorResult("failed to save memory: " + err.Error()), nil
	}
	return NewResult("Memory saved."), nil
}
