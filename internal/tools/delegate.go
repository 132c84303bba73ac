package tools

import (
	"context"
	"strings"
)

// DelegateTool hands a self-contained task to a sub-agent with its own
// conversation and a reduced iteration budget. Sub-agents do not receive
// this tool, so delegation is single-level.
type DelegateTool struct{}

func (t *DelegateTool) Name() string     { return "delegate" }
func (t *DelegateTool) Category() string { return "agent" }
func (t *DelegateTool) Description() string {
	return "Delegate a self-contained task to a background sub-agent and return its final answer. Use for research or multi-step work that doesn't need the current conversation's context."
}

func (t *DelegateTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "Complete task description including all needed context",
			},
		},
		"required": []string{"task"},
	}
}

func (t *DelegateTool) Execute(ctx context.Context, input map[string]any, tc *Context) (*Result, error) {
	task, _ := input["task"].(string)
	if strings.TrimSpace(task) == "" {
		return ErrorResult("delegate requires a task"), nil
	}
	if tc == nil || tc.DelegateTask == nil {
		return ErrorResult("delegation is not available in this context"), nil
	}
	answer, err := tc.DelegateTask(ctx, task)
	if err != nil {
		return ErrorResult("delegated task failed: " + err.Error()), nil
	}
	return NewResult(answer), nil
}
