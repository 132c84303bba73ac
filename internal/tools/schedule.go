package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/cogent/internal/scheduler"
)

// ScheduleTaskTool creates recurring cron tasks and one-shot reminders.
type ScheduleTaskTool struct{}

func (t *ScheduleTaskTool) Name() string     { return "schedule_task" }
func (t *ScheduleTaskTool) Category() string { return "scheduler" }
func (t *ScheduleTaskTool) Description() string {
	return "Schedule a recurring task (5-field cron expression, local time) or a one-shot reminder (delay in seconds). The action text is executed as an agent prompt when the task fires."
}

func (t *ScheduleTaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Short task name",
			},
			"cron": map[string]any{
				"type":        "string",
				"description": "Cron expression for recurring tasks, e.g. '0 9 * * 1-5'",
			},
			"delay_seconds": map[string]any{
				"type":        "number",
				"description": "Delay for a one-shot reminder; mutually exclusive with cron",
			},
			"action": map[string]any{
				"type":        "string",
				"description": "What to do when the task fires",
			},
		},
		"required": []string{"name", "action"},
	}
}

func (t *ScheduleTaskTool) Execute(_ context.Context, input map[string]any, tc *Context) (*Result, error) {
	if tc == nil || tc.Scheduler == nil {
		return ErrorResult("scheduler is not available in this context"), nil
	}
	name, _ := input["name"].(string)
	action, _ := input["action"].(string)
	if strings.TrimSpace(name) == "" || strings.TrimSpace(action) == "" {
		return ErrorResult("schedule_task requires name and action"), nil
	}

	cron, _ := input["cron"].(string)
	oneShot := false
	if delay, ok := input["delay_seconds"].(float64); ok && delay > 0 {
		if cron != "" {
			return ErrorResult("provide either cron or delay_seconds, not both"), nil
		}
		cron = scheduler.OneShotCron(time.Now(), int(delay))
		oneShot = true
	}
	if cron == "" {
		return ErrorResult("schedule_task requires cron or delay_seconds"), nil
	}

	task, err := tc.Scheduler.Create(scheduler.CreateRequest{
		Name:    name,
		Cron:    cron,
		Action:  action,
		Enabled: true,
		OneShot: oneShot,
	})
	if err != nil {
		return ErrorResult("failed to schedule: " + err.Error()), nil
	}

	next := "unknown"
	if task.NextRunAt != nil {
		next = task.NextRunAt.Format(time.RFC3339)
	}
	return NewResult(fmt.Sprintf("Scheduled task %q (id %s), next run %s.", task.Name, task.ID, next)), nil
}

// ListScheduledTool lists current tasks.
type ListScheduledTool struct{}

func (t *ListScheduledTool) Name() string        { return "list_scheduled" }
func (t *ListScheduledTool) Category() string    { return "scheduler" }
func (t *ListScheduledTool) Description() string { return "List all scheduled tasks and reminders." }

func (t *ListScheduledTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *ListScheduledTool) Execute(_ context.Context, _ map[string]any, tc *Context) (*Result, error) {
	if tc == nil || tc.Scheduler == nil {
		return ErrorResult("scheduler is not available in this context"), nil
	}
	tasks := tc.Scheduler.List()
	if len(tasks) == 0 {
		return NewResult("No scheduled tasks."), nil
	}
	var sb strings.Builder
	for _, task := range tasks {
		next := "-"
		if task.NextRunAt != nil {
			next = task.NextRunAt.Format(time.RFC3339)
		}
		kind := "cron"
		if task.OneShot {
			kind = "one-shot"
		}
		fmt.Fprintf(&sb, "- %s [%s] (%s, %s) next: %s\n", task.Name, task.ID, kind, task.Cron, next)
	}
	return NewResult(sb.String()), nil
}

// CancelTaskTool deletes a scheduled task by id.
type CancelTaskTool struct{}

func (t *CancelTaskTool) Name() string        { return "cancel_task" }
func (t *CancelTaskTool) Category() string    { return "scheduler" }
func (t *CancelTaskTool) Description() string { return "Cancel a scheduled task or reminder by id." }

func (t *CancelTaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{"type": "string", "description": "Task id to cancel"},
		},
		"required": []string{"id"},
	}
}

func (t *CancelTaskTool) Execute(_ context.Context, input map[string]any, tc *Context) (*Result, error) {
	if tc == nil || tc.Scheduler == nil {
		return ErrorResult("scheduler is not available in this context"), nil
	}
	id, _ := input["id"].(string)
	if !tc.Scheduler.Delete(id) {
		return ErrorResult("task not found: " + id), nil
	}
	return NewResult("Task cancelled."), nil
}
