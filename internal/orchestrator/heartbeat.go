package orchestrator

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/cogent/internal/agent"
	"github.com/nextlevelbuilder/cogent/internal/providers"
	"github.com/nextlevelbuilder/cogent/internal/scheduler"
)

const heartbeatTaskName = "heartbeat"

const heartbeatPrompt = `This is a background heartbeat check. Review your scheduled tasks and recent context. If nothing needs attention, reply with a single word: OK.`

// StartHeartbeat registers the recurring heartbeat task when enabled.
// Each fire runs a one-iteration loop whose result is dropped; it keeps
// the scheduler exercised and surfaces provider outages in the logs.
func (o *Orchestrator) StartHeartbeat() error {
	if !o.cfg.HeartbeatEnabled || o.scheduler == nil {
		return nil
	}
	_, err := o.scheduler.Create(scheduler.CreateRequest{
		Name:    heartbeatTaskName,
		Cron:    o.cfg.HeartbeatCron,
		Action:  heartbeatPrompt,
		Enabled: true,
	})
	return err
}

// onTaskFire runs a fired task's action as an agent prompt. Heartbeats
// get a single iteration and their result is discarded; regular tasks
// run a full turn in their own conversation.
func (o *Orchestrator) onTaskFire(task scheduler.Task) {
	ctx := context.Background()

	iterations := o.cfg.MaxIterations
	if task.Name == heartbeatTaskName {
		iterations = 1
	}

	loop := agent.NewLoop(agent.LoopConfig{
		Provider:      o.provider,
		Model:         o.cfg.Model,
		MaxIterations: iterations,
		Store:         o.store,
		Tools:         o.tools,
		ContextMgr:    o.contextMgr,
		ToolCtx:       o.mergedToolContext(nil),
		TempDir:       o.cfg.TempDir,
		Retryable:     o.retryable,
	})

	result, err := loop.Run(ctx, "task-"+uuid.NewString(), providers.TextMessage("user", task.Action))
	if err != nil {
		slog.Warn("scheduled task run failed", "task", task.Name, "error", err)
		return
	}
	if task.Name != heartbeatTaskName {
		slog.Info("scheduled task completed", "task", task.Name, "result", truncateResult(result))
	}
}

func truncateResult(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
