// Package planner decomposes goals into dependency-ordered steps and
// executes them through injected agent runs.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/cogent/internal/providers"
)

// Plan and step statuses.
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Step is one unit of a plan. A step activates only once every
// dependency has completed.
type Step struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	DependsOn   []string `json:"dependsOn,omitempty"`
	ToolHint    string   `json:"toolHint,omitempty"`
	Result      string   `json:"result,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Plan is a DAG of steps toward a goal.
type Plan struct {
	ID          string     `json:"id"`
	Goal        string     `json:"goal"`
	Status      string     `json:"status"`
	Steps       []*Step    `json:"steps"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Result      string     `json:"result,omitempty"`
}

// RunStepFunc executes one step prompt in its own conversation and
// returns the agent's final text. Injected by the orchestrator to avoid
// a planner→agent dependency.
type RunStepFunc func(ctx context.Context, conversationID, prompt string) (string, error)

// Planner owns the plan table.
type Planner struct {
	provider providers.Provider
	model    string
	run      RunStepFunc
	logger   *slog.Logger

	mu    sync.Mutex
	plans map[string]*Plan
}

// New builds a planner. model may be empty for the provider default.
func New(p providers.Provider, model string, run RunStepFunc) *Planner {
	return &Planner{
		provider: p,
		model:    model,
		run:      run,
		logger:   slog.Default().With("component", "planner"),
		plans:    make(map[string]*Plan),
	}
}

const planPrompt = `Decompose this goal into 2-7 concrete, independently executable steps.

Goal: %s
%s
Respond with ONLY a JSON array:
[{"description":"...","dependsOn":[indices of prerequisite steps],"toolHint":"optional tool name"}]`

type rawStep struct {
	Description string `json:"description"`
	DependsOn   []int  `json:"dependsOn"`
	ToolHint    string `json:"toolHint"`
}

// CreatePlan asks the LLM to decompose a goal. Unparseable output falls
// back to a single-step plan built from the raw text.
func (p *Planner) CreatePlan(ctx context.Context, goal, extra string) (*Plan, error) {
	var contextLine string
	if extra != "" {
		contextLine = "Context: " + extra + "\n"
	}

	temp := 0.3
	resp, err := p.provider.Chat(ctx, providers.ChatRequest{
		Messages:    []providers.Message{providers.TextMessage("user", fmt.Sprintf(planPrompt, goal, contextLine))},
		Model:       p.model,
		Temperature: &temp,
		MaxTokens:   2048,
	})
	if err != nil {
		return nil, fmt.Errorf("plan generation failed: %w", err)
	}

	steps := p.parseSteps(resp.Content)

	plan := &Plan{
		ID:        uuid.NewString(),
		Goal:      goal,
		Status:    StatusPending,
		Steps:     steps,
		CreatedAt: time.Now().UTC(),
	}

	p.mu.Lock()
	p.plans[plan.ID] = plan
	p.mu.Unlock()

	p.logger.Info("plan created", "id", plan.ID, "steps", len(steps))
	return plan, nil
}

// parseSteps decodes the LLM's step array, unwrapping markdown fences or
// an object with a "steps" key, and remaps indices to step ids.
func (p *Planner) parseSteps(raw string) []*Step {
	cleaned := stripFences(raw)

	var rawSteps []rawStep
	if err := json.Unmarshal([]byte(cleaned), &rawSteps); err != nil {
		var wrapper struct {
			Steps []rawStep `json:"steps"`
		}
		if err2 := json.Unmarshal([]byte(cleaned), &wrapper); err2 == nil && len(wrapper.Steps) > 0 {
			rawSteps = wrapper.Steps
		}
	}

	if len(rawSteps) == 0 {
		p.logger.Warn("unparseable plan output, using single-step fallback")
		text := strings.TrimSpace(raw)
		if len(text) > 300 {
			text = text[:300]
		}
		return []*Step{{ID: uuid.NewString(), Description: text, Status: StatusPending}}
	}

	ids := make([]string, len(rawSteps))
	for i := range rawSteps {
		ids[i] = uuid.NewString()
	}
	steps := make([]*Step, len(rawSteps))
	for i, rs := range rawSteps {
		var deps []string
		for _, idx := range rs.DependsOn {
			if idx >= 0 && idx < len(ids) && idx != i {
				deps = append(deps, ids[idx])
			}
		}
		steps[i] = &Step{
			ID:          ids[i],
			Description: rs.Description,
			Status:      StatusPending,
			DependsOn:   deps,
			ToolHint:    rs.ToolHint,
		}
	}
	return steps
}

// ExecuteNext runs every pending step whose dependencies have all
// completed, sequentially, each in its own conversation
// "<planID>-<stepID>". It returns the executed steps.
func (p *Planner) ExecuteNext(ctx context.Context, planID string) ([]*Step, error) {
	p.mu.Lock()
	plan, ok := p.plans[planID]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("plan not found: %s", planID)
	}
	if plan.Status == StatusCancelled {
		p.mu.Unlock()
		return nil, fmt.Errorf("plan is cancelled")
	}

	done := make(map[string]bool)
	results := make(map[string]string)
	for _, s := range plan.Steps {
		if s.Status == StatusCompleted {
			done[s.ID] = true
			results[s.ID] = s.Result
		}
	}
	var ready []*Step
	for _, s := range plan.Steps {
		if s.Status != StatusPending {
			continue
		}
		ok := true
		for _, dep := range s.DependsOn {
			if !done[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, s)
			s.Status = StatusActive
		}
	}
	if len(ready) > 0 {
		plan.Status = StatusActive
	}
	goal := plan.Goal
	p.mu.Unlock()

	for _, step := range ready {
		prompt := p.stepPrompt(goal, step, results)
		convID := planID + "-" + step.ID

		text, err := p.run(ctx, convID, prompt)

		p.mu.Lock()
		if err != nil {
			step.Status = StatusFailed
			step.Error = err.Error()
			p.logger.Warn("plan step failed", "plan", planID, "step", step.ID, "error", err)
		} else {
			step.Status = StatusCompleted
			step.Result = text
			results[step.ID] = text
		}
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.updateStatusLocked(plan)
	p.mu.Unlock()

	return ready, nil
}

func (p *Planner) stepPrompt(goal string, step *Step, results map[string]string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Overall goal: %s\n\nYour task: %s\n", goal, step.Description)
	if step.ToolHint != "" {
		fmt.Fprintf(&sb, "Suggested tool: %s\n", step.ToolHint)
	}
	if len(step.DependsOn) > 0 {
		sb.WriteString("\nResults from prerequisite steps:\n")
		for _, dep := range step.DependsOn {
			if r, ok := results[dep]; ok && r != "" {
				fmt.Fprintf(&sb, "- %s\n", r)
			}
		}
	}
	sb.WriteString("\nComplete the task and report the outcome concisely.")
	return sb.String()
}

// updateStatusLocked applies the plan status rules: completed when every
// step is terminal and none failed; failed when any step failed; active
// otherwise.
func (p *Planner) updateStatusLocked(plan *Plan) {
	if plan.Status == StatusCancelled {
		return
	}
	allTerminal := true
	anyFailed := false
	for _, s := range plan.Steps {
		switch s.Status {
		case StatusFailed:
			anyFailed = true
		case StatusCompleted, StatusCancelled:
		default:
			allTerminal = false
		}
	}
	switch {
	case anyFailed:
		plan.Status = StatusFailed
	case allTerminal:
		plan.Status = StatusCompleted
		now := time.Now().UTC()
		plan.CompletedAt = &now
		var parts []string
		for _, s := range plan.Steps {
			if s.Result != "" {
				parts = append(parts, s.Result)
			}
		}
		plan.Result = strings.Join(parts, "\n")
	default:
		plan.Status = StatusActive
	}
}

const replanPrompt = `A plan needs revision.

Goal: %s
Reason for replanning: %s

Completed steps:
%s
Failed steps:
%s
Remaining steps (to be replaced):
%s
Respond with ONLY a JSON array of replacement steps:
[{"description":"...","dependsOn":[indices within this new array],"toolHint":"optional"}]`

// Replan replaces all pending and active steps with a new LLM-generated
// remainder, keeping completed and failed steps intact.
func (p *Planner) Replan(ctx context.Context, planID, reason string) (*Plan, error) {
	p.mu.Lock()
	plan, ok := p.plans[planID]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("plan not found: %s", planID)
	}
	var completed, failed, remaining []string
	for _, s := range plan.Steps {
		switch s.Status {
		case StatusCompleted:
			completed = append(completed, "- "+s.Description)
		case StatusFailed:
			failed = append(failed, fmt.Sprintf("- %s (%s)", s.Description, s.Error))
		case StatusPending, StatusActive:
			remaining = append(remaining, "- "+s.Description)
		}
	}
	goal := plan.Goal
	p.mu.Unlock()

	prompt := fmt.Sprintf(replanPrompt, goal, reason,
		orNone(completed), orNone(failed), orNone(remaining))

	temp := 0.3
	resp, err := p.provider.Chat(ctx, providers.ChatRequest{
		Messages:    []providers.Message{providers.TextMessage("user", prompt)},
		Model:       p.model,
		Temperature: &temp,
		MaxTokens:   2048,
	})
	if err != nil {
		return nil, fmt.Errorf("replan generation failed: %w", err)
	}
	newSteps := p.parseSteps(resp.Content)

	p.mu.Lock()
	defer p.mu.Unlock()
	var kept []*Step
	for _, s := range plan.Steps {
		if s.Status == StatusCompleted || s.Status == StatusFailed {
			kept = append(kept, s)
		}
	}
	plan.Steps = append(kept, newSteps...)
	plan.Status = StatusActive
	p.logger.Info("plan revised", "id", planID, "new_steps", len(newSteps))
	return plan, nil
}

// Cancel marks the plan and its nonterminal steps cancelled.
func (p *Planner) Cancel(planID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	plan, ok := p.plans[planID]
	if !ok {
		return fmt.Errorf("plan not found: %s", planID)
	}
	plan.Status = StatusCancelled
	for _, s := range plan.Steps {
		if s.Status == StatusPending || s.Status == StatusActive {
			s.Status = StatusCancelled
		}
	}
	return nil
}

// Get returns a plan by id.
func (p *Planner) Get(planID string) (*Plan, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	plan, ok := p.plans[planID]
	return plan, ok
}

// List returns plans, optionally filtered by status.
func (p *Planner) List(status string) []*Plan {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*Plan
	for _, plan := range p.plans {
		if status == "" || plan.Status == status {
			out = append(out, plan)
		}
	}
	return out
}

func stripFences(s string) string {
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

func orNone(lines []string) string {
	if len(lines) == 0 {
		return "(none)\n"
	}
	return strings.Join(lines, "\n") + "\n"
}
