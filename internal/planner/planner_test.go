package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/cogent/internal/providers"
)

// scriptedProvider returns a fixed response for plan generation.
type scriptedProvider struct {
	content string
	err     error
}

func (s *scriptedProvider) Name() string         { return "scripted" }
func (s *scriptedProvider) DefaultModel() string { return "scripted-model" }

func (s *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &providers.ChatResponse{Content: s.content}, nil
}

func (s *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return s.Chat(ctx, req)
}

// recordingRun records step executions and returns canned output.
type recordingRun struct {
	mu      sync.Mutex
	prompts []string
	convIDs []string
	fail    map[int]bool // fail the nth call (0-based)
	calls   int
}

func (r *recordingRun) fn() RunStepFunc {
	return func(ctx context.Context, conversationID, prompt string) (string, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		n := r.calls
		r.calls++
		r.prompts = append(r.prompts, prompt)
		r.convIDs = append(r.convIDs, conversationID)
		if r.fail[n] {
			return "", errors.New("step blew up")
		}
		return fmt.Sprintf("result-%d", n), nil
	}
}

const threeStepPlan = `[
	{"description":"gather data","toolHint":"web_search"},
	{"description":"analyze data","dependsOn":[0]},
	{"description":"write summary","dependsOn":[0,1]}
]`

func TestCreatePlanParsesSteps(t *testing.T) {
	tests := []struct {
		name    string
		content string
		steps   int
	}{
		{"plain array", threeStepPlan, 3},
		{"fenced array", "```json\n" + threeStepPlan + "\n```", 3},
		{"steps key", `{"steps":` + threeStepPlan + `}`, 3},
		{"unparseable falls back to one step", "I think you should first...", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(&scriptedProvider{content: tt.content}, "", nil)
			plan, err := p.CreatePlan(context.Background(), "do the thing", "")
			if err != nil {
				t.Fatal(err)
			}
			if len(plan.Steps) != tt.steps {
				t.Fatalf("got %d steps, want %d", len(plan.Steps), tt.steps)
			}
			if plan.Status != StatusPending {
				t.Errorf("status = %s", plan.Status)
			}
			for _, s := range plan.Steps {
				if s.ID == "" || s.Status != StatusPending {
					t.Errorf("step not initialized: %+v", s)
				}
			}
		})
	}
}

func TestCreatePlanRemapsDependencyIndices(t *testing.T) {
	p := New(&scriptedProvider{content: threeStepPlan}, "", nil)
	plan, err := p.CreatePlan(context.Background(), "goal", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Steps[0].DependsOn) != 0 {
		t.Errorf("step 0 deps: %v", plan.Steps[0].DependsOn)
	}
	if len(plan.Steps[1].DependsOn) != 1 || plan.Steps[1].DependsOn[0] != plan.Steps[0].ID {
		t.Errorf("step 1 deps not remapped: %v", plan.Steps[1].DependsOn)
	}
	if len(plan.Steps[2].DependsOn) != 2 {
		t.Errorf("step 2 deps: %v", plan.Steps[2].DependsOn)
	}
}

func TestExecuteNextRespectsDependencies(t *testing.T) {
	run := &recordingRun{}
	p := New(&scriptedProvider{content: threeStepPlan}, "", run.fn())
	plan, err := p.CreatePlan(context.Background(), "summarize the data", "")
	if err != nil {
		t.Fatal(err)
	}

	// Round 1: only the dependency-free step is ready.
	executed, err := p.ExecuteNext(context.Background(), plan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(executed) != 1 || executed[0].Description != "gather data" {
		t.Fatalf("round 1 executed: %+v", executed)
	}
	if executed[0].Status != StatusCompleted {
		t.Errorf("step status = %s", executed[0].Status)
	}
	// Step ran in its own conversation "<planID>-<stepID>".
	if run.convIDs[0] != plan.ID+"-"+executed[0].ID {
		t.Errorf("conversation id = %q", run.convIDs[0])
	}

	// Round 2: the analyze step unblocks; its prompt carries the
	// dependency result and the goal.
	executed, err = p.ExecuteNext(context.Background(), plan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(executed) != 1 || executed[0].Description != "analyze data" {
		t.Fatalf("round 2 executed: %+v", executed)
	}
	if !strings.Contains(run.prompts[1], "result-0") || !strings.Contains(run.prompts[1], "summarize the data") {
		t.Errorf("step prompt missing context: %q", run.prompts[1])
	}

	// Round 3: final step; plan completes with joined results.
	if _, err := p.ExecuteNext(context.Background(), plan.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := p.Get(plan.ID)
	if got.Status != StatusCompleted {
		t.Errorf("plan status = %s", got.Status)
	}
	if got.CompletedAt == nil || got.Result == "" {
		t.Errorf("completion not recorded: %+v", got)
	}
}

func TestExecuteNextFailureMarksPlanFailed(t *testing.T) {
	run := &recordingRun{fail: map[int]bool{0: true}}
	p := New(&scriptedProvider{content: threeStepPlan}, "", run.fn())
	plan, _ := p.CreatePlan(context.Background(), "goal", "")

	executed, err := p.ExecuteNext(context.Background(), plan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if executed[0].Status != StatusFailed || executed[0].Error == "" {
		t.Errorf("failed step: %+v", executed[0])
	}
	got, _ := p.Get(plan.ID)
	if got.Status != StatusFailed {
		t.Errorf("plan status = %s, want failed", got.Status)
	}
}

func TestReplanReplacesRemainingSteps(t *testing.T) {
	run := &recordingRun{}
	prov := &scriptedProvider{content: threeStepPlan}
	p := New(prov, "", run.fn())
	plan, _ := p.CreatePlan(context.Background(), "goal", "")

	// Complete the first step, then replan the rest.
	if _, err := p.ExecuteNext(context.Background(), plan.ID); err != nil {
		t.Fatal(err)
	}
	prov.content = `[{"description":"single new step"}]`
	revised, err := p.Replan(context.Background(), plan.ID, "requirements changed")
	if err != nil {
		t.Fatal(err)
	}

	var completed, pending int
	for _, s := range revised.Steps {
		switch s.Status {
		case StatusCompleted:
			completed++
		case StatusPending:
			pending++
		}
	}
	if completed != 1 || pending != 1 {
		t.Errorf("after replan: %d completed, %d pending (want 1, 1)", completed, pending)
	}
}

func TestCancel(t *testing.T) {
	p := New(&scriptedProvider{content: threeStepPlan}, "", nil)
	plan, _ := p.CreatePlan(context.Background(), "goal", "")

	if err := p.Cancel(plan.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := p.Get(plan.ID)
	if got.Status != StatusCancelled {
		t.Errorf("plan status = %s", got.Status)
	}
	for _, s := range got.Steps {
		if s.Status != StatusCancelled {
			t.Errorf("step %s status = %s", s.ID, s.Status)
		}
	}
	if _, err := p.ExecuteNext(context.Background(), plan.ID); err == nil {
		t.Error("ExecuteNext should refuse a cancelled plan")
	}
	if err := p.Cancel("missing"); err == nil {
		t.Error("Cancel of unknown plan should error")
	}
}

func TestListFiltersByStatus(t *testing.T) {
	p := New(&scriptedProvider{content: threeStepPlan}, "", nil)
	a, _ := p.CreatePlan(context.Background(), "a", "")
	b, _ := p.CreatePlan(context.Background(), "b", "")
	_ = a
	if err := p.Cancel(b.ID); err != nil {
		t.Fatal(err)
	}

	if got := len(p.List("")); got != 2 {
		t.Errorf("List(all) = %d", got)
	}
	if got := len(p.List(StatusPending)); got != 1 {
		t.Errorf("List(pending) = %d", got)
	}
	if got := len(p.List(StatusCancelled)); got != 1 {
		t.Errorf("List(cancelled) = %d", got)
	}
}
