package cmd

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/cogent/internal/agent"
	"github.com/nextlevelbuilder/cogent/internal/config"
	"github.com/nextlevelbuilder/cogent/internal/memory"
	"github.com/nextlevelbuilder/cogent/internal/orchestrator"
	"github.com/nextlevelbuilder/cogent/internal/planner"
	"github.com/nextlevelbuilder/cogent/internal/providers"
	"github.com/nextlevelbuilder/cogent/internal/scheduler"
	"github.com/nextlevelbuilder/cogent/internal/skills"
	"github.com/nextlevelbuilder/cogent/internal/store"
	"github.com/nextlevelbuilder/cogent/internal/tools"
)

// app bundles the wired runtime for CLI commands. Commands that only
// read storage use openStorage; chat needs the full openApp.
type app struct {
	cfg       *config.Config
	store     *store.Store
	skills    *skills.Registry
	scheduler *scheduler.Scheduler
	orch      *orchestrator.Orchestrator
}

// openStorage wires config, store, and skills without requiring a
// provider. Callers must Close.
func openStorage() (*app, error) {
	cfg := config.Load()
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	reg, err := skills.NewRegistry(cfg.SkillsDir, cfg.SkillsSettings)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load skills: %w", err)
	}
	return &app{cfg: cfg, store: st, skills: reg}, nil
}

// openApp wires the full runtime, including the configured provider.
func openApp() (*app, error) {
	a, err := openStorage()
	if err != nil {
		return nil, err
	}

	prov, err := providers.New(a.cfg.Provider, a.cfg.APIKey, a.cfg.Model)
	if err != nil {
		a.Close()
		return nil, err
	}
	var fast, vision providers.Provider
	if a.cfg.FastModel != "" {
		if p, err := providers.New(a.cfg.Provider, a.cfg.FastAPIKey, a.cfg.FastModel); err == nil {
			fast = p
		}
	}
	if a.cfg.VisionModel != "" {
		if p, err := providers.New(a.cfg.Provider, a.cfg.VisionAPIKey, a.cfg.VisionModel); err == nil {
			vision = p
		}
	}

	var recallOpts []memory.RecallOption
	if emb, ok := prov.(providers.Embedder); ok {
		recallOpts = append(recallOpts, memory.WithEmbedFunc(emb.Embed))
	}
	recall := memory.NewRecall(a.store, recallOpts...)
	extractor := memory.NewExtractor(prov, recall, a.store, a.cfg.Model)

	contextMgr := agent.NewContextManager(agent.ContextConfig{
		Store:        a.store,
		Recall:       recall,
		Skills:       a.skills,
		Summarizer:   prov,
		SummaryModel: a.cfg.Model,
		SystemPrompt: a.cfg.SystemPrompt(),
	})

	reg := tools.NewRegistry()
	reg.Register(&tools.UseSkillTool{})
	reg.Register(&tools.SaveMemoryTool{})
	reg.Register(&tools.ScheduleTaskTool{})
	reg.Register(&tools.ListScheduledTool{})
	reg.Register(&tools.CancelTaskTool{})
	reg.Register(&tools.DelegateTool{})

	a.scheduler = scheduler.New()

	a.orch = orchestrator.New(orchestrator.Deps{
		Config:         a.cfg,
		Store:          a.store,
		Recall:         recall,
		Extractor:      extractor,
		ContextMgr:     contextMgr,
		Tools:          reg,
		Scheduler:      a.scheduler,
		Planner:        planner.New(prov, a.cfg.Model, plannerRun(a)),
		Skills:         a.skills,
		Provider:       prov,
		FastProvider:   fast,
		VisionProvider: vision,
	})
	if err := a.orch.StartHeartbeat(); err != nil {
		a.Close()
		return nil, fmt.Errorf("start heartbeat: %w", err)
	}
	return a, nil
}

// plannerRun adapts the orchestrator into the planner's step runner.
func plannerRun(a *app) planner.RunStepFunc {
	return func(ctx context.Context, conversationID, prompt string) (string, error) {
		return a.orch.ProcessInput(ctx, conversationID, providers.TextMessage("user", prompt), nil)
	}
}

func (a *app) Close() {
	if a.scheduler != nil {
		a.scheduler.StopAll()
	}
	if a.store != nil {
		a.store.Close()
	}
}
