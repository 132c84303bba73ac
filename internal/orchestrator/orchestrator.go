// Package orchestrator owns sessions, routes input to agent loops, and
// wires the services tools see during execution.
package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/cogent/internal/agent"
	"github.com/nextlevelbuilder/cogent/internal/config"
	"github.com/nextlevelbuilder/cogent/internal/memory"
	"github.com/nextlevelbuilder/cogent/internal/planner"
	"github.com/nextlevelbuilder/cogent/internal/providers"
	"github.com/nextlevelbuilder/cogent/internal/scheduler"
	"github.com/nextlevelbuilder/cogent/internal/skills"
	"github.com/nextlevelbuilder/cogent/internal/store"
	"github.com/nextlevelbuilder/cogent/internal/tools"
)

const (
	// subAgentIterations bounds delegated tasks.
	subAgentIterations = 8
	// extractEvery triggers memory extraction on the 1st turn and every
	// Nth turn thereafter.
	extractEvery = 3
	// titleMaxChars caps session titles derived from the first message.
	titleMaxChars = 50
	// memoryDedupThreshold matches the extractor's similarity cutoff.
	memoryDedupThreshold = 0.75
)

// Orchestrator is the top-level coordinator.
type Orchestrator struct {
	cfg        *config.Config
	store      *store.Store
	recall     *memory.Recall
	extractor  *memory.Extractor
	contextMgr *agent.ContextManager
	tools      *tools.Registry
	scheduler  *scheduler.Scheduler
	planner    *planner.Planner
	skills     *skills.Registry

	provider       providers.Provider // default route
	fastProvider   providers.Provider // optional: simple chat
	visionProvider providers.Provider // optional: image input

	retryable map[string]bool

	mu          sync.Mutex
	sessions    map[string]*store.Session
	activeLoops map[string]*agent.Loop
	turnCounts  map[string]int

	logger *slog.Logger
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Config         *config.Config
	Store          *store.Store
	Recall         *memory.Recall
	Extractor      *memory.Extractor
	ContextMgr     *agent.ContextManager
	Tools          *tools.Registry
	Scheduler      *scheduler.Scheduler
	Planner        *planner.Planner
	Skills         *skills.Registry
	Provider       providers.Provider
	FastProvider   providers.Provider
	VisionProvider providers.Provider
}

// New builds an orchestrator and registers the scheduler fire handler.
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:            d.Config,
		store:          d.Store,
		recall:         d.Recall,
		extractor:      d.Extractor,
		contextMgr:     d.ContextMgr,
		tools:          d.Tools,
		scheduler:      d.Scheduler,
		planner:        d.Planner,
		skills:         d.Skills,
		provider:       d.Provider,
		fastProvider:   d.FastProvider,
		visionProvider: d.VisionProvider,
		sessions:       make(map[string]*store.Session),
		activeLoops:    make(map[string]*agent.Loop),
		turnCounts:     make(map[string]int),
		logger:         slog.Default().With("component", "orchestrator"),
	}
	if len(d.Config.RetryableTools) > 0 {
		o.retryable = make(map[string]bool, len(d.Config.RetryableTools))
		for _, name := range d.Config.RetryableTools {
			o.retryable[name] = true
		}
	}
	if o.scheduler != nil {
		o.scheduler.SetOnTaskFire(o.onTaskFire)
	}
	return o
}

// ProcessInput runs one turn to completion and returns the terminal
// assistant message.
func (o *Orchestrator) ProcessInput(ctx context.Context, sessionID string, input providers.Message, userCtx *tools.Context) (string, error) {
	events, err := o.ProcessInputStream(ctx, sessionID, input, userCtx)
	if err != nil {
		return "", err
	}
	var final string
	for ev := range events {
		if ev.Type == agent.EventResponseComplete {
			final = ev.Message
		}
	}
	return final, nil
}

// ProcessInputStream runs one turn, streaming the loop's events. The
// returned channel closes when the turn is terminal; post-turn work
// (loop cleanup, temp sweep, extraction, title) happens before close.
func (o *Orchestrator) ProcessInputStream(ctx context.Context, sessionID string, input providers.Message, userCtx *tools.Context) (<-chan agent.Event, error) {
	sess, err := o.touchSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	convID := sess.ConversationID

	toolCtx := o.mergedToolContext(userCtx)
	provider := o.routeProvider(input)

	loop := agent.NewLoop(agent.LoopConfig{
		Provider:      provider,
		Model:         o.cfg.Model,
		MaxIterations: o.cfg.MaxIterations,
		Store:         o.store,
		Tools:         o.tools,
		ContextMgr:    o.contextMgr,
		ToolCtx:       toolCtx,
		TempDir:       o.cfg.TempDir,
		Retryable:     o.retryable,
	})

	o.mu.Lock()
	o.activeLoops[sessionID] = loop
	o.mu.Unlock()

	inner := loop.RunStream(ctx, convID, input)
	out := make(chan agent.Event, 64)
	go func() {
		defer close(out)
		defer o.afterTurn(sessionID, convID, input)
		for ev := range inner {
			out <- ev
		}
	}()
	return out, nil
}

// afterTurn removes the loop, sweeps ephemeral temp scripts, bumps the
// turn counter, fires extraction, and sets the session title.
func (o *Orchestrator) afterTurn(sessionID, convID string, input providers.Message) {
	o.mu.Lock()
	delete(o.activeLoops, sessionID)
	o.turnCounts[convID]++
	count := o.turnCounts[convID]
	o.mu.Unlock()

	o.sweepTempScripts()

	if o.extractor != nil && (count == 1 || count%extractEvery == 0) {
		go o.extractor.Extract(context.Background(), convID)
	}

	o.maybeSetTitle(sessionID, input)
}

// StopSession asks the session's active loop to stop cooperatively.
func (o *Orchestrator) StopSession(sessionID string) bool {
	o.mu.Lock()
	loop, ok := o.activeLoops[sessionID]
	o.mu.Unlock()
	if ok {
		loop.Stop()
	}
	return ok
}

// CloseSession stops any active loop and deletes session state.
func (o *Orchestrator) CloseSession(ctx context.Context, sessionID string) error {
	o.StopSession(sessionID)
	o.mu.Lock()
	sess := o.sessions[sessionID]
	delete(o.sessions, sessionID)
	if sess != nil {
		delete(o.turnCounts, sess.ConversationID)
	}
	o.mu.Unlock()
	if sess != nil {
		o.contextMgr.InvalidateConversation(sess.ConversationID)
	}
	return o.store.DeleteSession(ctx, sessionID)
}

// Sessions lists persisted sessions.
func (o *Orchestrator) Sessions(ctx context.Context) ([]store.Session, error) {
	return o.store.ListSessions(ctx)
}

// ---- internals ----

// touchSession returns the cached session, loading or creating it, and
// bumps lastActiveAt best-effort.
func (o *Orchestrator) touchSession(ctx context.Context, sessionID string) (*store.Session, error) {
	o.mu.Lock()
	sess, ok := o.sessions[sessionID]
	o.mu.Unlock()

	if !ok {
		loaded, err := o.store.GetSessionByID(ctx, sessionID)
		switch {
		case err == nil:
			sess = loaded
		case err == store.ErrNotFound:
			sess = &store.Session{
				ID:             sessionID,
				ConversationID: uuid.NewString(),
				CreatedAt:      time.Now().UTC(),
			}
		default:
			return nil, err
		}
		o.mu.Lock()
		o.sessions[sessionID] = sess
		o.mu.Unlock()
	}

	sess.LastActiveAt = time.Now().UTC()
	if err := o.store.SaveSession(ctx, sess); err != nil {
		o.logger.Warn("failed to persist session", "session", sessionID, "error", err)
	}
	return sess, nil
}

// mergedToolContext combines transport callbacks with orchestrator-owned
// services.
func (o *Orchestrator) mergedToolContext(userCtx *tools.Context) tools.Context {
	var tc tools.Context
	if userCtx != nil {
		tc = *userCtx
	}
	if tc.SentFiles == nil {
		tc.SentFiles = &tools.SentFiles{}
	}
	tc.SaveMemory = o.saveMemoryDedup
	tc.Scheduler = o.scheduler
	tc.SkillRegistry = o.skills
	tc.Planner = o.planner
	tc.DelegateTask = o.delegateTask(tc)
	return tc
}

// saveMemoryDedup persists a memory unless a close duplicate exists.
func (o *Orchestrator) saveMemoryDedup(ctx context.Context, content, memType string, importance float64) error {
	if !store.ValidMemoryType(memType) {
		memType = store.MemoryFact
	}
	if importance == 0 {
		importance = 0.5
	}
	existing, err := o.recall.FindSimilar(ctx, content, memType, memoryDedupThreshold)
	if err == nil && existing != nil {
		o.logger.Debug("memory dedup hit", "existing", existing.ID)
		return nil
	}
	return o.store.AddMemory(ctx, &store.MemoryEntry{
		Type:       memType,
		Content:    content,
		Importance: store.ClampImportance(importance),
		Embedding:  o.recall.Embed(ctx, content),
	})
}

// delegateTask returns the sub-agent spawner for this turn's context.
// Sub-agents get their own conversation, a reduced budget, no further
// delegation, and never prompt the user; notify/sendFile pass through
// only when configured.
func (o *Orchestrator) delegateTask(parent tools.Context) func(ctx context.Context, task string) (string, error) {
	return func(ctx context.Context, task string) (string, error) {
		subCtx := tools.Context{
			SentFiles:     parent.SentFiles,
			SaveMemory:    o.saveMemoryDedup,
			Scheduler:     o.scheduler,
			SkillRegistry: o.skills,
			Planner:       o.planner,
		}
		if o.cfg.DelegatePassthrough {
			subCtx.NotifyUser = parent.NotifyUser
			subCtx.SendFile = parent.SendFile
		}

		loop := agent.NewLoop(agent.LoopConfig{
			Provider:      o.provider,
			Model:         o.cfg.Model,
			MaxIterations: subAgentIterations,
			Store:         o.store,
			Tools:         o.tools,
			ContextMgr:    o.contextMgr,
			ToolCtx:       subCtx,
			TempDir:       o.cfg.TempDir,
			Retryable:     o.retryable,
		})
		return loop.Run(ctx, uuid.NewString(), providers.TextMessage("user", task))
	}
}

// routeProvider picks vision for image input, fast for simple chat,
// else the default.
func (o *Orchestrator) routeProvider(input providers.Message) providers.Provider {
	if input.HasImages() && o.visionProvider != nil {
		return o.visionProvider
	}
	if o.fastProvider != nil && isSimpleChat(input.Text()) {
		return o.fastProvider
	}
	return o.provider
}

// isSimpleChat reports whether text looks like short smalltalk: no
// URLs, paths, or code markers.
func isSimpleChat(text string) bool {
	if text == "" || len(text) > 120 {
		return false
	}
	for _, marker := range []string{"http://", "https://", "```", "`", "\n", "/", "\\"} {
		if strings.Contains(text, marker) {
			return false
		}
	}
	return true
}

// sweepTempScripts removes ephemeral helper scripts from the shared
// temp dir root (not per-trace subdirectories).
func (o *Orchestrator) sweepTempScripts() {
	entries, err := os.ReadDir(o.cfg.TempDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".py", ".sh":
			if err := os.Remove(filepath.Join(o.cfg.TempDir, e.Name())); err != nil {
				o.logger.Debug("temp sweep failed", "file", e.Name(), "error", err)
			}
		}
	}
}

// maybeSetTitle derives the session title from the first user message.
func (o *Orchestrator) maybeSetTitle(sessionID string, input providers.Message) {
	o.mu.Lock()
	sess := o.sessions[sessionID]
	o.mu.Unlock()
	if sess == nil || sess.Title != "" {
		return
	}
	title := strings.TrimSpace(input.Text())
	if title == "" {
		return
	}
	if len(title) > titleMaxChars {
		cut := titleMaxChars
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = strings.TrimSpace(title[:cut])
	}
	sess.Title = title
	if err := o.store.SaveSession(context.Background(), sess); err != nil {
		o.logger.Warn("failed to persist session title", "error", err)
	}
}
