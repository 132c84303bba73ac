// Package agent contains the execution loop and context assembly that
// turn user input into persisted conversation turns.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/cogent/internal/providers"
	"github.com/nextlevelbuilder/cogent/internal/store"
	"github.com/nextlevelbuilder/cogent/internal/tools"
)

const (
	defaultMaxIterations = 12

	// maxToolFailures is the per-tool failure cap within one turn.
	maxToolFailures = 2
	// maxConsecutiveErrors stops the loop after this many iterations in
	// which every dispatched tool call errored.
	maxConsecutiveErrors = 3

	retryBackoffBase = 2 * time.Second
	maxToolRetries   = 2

	fallbackReply = "I wasn't able to finish that within my step limit. Could you rephrase or break the request into smaller parts?"
)

// DefaultRetryableTools are retried with backoff on error results.
var DefaultRetryableTools = map[string]bool{
	"http_request": true,
	"web_search":   true,
	"web_fetch":    true,
}

// Loop runs the think→act→observe cycle for one turn at a time.
type Loop struct {
	provider      providers.Provider
	model         string
	maxIterations int
	store         *store.Store
	tools         *tools.Registry
	contextMgr    *ContextManager
	toolCtx       tools.Context
	tempDir       string
	retryable     map[string]bool
	sleep         func(time.Duration)
	tracer        oteltrace.Tracer
	logger        *slog.Logger

	aborted atomic.Bool
}

// LoopConfig configures a new Loop.
type LoopConfig struct {
	Provider      providers.Provider
	Model         string
	MaxIterations int
	Store         *store.Store
	Tools         *tools.Registry
	ContextMgr    *ContextManager
	ToolCtx       tools.Context
	TempDir       string
	Retryable     map[string]bool // nil = DefaultRetryableTools
}

// NewLoop builds a Loop.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.Retryable == nil {
		cfg.Retryable = DefaultRetryableTools
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join("data", "tmp")
	}
	return &Loop{
		provider:      cfg.Provider,
		model:         cfg.Model,
		maxIterations: cfg.MaxIterations,
		store:         cfg.Store,
		tools:         cfg.Tools,
		contextMgr:    cfg.ContextMgr,
		toolCtx:       cfg.ToolCtx,
		tempDir:       cfg.TempDir,
		retryable:     cfg.Retryable,
		sleep:         time.Sleep,
		tracer:        otel.Tracer("cogent/agent"),
		logger:        slog.Default().With("component", "agent"),
	}
}

// Stop requests a cooperative abort: the loop checks the flag before
// each LLM call, between stream chunks, and between tool calls.
func (l *Loop) Stop() { l.aborted.Store(true) }

// Run processes one input to completion and returns the terminal
// assistant message.
func (l *Loop) Run(ctx context.Context, convID string, input providers.Message) (string, error) {
	var final string
	var runErr error
	for ev := range l.RunStream(ctx, convID, input) {
		switch ev.Type {
		case EventResponseComplete:
			final = ev.Message
		case EventError:
			runErr = fmt.Errorf("%s", ev.Error)
		}
	}
	if final == "" && runErr != nil {
		return "", runErr
	}
	return final, nil
}

// RunStream processes one input, emitting events as the turn unfolds.
// The channel closes when the turn is terminal.
func (l *Loop) RunStream(ctx context.Context, convID string, input providers.Message) <-chan Event {
	ch := make(chan Event, 64)
	go func() {
		defer close(ch)
		l.run(ctx, convID, input, ch)
	}()
	return ch
}

// runState carries the per-turn mutable state.
type runState struct {
	convID       string
	trace        *store.Trace
	tracePersist bool
	runtimeHints string
	usage        providers.Usage
	sentFiles    []tools.SentFile
	sentURLs     map[string]bool
	failures     map[string]int
	toolCalls    int
	lastText     string
	start        time.Time
}

func (l *Loop) run(ctx context.Context, convID string, input providers.Message, ch chan<- Event) {
	if convID == "" {
		convID = uuid.NewString()
	}
	l.aborted.Store(false)

	ctx, span := l.tracer.Start(ctx, "agent.turn",
		oteltrace.WithAttributes(attribute.String("conversation.id", convID)))
	defer span.End()

	st := &runState{
		convID:   convID,
		sentURLs: make(map[string]bool),
		failures: make(map[string]int),
		start:    time.Now(),
		trace: &store.Trace{
			ID:             uuid.NewString(),
			ConversationID: convID,
			UserInput:      input.Text(),
			Model:          l.model,
			CreatedAt:      time.Now().UTC(),
		},
	}

	// Per-trace working directory; image blocks are materialized there
	// and surfaced to the model through runtime hints that never persist.
	workDir := filepath.Join(l.tempDir, st.trace.ID)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		l.logger.Warn("failed to create trace workdir", "dir", workDir, "error", err)
	}
	toolCtx := l.toolCtx
	toolCtx.WorkDir = workDir
	toolCtx.OriginalUserText = input.Text()
	if toolCtx.SentFiles == nil {
		toolCtx.SentFiles = &tools.SentFiles{}
	}
	imagePaths := materializeImages(input, workDir)
	st.runtimeHints = runtimeHints(workDir, imagePaths)

	if err := l.persistUserTurn(ctx, st, input); err != nil {
		l.fail(ctx, ch, st, fmt.Errorf("persist user turn: %w", err))
		return
	}

	iterations := 0
	consecutiveErrors := 0

	for iterations < l.maxIterations {
		iterations++

		if l.aborted.Load() {
			l.finishStopped(ctx, ch, st, iterations)
			return
		}

		built, err := l.contextMgr.BuildContext(ctx, convID, input, BuildOptions{
			PreSelectedSkill: toolCtx.PreSelectedSkillName,
			ReuseContext:     iterations >= 2,
		})
		if err != nil {
			l.fail(ctx, ch, st, err)
			return
		}
		if built.SkillMatch != nil && st.trace.SkillMatch == "" {
			st.trace.SkillMatch = built.SkillMatch.Skill.ID
		}
		st.trace.SystemPrompt = built.SystemPrompt

		messages := injectHints(built.Messages, st.runtimeHints)

		ch <- Event{Type: EventStateChange, State: StateThinking}
		ch <- Event{Type: EventThinking}

		text, calls, usage, err := l.streamOnce(ctx, built.SystemPrompt, messages, ch, iterations)
		st.usage.Add(usage)
		if text != "" {
			st.lastText = text
		}
		if err != nil {
			l.failMidStream(ctx, ch, st, iterations, err)
			return
		}
		st.trace.Steps = append(st.trace.Steps, store.TraceStep{
			Kind:      store.StepLLMCall,
			Iteration: iterations,
			Text:      truncate(text, 500),
			TokensIn:  usageIn(usage),
			TokensOut: usageOut(usage),
		})

		if l.aborted.Load() {
			l.finishStopped(ctx, ch, st, iterations)
			return
		}

		// No tool calls: the model is done.
		if len(calls) == 0 {
			st.sentFiles = l.drainSentFiles(st, toolCtx.SentFiles)
			final := appendSentFiles(text, st.sentFiles)
			l.finish(ctx, ch, st, final, iterations, "")
			return
		}

		st.toolCalls += len(calls)

		if err := l.persistAssistantToolTurn(ctx, st, text, calls, usage); err != nil {
			l.logger.Warn("failed to persist intermediate assistant turn", "error", err)
		}

		ch <- Event{Type: EventStateChange, State: StateToolUse}

		allErrored := true
		allUseSkill := true
		autoComplete := false
		for _, call := range calls {
			if l.aborted.Load() {
				l.finishStopped(ctx, ch, st, iterations)
				return
			}
			if call.Name != tools.UseSkillName {
				allUseSkill = false
			}

			result, durationMs := l.dispatch(ctx, call, &toolCtx, st, ch)
			if !result.IsError {
				allErrored = false
			}
			if result.AutoComplete {
				autoComplete = true
			}

			if err := l.persistToolTurn(ctx, st, call, result, durationMs); err != nil {
				l.logger.Warn("failed to persist tool turn", "error", err)
			}
		}

		st.sentFiles = l.drainSentFiles(st, toolCtx.SentFiles)

		if allErrored {
			consecutiveErrors++
			if consecutiveErrors >= maxConsecutiveErrors {
				l.finish(ctx, ch, st, fallbackReply, iterations, "consecutive_tool_errors")
				return
			}
		} else {
			consecutiveErrors = 0
		}

		// Skill loading does not consume the iteration budget.
		if allUseSkill {
			iterations--
		}

		if autoComplete && !allErrored {
			final := appendSentFiles("", st.sentFiles)
			if final == "" {
				final = "Done."
			}
			l.finish(ctx, ch, st, final, iterations, "")
			return
		}
	}

	final := st.lastText
	if final == "" {
		final = fallbackReply
	}
	l.finish(ctx, ch, st, final, iterations, "max_iterations_reached")
}

// streamOnce performs one streaming provider call, accumulating text and
// per-index tool-call argument fragments. Arguments that fail to parse
// as JSON are kept raw under a "_raw" key.
func (l *Loop) streamOnce(ctx context.Context, systemPrompt string, messages []providers.Message, ch chan<- Event, iteration int) (string, []providers.ToolCall, *providers.Usage, error) {
	ctx, span := l.tracer.Start(ctx, "llm.call",
		oteltrace.WithAttributes(attribute.Int("iteration", iteration)))
	defer span.End()

	type pendingCall struct {
		id, name string
		seed     map[string]any
		args     strings.Builder
	}

	var text strings.Builder
	var pending []*pendingCall
	var usage *providers.Usage

	resp, err := l.provider.ChatStream(ctx, providers.ChatRequest{
		Messages:     messages,
		SystemPrompt: systemPrompt,
		Tools:        l.tools.Definitions(),
		Model:        l.model,
	}, func(chunk providers.StreamChunk) {
		if l.aborted.Load() {
			return
		}
		switch chunk.Type {
		case providers.ChunkText:
			text.WriteString(chunk.Text)
			ch <- Event{Type: EventResponseChunk, Text: chunk.Text}
		case providers.ChunkToolUseStart:
			pending = append(pending, &pendingCall{id: chunk.ID, name: chunk.Name, seed: chunk.Input})
		case providers.ChunkToolUseDelta:
			if len(pending) > 0 {
				pending[len(pending)-1].args.WriteString(chunk.InputFragment)
			}
		case providers.ChunkDone:
			usage = chunk.Usage
		}
	})
	if err != nil {
		return text.String(), nil, usage, err
	}
	if usage == nil && resp != nil {
		usage = resp.Usage
	}

	var calls []providers.ToolCall
	for _, p := range pending {
		args := p.seed
		if raw := strings.TrimSpace(p.args.String()); raw != "" {
			var parsed map[string]any
			if jerr := json.Unmarshal([]byte(raw), &parsed); jerr == nil {
				args = parsed
			} else {
				args = map[string]any{"_raw": raw}
			}
		}
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, providers.ToolCall{ID: p.id, Name: p.name, Arguments: args})
	}
	// Non-streaming providers may only populate the final response.
	if len(calls) == 0 && resp != nil {
		calls = resp.ToolCalls
	}

	out := text.String()
	if out == "" && resp != nil {
		out = resp.Content
	}
	return out, calls, usage, nil
}

// dispatch executes one tool call with failure counting and retries,
// emitting tool_call/tool_result events and trace steps.
func (l *Loop) dispatch(ctx context.Context, call providers.ToolCall, toolCtx *tools.Context, st *runState, ch chan<- Event) (*tools.Result, int64) {
	ch <- Event{Type: EventToolCall, ToolName: call.Name, ToolInput: call.Arguments}
	st.trace.Steps = append(st.trace.Steps, store.TraceStep{
		Kind:  store.StepToolCall,
		Name:  call.Name,
		Input: call.Arguments,
	})

	start := time.Now()
	var result *tools.Result

	key := tools.FailureKey(call.Name, call.Arguments)
	if st.failures[key] >= maxToolFailures {
		result = tools.ErrorResult(fmt.Sprintf(
			"Tool %q has failed %d times this turn. Stop retrying it and try a different approach.",
			call.Name, st.failures[key]))
	} else {
		ctx, span := l.tracer.Start(ctx, "tool.execute",
			oteltrace.WithAttributes(attribute.String("tool.name", call.Name)))
		result = l.tools.Execute(ctx, call.Name, call.Arguments, toolCtx)
		if result.IsError && l.retryable[call.Name] {
			backoff := retryBackoffBase
			for attempt := 0; attempt < maxToolRetries && result.IsError && !l.aborted.Load(); attempt++ {
				l.sleep(backoff)
				backoff *= 2
				result = l.tools.Execute(ctx, call.Name, call.Arguments, toolCtx)
			}
		}
		span.End()
		if result.IsError {
			st.failures[key]++
			l.logger.Warn("tool error", "tool", call.Name, "error", truncate(result.Content, 200))
		}
	}
	durationMs := time.Since(start).Milliseconds()

	ch <- Event{
		Type:       EventToolResult,
		ToolName:   call.Name,
		Result:     result.Content,
		IsError:    result.IsError,
		DurationMs: durationMs,
	}
	st.trace.Steps = append(st.trace.Steps, store.TraceStep{
		Kind:       store.StepToolResult,
		Name:       call.Name,
		Content:    truncate(result.Content, 1000),
		IsError:    result.IsError,
		DurationMs: durationMs,
	})
	return result, durationMs
}

func (l *Loop) drainSentFiles(st *runState, acc *tools.SentFiles) []tools.SentFile {
	for _, f := range acc.Drain() {
		if st.sentURLs[f.URL] {
			continue
		}
		st.sentURLs[f.URL] = true
		st.sentFiles = append(st.sentFiles, f)
	}
	return st.sentFiles
}

// ---- persistence ----

func (l *Loop) persistUserTurn(ctx context.Context, st *runState, input providers.Message) error {
	content := input.Text()
	if len(input.Blocks) > 1 || input.HasImages() {
		if b, err := json.Marshal(input.Blocks); err == nil {
			content = string(b)
		}
	}
	return l.store.AddTurn(ctx, &store.Turn{
		ConversationID: st.convID,
		Role:           "user",
		Content:        content,
		TraceID:        st.trace.ID,
	})
}

func (l *Loop) persistAssistantToolTurn(ctx context.Context, st *runState, text string, calls []providers.ToolCall, usage *providers.Usage) error {
	callsJSON, err := json.Marshal(calls)
	if err != nil {
		return err
	}
	return l.store.AddTurn(ctx, &store.Turn{
		ConversationID: st.convID,
		Role:           "assistant",
		Content:        text,
		ToolCallsJSON:  string(callsJSON),
		ToolCallCount:  len(calls),
		Model:          l.model,
		TokensIn:       usageIn(usage),
		TokensOut:      usageOut(usage),
		TraceID:        st.trace.ID,
	})
}

func (l *Loop) persistToolTurn(ctx context.Context, st *runState, call providers.ToolCall, result *tools.Result, durationMs int64) error {
	blocks := []providers.Block{{
		Type:      providers.BlockToolResult,
		ToolUseID: call.ID,
		Content:   result.Content,
		IsError:   result.IsError,
	}}
	blocksJSON, err := json.Marshal(blocks)
	if err != nil {
		return err
	}
	return l.store.AddTurn(ctx, &store.Turn{
		ConversationID:  st.convID,
		Role:            "tool",
		Content:         result.Content,
		ToolResultsJSON: string(blocksJSON),
		DurationMs:      durationMs,
		TraceID:         st.trace.ID,
	})
}

// finish persists the terminal assistant turn and the trace (exactly
// once), then yields response_complete.
func (l *Loop) finish(ctx context.Context, ch chan<- Event, st *runState, final string, iterations int, traceErr string) {
	if err := l.store.AddTurn(ctx, &store.Turn{
		ConversationID: st.convID,
		Role:           "assistant",
		Content:        final,
		Model:          l.model,
		TokensIn:       st.usage.TokensIn,
		TokensOut:      st.usage.TokensOut,
		DurationMs:     time.Since(st.start).Milliseconds(),
		ToolCallCount:  st.toolCalls,
		TraceID:        st.trace.ID,
	}); err != nil {
		l.logger.Warn("failed to persist terminal turn", "error", err)
	}
	l.persistTrace(ctx, st, final, traceErr)

	ch <- Event{Type: EventStateChange, State: StateResponded}
	ch <- Event{
		Type:          EventResponseComplete,
		Message:       final,
		TokensIn:      st.usage.TokensIn,
		TokensOut:     st.usage.TokensOut,
		ToolCallCount: st.toolCalls,
	}
	l.logger.Info("turn complete",
		"conversation", st.convID, "iterations", iterations,
		"tokens_in", st.usage.TokensIn, "tokens_out", st.usage.TokensOut,
		"error", traceErr)
}

func (l *Loop) finishStopped(ctx context.Context, ch chan<- Event, st *runState, iterations int) {
	final := st.lastText
	if final == "" {
		final = "Stopped."
	}
	l.finish(ctx, ch, st, final, iterations, "stopped")
}

// failMidStream handles provider errors after streaming began: any
// partial text accumulated so far (including from the failing call)
// persists as the fallback assistant reply and the error surfaces on
// the event stream.
func (l *Loop) failMidStream(ctx context.Context, ch chan<- Event, st *runState, iterations int, err error) {
	l.logger.Error("provider stream failed", "conversation", st.convID, "error", err)
	ch <- Event{Type: EventError, Error: err.Error()}
	if st.lastText != "" {
		l.finish(ctx, ch, st, st.lastText, iterations, "provider_error: "+err.Error())
		return
	}
	l.persistTrace(ctx, st, "", "provider_error: "+err.Error())
}

func (l *Loop) fail(ctx context.Context, ch chan<- Event, st *runState, err error) {
	l.logger.Error("turn failed", "conversation", st.convID, "error", err)
	l.persistTrace(ctx, st, "", err.Error())
	ch <- Event{Type: EventError, Error: err.Error()}
}

func (l *Loop) persistTrace(ctx context.Context, st *runState, response, traceErr string) {
	if st.tracePersist {
		return
	}
	st.tracePersist = true
	st.trace.Response = truncate(response, 1000)
	st.trace.Error = traceErr
	st.trace.TokensIn = st.usage.TokensIn
	st.trace.TokensOut = st.usage.TokensOut
	st.trace.DurationMs = time.Since(st.start).Milliseconds()
	if err := l.store.AddTrace(ctx, st.trace); err != nil {
		l.logger.Warn("failed to persist trace", "error", err)
	}
}

// ---- helpers ----

// injectHints appends runtime hints to the last user message on a copy,
// so hints are visible to the LLM without entering persisted history.
func injectHints(messages []providers.Message, hints string) []providers.Message {
	if hints == "" || len(messages) == 0 {
		return messages
	}
	out := make([]providers.Message, len(messages))
	copy(out, messages)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == "user" {
			msg := out[i]
			msg.Blocks = append([]providers.Block(nil), msg.Blocks...)
			msg.AppendText(hints)
			out[i] = msg
			break
		}
	}
	return out
}

func usageIn(u *providers.Usage) int {
	if u == nil {
		return 0
	}
	return u.TokensIn
}

func usageOut(u *providers.Usage) int {
	if u == nil {
		return 0
	}
	return u.TokensOut
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
