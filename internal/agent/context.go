package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/cogent/internal/memory"
	"github.com/nextlevelbuilder/cogent/internal/providers"
	"github.com/nextlevelbuilder/cogent/internal/skills"
	"github.com/nextlevelbuilder/cogent/internal/store"
)

const (
	defaultHistoryLimit  = 50
	defaultCompressAfter = 20

	// maxMemoryChars caps the memory section of the dynamic prefix.
	maxMemoryChars = 2000
	// maxSummaryFallbackChars caps the raw-transcript fallback when the
	// summarizer is unavailable.
	maxSummaryFallbackChars = 2000
)

// ContextManager assembles the message window for each LLM call. The
// system prompt is a static string fixed at construction; everything
// dynamic (memories, skill catalog, active skill) lives in the message
// list so the system-prompt prefix stays byte-identical across
// iterations and provider-side prompt caches can hit.
type ContextManager struct {
	store        *store.Store
	recall       *memory.Recall
	skills       *skills.Registry
	summarizer   providers.Provider // nil = truncation fallback only
	summaryModel string
	systemPrompt string

	historyLimit  int
	compressAfter int

	mu            sync.Mutex
	prefixCache   map[string][]providers.Message // convID → dynamic prefix
	summaryCache  map[string]string              // "convID:oldCount" → summary

	logger *slog.Logger
}

// ContextConfig configures a ContextManager.
type ContextConfig struct {
	Store         *store.Store
	Recall        *memory.Recall
	Skills        *skills.Registry
	Summarizer    providers.Provider
	SummaryModel  string
	SystemPrompt  string
	HistoryLimit  int
	CompressAfter int
}

// NewContextManager builds a ContextManager.
func NewContextManager(cfg ContextConfig) *ContextManager {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.CompressAfter <= 0 {
		cfg.CompressAfter = defaultCompressAfter
	}
	return &ContextManager{
		store:         cfg.Store,
		recall:        cfg.Recall,
		skills:        cfg.Skills,
		summarizer:    cfg.Summarizer,
		summaryModel:  cfg.SummaryModel,
		systemPrompt:  cfg.SystemPrompt,
		historyLimit:  cfg.HistoryLimit,
		compressAfter: cfg.CompressAfter,
		prefixCache:   make(map[string][]providers.Message),
		summaryCache:  make(map[string]string),
		logger:        slog.Default().With("component", "context"),
	}
}

// BuildOptions modify one BuildContext call.
type BuildOptions struct {
	PreSelectedSkill string
	ReuseContext     bool
}

// BuiltContext is the assembled LLM input for one iteration.
type BuiltContext struct {
	SystemPrompt string
	Messages     []providers.Message
	SkillMatch   *skills.Match
}

// BuildContext assembles system prompt, dynamic prefix, and history for
// one LLM call. Recall and skill failures degrade to omission, never to
// an error: the only hard failure is history retrieval.
func (cm *ContextManager) BuildContext(ctx context.Context, convID string, input providers.Message, opts BuildOptions) (*BuiltContext, error) {
	history, err := cm.store.GetHistory(ctx, convID, cm.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	var msgs []providers.Message
	if len(history) > cm.compressAfter {
		old := history[:len(history)-cm.compressAfter]
		recent := history[len(history)-cm.compressAfter:]
		summary := cm.summarize(ctx, convID, old)
		if summary != "" {
			msgs = append(msgs,
				providers.TextMessage("user", "Here is a summary of the earlier conversation:\n"+summary),
				providers.TextMessage("assistant", "Understood."),
			)
		}
		history = recent
	}

	prefix, match := cm.dynamicPrefix(ctx, convID, input, opts)

	out := make([]providers.Message, 0, len(prefix)+len(msgs)+len(history))
	out = append(out, prefix...)
	out = append(out, msgs...)
	out = append(out, turnsToMessages(history)...)

	return &BuiltContext{
		SystemPrompt: cm.systemPrompt,
		Messages:     out,
		SkillMatch:   match,
	}, nil
}

// InvalidateConversation drops cached prefix and summaries for a
// conversation, e.g. when its session is closed.
func (cm *ContextManager) InvalidateConversation(convID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.prefixCache, convID)
	for k := range cm.summaryCache {
		if strings.HasPrefix(k, convID+":") {
			delete(cm.summaryCache, k)
		}
	}
}

// dynamicPrefix builds (or reuses) the per-conversation memory/skill
// preamble: a single user message plus an assistant "OK." ack.
func (cm *ContextManager) dynamicPrefix(ctx context.Context, convID string, input providers.Message, opts BuildOptions) ([]providers.Message, *skills.Match) {
	var match *skills.Match
	if opts.PreSelectedSkill != "" && cm.skills != nil {
		if sk, ok := cm.skills.Get(skills.KebabID(opts.PreSelectedSkill)); ok && sk.Enabled {
			match = &skills.Match{Skill: sk, Confidence: 1.0}
		}
	}

	if opts.ReuseContext {
		cm.mu.Lock()
		cached, ok := cm.prefixCache[convID]
		cm.mu.Unlock()
		if ok {
			return cached, match
		}
	}

	var sections []string

	if cm.recall != nil {
		query := input.Text()
		if query != "" {
			if mems := cm.relevantMemories(ctx, query); mems != "" {
				sections = append(sections, "Relevant memories about the user:\n"+mems)
			}
		}
	}

	if match != nil {
		sections = append(sections, "Active Skill: "+match.Skill.Name+"\n"+match.Skill.Instructions)
	}

	if cm.skills != nil {
		if catalog := skillCatalog(cm.skills.ListEnabled()); catalog != "" {
			sections = append(sections, "Available skills: "+catalog)
		}
	}

	var prefix []providers.Message
	if len(sections) > 0 {
		prefix = []providers.Message{
			providers.TextMessage("user", strings.Join(sections, "\n\n")),
			providers.TextMessage("assistant", "OK."),
		}
	}

	cm.mu.Lock()
	cm.prefixCache[convID] = prefix
	cm.mu.Unlock()
	return prefix, match
}

// relevantMemories returns up to 5 recalled memories as bullet lines,
// stopping at the character cap. Search failures yield an empty section.
func (cm *ContextManager) relevantMemories(ctx context.Context, query string) string {
	results, err := cm.recall.Search(ctx, memory.SearchQuery{Query: query, Limit: 5})
	if err != nil {
		cm.logger.Warn("memory recall failed", "error", err)
		return ""
	}
	var sb strings.Builder
	for _, r := range results {
		line := "- " + r.Entry.Content + "\n"
		if sb.Len()+len(line) > maxMemoryChars {
			break
		}
		sb.WriteString(line)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func skillCatalog(list []*skills.Skill) string {
	var parts []string
	for _, sk := range list {
		desc := sk.Description
		if len(desc) > 60 {
			desc = desc[:60]
		}
		parts = append(parts, fmt.Sprintf("%s(%s)", sk.Name, desc))
	}
	return strings.Join(parts, ", ")
}

const summaryPrompt = `Summarize this conversation in 3-5 bullet points, at most 500 characters total. Keep concrete facts, decisions, and open threads.

%s`

// summarize condenses old turns, caching by (convID, oldCount) so the
// summary stays stable while the old segment does not grow.
func (cm *ContextManager) summarize(ctx context.Context, convID string, old []store.Turn) string {
	key := fmt.Sprintf("%s:%d", convID, len(old))
	cm.mu.Lock()
	if s, ok := cm.summaryCache[key]; ok {
		cm.mu.Unlock()
		return s
	}
	cm.mu.Unlock()

	transcript := transcriptOf(old)
	summary := ""
	if cm.summarizer != nil {
		temp := 0.1
		resp, err := cm.summarizer.Chat(ctx, providers.ChatRequest{
			Messages:    []providers.Message{providers.TextMessage("user", fmt.Sprintf(summaryPrompt, transcript))},
			Model:       cm.summaryModel,
			Temperature: &temp,
			MaxTokens:   512,
		})
		if err != nil {
			cm.logger.Warn("summarization failed, truncating", "error", err)
		} else {
			summary = strings.TrimSpace(resp.Content)
		}
	}
	if summary == "" {
		if len(transcript) > maxSummaryFallbackChars {
			transcript = transcript[:maxSummaryFallbackChars]
		}
		summary = transcript
	}

	cm.mu.Lock()
	cm.summaryCache[key] = summary
	cm.mu.Unlock()
	return summary
}

func transcriptOf(turns []store.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		if t.Content == "" {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
	}
	return sb.String()
}

// turnsToMessages reconstructs provider messages from persisted turns.
// Assistant turns with stored tool calls become Text+ToolUse blocks;
// tool turns become user messages carrying ToolResult blocks; user turns
// are parsed as typed blocks only when their content is a JSON block
// array.
func turnsToMessages(turns []store.Turn) []providers.Message {
	var out []providers.Message
	for _, t := range turns {
		switch t.Role {
		case "assistant":
			msg := providers.Message{Role: "assistant"}
			if t.Content != "" {
				msg.Blocks = append(msg.Blocks, providers.Block{Type: providers.BlockText, Text: t.Content})
			}
			if t.ToolCallsJSON != "" {
				var calls []providers.ToolCall
				if err := json.Unmarshal([]byte(t.ToolCallsJSON), &calls); err == nil {
					for _, c := range calls {
						msg.Blocks = append(msg.Blocks, providers.Block{
							Type:  providers.BlockToolUse,
							ID:    c.ID,
							Name:  c.Name,
							Input: c.Arguments,
						})
					}
				}
			}
			if len(msg.Blocks) == 0 {
				continue
			}
			out = append(out, msg)
		case "tool":
			var blocks []providers.Block
			if t.ToolResultsJSON != "" {
				if err := json.Unmarshal([]byte(t.ToolResultsJSON), &blocks); err != nil {
					blocks = nil
				}
			}
			if len(blocks) == 0 {
				blocks = []providers.Block{{Type: providers.BlockToolResult, Content: t.Content}}
			}
			// Tool results travel back as user-role messages.
			out = append(out, providers.Message{Role: "user", Blocks: blocks})
		default:
			out = append(out, providers.Message{Role: "user", Blocks: providers.ParseBlocks(t.Content)})
		}
	}
	return out
}
