// Package memory layers hybrid recall and LLM-driven extraction over the
// store's memory table.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/nextlevelbuilder/cogent/internal/store"
)

// Weights control the hybrid ranking sum.
type Weights struct {
	Semantic   float64
	Recency    float64
	Importance float64
}

// DefaultWeights per the recall formula: 0.5*semantic + 0.2*recency + 0.3*importance.
var DefaultWeights = Weights{Semantic: 0.5, Recency: 0.2, Importance: 0.3}

// DefaultHalfLife is the recency decay half-life.
const DefaultHalfLife = 7 * 24 * time.Hour

// Recall ranks stored memories against a query.
type Recall struct {
	store    *store.Store
	embed    EmbedFunc // nil = bag-of-words fallback
	weights  Weights
	halfLife time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// RecallOption configures a Recall.
type RecallOption func(*Recall)

// WithEmbedFunc plugs in a real embedder.
func WithEmbedFunc(fn EmbedFunc) RecallOption {
	return func(r *Recall) { r.embed = fn }
}

// WithWeights overrides the ranking weights.
func WithWeights(w Weights) RecallOption {
	return func(r *Recall) { r.weights = w }
}

// WithHalfLife overrides the recency decay half-life.
func WithHalfLife(d time.Duration) RecallOption {
	return func(r *Recall) {
		if d > 0 {
			r.halfLife = d
		}
	}
}

// WithClock overrides the clock for tests.
func WithClock(now func() time.Time) RecallOption {
	return func(r *Recall) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecall builds a Recall over st.
func NewRecall(st *store.Store, opts ...RecallOption) *Recall {
	r := &Recall{
		store:    st,
		weights:  DefaultWeights,
		halfLife: DefaultHalfLife,
		now:      time.Now,
		logger:   slog.Default().With("component", "memory"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SearchQuery describes one recall request.
type SearchQuery struct {
	Query         string
	Type          string  // filter: empty = all types
	MinImportance float64 // filter
	Threshold     float64 // minimum combined score
	Limit         int     // default 10
}

// SearchResult is one ranked recall hit.
type SearchResult struct {
	Entry    store.MemoryEntry
	Score    float64
	Semantic float64
	Recency  float64
}

// Search ranks candidate memories by the weighted semantic/recency/
// importance sum and returns entries scoring at or above the threshold.
// Returned entries have their access metadata bumped.
func (r *Recall) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	candidates, err := r.store.ListMemories(ctx, q.Type, q.MinImportance)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	queryVec := r.embedOne(ctx, q.Query)
	now := r.now()

	results := make([]SearchResult, 0, len(candidates))
	for _, entry := range candidates {
		sem := r.semanticScore(ctx, queryVec, &entry)
		rec := r.recencyScore(now, entry.CreatedAt)
		score := r.weights.Semantic*sem + r.weights.Recency*rec + r.weights.Importance*entry.Importance
		if score < q.Threshold {
			continue
		}
		results = append(results, SearchResult{Entry: entry, Score: score, Semantic: sem, Recency: rec})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.ID < results[j].Entry.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}

	ids := make([]string, len(results))
	for i := range results {
		ids[i] = results[i].Entry.ID
	}
	if err := r.store.TouchMemoryAccess(ctx, ids); err != nil {
		r.logger.Warn("failed to bump memory access", "error", err)
	}
	return results, nil
}

// FindSimilar returns the single nearest entry of the same type above the
// cosine threshold, or nil. Used for dedup on insert.
func (r *Recall) FindSimilar(ctx context.Context, content, memType string, threshold float64) (*store.MemoryEntry, error) {
	candidates, err := r.store.ListMemories(ctx, memType, 0)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}

	queryVec := r.embedOne(ctx, content)

	var best *store.MemoryEntry
	bestScore := threshold
	for i := range candidates {
		sim := r.semanticScore(ctx, queryVec, &candidates[i])
		if sim >= bestScore {
			bestScore = sim
			best = &candidates[i]
		}
	}
	return best, nil
}

// Embed produces the vector this recall instance would use for text.
// Falls back to the deterministic bag-of-words vector.
func (r *Recall) Embed(ctx context.Context, text string) []float32 {
	return r.embedOne(ctx, text)
}

func (r *Recall) embedOne(ctx context.Context, text string) []float32 {
	if r.embed != nil {
		vecs, err := r.embed(ctx, []string{text})
		if err == nil && len(vecs) == 1 {
			return vecs[0]
		}
		if err != nil {
			r.logger.Warn("embed failed, using fallback", "error", err)
		}
	}
	return FallbackEmbed(text)
}

// semanticScore compares the query vector against the entry's stored
// embedding when the dimensions line up, else against the fallback vector
// of the entry's content.
func (r *Recall) semanticScore(_ context.Context, queryVec []float32, entry *store.MemoryEntry) float64 {
	if len(queryVec) == 0 {
		return 0
	}
	if len(entry.Embedding) == len(queryVec) {
		return Cosine(queryVec, entry.Embedding)
	}
	return Cosine(queryVec, FallbackEmbed(entry.Content))
}

func (r *Recall) recencyScore(now, createdAt time.Time) float64 {
	age := now.Sub(createdAt)
	if age <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * age.Seconds() / r.halfLife.Seconds())
}
