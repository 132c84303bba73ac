package skills

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/nextlevelbuilder/cogent/internal/memory"
)

const (
	embeddingAcceptThreshold = 0.45
	overlapAcceptThreshold   = 0.15
	alwaysTriggerConfidence  = 0.1
	defaultIntentConfidence  = 0.5
)

// Match ranks enabled skills against user input.
//
// Pass 1 evaluates declared triggers (keyword, intent, always) and keeps
// the best-scoring trigger per skill. Pass 2 scores the remaining skills
// by embedding cosine (when an embedder is configured) or token overlap.
// Results are sorted by confidence descending with a stable id tiebreak,
// so an immutable skill set always yields the same ranking.
func (r *Registry) Match(input string) []Match {
	skills := r.ListEnabled()
	if len(skills) == 0 {
		return nil
	}

	lowerInput := strings.ToLower(input)
	var results []Match
	matched := make(map[string]bool)

	for _, s := range skills {
		if len(s.Triggers) == 0 {
			continue
		}
		best := -1.0
		var bestTrigger *Trigger
		for i := range s.Triggers {
			conf, ok := evalTrigger(&s.Triggers[i], lowerInput)
			if ok && conf > best {
				best = conf
				bestTrigger = &s.Triggers[i]
			}
		}
		if bestTrigger != nil {
			results = append(results, Match{Skill: s, Confidence: best, MatchedTrigger: bestTrigger})
			matched[s.ID] = true
		}
	}

	// Pass 2: semantic fallback for skills without a trigger hit.
	var inputVec []float32
	if r.embed != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		vecs, err := r.embed(ctx, []string{input})
		cancel()
		if err == nil && len(vecs) == 1 {
			inputVec = vecs[0]
		}
	}

	inputTokens := overlapTokens(input)
	for _, s := range skills {
		if matched[s.ID] {
			continue
		}
		if inputVec != nil {
			r.mu.RLock()
			vec, ok := r.vectors[s.ID]
			r.mu.RUnlock()
			if ok {
				if sim := memory.Cosine(inputVec, vec); sim > embeddingAcceptThreshold {
					results = append(results, Match{Skill: s, Confidence: sim})
				}
				continue
			}
		}
		corpus := overlapTokens(s.Name + " " + s.Description)
		if score := overlapScore(inputTokens, corpus); score > overlapAcceptThreshold {
			results = append(results, Match{Skill: s, Confidence: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		return results[i].Skill.ID < results[j].Skill.ID
	})
	return results
}

// evalTrigger scores one trigger against lowercased input.
func evalTrigger(t *Trigger, lowerInput string) (float64, bool) {
	switch t.Type {
	case TriggerKeyword:
		if len(t.Patterns) == 0 {
			return 0, false
		}
		matched := 0
		for _, p := range t.Patterns {
			if p != "" && strings.Contains(lowerInput, strings.ToLower(p)) {
				matched++
			}
		}
		if matched == 0 {
			return 0, false
		}
		conf := float64(matched)/float64(len(t.Patterns))*0.8 + 0.2
		if conf < 0.5 {
			conf = 0.5
		}
		return conf, true
	case TriggerAlways:
		return alwaysTriggerConfidence, true
	case TriggerIntent:
		for _, p := range t.Patterns {
			if p != "" && strings.Contains(lowerInput, strings.ToLower(p)) {
				if t.Confidence != nil {
					return *t.Confidence, true
				}
				return defaultIntentConfidence, true
			}
		}
		return 0, false
	}
	return 0, false
}

// overlapTokens extracts Latin words (>= 2 chars) plus CJK character
// bigrams for lexical overlap scoring.
func overlapTokens(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	var word []rune
	var prevCJK rune

	flush := func() {
		if len(word) >= 2 {
			tokens[strings.ToLower(string(word))] = struct{}{}
		}
		word = word[:0]
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r):
			flush()
			if prevCJK != 0 {
				tokens[string([]rune{prevCJK, r})] = struct{}{}
			}
			prevCJK = r
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			prevCJK = 0
			word = append(word, r)
		default:
			prevCJK = 0
			flush()
		}
	}
	flush()
	return tokens
}

// overlapScore normalizes shared-token count by the smaller token set.
func overlapScore(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			shared++
		}
	}
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	return float64(shared) / float64(minLen)
}
