package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSkill(t *testing.T, dir, name, content string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skillDir, SkillFilename), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestRegistry(t *testing.T, skills map[string]string) *Registry {
	t.Helper()
	dir := t.TempDir()
	for name, content := range skills {
		writeSkill(t, dir, name, content)
	}
	r, err := NewRegistry(dir, filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestEvalTrigger(t *testing.T) {
	conf := 0.85
	tests := []struct {
		name    string
		trigger Trigger
		input   string
		want    float64
		ok      bool
	}{
		{"keyword full match", Trigger{Type: TriggerKeyword, Patterns: []string{"weather"}}, "what's the weather like", 1.0, true},
		{"keyword partial", Trigger{Type: TriggerKeyword, Patterns: []string{"weather", "forecast", "rain"}}, "weather please", 0.5, true},
		{"keyword case-insensitive", Trigger{Type: TriggerKeyword, Patterns: []string{"PDF"}}, "make a pdf", 1.0, true},
		{"keyword no match", Trigger{Type: TriggerKeyword, Patterns: []string{"weather"}}, "hello", 0, false},
		{"always", Trigger{Type: TriggerAlways}, "anything", 0.1, true},
		{"intent default", Trigger{Type: TriggerIntent, Patterns: []string{"book a"}}, "book a table", 0.5, true},
		{"intent explicit confidence", Trigger{Type: TriggerIntent, Patterns: []string{"book a"}, Confidence: &conf}, "book a table", 0.85, true},
		{"intent no match", Trigger{Type: TriggerIntent, Patterns: []string{"book a"}}, "cancel it", 0, false},
		{"unknown type", Trigger{Type: "regex", Patterns: []string{".*"}}, "x", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := evalTrigger(&tt.trigger, tt.input)
			if ok != tt.ok || (ok && got != tt.want) {
				t.Errorf("evalTrigger = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestMatchRankingAndDeterminism(t *testing.T) {
	r := newTestRegistry(t, map[string]string{
		"weather": "---\nname: Weather\ndescription: Weather forecasts\ntriggers:\n  - type: keyword\n    patterns: [weather]\n---\nforecast instructions",
		"fallback": "---\nname: Fallback\ndescription: General helper\ntriggers:\n  - type: always\n---\nalways-on instructions",
		"notes":    "---\nname: Notes\ndescription: Take meeting notes\n---\nnotes instructions",
	})

	results := r.Match("what's the weather today")
	if len(results) < 2 {
		t.Fatalf("got %d matches, want >= 2", len(results))
	}
	if results[0].Skill.ID != "weather" || results[0].Confidence != 1.0 {
		t.Errorf("top match = %s (%v)", results[0].Skill.ID, results[0].Confidence)
	}
	if results[0].MatchedTrigger == nil {
		t.Error("trigger match should carry MatchedTrigger")
	}

	// Identical input and skill set always yields the same ranking.
	for i := 0; i < 5; i++ {
		again := r.Match("what's the weather today")
		if len(again) != len(results) {
			t.Fatalf("ranking length changed on repeat")
		}
		for j := range again {
			if again[j].Skill.ID != results[j].Skill.ID {
				t.Fatalf("ranking order changed on repeat: %s vs %s", again[j].Skill.ID, results[j].Skill.ID)
			}
		}
	}
}

func TestMatchTokenOverlapFallback(t *testing.T) {
	r := newTestRegistry(t, map[string]string{
		"notes": "---\nname: Meeting Notes\ndescription: capture meeting notes and action items\n---\nbody",
	})

	results := r.Match("please capture the meeting notes")
	if len(results) != 1 {
		t.Fatalf("got %d matches, want 1 via token overlap", len(results))
	}
	if results[0].MatchedTrigger != nil {
		t.Error("overlap match must not carry a trigger")
	}
	if results[0].Confidence <= overlapAcceptThreshold {
		t.Errorf("confidence %v not above threshold", results[0].Confidence)
	}

	if got := r.Match("completely unrelated astrophysics question"); len(got) != 0 {
		t.Errorf("unrelated input matched: %+v", got)
	}
}

func TestMatchCJKBigrams(t *testing.T) {
	r := newTestRegistry(t, map[string]string{
		"zh": "---\nname: Tian Qi\ndescription: 查询天气预报\n---\nbody",
	})

	results := r.Match("今天天气怎么样")
	if len(results) != 1 {
		t.Fatalf("CJK bigram overlap should match, got %d", len(results))
	}
}

func TestMatchSkipsDisabled(t *testing.T) {
	r := newTestRegistry(t, map[string]string{
		"weather": "---\nname: Weather\ntriggers:\n  - type: keyword\n    patterns: [weather]\n---\nbody",
	})
	if err := r.SetEnabled("weather", false); err != nil {
		t.Fatal(err)
	}
	if got := r.Match("weather please"); len(got) != 0 {
		t.Errorf("disabled skill matched: %+v", got)
	}
}
