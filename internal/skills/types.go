// Package skills loads SKILL.md instruction bundles, watches them for
// changes, and matches user input against their triggers.
package skills

import "strings"

// Trigger types.
const (
	TriggerKeyword = "keyword"
	TriggerIntent  = "intent"
	TriggerAlways  = "always"
)

// Trigger activates a skill when user input matches its patterns.
type Trigger struct {
	Type       string   `yaml:"type" json:"type"`
	Patterns   []string `yaml:"patterns" json:"patterns"`
	Confidence *float64 `yaml:"confidence,omitempty" json:"confidence,omitempty"`
}

// Skill is one loaded instruction bundle.
type Skill struct {
	ID           string    `json:"id"` // kebab-case of Name
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Path         string    `json:"path"`
	Triggers     []Trigger `json:"triggers,omitempty"`
	Instructions string    `json:"instructions"`
	Enabled      bool      `json:"enabled"`
	UseCount     int       `json:"useCount"`
}

// Match is one ranked match result.
type Match struct {
	Skill          *Skill
	Confidence     float64
	MatchedTrigger *Trigger // nil for embedding/token-overlap matches
}

// KebabID normalizes a skill name into its id.
func KebabID(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// WorkdirToken is substituted with the per-trace working directory when a
// skill's instructions are returned by use_skill.
const WorkdirToken = "{WORKDIR}"
