package skills

import (
	"strings"
	"testing"
)

const sampleSkill = `---
name: PDF Reports
description: Generate polished PDF reports from data
triggers:
  - type: keyword
    patterns: [pdf, report]
  - type: intent
    patterns:
      - make me a report
    confidence: 0.9
---
Use {WORKDIR} as the scratch space.

1. Collect the data.
2. Render the PDF.`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(sampleSkill))
	if err != nil {
		t.Fatal(err)
	}
	if s.ID != "pdf-reports" {
		t.Errorf("ID = %q", s.ID)
	}
	if s.Name != "PDF Reports" || s.Description == "" {
		t.Errorf("metadata: %+v", s)
	}
	if !s.Enabled {
		t.Error("parsed skill should default to enabled")
	}
	if len(s.Triggers) != 2 {
		t.Fatalf("got %d triggers", len(s.Triggers))
	}
	// Inline [a,b] and block list patterns both decode.
	if len(s.Triggers[0].Patterns) != 2 || s.Triggers[0].Patterns[0] != "pdf" {
		t.Errorf("inline patterns: %v", s.Triggers[0].Patterns)
	}
	if len(s.Triggers[1].Patterns) != 1 || s.Triggers[1].Confidence == nil || *s.Triggers[1].Confidence != 0.9 {
		t.Errorf("block patterns: %+v", s.Triggers[1])
	}
	if !strings.HasPrefix(s.Instructions, "Use {WORKDIR}") {
		t.Errorf("instructions: %q", s.Instructions)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no frontmatter", "just some text"},
		{"unclosed frontmatter", "---\nname: x\n"},
		{"missing name", "---\ndescription: y\n---\nbody"},
		{"broken yaml", "---\nname: [unclosed\n---\nbody"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.content)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestRenderRoundTrip(t *testing.T) {
	orig, err := Parse([]byte(sampleSkill))
	if err != nil {
		t.Fatal(err)
	}
	rendered, err := Render(orig)
	if err != nil {
		t.Fatal(err)
	}
	back, err := Parse(rendered)
	if err != nil {
		t.Fatalf("rendered skill does not parse: %v\n%s", err, rendered)
	}
	if back.ID != orig.ID || back.Name != orig.Name || back.Instructions != orig.Instructions {
		t.Errorf("round trip changed skill:\norig %+v\nback %+v", orig, back)
	}
	if len(back.Triggers) != len(orig.Triggers) {
		t.Errorf("round trip changed triggers: %d vs %d", len(back.Triggers), len(orig.Triggers))
	}
}

func TestKebabID(t *testing.T) {
	tests := []struct{ in, want string }{
		{"PDF Reports", "pdf-reports"},
		{"  Weather  ", "weather"},
		{"a_b.c", "a-b-c"},
		{"Ngày Tốt", "ng-y-t-t"},
	}
	for _, tt := range tests {
		if got := KebabID(tt.in); got != tt.want {
			t.Errorf("KebabID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
