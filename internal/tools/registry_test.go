package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/cogent/internal/skills"
)

// stubTool is a scriptable tool for registry tests.
type stubTool struct {
	name    string
	execute func(ctx context.Context, input map[string]any, tc *Context) (*Result, error)
}

func (s *stubTool) Name() string               { return s.name }
func (s *stubTool) Description() string        { return "stub" }
func (s *stubTool) Category() string           { return "test" }
func (s *stubTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (s *stubTool) Execute(ctx context.Context, input map[string]any, tc *Context) (*Result, error) {
	return s.execute(ctx, input, tc)
}

func testSkillRegistry(t *testing.T) *skills.Registry {
	t.Helper()
	dir := t.TempDir()
	skillDir := filepath.Join(dir, "weather")
	if err := os.MkdirAll(skillDir, 0755); err != nil {
		t.Fatal(err)
	}
	content := "---\nname: Weather\n---\nCheck {WORKDIR} for cached data."
	if err := os.WriteFile(filepath.Join(skillDir, skills.SkillFilename), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	reg, err := skills.NewRegistry(dir, filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestRegistryBasics(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "beta", execute: func(context.Context, map[string]any, *Context) (*Result, error) {
		return NewResult("ok"), nil
	}})
	r.Register(&stubTool{name: "alpha", execute: func(context.Context, map[string]any, *Context) (*Result, error) {
		return NewResult("ok"), nil
	}})

	if len(r.List()) != 2 {
		t.Fatalf("List = %v", r.List())
	}
	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "beta" {
		t.Errorf("Definitions not sorted: %+v", defs)
	}

	r.Unregister("alpha")
	if _, ok := r.Get("alpha"); ok {
		t.Error("alpha still present after Unregister")
	}
}

func TestExecuteErrorsBecomeResults(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "failing", execute: func(context.Context, map[string]any, *Context) (*Result, error) {
		return nil, errors.New("disk on fire")
	}})
	r.Register(&stubTool{name: "panicking", execute: func(context.Context, map[string]any, *Context) (*Result, error) {
		panic("boom")
	}})

	res := r.Execute(context.Background(), "failing", nil, &Context{})
	if !res.IsError || !strings.Contains(res.Content, "disk on fire") {
		t.Errorf("error result: %+v", res)
	}

	res = r.Execute(context.Background(), "panicking", nil, &Context{})
	if !res.IsError || !strings.Contains(res.Content, "boom") {
		t.Errorf("panic result: %+v", res)
	}

	res = r.Execute(context.Background(), "missing", nil, &Context{})
	if !res.IsError || !strings.Contains(res.Content, "unknown tool") {
		t.Errorf("unknown tool result: %+v", res)
	}
}

func TestExecuteReroutesSkillIDToUseSkill(t *testing.T) {
	r := NewRegistry()
	r.Register(&UseSkillTool{})

	tc := &Context{SkillRegistry: testSkillRegistry(t), WorkDir: "/tmp/run-1"}
	res := r.Execute(context.Background(), "weather", map[string]any{}, tc)
	if res.IsError {
		t.Fatalf("reroute failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "Check /tmp/run-1 for cached data.") {
		t.Errorf("instructions not returned with {WORKDIR} substituted: %q", res.Content)
	}

	sk, _ := tc.SkillRegistry.Get("weather")
	if sk.UseCount != 1 {
		t.Errorf("UseCount = %d, want 1", sk.UseCount)
	}
}

func TestUseSkillDisabled(t *testing.T) {
	r := NewRegistry()
	r.Register(&UseSkillTool{})
	reg := testSkillRegistry(t)
	if err := reg.SetEnabled("weather", false); err != nil {
		t.Fatal(err)
	}

	res := r.Execute(context.Background(), UseSkillName, map[string]any{"name": "weather"}, &Context{SkillRegistry: reg})
	if !res.IsError || !strings.Contains(res.Content, "disabled") {
		t.Errorf("disabled skill result: %+v", res)
	}
}
