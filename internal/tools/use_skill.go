package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/cogent/internal/skills"
)

// UseSkillName is the registered name of the built-in skill loader tool.
const UseSkillName = "use_skill"

// UseSkillTool returns a skill's instructions to the model. The agent
// loop refunds iterations spent purely on skill loading.
type UseSkillTool struct{}

func (t *UseSkillTool) Name() string        { return UseSkillName }
func (t *UseSkillTool) Category() string    { return "skills" }
func (t *UseSkillTool) Description() string {
	return "Load a skill's instructions by name. Use when the skill catalog lists a skill relevant to the user's request."
}

func (t *UseSkillTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "The skill id to load",
			},
		},
		"required": []string{"name"},
	}
}

func (t *UseSkillTool) Execute(_ context.Context, input map[string]any, tc *Context) (*Result, error) {
	name, _ := input["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrorResult("use_skill requires a skill name"), nil
	}
	if tc == nil || tc.SkillRegistry == nil {
		return ErrorResult("no skills available"), nil
	}

	skill, ok := tc.SkillRegistry.Get(skills.KebabID(name))
	if !ok {
		return ErrorResult(fmt.Sprintf("skill not found: %s", name)), nil
	}
	if !skill.Enabled {
		return ErrorResult(fmt.Sprintf("skill is disabled: %s", skill.ID)), nil
	}

	tc.SkillRegistry.BumpUseCount(skill.ID)

	instructions := skill.Instructions
	if tc.WorkDir != "" {
		instructions = strings.ReplaceAll(instructions, skills.WorkdirToken, tc.WorkDir)
	}
	return NewResult(fmt.Sprintf("[Skill: %s]\n%s", skill.Name, instructions)), nil
}
