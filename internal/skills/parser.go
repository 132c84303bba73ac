package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SkillFilename is the expected filename for skill definitions.
const SkillFilename = "SKILL.md"

const frontmatterDelimiter = "---"

type frontmatter struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Triggers    []Trigger `yaml:"triggers"`
}

// ParseFile parses a SKILL.md file into a Skill.
func ParseFile(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill file: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Path = filepath.Dir(path)
	return s, nil
}

// Parse parses SKILL.md content: YAML front-matter between "---" lines,
// followed by the skill's instructions verbatim.
func Parse(data []byte) (*Skill, error) {
	fm, body, err := splitFrontmatter(string(data))
	if err != nil {
		return nil, err
	}

	var meta frontmatter
	if err := yaml.Unmarshal([]byte(fm), &meta); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if strings.TrimSpace(meta.Name) == "" {
		return nil, fmt.Errorf("skill name is required")
	}

	return &Skill{
		ID:           KebabID(meta.Name),
		Name:         meta.Name,
		Description:  meta.Description,
		Triggers:     meta.Triggers,
		Instructions: strings.TrimSpace(body),
		Enabled:      true,
	}, nil
}

func splitFrontmatter(content string) (fm, body string, err error) {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontmatterDelimiter {
		return "", "", fmt.Errorf("missing opening frontmatter delimiter")
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontmatterDelimiter {
			return strings.Join(lines[1:i], "\n"), strings.Join(lines[i+1:], "\n"), nil
		}
	}
	return "", "", fmt.Errorf("missing closing frontmatter delimiter")
}

// Render renders a skill back into SKILL.md form. The skill-create tool
// writes files with this; Parse(Render(s)) preserves id, triggers, and
// instructions.
func Render(s *Skill) ([]byte, error) {
	meta := frontmatter{Name: s.Name, Description: s.Description, Triggers: s.Triggers}
	fm, err := yaml.Marshal(&meta)
	if err != nil {
		return nil, fmt.Errorf("marshal frontmatter: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(frontmatterDelimiter + "\n")
	sb.Write(fm)
	sb.WriteString(frontmatterDelimiter + "\n")
	sb.WriteString(s.Instructions)
	sb.WriteString("\n")
	return []byte(sb.String()), nil
}
