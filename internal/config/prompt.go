package config

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"time"
)

// DefaultSystemPrompt is used when no template file is configured.
const DefaultSystemPrompt = `You are a capable personal assistant with access to tools, skills, and long-term memory.

Current time: {{datetime}} ({{timezone}})
Environment: {{os}}{{#if shell}}, shell: {{shell}}{{/if}}
Home: {{home}}, temp: {{temp}}
{{#if clis}}Available CLIs: {{clis}}{{/if}}

Use tools when they help. Save durable facts about the user with save_memory. Load a skill with use_skill before following its instructions. Be concise.`

// probedCLIs are looked up on PATH to tell the model what it can shell
// out to.
var probedCLIs = []string{"git", "curl", "jq", "python3", "ffmpeg", "pandoc"}

// SystemPrompt renders the configured template file, or the built-in
// default when none is set or the file is unreadable.
func (c *Config) SystemPrompt() string {
	tpl := DefaultSystemPrompt
	if c.SystemPromptFile != "" {
		if data, err := os.ReadFile(c.SystemPromptFile); err == nil {
			tpl = string(data)
		}
	}
	return RenderTemplate(tpl, templateVars(c.TempDir))
}

func templateVars(tempDir string) map[string]string {
	now := time.Now()
	zone, _ := now.Zone()
	home, _ := os.UserHomeDir()

	var clis []string
	for _, name := range probedCLIs {
		if _, err := exec.LookPath(name); err == nil {
			clis = append(clis, name)
		}
	}

	return map[string]string{
		"datetime": now.Format("Mon, 02 Jan 2006 15:04"),
		"timezone": zone,
		"os":       fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		"shell":    os.Getenv("SHELL"),
		"home":     home,
		"temp":     tempDir,
		"clis":     strings.Join(clis, ", "),
	}
}

var (
	condRe = regexp.MustCompile(`(?s)\{\{#if\s+(\w+)\}\}(.*?)\{\{/if\}\}`)
	varRe  = regexp.MustCompile(`\{\{(\w+)\}\}`)
)

// RenderTemplate substitutes {{var}} placeholders and resolves
// {{#if var}}...{{/if}} blocks (kept when the variable is non-empty).
// Unknown variables render as empty strings.
func RenderTemplate(tpl string, vars map[string]string) string {
	out := condRe.ReplaceAllStringFunc(tpl, func(m string) string {
		parts := condRe.FindStringSubmatch(m)
		if vars[parts[1]] == "" {
			return ""
		}
		return parts[2]
	})
	out = varRe.ReplaceAllStringFunc(out, func(m string) string {
		name := varRe.FindStringSubmatch(m)[1]
		return vars[name]
	})
	return strings.TrimSpace(out)
}
