package tools

import (
	"regexp"
	"strings"
)

// Destructive command patterns denied by default. This is a small
// denylist, not a sandbox: it blocks the obviously destructive shapes a
// model is most likely to produce by accident.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\brm\s+.*--(recursive|force)`),
	regexp.MustCompile(`\b(mkfs|diskpart)\b|\bformat\s`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), // fork bomb
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bchmod\s+[0-7]{3,4}\s+/`),
	regexp.MustCompile(`\bchown\b.*\s+/`),
}

// IsDeniedCommand reports whether a shell command matches the
// destructive-command denylist. Shell-like tools call this before
// executing model-supplied commands.
func IsDeniedCommand(command string) bool {
	for _, p := range denyPatterns {
		if p.MatchString(command) {
			return true
		}
	}
	return false
}

// ShellToolNames are tools whose failure counters key on the command
// prefix rather than the bare tool name: a shell tool runs many distinct
// commands, and a name-only counter would stop the whole tool after two
// unrelated failures.
var ShellToolNames = map[string]bool{
	"shell":        true,
	"bash":         true,
	"exec_command": true,
}

// FailureKey builds the per-tool failure-counter key. For shell-type
// tools the first token of the command is appended.
func FailureKey(toolName string, input map[string]any) string {
	if !ShellToolNames[toolName] {
		return toolName
	}
	cmd, _ := input["command"].(string)
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return toolName
	}
	return toolName + ":" + fields[0]
}
