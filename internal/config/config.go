// Package config loads runtime configuration from the environment and
// renders the system-prompt template.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the resolved runtime configuration. Every field has a
// COGENT_* environment key; a .env file in the working directory is
// loaded first when present.
type Config struct {
	// Provider selection and model override.
	Provider string // COGENT_PROVIDER (default "anthropic")
	Model    string // COGENT_MODEL (empty = provider default)
	APIKey   string // COGENT_API_KEY

	// Fast/vision provider credentials. Empty model disables the route.
	FastModel    string // COGENT_FAST_MODEL
	FastAPIKey   string // COGENT_FAST_API_KEY
	VisionModel  string // COGENT_VISION_MODEL
	VisionAPIKey string // COGENT_VISION_API_KEY

	// Storage.
	DBPath         string // COGENT_DB_PATH
	SkillsDir      string // COGENT_SKILLS_DIR
	SkillsSettings string // COGENT_SKILLS_SETTINGS
	TempDir        string // COGENT_TEMP_DIR

	// Loop tuning.
	MaxIterations  int      // COGENT_MAX_ITERATIONS
	RetryableTools []string // COGENT_RETRYABLE_TOOLS (comma-separated)

	// System prompt.
	SystemPromptFile string // COGENT_SYSTEM_PROMPT_FILE (template path)

	// Heartbeat.
	HeartbeatEnabled bool   // COGENT_HEARTBEAT
	HeartbeatCron    string // COGENT_HEARTBEAT_CRON

	// Sub-agent notify/sendFile passthrough.
	DelegatePassthrough bool // COGENT_DELEGATE_PASSTHROUGH
}

// Load reads configuration from a .env file (if present) and the
// process environment, applying defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Debug("no .env file loaded", "error", err)
	}

	dataDir := envStr("COGENT_DATA_DIR", "data")
	cfg := &Config{
		Provider: envStr("COGENT_PROVIDER", "anthropic"),
		Model:    os.Getenv("COGENT_MODEL"),
		APIKey:   os.Getenv("COGENT_API_KEY"),

		FastModel:    os.Getenv("COGENT_FAST_MODEL"),
		FastAPIKey:   os.Getenv("COGENT_FAST_API_KEY"),
		VisionModel:  os.Getenv("COGENT_VISION_MODEL"),
		VisionAPIKey: os.Getenv("COGENT_VISION_API_KEY"),

		DBPath:         envStr("COGENT_DB_PATH", filepath.Join(dataDir, "cogent.db")),
		SkillsDir:      envStr("COGENT_SKILLS_DIR", "skills"),
		SkillsSettings: envStr("COGENT_SKILLS_SETTINGS", filepath.Join(dataDir, "skill-settings.json")),
		TempDir:        envStr("COGENT_TEMP_DIR", filepath.Join(dataDir, "tmp")),

		MaxIterations: envInt("COGENT_MAX_ITERATIONS", 12),

		SystemPromptFile: os.Getenv("COGENT_SYSTEM_PROMPT_FILE"),

		HeartbeatEnabled: envBool("COGENT_HEARTBEAT", false),
		HeartbeatCron:    envStr("COGENT_HEARTBEAT_CRON", "*/30 * * * *"),

		DelegatePassthrough: envBool("COGENT_DELEGATE_PASSTHROUGH", false),
	}

	if raw := os.Getenv("COGENT_RETRYABLE_TOOLS"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.RetryableTools = append(cfg.RetryableTools, name)
			}
		}
	}
	return cfg
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		slog.Warn("invalid integer env value, using default", "key", key, "value", v, "default", def)
	}
	return def
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
