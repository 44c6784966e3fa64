package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// loadFromEnv overrides config from environment variables. Malformed
// numbers are errors so a typo never silently falls back to the default.
func loadFromEnv(cfg *Config, sources map[string]ConfigSource) error {
	setString := func(env, field string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
			sources[field] = SourceEnv
		}
	}
	setBool := func(env, field string, dst *bool) {
		if v := os.Getenv(env); v != "" {
			*dst = boolFromString(v)
			sources[field] = SourceEnv
		}
	}
	setInt := func(env, field string, dst *int) error {
		v := os.Getenv(env)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", env, v)
		}
		*dst = n
		sources[field] = SourceEnv
		return nil
	}
	setBinary := func(env, agent string) {
		if v := os.Getenv(env); v != "" {
			if cfg.Agents == nil {
				cfg.Agents = map[string]AgentConfig{}
			}
			a := cfg.Agents[agent]
			a.Binary = v
			cfg.Agents[agent] = a
			sources["agents."+agent+".binary"] = SourceEnv
		}
	}

	setString("RALPH_AGENT", "agent", &cfg.Agent)
	setString("RALPH_PROMISE", "promise", &cfg.Promise)
	if err := setInt("RALPH_SLEEP_SECONDS", "sleep_seconds", &cfg.SleepSeconds); err != nil {
		return err
	}
	setBool("RALPH_KEEP_ARTIFACTS", "keep_artifacts", &cfg.KeepArtifacts)
	setString("RALPH_SCRIPTS_DIR", "scripts_dir", &cfg.ScriptsDir)
	setString("RALPH_HOOK", "hook_command", &cfg.HookCommand)
	if err := setInt("RALPH_TAIL_LINES", "tail_lines", &cfg.TailLines); err != nil {
		return err
	}

	setString("RALPH_LOG_LEVEL", "log_level", &cfg.LogLevel)
	setString("RALPH_LOG_FORMAT", "log_format", &cfg.LogFormat)
	setBool("RALPH_LOG_TIMESTAMPS", "log_timestamps", &cfg.LogTimestamps)
	setBool("RALPH_LOG_CALLER", "log_caller", &cfg.LogCaller)

	setBinary("CLAUDE_BIN", "claude")
	setBinary("CODEX_BIN", "codex")
	return nil
}

func boolFromString(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
