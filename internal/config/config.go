package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/nibzard/ralph-go/internal/executor"
	"github.com/nibzard/ralph-go/internal/logging"
)

// ConfigSource represents where a configuration value came from.
type ConfigSource string

const (
	SourceDefault  ConfigSource = "default"
	SourceUserFile ConfigSource = "user file"
	SourceProjFile ConfigSource = "project file"
	SourceEnv      ConfigSource = "environment"
	SourceFlag     ConfigSource = "flag"
)

// Default values.
const (
	DefaultTailLines    = 50
	DefaultSleepSeconds = 0
)

// Config holds the full configuration for ralph.
type Config struct {
	Agent         string `toml:"agent"`
	Promise       string `toml:"promise"`
	SleepSeconds  int    `toml:"sleep_seconds"`
	KeepArtifacts bool   `toml:"keep_artifacts"`

	// Directory holding ralph-once.sh and build-prompt.sh. Empty means the
	// bundled scripts.
	ScriptsDir string `toml:"scripts_dir"`

	// Hook command run after each loop iteration.
	HookCommand string `toml:"hook_command"`

	// Lines shown by show-activity and show-errors.
	TailLines int `toml:"tail_lines"`

	LogLevel      string `toml:"log_level"`
	LogFormat     string `toml:"log_format"`
	LogTimestamps bool   `toml:"log_timestamps"`
	LogCaller     bool   `toml:"log_caller"`

	Agents map[string]AgentConfig `toml:"agents"`

	// Computed.
	ProjectRoot string   `toml:"-"`
	Files       []string `toml:"-"`
}

// AgentConfig holds per-agent settings.
type AgentConfig struct {
	Binary string `toml:"binary"`
}

// ConfigWithSources holds configuration along with the source of each field.
type ConfigWithSources struct {
	Config  *Config
	Sources map[string]ConfigSource
}

// Fields lists the configurable keys in display order.
func Fields() []string {
	return []string{
		"agent",
		"promise",
		"sleep_seconds",
		"keep_artifacts",
		"scripts_dir",
		"hook_command",
		"tail_lines",
		"log_level",
		"log_format",
		"log_timestamps",
		"log_caller",
		"agents.claude.binary",
		"agents.codex.binary",
	}
}

// Defaults returns a config holding only built-in values.
func Defaults() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	cfg.Agent = string(executor.DefaultAgent)
	cfg.Promise = executor.DefaultPromise
	cfg.SleepSeconds = DefaultSleepSeconds
	cfg.TailLines = DefaultTailLines
	cfg.LogLevel = "info"
	cfg.LogFormat = "text"
	cfg.Agents = map[string]AgentConfig{
		string(executor.AgentClaude): {Binary: "claude"},
		string(executor.AgentCodex):  {Binary: "codex"},
	}
}

// Load loads configuration for the project at root.
func Load(root string) (*Config, error) {
	cws, err := LoadWithSources(root)
	if err != nil {
		return nil, err
	}
	return cws.Config, nil
}

// LoadWithSources loads configuration and tracks the source of each value.
func LoadWithSources(root string) (*ConfigWithSources, error) {
	sources := make(map[string]ConfigSource)
	cfg := Defaults()
	for _, field := range Fields() {
		sources[field] = SourceDefault
	}

	if path := findUserConfigFile(); path != "" {
		if err := loadConfigFile(cfg, path, sources, SourceUserFile); err != nil {
			return nil, fmt.Errorf("loading user config file %s: %w", path, err)
		}
	}
	if path := findProjectConfigFile(root); path != "" {
		if err := loadConfigFile(cfg, path, sources, SourceProjFile); err != nil {
			return nil, fmt.Errorf("loading project config file %s: %w", path, err)
		}
	}

	if err := loadFromEnv(cfg, sources); err != nil {
		return nil, err
	}

	if err := finalizeConfig(cfg, root); err != nil {
		return nil, fmt.Errorf("finalizing config: %w", err)
	}
	return &ConfigWithSources{Config: cfg, Sources: sources}, nil
}

// loadConfigFile decodes path over cfg and marks every key it defines.
func loadConfigFile(cfg *Config, path string, sources map[string]ConfigSource, source ConfigSource) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	for _, field := range Fields() {
		if md.IsDefined(strings.Split(field, ".")...) {
			sources[field] = source
		}
	}
	cfg.Files = append(cfg.Files, path)
	return nil
}

// finalizeConfig computes derived values.
func finalizeConfig(cfg *Config, root string) error {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}
	cfg.ProjectRoot = abs

	cfg.Agent = strings.ToLower(strings.TrimSpace(cfg.Agent))
	if cfg.ScriptsDir != "" {
		cfg.ScriptsDir = expandPath(cfg.ScriptsDir)
		if !filepath.IsAbs(cfg.ScriptsDir) {
			cfg.ScriptsDir = filepath.Join(cfg.ProjectRoot, cfg.ScriptsDir)
		}
	}
	if cfg.HookCommand != "" {
		cfg.HookCommand = expandPath(cfg.HookCommand)
	}
	for name, agent := range cfg.Agents {
		agent.Binary = expandPath(agent.Binary)
		cfg.Agents[name] = agent
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := executor.ParseAgent(c.Agent); err != nil {
		return err
	}
	if strings.TrimSpace(c.Promise) == "" {
		return fmt.Errorf("promise must not be empty")
	}
	if c.SleepSeconds < 0 {
		return fmt.Errorf("sleep_seconds must not be negative, got %d", c.SleepSeconds)
	}
	if c.TailLines <= 0 {
		return fmt.Errorf("tail_lines must be positive, got %d", c.TailLines)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := logging.ParseFormatter(c.LogFormat); err != nil {
		return err
	}
	return nil
}

// AgentBinary returns the configured executable for agent, or "" when the
// collaborator should use its own default.
func (c *Config) AgentBinary(agent string) string {
	if c.Agents == nil {
		return ""
	}
	return c.Agents[strings.ToLower(agent)].Binary
}

// LogOptions converts the logging settings for logging.New.
func (c *Config) LogOptions() logging.Options {
	opts := logging.DefaultOptions()
	opts.Level = c.LogLevel
	opts.Format = c.LogFormat
	opts.ReportTimestamp = c.LogTimestamps
	opts.ReportCaller = c.LogCaller
	return opts
}

// Value returns the display value of a field from Fields.
func (c *Config) Value(field string) string {
	switch field {
	case "agent":
		return c.Agent
	case "promise":
		return c.Promise
	case "sleep_seconds":
		return fmt.Sprint(c.SleepSeconds)
	case "keep_artifacts":
		return fmt.Sprint(c.KeepArtifacts)
	case "scripts_dir":
		return c.ScriptsDir
	case "hook_command":
		return c.HookCommand
	case "tail_lines":
		return fmt.Sprint(c.TailLines)
	case "log_level":
		return c.LogLevel
	case "log_format":
		return c.LogFormat
	case "log_timestamps":
		return fmt.Sprint(c.LogTimestamps)
	case "log_caller":
		return fmt.Sprint(c.LogCaller)
	case "agents.claude.binary":
		return c.AgentBinary("claude")
	case "agents.codex.binary":
		return c.AgentBinary("codex")
	}
	return ""
}

// findProjectConfigFile looks for a config file in the project root.
func findProjectConfigFile(root string) string {
	if root == "" {
		root = "."
	}
	for _, name := range []string{filepath.Join(".ralph", "ralph.toml"), "ralph.toml"} {
		p := filepath.Join(root, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// findUserConfigFile checks ~/.ralph/ralph.toml first, then the OS config
// directory.
func findUserConfigFile() string {
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".ralph", "ralph.toml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if dir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(dir, "ralph", "ralph.toml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// ExampleConfig returns an example configuration showing all available options.
func ExampleConfig() string {
	return `# ralph configuration file
# Values can be overridden by RALPH_* environment variables or CLI flags.

# Agent for once and loop: claude or codex
agent = "claude"

# Token the agent prints as <promise>TOKEN</promise> when the work is done
promise = "COMPLETE"

# Seconds to wait between loop iterations
sleep_seconds = 0

# Keep agent working files in /tmp/ralph-<agent>-<mode>
keep_artifacts = false

# Directory with ralph-once.sh and build-prompt.sh (default: bundled scripts)
# scripts_dir = "scripts/ralph"

# Command run after each loop iteration with
# <iteration> <exit-code> <completed> <run-dir>
# hook_command = "~/.ralph/hooks/notify.sh"

# Lines shown by show-activity and show-errors
tail_lines = 50

# Console logging: debug|info|warn|error, text|json|logfmt
log_level = "info"
log_format = "text"
log_timestamps = false
log_caller = false

[agents.claude]
binary = "claude"

[agents.codex]
binary = "codex"
`
}
