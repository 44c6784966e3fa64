// Package config tests configuration loading.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// isolate points the user config lookups at an empty temp home and clears
// every variable Load reads.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("APPDATA", filepath.Join(home, "AppData"))
	for _, env := range []string{
		"RALPH_AGENT", "RALPH_PROMISE", "RALPH_SLEEP_SECONDS", "RALPH_KEEP_ARTIFACTS",
		"RALPH_SCRIPTS_DIR", "RALPH_HOOK", "RALPH_TAIL_LINES", "RALPH_LOG_LEVEL",
		"RALPH_LOG_FORMAT", "RALPH_LOG_TIMESTAMPS", "RALPH_LOG_CALLER", "CLAUDE_BIN", "CODEX_BIN",
	} {
		t.Setenv(env, "")
	}
	return home
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Agent != "claude" {
		t.Errorf("Agent: got %q, want claude", cfg.Agent)
	}
	if cfg.Promise != "COMPLETE" {
		t.Errorf("Promise: got %q, want COMPLETE", cfg.Promise)
	}
	if cfg.TailLines != DefaultTailLines {
		t.Errorf("TailLines: got %d, want %d", cfg.TailLines, DefaultTailLines)
	}
	if cfg.SleepSeconds != 0 || cfg.KeepArtifacts {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.AgentBinary("codex") != "codex" || cfg.AgentBinary("CLAUDE") != "claude" {
		t.Errorf("agent binaries: %+v", cfg.Agents)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadLayering(t *testing.T) {
	home := isolate(t)
	root := t.TempDir()

	writeFile(t, filepath.Join(home, ".ralph", "ralph.toml"), `
agent = "codex"
promise = "USER"
sleep_seconds = 3
tail_lines = 10
`)
	writeFile(t, filepath.Join(root, ".ralph", "ralph.toml"), `
promise = "PROJECT"
keep_artifacts = true

[agents.codex]
binary = "/opt/codex"
`)
	t.Setenv("RALPH_SLEEP_SECONDS", "7")

	cws, err := LoadWithSources(root)
	if err != nil {
		t.Fatalf("LoadWithSources() error: %v", err)
	}
	cfg := cws.Config

	tests := []struct {
		field  string
		value  string
		source ConfigSource
	}{
		{"agent", "codex", SourceUserFile},
		{"promise", "PROJECT", SourceProjFile},
		{"sleep_seconds", "7", SourceEnv},
		{"tail_lines", "10", SourceUserFile},
		{"keep_artifacts", "true", SourceProjFile},
		{"agents.codex.binary", "/opt/codex", SourceProjFile},
		{"agents.claude.binary", "claude", SourceDefault},
		{"log_level", "info", SourceDefault},
	}
	for _, tt := range tests {
		if got := cfg.Value(tt.field); got != tt.value {
			t.Errorf("%s: got %q, want %q", tt.field, got, tt.value)
		}
		if got := cws.Sources[tt.field]; got != tt.source {
			t.Errorf("%s source: got %q, want %q", tt.field, got, tt.source)
		}
	}
	if len(cfg.Files) != 2 {
		t.Errorf("Files: %v", cfg.Files)
	}
	if cfg.ProjectRoot != root {
		t.Errorf("ProjectRoot: got %q, want %q", cfg.ProjectRoot, root)
	}
}

func TestLoadProjectFileFallback(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ralph.toml"), `agent = "codex"`)

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Agent != "codex" {
		t.Errorf("Agent: got %q, want codex", cfg.Agent)
	}
}

func TestLoadUserConfigDir(t *testing.T) {
	home := isolate(t)
	dir, err := os.UserConfigDir()
	if err != nil {
		t.Skipf("no user config dir: %v", err)
	}
	if !strings.HasPrefix(dir, home) {
		t.Skipf("user config dir %s is outside the temp home", dir)
	}
	writeFile(t, filepath.Join(dir, "ralph", "ralph.toml"), `promise = "XDG"`)

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Promise != "XDG" {
		t.Errorf("Promise: got %q, want XDG", cfg.Promise)
	}
}

func TestLoadFromEnv(t *testing.T) {
	isolate(t)
	t.Setenv("RALPH_AGENT", "Codex")
	t.Setenv("RALPH_PROMISE", "DONE")
	t.Setenv("RALPH_KEEP_ARTIFACTS", "yes")
	t.Setenv("RALPH_HOOK", "/bin/hook")
	t.Setenv("RALPH_TAIL_LINES", "25")
	t.Setenv("RALPH_LOG_LEVEL", "debug")
	t.Setenv("RALPH_LOG_FORMAT", "json")
	t.Setenv("RALPH_LOG_TIMESTAMPS", "1")
	t.Setenv("CLAUDE_BIN", "/usr/local/bin/claude")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Agent != "codex" {
		t.Errorf("Agent: got %q, want codex (normalized)", cfg.Agent)
	}
	if cfg.Promise != "DONE" || !cfg.KeepArtifacts || cfg.HookCommand != "/bin/hook" || cfg.TailLines != 25 {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" || !cfg.LogTimestamps {
		t.Errorf("logging env not applied: %+v", cfg)
	}
	if cfg.AgentBinary("claude") != "/usr/local/bin/claude" {
		t.Errorf("CLAUDE_BIN not applied: %q", cfg.AgentBinary("claude"))
	}
	opts := cfg.LogOptions()
	if opts.Level != "debug" || opts.Format != "json" || !opts.ReportTimestamp || opts.Prefix != "ralph" {
		t.Errorf("LogOptions: %+v", opts)
	}
}

func TestLoadRejectsBadEnvInteger(t *testing.T) {
	isolate(t)
	t.Setenv("RALPH_SLEEP_SECONDS", "five")

	if _, err := Load(t.TempDir()); err == nil || !strings.Contains(err.Error(), "RALPH_SLEEP_SECONDS") {
		t.Fatalf("expected RALPH_SLEEP_SECONDS error, got %v", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ralph.toml"), "agnet = \"codex\"\n")

	_, err := Load(root)
	if err == nil || !strings.Contains(err.Error(), "agnet") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadRejectsInvalidTOML(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ralph.toml"), "agent = \n")

	if _, err := Load(root); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestScriptsDirResolvedAgainstRoot(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ralph.toml"), `scripts_dir = "tools/ralph"`)

	cfg, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(root, "tools", "ralph"); cfg.ScriptsDir != want {
		t.Errorf("ScriptsDir: got %q, want %q", cfg.ScriptsDir, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown agent", func(c *Config) { c.Agent = "gpt" }},
		{"empty promise", func(c *Config) { c.Promise = " " }},
		{"negative sleep", func(c *Config) { c.SleepSeconds = -1 }},
		{"zero tail", func(c *Config) { c.TailLines = 0 }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home := isolate(t)
	t.Setenv("RALPH_TEST_DIR", "/srv/x")

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"~", home},
		{"~/hooks/h.sh", filepath.Join(home, "hooks", "h.sh")},
		{"$RALPH_TEST_DIR/bin", "/srv/x/bin"},
		{"/abs/path", "/abs/path"},
		{"relative/path", "relative/path"},
	}
	for _, tt := range tests {
		if got := expandPath(tt.in); got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExampleConfigParses(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ralph.toml"), ExampleConfig())

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("example config invalid: %v", err)
	}
}
