// Package config handles configuration loading and defaults.
//
// Configuration is loaded from multiple sources in priority order:
// 1. Built-in defaults
// 2. User config file (~/.ralph/ralph.toml or the OS config directory)
// 3. Project config file (.ralph/ralph.toml or ralph.toml in the project root)
// 4. Environment variables (RALPH_*, CLAUDE_BIN, CODEX_BIN)
// 5. CLI flags, bound by each command with the loaded values as defaults
//
// Each level overrides the previous one, so CLI flags take precedence.
//
// User-level config locations:
// - ~/.ralph/ralph.toml (preferred)
// - Windows: %AppData%\ralph\ralph.toml
// - macOS: ~/Library/Application Support/ralph/ralph.toml
// - Linux/BSD: $XDG_CONFIG_HOME/ralph/ralph.toml or ~/.config/ralph/ralph.toml
package config
