// Package ralphdir provides constants and utilities for the .ralph directory structure.
package ralphdir

import "path/filepath"

const (
	// Dir is the name of the ralph state directory.
	Dir = ".ralph"

	// GuardrailsFile holds the sign ledger (inside .ralph).
	GuardrailsFile = "guardrails.md"

	// ActivityLogFile is the append-only activity log (inside .ralph).
	ActivityLogFile = "activity.log"

	// ErrorsLogFile is the append-only error log (inside .ralph).
	ErrorsLogFile = "errors.log"

	// RunsDir holds one record directory per iteration (inside .ralph).
	RunsDir = "runs"

	// ConfigFile is the project config file name (inside .ralph).
	ConfigFile = "ralph.toml"
)

// DirPath returns the full path to the .ralph directory within a project root.
func DirPath(root string) string {
	if root == "." || root == "" {
		return Dir
	}
	return filepath.Join(root, Dir)
}

// GuardrailsPath returns the full path to the guardrail ledger.
func GuardrailsPath(root string) string {
	return joinPath(root, GuardrailsFile)
}

// ActivityPath returns the full path to the activity log.
func ActivityPath(root string) string {
	return joinPath(root, ActivityLogFile)
}

// ErrorsPath returns the full path to the error log.
func ErrorsPath(root string) string {
	return joinPath(root, ErrorsLogFile)
}

// RunsPath returns the full path to the runs collection.
func RunsPath(root string) string {
	return joinPath(root, RunsDir)
}

// ConfigPath returns the full path to the project config file.
func ConfigPath(root string) string {
	return joinPath(root, ConfigFile)
}

func joinPath(root, name string) string {
	return filepath.Join(DirPath(root), name)
}
