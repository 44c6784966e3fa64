// Package logging builds the console logger and writes JSONL loop event logs.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Options holds configuration for console logging.
type Options struct {
	Level           string
	Format          string
	ReportTimestamp bool
	ReportCaller    bool
	Prefix          string
}

// DefaultOptions returns default options for console logging.
func DefaultOptions() Options {
	return Options{
		Level:  "info",
		Format: "text",
		Prefix: "ralph",
	}
}

// New creates a charmbracelet logger writing to w (stderr when nil).
// Unknown levels and formats fall back to info and text.
func New(w io.Writer, opts Options) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	level, err := ParseLevel(opts.Level)
	if err != nil {
		level = log.InfoLevel
	}
	formatter, err := ParseFormatter(opts.Format)
	if err != nil {
		formatter = log.TextFormatter
	}
	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: opts.ReportTimestamp,
		ReportCaller:    opts.ReportCaller,
		Prefix:          opts.Prefix,
	})
}

// ParseLevel maps a level name to a log.Level.
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return log.InfoLevel, nil
	case "debug":
		return log.DebugLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	case "fatal":
		return log.FatalLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("invalid log level %q (expected debug|info|warn|error|fatal)", s)
	}
}

// ParseFormatter maps a format name to a log.Formatter.
func ParseFormatter(s string) (log.Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	default:
		return log.TextFormatter, fmt.Errorf("invalid log format %q (expected text|json|logfmt)", s)
	}
}
