// Package guardrails defines signs, the behavioral corrections recorded in
// the guardrail ledger, and their fixed markdown rendering.
//
// The rendered block shape is consumed by prompt assembly downstream, so
// Render and Parse must stay byte-compatible with:
//
//	### Sign: <name>
//	- **Trigger**: <trigger>
//	- **Instruction**: <instruction>
//	- **Added after**: <reason>
package guardrails

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultReason is used when a sign is added outside an automatic failure path.
const DefaultReason = "Manual addition"

const (
	headingPrefix     = "### Sign: "
	triggerPrefix     = "- **Trigger**: "
	instructionPrefix = "- **Instruction**: "
	reasonPrefix      = "- **Added after**: "
)

// Sign is a single guardrail entry.
type Sign struct {
	Name        string `json:"name" yaml:"name"`
	Trigger     string `json:"trigger" yaml:"trigger"`
	Instruction string `json:"instruction" yaml:"instruction"`
	Reason      string `json:"reason" yaml:"reason"`
}

// Render formats the sign as a ledger block, including the leading blank line.
func (s Sign) Render() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(headingPrefix + s.Name + "\n")
	b.WriteString(triggerPrefix + s.Trigger + "\n")
	b.WriteString(instructionPrefix + s.Instruction + "\n")
	b.WriteString(reasonPrefix + s.Reason + "\n")
	return b.String()
}

// Parse reads a ledger and returns its signs in file order.
// Text outside sign blocks (the template preamble) is ignored.
func Parse(r io.Reader) ([]Sign, error) {
	var signs []Sign
	var current *Sign

	flush := func() {
		if current != nil {
			signs = append(signs, *current)
			current = nil
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, headingPrefix):
			flush()
			current = &Sign{Name: strings.TrimPrefix(line, headingPrefix)}
		case current == nil:
			continue
		case strings.HasPrefix(line, triggerPrefix):
			current.Trigger = strings.TrimPrefix(line, triggerPrefix)
		case strings.HasPrefix(line, instructionPrefix):
			current.Instruction = strings.TrimPrefix(line, instructionPrefix)
		case strings.HasPrefix(line, reasonPrefix):
			current.Reason = strings.TrimPrefix(line, reasonPrefix)
		case strings.HasPrefix(line, "#"):
			// Any other heading ends the block.
			flush()
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	flush()
	return signs, nil
}

// Format names an export encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Export writes signs to w in the given format.
func Export(w io.Writer, signs []Sign, format Format) error {
	if signs == nil {
		signs = []Sign{}
	}
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(signs); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(signs); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown export format %q (expected yaml|json)", format)
	}
}
