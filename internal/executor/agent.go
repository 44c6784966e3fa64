package executor

import (
	"fmt"
	"strings"
)

// Agent selects which coding agent an iteration runs.
type Agent string

const (
	AgentClaude Agent = "claude"
	AgentCodex  Agent = "codex"
)

// DefaultAgent is used when no agent is configured.
const DefaultAgent = AgentClaude

// DefaultPromise is the completion token agents are told to print.
const DefaultPromise = "COMPLETE"

// Agents lists the supported agents.
func Agents() []Agent {
	return []Agent{AgentClaude, AgentCodex}
}

// ParseAgent normalizes an agent name. Empty input yields DefaultAgent.
func ParseAgent(name string) (Agent, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	switch Agent(normalized) {
	case "":
		return DefaultAgent, nil
	case AgentClaude, AgentCodex:
		return Agent(normalized), nil
	default:
		return "", fmt.Errorf("unknown agent %q (expected claude|codex)", name)
	}
}

// String implements fmt.Stringer.
func (a Agent) String() string {
	return string(a)
}
