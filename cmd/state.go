package cmd

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/nibzard/ralph-go/internal/guardrails"
	"github.com/nibzard/ralph-go/internal/state"
)

// initCommand creates the state directory and its default files.
func initCommand(args []string) error {
	env, err := newCommand("init", args)
	if err != nil {
		return err
	}
	positional, err := env.parse(args)
	if err != nil {
		return err
	}
	if err := noArgs(positional); err != nil {
		return err
	}

	result, err := env.store().Init()
	if err != nil {
		return err
	}
	for _, name := range result.Missing {
		env.logger.Warn("bundled template missing; skipped", "file", name)
	}
	if !result.Changed() {
		fmt.Fprintln(stdout, warnStyle.Render(fmt.Sprintf(".ralph directory already exists at %s", result.Dir)))
		return nil
	}
	fmt.Fprintln(stdout, successStyle.Render(fmt.Sprintf("Initialized .ralph directory at %s", result.Dir)))
	for _, name := range result.Created {
		fmt.Fprintf(stdout, "  - Created %s\n", name)
	}
	return nil
}

// addSignCommand appends a sign, prompting for any field not given as a flag.
func addSignCommand(args []string) error {
	env, err := newCommand("add-sign", args)
	if err != nil {
		return err
	}
	fs := env.fs
	name := fs.String("name", "", "Sign name")
	fs.StringVar(name, "n", "", "Sign name (shorthand)")
	trigger := fs.String("trigger", "", "When this sign applies")
	fs.StringVar(trigger, "t", "", "When this sign applies (shorthand)")
	instruction := fs.String("instruction", "", "What to do")
	fs.StringVar(instruction, "i", "", "What to do (shorthand)")
	reason := fs.String("reason", "", "Why this sign was added")

	positional, err := env.parse(args)
	if err != nil {
		return err
	}
	if err := noArgs(positional); err != nil {
		return err
	}

	// Only flags given on the command line skip their prompt.
	var partial guardrails.Partial
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name", "n":
			partial.Name = name
		case "trigger", "t":
			partial.Trigger = trigger
		case "instruction", "i":
			partial.Instruction = instruction
		case "reason":
			partial.Reason = reason
		}
	})

	store := env.store()
	if err := store.Require(store.GuardrailsPath()); err != nil {
		return err
	}
	sign, err := guardrails.Resolve(partial, guardrails.NewLinePrompter(stdin, stdout))
	if err != nil {
		return fmt.Errorf("reading sign: %w", err)
	}
	if err := store.AppendSign(sign); err != nil {
		return err
	}
	fmt.Fprintln(stdout, successStyle.Render("Added sign: "+sign.Name))
	return nil
}

// showLogCommand prints the tail of the activity or error log.
func showLogCommand(name string, args []string) error {
	env, err := newCommand(name, args)
	if err != nil {
		return err
	}
	lines := env.fs.Int("lines", env.cfg.TailLines, "Number of lines to show")
	env.fs.IntVar(lines, "n", env.cfg.TailLines, "Number of lines to show (shorthand)")
	positional, err := env.parse(args)
	if err != nil {
		return err
	}
	if err := noArgs(positional); err != nil {
		return err
	}

	store := env.store()
	path := store.ActivityPath()
	if name == "show-errors" {
		path = store.ErrorsPath()
	}
	tail, err := store.ReadTail(path, *lines)
	if err != nil {
		return err
	}
	renderText(stdout, tail)
	return nil
}

// showGuardrailsCommand prints the full ledger, or its signs as YAML or JSON.
func showGuardrailsCommand(args []string) error {
	env, err := newCommand("show-guardrails", args)
	if err != nil {
		return err
	}
	format := env.fs.String("format", "text", "Output format: text|yaml|json")
	positional, err := env.parse(args)
	if err != nil {
		return err
	}
	if err := noArgs(positional); err != nil {
		return err
	}

	store := env.store()
	switch f := strings.ToLower(*format); f {
	case "text", "":
		content, err := store.ReadAll(store.GuardrailsPath())
		if err != nil {
			return err
		}
		renderText(stdout, state.TailLines(content, 0))
		return nil
	default:
		signs, err := store.Signs()
		if err != nil {
			return err
		}
		return guardrails.Export(stdout, signs, guardrails.Format(f))
	}
}

// renderText prints markdown-ish state file lines with headings emphasized.
func renderText(w io.Writer, lines []string) {
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "#"):
			fmt.Fprintln(w, headerStyle.Render(line))
		case strings.HasPrefix(line, "<!--"):
			fmt.Fprintln(w, mutedStyle.Render(line))
		default:
			fmt.Fprintln(w, line)
		}
	}
}
