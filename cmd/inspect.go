package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/nibzard/ralph-go/internal/config"
	"github.com/nibzard/ralph-go/internal/executor"
	"github.com/nibzard/ralph-go/internal/logging"
	"github.com/nibzard/ralph-go/internal/scripts"
)

// runsCommand lists recorded iterations, newest first.
func runsCommand(args []string) error {
	env, err := newCommand("runs", args)
	if err != nil {
		return err
	}
	limit := env.fs.Int("n", 20, "Number of runs to show (0 = all)")
	positional, err := env.parse(args)
	if err != nil {
		return err
	}
	if err := noArgs(positional); err != nil {
		return err
	}

	listings, err := executor.ListRecords(env.store().RunsDir())
	if err != nil {
		return err
	}
	if len(listings) == 0 {
		fmt.Fprintln(stdout, "No runs recorded.")
		return nil
	}
	if *limit > 0 && len(listings) > *limit {
		listings = listings[:*limit]
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("RUN", "ITER", "AGENT", "EXIT", "DONE", "DURATION")
	for _, l := range listings {
		t.Row(runRow(l)...)
	}
	fmt.Fprintln(stdout, t.Render())
	return nil
}

func runRow(l executor.RecordListing) []string {
	name := l.Record.ID
	if name == "" {
		name = l.Dir
	}
	if l.Err != nil {
		return []string{name, "", "", "", "", "invalid: " + l.Err.Error()}
	}
	rec := l.Record
	exit, duration := "running", ""
	if rec.ExitCode != nil {
		exit = fmt.Sprint(*rec.ExitCode)
	}
	if rec.FinishedAt != nil {
		duration = rec.FinishedAt.Sub(rec.StartedAt).Round(time.Second).String()
	}
	done := ""
	if rec.Completed {
		done = "yes"
	}
	return []string{rec.ID, fmt.Sprint(rec.Iteration), rec.Agent.String(), exit, done, duration}
}

// logsCommand prints the latest loop log.
func logsCommand(ctx context.Context, args []string) error {
	env, err := newCommand("logs", args)
	if err != nil {
		return err
	}
	follow := env.fs.Bool("follow", false, "Follow the log (like tail -f)")
	env.fs.BoolVar(follow, "f", false, "Follow the log (shorthand)")
	n := env.fs.Int("n", env.cfg.TailLines, "Number of lines to show (0 = all)")
	events := env.fs.Bool("events", false, "Show the JSONL event log instead of agent output")
	positional, err := env.parse(args)
	if err != nil {
		return err
	}
	if err := noArgs(positional); err != nil {
		return err
	}

	suffix := ".log"
	if *events {
		suffix = ".jsonl"
	}
	path, err := logging.FindLatestLog(env.store().RunsDir(), suffix)
	if err != nil {
		return fmt.Errorf("finding latest log: %w", err)
	}
	if path == "" {
		fmt.Fprintln(stdout, "No loop logs found.")
		return nil
	}

	fmt.Fprintln(stderr, mutedStyle.Render("Tailing: "+path))
	if *follow {
		fmt.Fprintln(stderr, mutedStyle.Render("(Ctrl+C to stop)"))
	}
	return logging.TailLog(ctx, stdout, path, *n, *follow)
}

// configCommand shows the effective configuration and where each value came from.
func configCommand(args []string) error {
	env, err := newCommand("config", args)
	if err != nil {
		return err
	}
	example := env.fs.Bool("example", false, "Print an example config file")
	positional, err := env.parse(args)
	if err != nil {
		return err
	}
	if err := noArgs(positional); err != nil {
		return err
	}
	if *example {
		fmt.Fprint(stdout, config.ExampleConfig())
		return nil
	}

	cws, err := config.LoadWithSources(*env.root)
	if err != nil {
		return err
	}
	cfg := cws.Config
	fmt.Fprintln(stdout, headerStyle.Render("Project root: "+cfg.ProjectRoot))
	if len(cfg.Files) == 0 {
		fmt.Fprintln(stdout, mutedStyle.Render("No config files found."))
	}
	for _, f := range cfg.Files {
		fmt.Fprintln(stdout, mutedStyle.Render("Loaded: "+f))
	}
	fmt.Fprintln(stdout)

	width := 0
	for _, field := range config.Fields() {
		width = max(width, len(field))
	}
	for _, field := range config.Fields() {
		fmt.Fprintf(stdout, "%-*s = %q %s\n", width, field, cfg.Value(field), mutedStyle.Render("("+string(cws.Sources[field])+")"))
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// doctorCommand checks the state directory, scripts and agent binaries.
func doctorCommand(args []string) error {
	env, err := newCommand("doctor", args)
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
	cfg := env.cfg
	store := env.store()
	w := stdout

	fmt.Fprintln(w, headerStyle.Render("Ralph Doctor"))
	fmt.Fprintln(w)
	allOK := true
	ok := func(msg string) { fmt.Fprintln(w, "  "+successStyle.Render("ok "+msg)) }
	warn := func(msg string) { fmt.Fprintln(w, "  "+warnStyle.Render("! "+msg)) }
	fail := func(msg string) {
		fmt.Fprintln(w, "  "+errorStyle.Render("x "+msg))
		allOK = false
	}

	fmt.Fprintln(w, "Config:")
	if err := cfg.Validate(); err != nil {
		fail(err.Error())
	} else {
		ok(fmt.Sprintf("agent=%s promise=%s", cfg.Agent, cfg.Promise))
	}
	for _, f := range cfg.Files {
		fmt.Fprintf(w, "  loaded %s\n", f)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "State directory: %s\n", store.Dir())
	for _, path := range []string{store.GuardrailsPath(), store.ActivityPath(), store.ErrorsPath()} {
		if err := store.Require(path); err != nil {
			fail(err.Error())
		} else {
			ok(path)
		}
	}
	if info, err := os.Stat(store.RunsDir()); err != nil || !info.IsDir() {
		warn("runs directory missing (created on first run)")
	} else if listings, err := executor.ListRecords(store.RunsDir()); err == nil {
		invalid := 0
		for _, l := range listings {
			if l.Err != nil {
				invalid++
			}
		}
		if invalid > 0 {
			warn(fmt.Sprintf("%d of %d run records are invalid", invalid, len(listings)))
		} else {
			ok(fmt.Sprintf("%d run records", len(listings)))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Scripts:")
	locator := env.locator()
	if dir, err := locator.ResolveDir(); err != nil {
		fail(err.Error())
	} else {
		fmt.Fprintf(w, "  dir: %s\n", dir)
		for _, name := range []string{scripts.Once, scripts.BuildPrompt} {
			if _, err := locator.Path(name); err != nil {
				fail(err.Error())
			} else {
				ok(name)
			}
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Dependencies:")
	if !checkBinary(w, "bash", "bash", true) {
		allOK = false
	}
	for _, agent := range executor.Agents() {
		required := agent.String() == cfg.Agent
		if !checkBinary(w, agent.String(), cfg.AgentBinary(agent.String()), required) {
			allOK = false
		}
	}
	if cfg.HookCommand != "" {
		if !checkBinary(w, "hook", cfg.HookCommand, true) {
			allOK = false
		}
	}
	fmt.Fprintln(w)

	if allOK {
		fmt.Fprintln(w, successStyle.Render("All checks passed!"))
		return nil
	}
	fmt.Fprintln(w, warnStyle.Render("Some checks failed. Ralph may not function correctly."))
	return errors.New("doctor checks failed")
}
