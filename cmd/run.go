package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nibzard/ralph-go/internal/executor"
	"github.com/nibzard/ralph-go/internal/logging"
	"github.com/nibzard/ralph-go/internal/loop"
	"github.com/nibzard/ralph-go/internal/ralphdir"
	"github.com/nibzard/ralph-go/internal/scripts"
	"github.com/nibzard/ralph-go/internal/ui"
)

// onceCommand runs a single iteration and passes its exit code through.
func onceCommand(ctx context.Context, args []string) error {
	env, err := newCommand("once", args)
	if err != nil {
		return err
	}
	fs, cfg := env.fs, env.cfg
	agentName := fs.String("agent", cfg.Agent, "Agent to use: claude or codex")
	fs.StringVar(agentName, "a", cfg.Agent, "Agent to use (shorthand)")
	keep := fs.Bool("keep-artifacts", cfg.KeepArtifacts, "Keep temp files for debugging")
	fs.BoolVar(keep, "k", cfg.KeepArtifacts, "Keep temp files (shorthand)")
	promise := fs.String("promise", cfg.Promise, "Completion promise string")
	fs.StringVar(promise, "p", cfg.Promise, "Completion promise string (shorthand)")

	positional, err := env.parse(args)
	if err != nil {
		return err
	}
	if err := noArgs(positional); err != nil {
		return err
	}
	agent, err := executor.ParseAgent(*agentName)
	if err != nil {
		return err
	}

	exe := executor.New(env.store(), env.locator(), executor.WithLogger(env.logger))
	result, err := exe.Run(ctx, executor.Options{
		Agent:         agent,
		Promise:       *promise,
		KeepArtifacts: *keep,
		ArtifactMode:  executor.ModeDebug,
		Binary:        cfg.AgentBinary(agent.String()),
		Stdin:         stdin,
		Stdout:        stdout,
		Stderr:        stderr,
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	env.logger.Info("iteration finished", "run", result.RunID, "exit", result.ExitCode, "completed", result.Completed, "duration", result.Duration.Round(time.Millisecond))
	if result.ExitCode != 0 {
		return &executor.ExitError{Code: result.ExitCode}
	}
	return nil
}

// loopCommand runs up to N iterations, in the foreground or detached.
func loopCommand(ctx context.Context, args []string) error {
	env, err := newCommand("loop", args)
	if err != nil {
		return err
	}
	fs, cfg := env.fs, env.cfg
	agentName := fs.String("agent", cfg.Agent, "Agent to use: claude or codex")
	fs.StringVar(agentName, "a", cfg.Agent, "Agent to use (shorthand)")
	detach := fs.Bool("detach", false, "Run in background")
	fs.BoolVar(detach, "d", false, "Run in background (shorthand)")
	keep := fs.Bool("keep-artifacts", cfg.KeepArtifacts, "Keep temp files")
	fs.BoolVar(keep, "k", cfg.KeepArtifacts, "Keep temp files (shorthand)")
	promise := fs.String("promise", cfg.Promise, "Completion promise string")
	fs.StringVar(promise, "p", cfg.Promise, "Completion promise string (shorthand)")
	sleep := fs.Int("sleep", cfg.SleepSeconds, "Seconds between iterations")
	fs.IntVar(sleep, "s", cfg.SleepSeconds, "Seconds between iterations (shorthand)")
	hook := fs.String("hook", cfg.HookCommand, "Hook command to run after each iteration")
	uiMode := fs.String("ui", "", "UI mode (tui for terminal UI)")

	positional, err := env.parse(args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return fmt.Errorf("loop requires exactly one iteration count, got %v", positional)
	}
	iterations, err := strconv.Atoi(positional[0])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("iterations must be a positive integer, got %q", positional[0])
	}
	if *sleep < 0 {
		return fmt.Errorf("sleep must not be negative, got %d", *sleep)
	}
	agent, err := executor.ParseAgent(*agentName)
	if err != nil {
		return err
	}
	if *uiMode != "" && *uiMode != "tui" {
		return fmt.Errorf("unknown ui mode %q (expected tui)", *uiMode)
	}

	store := env.store()
	if *detach {
		if *uiMode != "" {
			return errors.New("-ui cannot be combined with -detach")
		}
		res, err := loop.Dispatch(loop.DetachOptions{
			Args:    append([]string{"loop"}, args...),
			RunsDir: store.RunsDir(),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, successStyle.Render(fmt.Sprintf("Started loop %s in the background (pid %d)", res.LoopID, res.PID)))
		fmt.Fprintf(stdout, "  log: %s\n", res.LogPath)
		fmt.Fprintf(stdout, "  pid: %s\n", res.PIDPath)
		return nil
	}

	loopID := os.Getenv(loop.EnvLoopID)
	if loopID == "" {
		loopID = executor.NewRunID(time.Now())
	}
	events, err := logging.NewEventLog(store.RunsDir(), loopID)
	if err != nil {
		return err
	}
	defer events.Close()

	lcfg := loop.Config{
		Iterations:    iterations,
		Agent:         agent,
		Promise:       *promise,
		KeepArtifacts: *keep,
		Sleep:         time.Duration(*sleep) * time.Second,
		HookCommand:   *hook,
		WorkDir:       store.Root(),
		Binary:        cfg.AgentBinary(agent.String()),
		LoopID:        loopID,
		Stdout:        stdout,
		Stderr:        stderr,
	}

	var summary loop.Summary
	if *uiMode == "tui" {
		// Agent output would tear the alternate screen, so it goes to the
		// loop log the monitor tails.
		outputPath := filepath.Join(store.RunsDir(), "loop-"+loopID+".log")
		output, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open loop log: %w", err)
		}
		defer output.Close()
		lcfg.Stdout, lcfg.Stderr = output, output

		logger := logging.New(output, cfg.LogOptions())
		exe := executor.New(store, env.locator(), executor.WithLogger(logger))
		ctrl, err := loop.New(lcfg, exe, loop.WithLogger(logger), loop.WithEventLog(events))
		if err != nil {
			return err
		}
		summary, err = ui.RunMonitor(ctx, ctrl, ui.MonitorOptions{
			LoopID:     loopID,
			Agent:      agent.String(),
			Iterations: iterations,
			OutputPath: outputPath,
		})
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			// Stopped from the monitor.
			fmt.Fprintln(stderr, warnStyle.Render("Loop stopped after iteration "+strconv.Itoa(summary.Iterations)))
			return &executor.ExitError{Code: 130}
		}
		if err != nil {
			return err
		}
	} else {
		exe := executor.New(store, env.locator(), executor.WithLogger(env.logger))
		ctrl, err := loop.New(lcfg, exe, loop.WithLogger(env.logger), loop.WithEventLog(events))
		if err != nil {
			return err
		}
		summary, err = ctrl.Run(ctx)
		if err != nil {
			return err
		}
	}

	env.logger.Info("loop finished", "loop", summary.LoopID, "state", summary.State, "iterations", summary.Iterations, "failures", summary.Failures, "exit", summary.ExitCode)
	if summary.ExitCode != 0 {
		return &executor.ExitError{Code: summary.ExitCode}
	}
	return nil
}

// buildPromptCommand renders the prompt through build-prompt.sh.
func buildPromptCommand(ctx context.Context, args []string) error {
	env, err := newCommand("build-prompt", args)
	if err != nil {
		return err
	}
	output := env.fs.String("output", "", "Output file path")
	env.fs.StringVar(output, "o", "", "Output file path (shorthand)")
	positional, err := env.parse(args)
	if err != nil {
		return err
	}
	if err := noArgs(positional); err != nil {
		return err
	}

	var scriptArgs []string
	if *output != "" {
		scriptArgs = append(scriptArgs, "--output", *output)
	}
	store := env.store()
	root, err := filepath.Abs(store.Root())
	if err != nil {
		return err
	}
	cmd, err := env.locator().Command(ctx, scripts.BuildPrompt, scriptArgs, map[string]string{
		executor.EnvRoot:    root,
		executor.EnvDir:     ralphdir.DirPath(root),
		executor.EnvPromise: env.cfg.Promise,
	})
	if err != nil {
		return err
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return exitError(cmd.Run())
}

// scriptsPathCommand prints the directory the collaborator scripts run from.
func scriptsPathCommand(args []string) error {
	env, err := newCommand("scripts-path", args)
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
	dir, err := env.locator().ResolveDir()
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, dir)
	return nil
}

// exitError turns a script's non-zero exit into an ExitCoder.
func exitError(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			code = 1
		}
		return &executor.ExitError{Code: code}
	}
	return err
}
