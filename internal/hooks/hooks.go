// Package hooks invokes external post-iteration hooks.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
)

// Options configures a hook invocation.
type Options struct {
	Command   string
	Iteration int
	ExitCode  int
	Completed bool
	RunDir    string
	WorkDir   string
	Env       []string
	Stdout    io.Writer
	Stderr    io.Writer
}

// Result captures the outcome of a hook invocation.
type Result struct {
	Ran      bool
	Command  []string
	ExitCode int
}

// Args returns the positional arguments passed to the hook:
// <iteration> <exit-code> <completed> <run-dir>.
func (o Options) Args() []string {
	return []string{
		strconv.Itoa(o.Iteration),
		strconv.Itoa(o.ExitCode),
		strconv.FormatBool(o.Completed),
		o.RunDir,
	}
}

// Invoke runs the hook command with the expected arguments. An empty command
// is a no-op.
func Invoke(ctx context.Context, opts Options) (Result, error) {
	if opts.Command == "" {
		return Result{}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cmd := exec.CommandContext(ctx, opts.Command, opts.Args()...)
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	cmd.Stdout = opts.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = opts.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	err := cmd.Run()
	result := Result{
		Ran:      true,
		Command:  cmd.Args,
		ExitCode: exitCodeFromError(err),
	}
	if err != nil {
		return result, fmt.Errorf("hook command failed: %w", err)
	}
	return result, nil
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
