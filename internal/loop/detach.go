package loop

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nibzard/ralph-go/internal/executor"
)

// EnvLoopID hands the dispatched loop its identifier.
const EnvLoopID = "RALPH_LOOP_ID"

// DetachOptions configures a background loop dispatch.
type DetachOptions struct {
	// Executable defaults to the running binary.
	Executable string
	// Args are the full arguments for the child, e.g. ["loop", "5", "-agent", "codex"].
	Args    []string
	RunsDir string
	WorkDir string
	Env     []string
}

// DetachResult describes the dispatched process.
type DetachResult struct {
	LoopID  string
	PID     int
	LogPath string
	PIDPath string
}

// Dispatch starts the loop in a new session and returns without waiting.
// Output goes to <runs>/loop-<id>.log and the pid to <runs>/loop-<id>.pid.
// Success only means the process was started.
func Dispatch(opts DetachOptions) (DetachResult, error) {
	exe := opts.Executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return DetachResult{}, fmt.Errorf("locate ralph binary: %w", err)
		}
		exe = self
	}
	if opts.RunsDir == "" {
		return DetachResult{}, fmt.Errorf("runs dir is empty")
	}
	if err := os.MkdirAll(opts.RunsDir, 0755); err != nil {
		return DetachResult{}, fmt.Errorf("create runs dir: %w", err)
	}

	loopID := executor.NewRunID(time.Now())
	result := DetachResult{
		LoopID:  loopID,
		LogPath: filepath.Join(opts.RunsDir, "loop-"+loopID+".log"),
		PIDPath: filepath.Join(opts.RunsDir, "loop-"+loopID+".pid"),
	}

	logFile, err := os.OpenFile(result.LogPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return result, fmt.Errorf("open loop log: %w", err)
	}
	defer logFile.Close()

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return result, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	env := opts.Env
	if env == nil {
		env = os.Environ()
	}
	env = append(append([]string(nil), env...), EnvLoopID+"="+loopID)

	cmd := exec.Command(exe, StripDetachFlags(opts.Args)...)
	cmd.Dir = opts.WorkDir
	cmd.Env = env
	cmd.Stdin = devNull
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = detachAttr()

	if err := cmd.Start(); err != nil {
		return result, fmt.Errorf("start background loop: %w", err)
	}
	result.PID = cmd.Process.Pid

	if err := os.WriteFile(result.PIDPath, []byte(strconv.Itoa(result.PID)+"\n"), 0644); err != nil {
		return result, fmt.Errorf("write pid file: %w", err)
	}
	// The child outlives us; drop our handle without waiting.
	if err := cmd.Process.Release(); err != nil {
		return result, fmt.Errorf("release background loop: %w", err)
	}
	return result, nil
}

// StripDetachFlags removes every spelling of the detach flag so the child
// runs in the foreground of its own session.
func StripDetachFlags(args []string) []string {
	out := make([]string, 0, len(args))
	for i, arg := range args {
		if arg == "--" {
			return append(out, args[i:]...)
		}
		if strings.HasPrefix(arg, "-") {
			name, _, _ := strings.Cut(strings.TrimLeft(arg, "-"), "=")
			if name == "detach" || name == "d" {
				continue
			}
		}
		out = append(out, arg)
	}
	return out
}
