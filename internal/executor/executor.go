// Package executor runs one agent iteration through the bundled collaborator
// script and reports its exit code and completion signal.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/nibzard/ralph-go/internal/scripts"
	"github.com/nibzard/ralph-go/internal/state"
	"github.com/nibzard/ralph-go/internal/tracing"
)

// Artifact modes name the deterministic artifact directory.
const (
	ModeDebug = "debug"
	ModeLoop  = "loop"
)

// Environment variables exported to the collaborator.
const (
	EnvPromise      = "RALPH_PROMISE"
	EnvAgent        = "RALPH_AGENT"
	EnvArtifactDir  = "RALPH_ARTIFACT_DIR"
	EnvSleepSeconds = "RALPH_SLEEP_SECONDS"
	EnvRoot         = "RALPH_ROOT"
	EnvDir          = "RALPH_DIR"
	EnvRunDir       = "RALPH_RUN_DIR"
	EnvRunID        = "RALPH_RUN_ID"
	EnvIteration    = "RALPH_ITERATION"
	EnvCompleteFile = "RALPH_COMPLETE_FILE"
	EnvBinary       = "RALPH_AGENT_BIN"
)

// Options configures one invocation.
type Options struct {
	Agent         Agent
	Promise       string
	KeepArtifacts bool
	ArtifactMode  string
	Iteration     int
	// Sleep is exported as RALPH_SLEEP_SECONDS when positive.
	Sleep time.Duration
	// Binary overrides the agent executable the collaborator calls.
	Binary string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Result is the outcome of one invocation.
type Result struct {
	RunID       string
	RunDir      string
	ArtifactDir string
	ExitCode    int
	Completed   bool
	Duration    time.Duration
}

// ExitError carries a non-zero agent exit code to the command boundary.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("agent exited with status %d", e.Code)
}

// ExitCode returns the code the process should exit with.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// Executor runs ralph-once.sh for a project.
type Executor struct {
	store   *state.Store
	scripts scripts.Locator
	logger  *log.Logger
	tempDir string
	now     func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the diagnostics logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTempDir sets the parent of the deterministic artifact directories.
func WithTempDir(dir string) Option {
	return func(e *Executor) {
		e.tempDir = dir
	}
}

// New creates an executor for store's project.
func New(store *state.Store, locator scripts.Locator, opts ...Option) *Executor {
	e := &Executor{
		store:   store,
		scripts: locator,
		logger:  log.New(io.Discard),
		tempDir: os.TempDir(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ArtifactDir returns the deterministic artifact path for agent and mode,
// e.g. /tmp/ralph-claude-debug.
func (e *Executor) ArtifactDir(agent Agent, mode string) string {
	if mode == "" {
		mode = ModeDebug
	}
	return filepath.Join(e.tempDir, fmt.Sprintf("ralph-%s-%s", agent, mode))
}

// Run performs exactly one agent invocation. A non-zero agent exit is
// reported in Result.ExitCode, not as an error. Errors mean the invocation
// could not happen at all.
func (e *Executor) Run(ctx context.Context, opts Options) (Result, error) {
	opts, err := e.normalize(opts)
	if err != nil {
		return Result{}, err
	}

	// Resolve before creating anything so a missing script leaves no record.
	scriptPath, err := e.scripts.Path(scripts.Once)
	if err != nil {
		return Result{}, err
	}

	started := e.now()
	runID := NewRunID(started)
	runDir := filepath.Join(e.store.RunsDir(), runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return Result{}, fmt.Errorf("create run record: %w", err)
	}

	result := Result{RunID: runID, RunDir: runDir}
	if opts.KeepArtifacts {
		result.ArtifactDir = e.ArtifactDir(opts.Agent, opts.ArtifactMode)
	}

	rec := Record{
		ID:          runID,
		Iteration:   opts.Iteration,
		Agent:       opts.Agent,
		Promise:     opts.Promise,
		ArtifactDir: result.ArtifactDir,
		StartedAt:   started.UTC(),
	}
	if err := writeRecord(runDir, rec); err != nil {
		return result, err
	}

	ctx, span := tracing.Tracer().Start(ctx, "ralph.iteration",
		oteltrace.WithAttributes(
			attribute.String("ralph.run_id", runID),
			attribute.String("ralph.agent", opts.Agent.String()),
			attribute.Int("ralph.iteration", opts.Iteration),
		))
	defer span.End()

	if !e.store.Initialized() {
		e.logger.Warn("state directory incomplete; agent logs may not be recorded", "dir", e.store.Dir())
	}

	completeFile := filepath.Join(runDir, CompleteFile)
	env := e.environment(opts, result, completeFile)

	cmd := exec.CommandContext(ctx, "bash", scriptPath)
	cmd.Env = scripts.MergeEnv(os.Environ(), env)
	cmd.Dir = e.workDir()
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	e.logger.Debug("invoking agent", "agent", opts.Agent, "iteration", opts.Iteration, "run", runID)
	runErr := cmd.Run()
	finished := e.now()
	result.Duration = finished.Sub(started)

	code, err := exitCodeFromError(runErr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start collaborator")
		return result, fmt.Errorf("run %s: %w", scripts.Once, err)
	}
	result.ExitCode = code
	result.Completed = fileExists(completeFile)

	span.SetAttributes(
		attribute.Int("ralph.exit_code", result.ExitCode),
		attribute.Bool("ralph.completed", result.Completed),
	)
	if result.ExitCode != 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("exit status %d", result.ExitCode))
	}

	finishedUTC := finished.UTC()
	rec.FinishedAt = &finishedUTC
	rec.ExitCode = &code
	rec.Completed = result.Completed
	if err := writeRecord(runDir, rec); err != nil {
		return result, err
	}
	if !opts.KeepArtifacts {
		if err := pruneRunDir(runDir); err != nil {
			e.logger.Warn("could not prune run record", "run", runID, "err", err)
		}
	}
	return result, nil
}

func (e *Executor) normalize(opts Options) (Options, error) {
	agent, err := ParseAgent(string(opts.Agent))
	if err != nil {
		return opts, err
	}
	opts.Agent = agent
	if opts.Promise == "" {
		opts.Promise = DefaultPromise
	}
	if opts.ArtifactMode == "" {
		opts.ArtifactMode = ModeDebug
	}
	if opts.Iteration <= 0 {
		opts.Iteration = 1
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return opts, nil
}

func (e *Executor) environment(opts Options, result Result, completeFile string) map[string]string {
	env := map[string]string{
		EnvPromise:      opts.Promise,
		EnvAgent:        opts.Agent.String(),
		EnvRoot:         e.workDir(),
		EnvDir:          absPath(e.store.Dir()),
		EnvRunDir:       absPath(result.RunDir),
		EnvRunID:        result.RunID,
		EnvIteration:    strconv.Itoa(opts.Iteration),
		EnvCompleteFile: absPath(completeFile),
	}
	if result.ArtifactDir != "" {
		env[EnvArtifactDir] = result.ArtifactDir
	}
	if opts.Sleep > 0 {
		env[EnvSleepSeconds] = strconv.FormatFloat(opts.Sleep.Seconds(), 'f', -1, 64)
	}
	if opts.Binary != "" {
		env[EnvBinary] = opts.Binary
	}
	return env
}

func (e *Executor) workDir() string {
	root := e.store.Root()
	if root == "" {
		root = "."
	}
	return absPath(root)
}

// pruneRunDir removes everything but the record itself.
func pruneRunDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, entry := range entries {
		if entry.Name() == RecordFile {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// exitCodeFromError separates "the process ran and exited non-zero" from
// "the process could not run".
func exitCodeFromError(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			// killed by a signal
			code = 1
		}
		return code, nil
	}
	return -1, err
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
