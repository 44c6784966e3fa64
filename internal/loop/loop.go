// Package loop drives repeated agent iterations until the agent signals
// completion or the iteration budget runs out.
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/nibzard/ralph-go/internal/executor"
	"github.com/nibzard/ralph-go/internal/hooks"
	"github.com/nibzard/ralph-go/internal/logging"
	"github.com/nibzard/ralph-go/internal/tracing"
)

// State is the controller's lifecycle state.
type State int

const (
	Idle State = iota
	Running
	Completed
	ExhaustedIterations
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case ExhaustedIterations:
		return "exhausted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further iterations will run.
func (s State) Terminal() bool {
	return s == Completed || s == ExhaustedIterations || s == Failed
}

// Iterator performs one agent invocation. *executor.Executor satisfies it.
type Iterator interface {
	Run(ctx context.Context, opts executor.Options) (executor.Result, error)
}

// Config describes one loop run.
type Config struct {
	Iterations    int
	Agent         executor.Agent
	Promise       string
	KeepArtifacts bool
	Sleep         time.Duration
	HookCommand   string
	WorkDir       string
	// Binary overrides the agent executable.
	Binary string
	// LoopID names the event log; generated when empty.
	LoopID string

	Stdout io.Writer
	Stderr io.Writer
}

// Validate checks the configuration before any iteration runs.
func (c Config) Validate() error {
	if c.Iterations <= 0 {
		return fmt.Errorf("iterations must be a positive integer, got %d", c.Iterations)
	}
	if c.Sleep < 0 {
		return fmt.Errorf("sleep must not be negative, got %s", c.Sleep)
	}
	if _, err := executor.ParseAgent(string(c.Agent)); err != nil {
		return err
	}
	return nil
}

// Summary reports how a loop run ended.
type Summary struct {
	LoopID     string
	State      State
	Iterations int
	ExitCode   int
	LastRunID  string
	Failures   int
	Duration   time.Duration
}

// Controller runs iterations strictly one after another.
type Controller struct {
	cfg    Config
	iter   Iterator
	logger *log.Logger
	events *logging.EventLog
	sleep  func(context.Context, time.Duration) error
	now    func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the diagnostics logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEventLog records loop events as JSONL.
func WithEventLog(events *logging.EventLog) Option {
	return func(c *Controller) {
		c.events = events
	}
}

// New validates cfg and creates a controller.
func New(cfg Config, iter Iterator, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if iter == nil {
		return nil, errors.New("loop: nil iterator")
	}
	cfg.Agent, _ = executor.ParseAgent(string(cfg.Agent))
	if cfg.Promise == "" {
		cfg.Promise = executor.DefaultPromise
	}
	if cfg.LoopID == "" {
		cfg.LoopID = executor.NewRunID(time.Now())
	}
	c := &Controller{
		cfg:    cfg,
		iter:   iter,
		logger: log.New(io.Discard),
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// LoopID returns the identifier of this run.
func (c *Controller) LoopID() string {
	return c.cfg.LoopID
}

// Run executes the loop.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	return c.run(ctx, func(Status) {})
}

// RunWithStatus executes the loop and sends status updates to statusCh,
// closing it when the loop ends.
func (c *Controller) RunWithStatus(ctx context.Context, statusCh chan<- Status) (Summary, error) {
	defer close(statusCh)
	return c.run(ctx, func(s Status) {
		select {
		case statusCh <- s:
		case <-ctx.Done():
		}
	})
}

func (c *Controller) run(ctx context.Context, notify func(Status)) (Summary, error) {
	started := c.now()
	summary := Summary{LoopID: c.cfg.LoopID, State: Running}

	ctx, span := tracing.Tracer().Start(ctx, "ralph.loop",
		oteltrace.WithAttributes(
			attribute.String("ralph.loop_id", c.cfg.LoopID),
			attribute.String("ralph.agent", c.cfg.Agent.String()),
			attribute.Int("ralph.iterations", c.cfg.Iterations),
		))
	defer span.End()

	c.event(logging.Event{Type: logging.EventLoopStart, Iterations: c.cfg.Iterations, Agent: c.cfg.Agent.String()})
	c.logger.Info("starting loop", "iterations", c.cfg.Iterations, "agent", c.cfg.Agent, "sleep", c.cfg.Sleep)

	finish := func(state State, err error) (Summary, error) {
		summary.State = state
		summary.Duration = c.now().Sub(started)
		ev := logging.Event{
			Type:       logging.EventLoopEnd,
			Iteration:  summary.Iterations,
			State:      state.String(),
			DurationMS: summary.Duration.Milliseconds(),
			RunID:      summary.LastRunID,
		}
		if summary.Iterations > 0 {
			code := summary.ExitCode
			ev.ExitCode = &code
		}
		if err != nil {
			ev.Error = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, state.String())
		}
		span.SetAttributes(
			attribute.String("ralph.state", state.String()),
			attribute.Int("ralph.iterations_run", summary.Iterations),
		)
		c.event(ev)
		notify(Status{
			Phase:      PhaseDone,
			Iteration:  summary.Iterations,
			Iterations: c.cfg.Iterations,
			ExitCode:   summary.ExitCode,
			Completed:  state == Completed,
			Failures:   summary.Failures,
			State:      state,
			Elapsed:    summary.Duration,
			Err:        err,
		})
		return summary, err
	}

	for i := 1; i <= c.cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return finish(Failed, err)
		}

		c.logger.Info("iteration", "n", i, "of", c.cfg.Iterations)
		c.event(logging.Event{Type: logging.EventIterationStart, Iteration: i, Agent: c.cfg.Agent.String()})
		notify(Status{
			Phase:      PhaseStarted,
			Iteration:  i,
			Iterations: c.cfg.Iterations,
			Failures:   summary.Failures,
			State:      Running,
			Elapsed:    c.now().Sub(started),
		})

		result, err := c.iter.Run(ctx, executor.Options{
			Agent:         c.cfg.Agent,
			Promise:       c.cfg.Promise,
			KeepArtifacts: c.cfg.KeepArtifacts,
			ArtifactMode:  executor.ModeLoop,
			Iteration:     i,
			Sleep:         c.cfg.Sleep,
			Binary:        c.cfg.Binary,
			Stdout:        c.cfg.Stdout,
			Stderr:        c.cfg.Stderr,
		})
		if err != nil {
			c.logger.Error("iteration could not run", "n", i, "err", err)
			return finish(Failed, fmt.Errorf("iteration %d: %w", i, err))
		}

		summary.Iterations = i
		summary.ExitCode = result.ExitCode
		summary.LastRunID = result.RunID
		if result.ExitCode != 0 {
			summary.Failures++
			c.logger.Warn("iteration failed; continuing", "n", i, "exit", result.ExitCode, "run", result.RunID)
		}

		code := result.ExitCode
		c.event(logging.Event{
			Type:       logging.EventIterationEnd,
			Iteration:  i,
			Agent:      c.cfg.Agent.String(),
			RunID:      result.RunID,
			ExitCode:   &code,
			Completed:  result.Completed,
			DurationMS: result.Duration.Milliseconds(),
		})
		notify(Status{
			Phase:      PhaseFinished,
			Iteration:  i,
			Iterations: c.cfg.Iterations,
			RunID:      result.RunID,
			ExitCode:   result.ExitCode,
			Completed:  result.Completed,
			Failures:   summary.Failures,
			State:      Running,
			Elapsed:    c.now().Sub(started),
		})

		// The agent was interrupted, so its exit code says nothing about the work.
		if err := ctx.Err(); err != nil {
			return finish(Failed, err)
		}

		c.runHook(ctx, i, result)

		if result.Completed {
			c.logger.Info("completion promise detected", "n", i, "promise", c.cfg.Promise)
			return finish(Completed, nil)
		}

		if i < c.cfg.Iterations && c.cfg.Sleep > 0 {
			notify(Status{
				Phase:      PhaseSleeping,
				Iteration:  i,
				Iterations: c.cfg.Iterations,
				ExitCode:   result.ExitCode,
				Failures:   summary.Failures,
				State:      Running,
				Sleep:      c.cfg.Sleep,
				Elapsed:    c.now().Sub(started),
			})
			if err := c.sleep(ctx, c.cfg.Sleep); err != nil {
				return finish(Failed, err)
			}
		}
	}

	c.logger.Warn("iterations exhausted without completion", "iterations", c.cfg.Iterations, "failures", summary.Failures)
	return finish(ExhaustedIterations, nil)
}

func (c *Controller) runHook(ctx context.Context, iteration int, result executor.Result) {
	if c.cfg.HookCommand == "" {
		return
	}
	res, err := hooks.Invoke(ctx, hooks.Options{
		Command:   c.cfg.HookCommand,
		Iteration: iteration,
		ExitCode:  result.ExitCode,
		Completed: result.Completed,
		RunDir:    result.RunDir,
		WorkDir:   c.cfg.WorkDir,
		Stdout:    c.cfg.Stdout,
		Stderr:    c.cfg.Stderr,
	})
	if res.Ran {
		code := res.ExitCode
		ev := logging.Event{Type: logging.EventHook, Iteration: iteration, ExitCode: &code}
		if err != nil {
			ev.Error = err.Error()
		}
		c.event(ev)
	}
	if err != nil {
		c.logger.Warn("hook failed", "n", iteration, "err", err)
	}
}

func (c *Controller) event(ev logging.Event) {
	if c.events == nil {
		return
	}
	if err := c.events.Write(ev); err != nil {
		c.logger.Debug("event log write failed", "err", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
