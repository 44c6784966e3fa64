package loop

import "time"

// Phase identifies what a Status update reports.
type Phase string

const (
	PhaseStarted  Phase = "iteration_start"
	PhaseFinished Phase = "iteration_end"
	PhaseSleeping Phase = "sleeping"
	PhaseDone     Phase = "done"
)

// Status represents a status update for TUI monitoring.
type Status struct {
	Phase      Phase
	Iteration  int
	Iterations int
	RunID      string
	ExitCode   int
	Completed  bool
	Failures   int
	State      State
	Sleep      time.Duration
	Elapsed    time.Duration
	Err        error
}
