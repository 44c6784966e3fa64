// Package ui provides optional terminal interfaces.
package ui

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nibzard/ralph-go/internal/logging"
	"github.com/nibzard/ralph-go/internal/loop"
)

// MonitorOptions configures the loop monitor.
type MonitorOptions struct {
	LoopID     string
	Agent      string
	Iterations int
	// OutputPath is the file agent output is written to; its last lines are
	// shown under the status block.
	OutputPath  string
	OutputLines int
	Tick        time.Duration
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Faint(true).Width(12)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	footStyle  = lipgloss.NewStyle().Faint(true)
)

// RunMonitor runs ctrl in the background and renders its progress until the
// loop ends. Quitting the monitor cancels the loop.
func RunMonitor(ctx context.Context, ctrl *loop.Controller, opts MonitorOptions) (loop.Summary, error) {
	if !IsTTY(os.Stdout) {
		return loop.Summary{}, fmt.Errorf("tui requires a TTY")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		summary loop.Summary
		err     error
	}
	statusCh := make(chan loop.Status, 16)
	done := make(chan outcome, 1)
	go func() {
		summary, err := ctrl.RunWithStatus(loopCtx, statusCh)
		done <- outcome{summary, err}
	}()

	model := newMonitorModel(opts, statusCh)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		cancel()
		<-done
		return loop.Summary{}, err
	}

	// Stop the loop if the user quit before it finished.
	cancel()
	res := <-done
	return res.summary, res.err
}

type monitorModel struct {
	opts     MonitorOptions
	statusCh <-chan loop.Status
	last     loop.Status
	finished []loop.Status
	started  time.Time
	now      time.Time
	output   []string
	done     bool
	quitting bool
}

type tickMsg time.Time

type statusMsg struct {
	status loop.Status
}

type loopDoneMsg struct{}

func newMonitorModel(opts MonitorOptions, statusCh <-chan loop.Status) *monitorModel {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.OutputLines <= 0 {
		opts.OutputLines = 8
	}
	now := time.Now()
	return &monitorModel{
		opts:     opts,
		statusCh: statusCh,
		started:  now,
		now:      now,
	}
}

func (m *monitorModel) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd(m.opts.Tick)}
	if m.statusCh != nil {
		cmds = append(cmds, waitForStatus(m.statusCh))
	}
	return tea.Batch(cmds...)
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
	case tickMsg:
		m.now = time.Time(msg)
		m.refreshOutput()
		return m, tickCmd(m.opts.Tick)
	case statusMsg:
		m.apply(msg.status)
		if m.statusCh != nil {
			return m, waitForStatus(m.statusCh)
		}
	case loopDoneMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *monitorModel) apply(status loop.Status) {
	m.last = status
	if status.Iterations > 0 {
		m.opts.Iterations = status.Iterations
	}
	if status.Phase == loop.PhaseFinished {
		m.finished = append(m.finished, status)
	}
	if status.Phase == loop.PhaseDone {
		m.done = true
	}
}

func (m *monitorModel) refreshOutput() {
	if m.opts.OutputPath == "" {
		return
	}
	var buf bytes.Buffer
	if err := logging.TailLog(context.Background(), &buf, m.opts.OutputPath, m.opts.OutputLines, false); err != nil {
		return
	}
	m.output = strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
}

func (m *monitorModel) View() string {
	var b strings.Builder

	title := "ralph loop"
	if m.opts.LoopID != "" {
		title += " " + m.opts.LoopID
	}
	b.WriteString(titleStyle.Render(title) + "\n\n")

	var rows []string
	row := func(label, value string) {
		rows = append(rows, labelStyle.Render(label)+value)
	}
	row("Agent", m.opts.Agent)
	row("Iteration", fmt.Sprintf("%d/%d", m.last.Iteration, m.opts.Iterations))
	row("Phase", m.phaseText())
	if len(m.finished) > 0 {
		row("Last exit", exitText(m.finished[len(m.finished)-1].ExitCode))
	}
	row("Failures", fmt.Sprint(m.last.Failures))
	if m.done {
		row("State", stateText(m.last.State))
	}
	row("Elapsed", m.elapsed().Truncate(time.Second).String())
	b.WriteString(boxStyle.Render(strings.Join(rows, "\n")) + "\n")

	if len(m.finished) > 0 {
		b.WriteString("\nIterations\n")
		for _, s := range m.finished {
			mark := " "
			if s.Completed {
				mark = okStyle.Render("*")
			}
			fmt.Fprintf(&b, "  %s #%d %s exit %s\n", mark, s.Iteration, s.RunID, exitText(s.ExitCode))
		}
	}

	if len(m.output) > 0 && m.output[0] != "" {
		b.WriteString("\nAgent output\n")
		for _, line := range m.output {
			b.WriteString("  " + line + "\n")
		}
	}

	b.WriteString("\n" + footStyle.Render("q to stop the loop") + "\n")
	return b.String()
}

func (m *monitorModel) phaseText() string {
	switch m.last.Phase {
	case loop.PhaseStarted:
		return "running agent"
	case loop.PhaseFinished:
		return "iteration finished"
	case loop.PhaseSleeping:
		return fmt.Sprintf("sleeping %s", m.last.Sleep)
	case loop.PhaseDone:
		return "done"
	}
	return "starting"
}

func (m *monitorModel) elapsed() time.Duration {
	if m.last.Phase == loop.PhaseDone && m.last.Elapsed > 0 {
		return m.last.Elapsed
	}
	return m.now.Sub(m.started)
}

func exitText(code int) string {
	if code == 0 {
		return okStyle.Render("0")
	}
	return failStyle.Render(fmt.Sprint(code))
}

func stateText(s loop.State) string {
	if s == loop.Completed {
		return okStyle.Render(s.String())
	}
	if s == loop.Failed {
		return failStyle.Render(s.String())
	}
	return s.String()
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForStatus(ch <-chan loop.Status) tea.Cmd {
	return func() tea.Msg {
		status, ok := <-ch
		if !ok {
			return loopDoneMsg{}
		}
		return statusMsg{status: status}
	}
}

// IsTTY returns true if w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
