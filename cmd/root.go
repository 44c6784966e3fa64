// Package cmd implements the CLI command structure for ralph.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/nibzard/ralph-go/internal/config"
	"github.com/nibzard/ralph-go/internal/logging"
	"github.com/nibzard/ralph-go/internal/scripts"
	"github.com/nibzard/ralph-go/internal/state"
	"github.com/nibzard/ralph-go/internal/tracing"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Swapped by tests.
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// ExitCoder is an error that carries the process exit code.
type ExitCoder interface {
	error
	ExitCode() int
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle   = lipgloss.NewStyle().Faint(true)
)

// Run executes the ralph CLI.
func Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ralph", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		printUsage(stderr)
	}
	help := fs.Bool("help", false, "Show help")
	fs.BoolVar(help, "h", false, "Show help")
	showVersion := fs.Bool("version", false, "Show version")
	fs.BoolVar(showVersion, "v", false, "Show version")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *help {
		printUsage(stdout)
		return nil
	}
	if *showVersion {
		return versionCommand()
	}

	remaining := fs.Args()
	if len(remaining) == 0 {
		printUsage(stderr)
		return errors.New("missing command")
	}
	subcommand, remaining := remaining[0], remaining[1:]

	shutdown, err := tracing.Setup(ctx, Version)
	if err != nil {
		fmt.Fprintf(stderr, "tracing disabled: %v\n", err)
	} else {
		defer shutdown(context.Background())
	}

	err = runSubcommand(ctx, subcommand, remaining)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return err
}

func runSubcommand(ctx context.Context, subcommand string, remaining []string) error {
	switch subcommand {
	case "init":
		return initCommand(remaining)
	case "add-sign":
		return addSignCommand(remaining)
	case "show-activity":
		return showLogCommand("show-activity", remaining)
	case "show-errors":
		return showLogCommand("show-errors", remaining)
	case "show-guardrails":
		return showGuardrailsCommand(remaining)
	case "once":
		return onceCommand(ctx, remaining)
	case "loop":
		return loopCommand(ctx, remaining)
	case "build-prompt":
		return buildPromptCommand(ctx, remaining)
	case "scripts-path":
		return scriptsPathCommand(remaining)
	case "runs":
		return runsCommand(remaining)
	case "logs":
		return logsCommand(ctx, remaining)
	case "config":
		return configCommand(remaining)
	case "doctor":
		return doctorCommand(remaining)
	case "version", "--version", "-v":
		return versionCommand()
	case "help", "--help", "-h":
		printUsage(stdout)
		return nil
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", subcommand)
		printUsage(stderr)
		return fmt.Errorf("unknown command: %s", subcommand)
	}
}

// commandEnv is what every subcommand starts from: the loaded config and a
// flag set that already carries -root.
type commandEnv struct {
	fs     *flag.FlagSet
	cfg    *config.Config
	root   *string
	logger *log.Logger
}

// newCommand loads config for the project named by -root in args so that
// the subcommand's flags can default to configured values.
func newCommand(name string, args []string) (*commandEnv, error) {
	root := rootFromArgs(args)
	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	fs := flag.NewFlagSet("ralph "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	env := &commandEnv{fs: fs, cfg: cfg}
	env.root = fs.String("root", root, "Project root directory")
	fs.StringVar(env.root, "r", root, "Project root directory (shorthand)")
	env.logger = logging.New(stderr, cfg.LogOptions())
	return env, nil
}

// parse parses flags and returns the positional arguments. Flags may follow
// positionals, as in "loop 5 -agent codex".
func (e *commandEnv) parse(args []string) ([]string, error) {
	var positional []string
	for {
		if err := e.fs.Parse(args); err != nil {
			return nil, err
		}
		args = e.fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func (e *commandEnv) store() *state.Store {
	return state.New(*e.root)
}

func (e *commandEnv) locator() scripts.Locator {
	return scripts.Locator{Dir: e.cfg.ScriptsDir, Version: Version}
}

// rootFromArgs finds the -root/-r value without a full parse.
func rootFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		if key, value, ok := strings.Cut(name, "="); ok {
			if key == "root" || key == "r" {
				return value
			}
			continue
		}
		if (name == "root" || name == "r") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return "."
}

func noArgs(positional []string) error {
	if len(positional) > 0 {
		return fmt.Errorf("unexpected arguments: %v", positional)
	}
	return nil
}

// versionCommand prints version information.
func versionCommand() error {
	fmt.Fprintf(stdout, "ralph version %s\n", Version)
	return nil
}

// printUsage prints the usage message.
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Ralph - iterative AI coding loops for Claude Code and Codex")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  ralph <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  init             Create .ralph with default guardrails and logs")
	fmt.Fprintln(w, "  add-sign         Append a guardrail sign (prompts for missing fields)")
	fmt.Fprintln(w, "  show-activity    Show the tail of the activity log")
	fmt.Fprintln(w, "  show-errors      Show the tail of the error log")
	fmt.Fprintln(w, "  show-guardrails  Show the guardrail ledger")
	fmt.Fprintln(w, "  once             Run a single iteration")
	fmt.Fprintln(w, "  loop N           Run up to N iterations until the agent signals completion")
	fmt.Fprintln(w, "  build-prompt     Render the agent prompt from its template")
	fmt.Fprintln(w, "  scripts-path     Print the scripts directory")
	fmt.Fprintln(w, "  runs             List recorded iterations")
	fmt.Fprintln(w, "  logs             Show the latest loop log")
	fmt.Fprintln(w, "  config           Show the effective configuration")
	fmt.Fprintln(w, "  doctor           Check the state directory, scripts and agents")
	fmt.Fprintln(w, "  version          Show version information")
	fmt.Fprintln(w, "  help             Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Every command accepts -root/-r (default: current directory).")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Add-sign Options:")
	fmt.Fprintln(w, "  -name, -n string         Sign name")
	fmt.Fprintln(w, "  -trigger, -t string      When this sign applies")
	fmt.Fprintln(w, "  -instruction, -i string  What to do")
	fmt.Fprintln(w, "  -reason string           Why this sign was added")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Show Options:")
	fmt.Fprintln(w, "  -lines, -n int           Lines to show (default 50)")
	fmt.Fprintln(w, "  -format string           show-guardrails: text|yaml|json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Once/Loop Options:")
	fmt.Fprintln(w, "  -agent, -a string        Agent to use: claude or codex")
	fmt.Fprintln(w, "  -keep-artifacts, -k      Keep temp files in /tmp/ralph-<agent>-<mode>")
	fmt.Fprintln(w, "  -promise, -p string      Completion promise string (default COMPLETE)")
	fmt.Fprintln(w, "  -sleep, -s int           loop: seconds between iterations")
	fmt.Fprintln(w, "  -detach, -d              loop: run in the background")
	fmt.Fprintln(w, "  -hook string             loop: command run after each iteration")
	fmt.Fprintln(w, "  -ui string               loop: tui for the terminal monitor")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Logs Options:")
	fmt.Fprintln(w, "  -f, -follow              Follow the log (like tail -f)")
	fmt.Fprintln(w, "  -n int                   Number of lines to show (0 = all)")
	fmt.Fprintln(w, "  -events                  Show the JSONL event log instead of agent output")
}

func checkBinary(w io.Writer, label, binary string, required bool) bool {
	fmt.Fprintf(w, "  %s: %s\n", label, binary)
	if strings.TrimSpace(binary) == "" {
		if required {
			fmt.Fprintln(w, "  "+errorStyle.Render("x Not configured"))
			return false
		}
		fmt.Fprintln(w, "  "+warnStyle.Render("! Not configured"))
		return true
	}
	if info, err := os.Stat(binary); err == nil {
		if info.IsDir() {
			return reportBinary(w, required, "Path is a directory")
		}
		if !isExecutablePath(binary, info) {
			return reportBinary(w, required, "Not executable")
		}
		fmt.Fprintln(w, "  "+successStyle.Render("ok"))
		return true
	}

	resolved, err := exec.LookPath(binary)
	if err == nil {
		if info, err := os.Stat(resolved); err == nil {
			if info.IsDir() {
				return reportBinary(w, required, "Found in PATH but is a directory: "+resolved)
			}
			if !isExecutablePath(resolved, info) {
				return reportBinary(w, required, "Found in PATH but not executable: "+resolved)
			}
		}
		fmt.Fprintln(w, "  "+successStyle.Render("ok (found in PATH: "+resolved+")"))
		return true
	}
	return reportBinary(w, required, fmt.Sprintf("Not found: %v", err))
}

func reportBinary(w io.Writer, required bool, msg string) bool {
	if required {
		fmt.Fprintln(w, "  "+errorStyle.Render("x "+msg))
		return false
	}
	fmt.Fprintln(w, "  "+warnStyle.Render("! "+msg))
	return true
}

func isExecutablePath(path string, info os.FileInfo) bool {
	if info == nil {
		return false
	}
	if runtime.GOOS == "windows" {
		return isWindowsExecutable(path)
	}
	return info.Mode().Perm()&0111 != 0
}

func isWindowsExecutable(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	return windowsExecutableExts()[ext]
}

func windowsExecutableExts() map[string]bool {
	exts := map[string]bool{}
	pathext := os.Getenv("PATHEXT")
	if pathext == "" {
		pathext = ".COM;.EXE;.BAT;.CMD"
	}
	for _, ext := range strings.Split(pathext, ";") {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[strings.ToLower(ext)] = true
	}
	return exts
}
