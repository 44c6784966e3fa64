package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nibzard/ralph-go/internal/scripts"
	"github.com/nibzard/ralph-go/internal/state"
)

// newTestExecutor initializes a project and installs body as ralph-once.sh.
func newTestExecutor(t *testing.T, body string) (*Executor, *state.Store) {
	t.Helper()
	root := t.TempDir()
	store := state.New(root)
	if _, err := store.Init(); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	scriptDir := t.TempDir()
	if body != "" {
		script := "#!/usr/bin/env bash\n" + body + "\n"
		if err := os.WriteFile(filepath.Join(scriptDir, scripts.Once), []byte(script), 0755); err != nil {
			t.Fatal(err)
		}
	}
	return New(store, scripts.Locator{Dir: scriptDir}, WithTempDir(t.TempDir())), store
}

func TestRunPassesExitCodeThrough(t *testing.T) {
	tests := []struct {
		name string
		code int
	}{
		{"success", 0},
		{"failure", 1},
		{"custom", 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, _ := newTestExecutor(t, "exit "+strconv.Itoa(tt.code))
			result, err := ex.Run(context.Background(), Options{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}})
			if err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			if result.ExitCode != tt.code {
				t.Errorf("ExitCode: got %d, want %d", result.ExitCode, tt.code)
			}
			if result.Completed {
				t.Error("Completed should be false without the marker")
			}

			rec, err := ReadRecord(result.RunDir)
			if err != nil {
				t.Fatalf("ReadRecord() error: %v", err)
			}
			if rec.ExitCode == nil || *rec.ExitCode != tt.code {
				t.Errorf("record exit code: got %v, want %d", rec.ExitCode, tt.code)
			}
			if rec.FinishedAt == nil {
				t.Error("record has no finish time")
			}
		})
	}
}

func TestRunDetectsCompletion(t *testing.T) {
	ex, _ := newTestExecutor(t, `echo "<promise>$RALPH_PROMISE</promise>"; touch "$RALPH_COMPLETE_FILE"`)
	var out bytes.Buffer
	result, err := ex.Run(context.Background(), Options{Promise: "SHIPPED", Stdout: &out})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !result.Completed {
		t.Error("Completed should be true when the marker exists")
	}
	if !strings.Contains(out.String(), "<promise>SHIPPED</promise>") {
		t.Errorf("stdout not passed through: %q", out.String())
	}
	rec, err := ReadRecord(result.RunDir)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Completed || rec.Promise != "SHIPPED" {
		t.Errorf("record: %+v", rec)
	}
}

func TestRunEnvironmentWithArtifacts(t *testing.T) {
	ex, store := newTestExecutor(t, `env | grep '^RALPH_' | sort > "$RALPH_RUN_DIR/env.txt"`)
	result, err := ex.Run(context.Background(), Options{
		Agent:         AgentCodex,
		KeepArtifacts: true,
		ArtifactMode:  ModeLoop,
		Iteration:     3,
		Sleep:         1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(result.RunDir, "env.txt"))
	if err != nil {
		t.Fatalf("env dump missing (artifacts should be kept): %v", err)
	}
	env := string(data)
	wantArtifacts := ex.ArtifactDir(AgentCodex, ModeLoop)
	if filepath.Base(wantArtifacts) != "ralph-codex-loop" {
		t.Errorf("artifact dir name: %s", wantArtifacts)
	}
	for _, want := range []string{
		"RALPH_AGENT=codex",
		"RALPH_PROMISE=" + DefaultPromise,
		"RALPH_ARTIFACT_DIR=" + wantArtifacts,
		"RALPH_ITERATION=3",
		"RALPH_SLEEP_SECONDS=1.5",
		"RALPH_RUN_ID=" + result.RunID,
		"RALPH_DIR=" + absPath(store.Dir()),
	} {
		if !strings.Contains(env, want+"\n") {
			t.Errorf("environment missing %q:\n%s", want, env)
		}
	}
	if result.ArtifactDir != wantArtifacts {
		t.Errorf("Result.ArtifactDir: got %q, want %q", result.ArtifactDir, wantArtifacts)
	}
}

func TestRunWithoutArtifactsPrunesRunDir(t *testing.T) {
	ex, _ := newTestExecutor(t, `echo "${RALPH_ARTIFACT_DIR:-unset}"; echo scratch > "$RALPH_RUN_DIR/output.txt"`)
	var out bytes.Buffer
	result, err := ex.Run(context.Background(), Options{Stdout: &out})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if strings.TrimSpace(out.String()) != "unset" {
		t.Errorf("RALPH_ARTIFACT_DIR should be unset, got %q", out.String())
	}
	entries, err := os.ReadDir(result.RunDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != RecordFile {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("run dir should only hold %s, got %v", RecordFile, names)
	}
}

func TestRunMissingScript(t *testing.T) {
	ex, store := newTestExecutor(t, "")
	_, err := ex.Run(context.Background(), Options{})
	if !errors.Is(err, scripts.ErrScriptNotFound) {
		t.Fatalf("expected ErrScriptNotFound, got %v", err)
	}
	listings, err := ListRecords(store.RunsDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(listings) != 0 {
		t.Errorf("missing script left %d run records", len(listings))
	}
}

func TestRunRejectsUnknownAgent(t *testing.T) {
	ex, _ := newTestExecutor(t, "exit 0")
	if _, err := ex.Run(context.Background(), Options{Agent: "gemini"}); err == nil {
		t.Fatal("expected an error for an unknown agent")
	}
}

func TestRunRecordsAreExclusive(t *testing.T) {
	ex, store := newTestExecutor(t, "exit 0")
	seen := map[string]bool{}
	for i := 1; i <= 3; i++ {
		result, err := ex.Run(context.Background(), Options{Iteration: i, Stdout: &bytes.Buffer{}})
		if err != nil {
			t.Fatal(err)
		}
		if seen[result.RunDir] {
			t.Fatalf("run dir reused: %s", result.RunDir)
		}
		seen[result.RunDir] = true
	}
	listings, err := ListRecords(store.RunsDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(listings) != 3 {
		t.Fatalf("got %d records, want 3", len(listings))
	}
	for _, l := range listings {
		if l.Err != nil {
			t.Errorf("record %s invalid: %v", l.Dir, l.Err)
		}
	}
}

func TestExitError(t *testing.T) {
	var err error = &ExitError{Code: 3}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Fatalf("errors.As failed for %v", err)
	}
	if !strings.Contains(err.Error(), "3") {
		t.Errorf("message should include the code: %q", err.Error())
	}
}

func TestParseAgent(t *testing.T) {
	tests := []struct {
		in      string
		want    Agent
		wantErr bool
	}{
		{"", AgentClaude, false},
		{"claude", AgentClaude, false},
		{"Codex", AgentCodex, false},
		{" codex ", AgentCodex, false},
		{"gpt", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAgent(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAgent(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAgent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
