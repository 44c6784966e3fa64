package logging

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    log.Level
		wantErr bool
	}{
		{"", log.InfoLevel, false},
		{"debug", log.DebugLevel, false},
		{"WARN", log.WarnLevel, false},
		{"warning", log.WarnLevel, false},
		{"error", log.ErrorLevel, false},
		{"loud", log.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseFormatter(t *testing.T) {
	for _, in := range []string{"", "text", "json", "logfmt", "JSON"} {
		if _, err := ParseFormatter(in); err != nil {
			t.Errorf("ParseFormatter(%q) error: %v", in, err)
		}
	}
	if _, err := ParseFormatter("xml"); err == nil {
		t.Error("ParseFormatter(xml) should fail")
	}
}

func TestNewRespectsLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Level: "warn", Format: "json", Prefix: "ralph"})

	logger.Info("hidden")
	logger.Warn("shown", "iteration", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message logged at warn level: %q", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"iteration":2`) {
		t.Errorf("expected JSON warn line, got %q", out)
	}
}

func TestEventLogWritesJSONL(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runs")
	events, err := NewEventLog(dir, "abc")
	if err != nil {
		t.Fatalf("NewEventLog() error: %v", err)
	}
	if want := filepath.Join(dir, "loop-abc.jsonl"); events.LogPath != want {
		t.Errorf("LogPath: got %q, want %q", events.LogPath, want)
	}

	code := 0
	for _, ev := range []Event{
		{Type: EventLoopStart, Iterations: 2},
		{Type: EventIterationStart, Iteration: 1, Agent: "claude"},
		{Type: EventIterationEnd, Iteration: 1, ExitCode: &code, Completed: true},
		{Type: EventLoopEnd, State: "completed"},
	} {
		if err := events.Write(ev); err != nil {
			t.Fatalf("Write() error: %v", err)
		}
	}
	if err := events.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := events.Write(Event{Type: EventHook}); err == nil {
		t.Error("Write after Close should fail")
	}

	got, err := ReadEvents(events.LogPath)
	if err != nil {
		t.Fatalf("ReadEvents() error: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d events, want 4", len(got))
	}
	for _, ev := range got {
		if ev.LoopID != "abc" {
			t.Errorf("event %s missing loop id", ev.Type)
		}
		if ev.Timestamp.IsZero() {
			t.Errorf("event %s missing timestamp", ev.Type)
		}
	}
	if got[2].ExitCode == nil || *got[2].ExitCode != 0 || !got[2].Completed {
		t.Errorf("iteration_end event: %+v", got[2])
	}
}

func TestNewEventLogValidation(t *testing.T) {
	if _, err := NewEventLog("", "x"); err == nil {
		t.Error("expected error for empty runs dir")
	}
	if _, err := NewEventLog(t.TempDir(), ""); err == nil {
		t.Error("expected error for empty loop id")
	}
}

func TestFindLatestLog(t *testing.T) {
	dir := t.TempDir()
	if got, err := FindLatestLog(filepath.Join(dir, "missing"), ".log"); err != nil || got != "" {
		t.Fatalf("missing dir: got %q, %v", got, err)
	}

	old := filepath.Join(dir, "loop-old.log")
	recent := filepath.Join(dir, "loop-new.log")
	other := filepath.Join(dir, "notes.log")
	for _, p := range []string{old, recent, other} {
		if err := os.WriteFile(p, []byte("x\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(other, future, future); err != nil {
		t.Fatal(err)
	}

	got, err := FindLatestLog(dir, ".log")
	if err != nil {
		t.Fatalf("FindLatestLog() error: %v", err)
	}
	if got != recent {
		t.Errorf("got %q, want %q", got, recent)
	}
}

func TestTailLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loop.log")
	var b strings.Builder
	for i := 1; i <= 500; i++ {
		fmt.Fprintf(&b, "line %03d\n", i)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		n     int
		first string
		lines int
	}{
		{"last three", 3, "line 498", 3},
		{"more than file", 1000, "line 001", 500},
		{"all", 0, "line 001", 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := TailLog(context.Background(), &out, path, tt.n, false); err != nil {
				t.Fatalf("TailLog() error: %v", err)
			}
			lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
			if len(lines) != tt.lines {
				t.Fatalf("got %d lines, want %d", len(lines), tt.lines)
			}
			if lines[0] != tt.first {
				t.Errorf("first line: got %q, want %q", lines[0], tt.first)
			}
		})
	}
}

func TestTailLogFollowStopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loop.log")
	if err := os.WriteFile(path, []byte("start\n"), 0644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	if err := TailLog(ctx, &out, path, 10, true); err != nil {
		t.Fatalf("TailLog() error: %v", err)
	}
	if out.String() != "start\n" {
		t.Errorf("got %q", out.String())
	}
}

func TestTailLogMissingFile(t *testing.T) {
	var out bytes.Buffer
	if err := TailLog(context.Background(), &out, filepath.Join(t.TempDir(), "nope"), 5, false); err == nil {
		t.Error("expected error for missing file")
	}
}
