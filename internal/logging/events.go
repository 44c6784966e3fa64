package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Event types written by the loop controller.
const (
	EventLoopStart      = "loop_start"
	EventIterationStart = "iteration_start"
	EventIterationEnd   = "iteration_end"
	EventHook           = "hook"
	EventLoopEnd        = "loop_end"
)

// Event is one JSONL line in a loop event log.
type Event struct {
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	LoopID     string    `json:"loop_id"`
	Iteration  int       `json:"iteration,omitempty"`
	Iterations int       `json:"iterations,omitempty"`
	Agent      string    `json:"agent,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Completed  bool      `json:"completed,omitempty"`
	State      string    `json:"state,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// EventLog appends loop events to .ralph/runs/loop-<id>.jsonl.
type EventLog struct {
	LoopID  string
	LogPath string

	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewEventLog creates the event log file for loopID under runsDir.
func NewEventLog(runsDir, loopID string) (*EventLog, error) {
	if runsDir == "" {
		return nil, fmt.Errorf("runs dir is empty")
	}
	if loopID == "" {
		return nil, fmt.Errorf("loop id is empty")
	}
	if err := os.MkdirAll(runsDir, 0755); err != nil {
		return nil, fmt.Errorf("create runs dir: %w", err)
	}
	logPath := filepath.Join(runsDir, fmt.Sprintf("loop-%s.jsonl", loopID))
	file, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("create event log: %w", err)
	}
	return &EventLog{
		LoopID:  loopID,
		LogPath: logPath,
		file:    file,
		enc:     json.NewEncoder(file),
	}, nil
}

// Write appends one event. A zero timestamp is filled in.
func (l *EventLog) Write(event Event) error {
	if l == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.LoopID == "" {
		event.LoopID = l.LoopID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("event log closed")
	}
	return l.enc.Encode(event)
}

// Close closes the log file.
func (l *EventLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadEvents decodes every event in a JSONL file.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var events []Event
	dec := json.NewDecoder(f)
	for {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			if err == io.EOF {
				return events, nil
			}
			return events, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}
}

// FindLatestLog returns the most recently modified file in dir whose name
// starts with "loop-" and ends with suffix, or "" when there is none.
func FindLatestLog(dir, suffix string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read log dir: %w", err)
	}

	var latest string
	var latestTime time.Time
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "loop-") || !strings.HasSuffix(name, suffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latest = filepath.Join(dir, name)
		}
	}
	return latest, nil
}

// TailLog copies the last n lines of path to w (all of it when n <= 0).
// With follow it keeps copying new data until ctx is done.
func TailLog(ctx context.Context, w io.Writer, path string, n int, follow bool) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if n > 0 {
		if err := tailSeek(file, n); err != nil {
			return fmt.Errorf("seek to tail position: %w", err)
		}
	}
	if _, err := io.Copy(w, file); err != nil {
		return err
	}
	if !follow {
		return nil
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := io.Copy(w, file); err != nil {
				return err
			}
		}
	}
}

// tailSeek positions file at the start of the n-th line from the end.
func tailSeek(file *os.File, n int) error {
	stat, err := file.Stat()
	if err != nil {
		return err
	}
	size := stat.Size()
	if size == 0 {
		return nil
	}

	const chunk = 4096
	buf := make([]byte, chunk)
	newlines := 0
	offset := size

	// A trailing newline terminates the last line and is not a separator.
	last := make([]byte, 1)
	if _, err := file.ReadAt(last, size-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		offset--
	}

	for offset > 0 {
		readSize := int64(chunk)
		if offset < readSize {
			readSize = offset
		}
		offset -= readSize
		if _, err := file.ReadAt(buf[:readSize], offset); err != nil && err != io.EOF {
			return err
		}
		for i := readSize - 1; i >= 0; i-- {
			if buf[i] != '\n' {
				continue
			}
			newlines++
			if newlines == n {
				_, err := file.Seek(offset+i+1, io.SeekStart)
				return err
			}
		}
	}
	_, err = file.Seek(0, io.SeekStart)
	return err
}
