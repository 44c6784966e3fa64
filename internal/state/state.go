// Package state owns the .ralph project state directory: the guardrail
// ledger, the activity and error logs, and the runs collection.
//
// The ledger and both logs only ever grow. Nothing in this package rewrites
// or truncates them; ReadTail is a read-time projection.
package state

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/nibzard/ralph-go/internal/guardrails"
	"github.com/nibzard/ralph-go/internal/ralphdir"
)

//go:embed templates/*.md
var bundledTemplates embed.FS

// ErrNotInitialized indicates the state directory (or one of its files) is missing.
var ErrNotInitialized = errors.New("ralph state not initialized")

// ErrMissingTemplate indicates a bundled default template is absent.
// This is a packaging defect, not a user error.
var ErrMissingTemplate = errors.New("bundled template missing")

// NotInitializedError reports the missing path and tells the user how to fix it.
type NotInitializedError struct {
	Path string
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("%s not found. Run 'ralph init' first", e.Path)
}

// Unwrap lets errors.Is match ErrNotInitialized.
func (e *NotInitializedError) Unwrap() error {
	return ErrNotInitialized
}

// managedFile maps a bundled template to its target inside .ralph.
type managedFile struct {
	template string
	target   string
}

// managedFiles lists the files Init fills in, in creation order.
var managedFiles = []managedFile{
	{template: "guardrails.md", target: ralphdir.GuardrailsFile},
	{template: "activity.md", target: ralphdir.ActivityLogFile},
	{template: "errors.md", target: ralphdir.ErrorsLogFile},
}

// Store reads and appends the state files of one project root.
type Store struct {
	root      string
	templates fs.FS
}

// Option configures a Store.
type Option func(*Store)

// WithTemplates replaces the bundled templates. The FS is read at its root
// (guardrails.md, activity.md, errors.md).
func WithTemplates(templates fs.FS) Option {
	return func(s *Store) {
		s.templates = templates
	}
}

// New creates a store for the given project root.
func New(root string, opts ...Option) *Store {
	sub, err := fs.Sub(bundledTemplates, "templates")
	if err != nil {
		// embed paths are fixed at build time
		panic(err)
	}
	s := &Store{root: root, templates: sub}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the project root.
func (s *Store) Root() string { return s.root }

// Dir returns the .ralph directory path.
func (s *Store) Dir() string { return ralphdir.DirPath(s.root) }

// GuardrailsPath returns the ledger path.
func (s *Store) GuardrailsPath() string { return ralphdir.GuardrailsPath(s.root) }

// ActivityPath returns the activity log path.
func (s *Store) ActivityPath() string { return ralphdir.ActivityPath(s.root) }

// ErrorsPath returns the error log path.
func (s *Store) ErrorsPath() string { return ralphdir.ErrorsPath(s.root) }

// RunsDir returns the runs collection path.
func (s *Store) RunsDir() string { return ralphdir.RunsPath(s.root) }

// Initialized reports whether the state directory and all managed files exist.
func (s *Store) Initialized() bool {
	if info, err := os.Stat(s.Dir()); err != nil || !info.IsDir() {
		return false
	}
	for _, f := range managedFiles {
		if _, err := os.Stat(filepath.Join(s.Dir(), f.target)); err != nil {
			return false
		}
	}
	return true
}

// InitResult describes what Init changed.
type InitResult struct {
	Dir      string
	Created  []string // files written by this call
	Existing []string // files left untouched
	Missing  []string // files skipped because their template is missing
}

// Changed reports whether Init created anything.
func (r InitResult) Changed() bool {
	return len(r.Created) > 0
}

// Init creates the state directory layout and fills in any missing default
// files. Existing files are never overwritten, so calling Init repeatedly is
// safe. A missing template skips only that file; its name is reported in
// Missing and the remaining files still proceed.
func (s *Store) Init() (InitResult, error) {
	result := InitResult{Dir: s.Dir()}

	if err := os.MkdirAll(s.Dir(), 0755); err != nil {
		return result, fmt.Errorf("create state directory: %w", err)
	}
	if err := os.MkdirAll(s.RunsDir(), 0755); err != nil {
		return result, fmt.Errorf("create runs directory: %w", err)
	}

	for _, f := range managedFiles {
		created, err := s.installTemplate(f)
		switch {
		case errors.Is(err, ErrMissingTemplate):
			result.Missing = append(result.Missing, f.target)
		case err != nil:
			return result, err
		case created:
			result.Created = append(result.Created, f.target)
		default:
			result.Existing = append(result.Existing, f.target)
		}
	}
	return result, nil
}

// installTemplate copies one template into place unless the target exists.
func (s *Store) installTemplate(f managedFile) (bool, error) {
	target := filepath.Join(s.Dir(), f.target)
	if _, err := os.Stat(target); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat %s: %w", f.target, err)
	}

	content, err := fs.ReadFile(s.templates, f.template)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("%s: %w", f.template, ErrMissingTemplate)
		}
		return false, fmt.Errorf("read template %s: %w", f.template, err)
	}

	// O_EXCL: a file that appeared since the stat above is left alone.
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("create %s: %w", f.target, err)
	}
	if _, err := out.Write(content); err != nil {
		out.Close()
		return false, fmt.Errorf("write %s: %w", f.target, err)
	}
	if err := out.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w", f.target, err)
	}
	return true, nil
}

// Require reports a NotInitializedError when filePath does not exist.
func (s *Store) Require(filePath string) error {
	if _, err := os.Stat(filePath); err != nil {
		if os.IsNotExist(err) {
			return &NotInitializedError{Path: s.displayPath(filePath)}
		}
		return fmt.Errorf("stat %s: %w", filePath, err)
	}
	return nil
}

// ReadAll returns the whole content of a state file.
func (s *Store) ReadAll(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &NotInitializedError{Path: s.displayPath(filePath)}
		}
		return "", fmt.Errorf("read %s: %w", filePath, err)
	}
	return string(data), nil
}

// ReadTail returns at most the last maxLines lines of a state file, oldest
// first. A trailing newline does not count as an extra empty line.
// maxLines <= 0 returns every line.
func (s *Store) ReadTail(filePath string, maxLines int) ([]string, error) {
	content, err := s.ReadAll(filePath)
	if err != nil {
		return nil, err
	}
	return TailLines(content, maxLines), nil
}

// TailLines splits content into lines and keeps the last maxLines of them.
func TailLines(content string, maxLines int) []string {
	lines := splitLines(content)
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines
}

func splitLines(content string) []string {
	if content == "" {
		return []string{}
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}

// AppendSign appends the rendered sign to the ledger with a single write.
// The ledger must already exist; it is never created here.
func (s *Store) AppendSign(sign guardrails.Sign) error {
	return s.appendText(s.GuardrailsPath(), sign.Render())
}

// Signs parses the ledger into its signs.
func (s *Store) Signs() ([]guardrails.Sign, error) {
	f, err := os.Open(s.GuardrailsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotInitializedError{Path: s.displayPath(s.GuardrailsPath())}
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()
	return guardrails.Parse(f)
}

func (s *Store) appendText(filePath, text string) error {
	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return &NotInitializedError{Path: s.displayPath(filePath)}
		}
		return fmt.Errorf("open %s: %w", filePath, err)
	}
	n, err := io.WriteString(f, text)
	if err == nil && n != len(text) {
		err = io.ErrShortWrite
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("append to %s: %w", filePath, err)
	}
	return f.Close()
}

// displayPath shortens paths inside the state directory to ".ralph/<name>".
func (s *Store) displayPath(filePath string) string {
	dir := s.Dir()
	if rel, ok := strings.CutPrefix(filePath, dir+string(os.PathSeparator)); ok {
		return filepath.Join(ralphdir.Dir, rel)
	}
	return filePath
}
