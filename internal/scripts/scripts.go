// Package scripts locates the bundled bash collaborators that invoke agents
// and render prompts.
package scripts

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// Bundled script names.
const (
	Once        = "ralph-once.sh"
	BuildPrompt = "build-prompt.sh"
	PromptFile  = "prompt.md"
)

//go:embed bundled/*
var bundled embed.FS

// ErrScriptNotFound indicates a collaborator script is missing.
var ErrScriptNotFound = errors.New("script not found")

// NotFoundError reports the path that was looked up.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("script not found: %s", e.Path)
}

// Unwrap lets errors.Is match ErrScriptNotFound.
func (e *NotFoundError) Unwrap() error {
	return ErrScriptNotFound
}

// Locator resolves collaborator scripts. When Dir is empty the bundled copies
// are materialized under CacheDir (or the user cache directory) and used.
type Locator struct {
	Dir      string
	CacheDir string
	Version  string
}

// ResolveDir returns the directory scripts are run from, materializing the
// bundled scripts first when no directory is configured.
func (l Locator) ResolveDir() (string, error) {
	if l.Dir != "" {
		abs, err := filepath.Abs(l.Dir)
		if err != nil {
			return "", fmt.Errorf("resolve scripts dir: %w", err)
		}
		return abs, nil
	}

	base := l.CacheDir
	if base == "" {
		cache, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("locate user cache dir: %w", err)
		}
		base = filepath.Join(cache, "ralph")
	}
	version := l.Version
	if version == "" {
		version = "dev"
	}
	dir := filepath.Join(base, "scripts", version)
	if err := Materialize(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// Path returns the absolute path of a script, or a *NotFoundError.
func (l Locator) Path(name string) (string, error) {
	dir, err := l.ResolveDir()
	if err != nil {
		return "", err
	}
	p := filepath.Join(dir, name)
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &NotFoundError{Path: p}
		}
		return "", fmt.Errorf("stat %s: %w", p, err)
	}
	if info.IsDir() {
		return "", &NotFoundError{Path: p}
	}
	return p, nil
}

// Command builds `bash <script> args...` with env layered over os.Environ().
func (l Locator) Command(ctx context.Context, name string, args []string, env map[string]string) (*exec.Cmd, error) {
	p, err := l.Path(name)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, "bash", append([]string{p}, args...)...)
	cmd.Env = MergeEnv(os.Environ(), env)
	return cmd, nil
}

// MergeEnv overlays env on base, replacing existing keys in place.
func MergeEnv(base []string, env map[string]string) []string {
	out := make([]string, 0, len(base)+len(env))
	seen := make(map[string]bool, len(env))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if v, ok := env[key]; ok {
			out = append(out, key+"="+v)
			seen[key] = true
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !seen[key] {
			out = append(out, key+"="+env[key])
		}
	}
	return out
}

// Materialize writes the bundled scripts into dir, rewriting only files
// whose content differs.
func Materialize(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create scripts dir: %w", err)
	}
	entries, err := fs.ReadDir(bundled, "bundled")
	if err != nil {
		return fmt.Errorf("read bundled scripts: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := fs.ReadFile(bundled, "bundled/"+entry.Name())
		if err != nil {
			return fmt.Errorf("read bundled %s: %w", entry.Name(), err)
		}
		target := filepath.Join(dir, entry.Name())
		if existing, err := os.ReadFile(target); err == nil && bytes.Equal(existing, data) {
			continue
		}
		if err := os.WriteFile(target, data, 0755); err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}
	}
	return nil
}
