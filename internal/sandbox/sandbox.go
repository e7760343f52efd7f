// Package sandbox confines every filesystem and command side effect to a
// single workspace root. Callers must go through ContainPath/ContainCommand
// before any I/O; nothing here trusts model-supplied paths.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// ErrContainment marks a path or command that escapes the sandbox.
var ErrContainment = errors.New("containment violation")

// Match is one search hit inside the workspace.
type Match struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Sandbox validates and performs workspace-confined operations.
type Sandbox struct {
	root      string
	allowlist map[string]struct{}
	blocklist []string
	timeout   int
	maxOutput int
	logger    *zap.Logger
}

// Option adjusts sandbox construction.
type Option func(*Sandbox)

// WithAllowlist replaces the default command allowlist.
func WithAllowlist(commands []string) Option {
	return func(s *Sandbox) {
		s.allowlist = make(map[string]struct{}, len(commands))
		for _, cmd := range commands {
			s.allowlist[cmd] = struct{}{}
		}
	}
}

// WithTimeout sets the command timeout in seconds.
func WithTimeout(seconds int) Option {
	return func(s *Sandbox) {
		if seconds > 0 {
			s.timeout = seconds
		}
	}
}

// WithLogger attaches a logger for operation tracing.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sandbox) { s.logger = logger }
}

// New creates a sandbox rooted at root. The root must exist; it is resolved
// to its canonical form so symlinked workspaces contain correctly.
func New(root string, opts ...Option) (*Sandbox, error) {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	s := &Sandbox{
		root:      abs,
		allowlist: defaultAllowlist(),
		blocklist: defaultBlocklist(),
		timeout:   30,
		maxOutput: 4000,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the canonical workspace root.
func (s *Sandbox) Root() string {
	return s.root
}

// ContainPath resolves p (absolute or workspace-relative) and requires the
// result to sit at or under the workspace root. Symlinks and ".." segments
// are resolved before the check, so no construction of p can escape.
func (s *Sandbox) ContainPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%w: empty path", ErrContainment)
	}
	candidate := p
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(s.root, candidate)
	}
	resolved, err := resolveExisting(filepath.Clean(candidate))
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", p, err)
	}
	rel, err := filepath.Rel(s.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes workspace: %s", ErrContainment, p)
	}
	return resolved, nil
}

// resolveExisting canonicalizes path by resolving symlinks on its longest
// existing ancestor and re-appending the not-yet-created remainder.
func resolveExisting(path string) (string, error) {
	remainder := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Clean(filepath.Join(resolved, remainder)), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

// ReadFile reads a contained file as UTF-8 text.
func (s *Sandbox) ReadFile(path string) (string, error) {
	resolved, err := s.ContainPath(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// WriteFile writes content to a contained path, creating parent directories
// as needed. Returns a short confirmation string for the tool result.
func (s *Sandbox) WriteFile(path, content string) (string, error) {
	resolved, err := s.ContainPath(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("create parent dirs for %s: %w", path, err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	s.logger.Debug("wrote file", zap.String("path", resolved), zap.Int("bytes", len(content)))
	return fmt.Sprintf("wrote %s", resolved), nil
}

// ListDir returns the sorted entries of a contained directory, with
// directories suffixed "/" to disambiguate.
func (s *Sandbox) ListDir(path string) ([]string, error) {
	resolved, err := s.ContainPath(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("path not found: %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// SearchInFiles recursively scans files under a contained directory for a
// literal substring. Binary or unreadable files are skipped, not failed.
// Match paths are workspace-relative.
func (s *Sandbox) SearchInFiles(path, query string) ([]Match, error) {
	resolved, err := s.ContainPath(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(resolved); err != nil {
		return nil, fmt.Errorf("path not found: %s: %w", path, err)
	}

	var matches []Match
	walkErr := filepath.WalkDir(resolved, func(file string, entry os.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}
		data, err := os.ReadFile(file)
		if err != nil || !utf8.Valid(data) {
			return nil
		}
		rel, err := filepath.Rel(s.root, file)
		if err != nil {
			rel = file
		}
		for idx, line := range strings.Split(string(data), "\n") {
			if strings.Contains(line, query) {
				matches = append(matches, Match{
					Path: rel,
					Line: idx + 1,
					Text: strings.TrimSpace(line),
				})
			}
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("search %s: %w", path, walkErr)
	}
	return matches, nil
}
