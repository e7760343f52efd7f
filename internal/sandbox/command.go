package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"
)

// ExecResult is the outcome of a sandboxed command execution. A nonzero
// exit code is a normal result, not an error.
type ExecResult struct {
	Returncode int    `json:"returncode"`
	Output     string `json:"output"`
}

func defaultAllowlist() map[string]struct{} {
	allowed := []string{"python", "python3", "python.exe", "pytest", "git", "pip", "ruff", "go"}
	m := make(map[string]struct{}, len(allowed))
	for _, cmd := range allowed {
		m[cmd] = struct{}{}
	}
	return m
}

func defaultBlocklist() []string {
	return []string{"sudo", "rm -rf", "curl", "wget"}
}

// ContainCommand validates a command string against the sandbox policy:
// the executable basename must be allowlisted and the raw command must not
// contain any categorically blocked substring. Both checks always run; an
// allowlisted executable does not excuse a blocked substring.
func (s *Sandbox) ContainCommand(cmd string) ([]string, error) {
	lower := strings.ToLower(cmd)
	for _, token := range s.blocklist {
		if strings.Contains(lower, token) {
			return nil, fmt.Errorf("%w: command contains blocked token %q", ErrContainment, token)
		}
	}
	parts, err := shellquote.Split(cmd)
	if err != nil {
		return nil, fmt.Errorf("split command: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrContainment)
	}
	exe := filepath.Base(parts[0])
	if _, ok := s.allowlist[exe]; !ok {
		return nil, fmt.Errorf("%w: command not allowed: %s", ErrContainment, exe)
	}
	return parts, nil
}

// RunCommand executes a contained command with the given working directory
// (itself contained against the root), a bounded timeout, and combined
// output capture truncated to the configured maximum.
func (s *Sandbox) RunCommand(ctx context.Context, cmd, cwd string) (ExecResult, error) {
	parts, err := s.ContainCommand(cmd)
	if err != nil {
		return ExecResult{}, err
	}
	dir, err := s.ContainPath(cwd)
	if err != nil {
		return ExecResult{}, fmt.Errorf("cwd escapes workspace: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	execCmd := exec.CommandContext(runCtx, parts[0], parts[1:]...)
	execCmd.Dir = dir

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	start := time.Now()
	runErr := execCmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return ExecResult{}, fmt.Errorf("command timed out after %ds: %s", s.timeout, cmd)
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return ExecResult{}, fmt.Errorf("exec error: %w", runErr)
		}
	}

	output := stdout.String() + stderr.String()
	if len(output) > s.maxOutput {
		output = output[:s.maxOutput] + "\n...[truncated]"
	}

	s.logger.Debug("ran command",
		zap.String("cmd", cmd),
		zap.String("cwd", dir),
		zap.Int("exit_code", exitCode),
		zap.Duration("elapsed", time.Since(start)))

	return ExecResult{Returncode: exitCode, Output: output}, nil
}
