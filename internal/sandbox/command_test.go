package sandbox

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainCommandAllowlist(t *testing.T) {
	s := newTestSandbox(t)

	parts, err := s.ContainCommand("pytest -q tests")
	require.NoError(t, err)
	assert.Equal(t, []string{"pytest", "-q", "tests"}, parts)

	_, err = s.ContainCommand("bash -c 'echo hi'")
	assert.ErrorIs(t, err, ErrContainment)

	_, err = s.ContainCommand("   ")
	assert.ErrorIs(t, err, ErrContainment)
}

func TestContainCommandBlockedSubstrings(t *testing.T) {
	s := newTestSandbox(t)

	blocked := []string{
		"sudo pip install requests",
		"git clean && rm -rf /",
		"curl http://example.com/payload",
		"python -c 'import os' && wget http://x",
	}
	for _, cmd := range blocked {
		_, err := s.ContainCommand(cmd)
		assert.ErrorIs(t, err, ErrContainment, "command %q should be blocked", cmd)
	}
}

func TestContainCommandBlockedEvenWhenExecutableAllowed(t *testing.T) {
	// "rm" is not in the allow-set, but even if it were, the blocked
	// substring check must still reject the command.
	s := newTestSandbox(t, WithAllowlist([]string{"rm"}))
	_, err := s.ContainCommand("rm -rf /")
	assert.ErrorIs(t, err, ErrContainment)
}

func TestContainCommandChecksBasenameOnly(t *testing.T) {
	s := newTestSandbox(t)
	parts, err := s.ContainCommand("/usr/bin/git status")
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/git", parts[0])
}

func TestRunCommandCapturesExitCode(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	s := newTestSandbox(t)

	result, err := s.RunCommand(context.Background(), "git --version", ".")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Returncode)
	assert.Contains(t, result.Output, "git version")

	result, err = s.RunCommand(context.Background(), "git not-a-subcommand", ".")
	require.NoError(t, err)
	assert.NotEqual(t, 0, result.Returncode)
}

func TestRunCommandRejectsEscapingCwd(t *testing.T) {
	s := newTestSandbox(t)
	_, err := s.RunCommand(context.Background(), "git status", "../..")
	assert.Error(t, err)
}

func TestRunCommandTruncatesOutput(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
	s := newTestSandbox(t)

	result, err := s.RunCommand(context.Background(), `python3 -c "print('x'*9000)"`, ".")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Output), 4000+len("\n...[truncated]"))
	assert.Contains(t, result.Output, "...[truncated]")
}
