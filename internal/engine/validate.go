package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ghost-agent/ghost/internal/schema"
)

// isPlaceholder reports whether a model-supplied argument is unusable:
// empty, whitespace, or the literal "..." placeholder from the schema
// example.
func isPlaceholder(value string) bool {
	trimmed := strings.TrimSpace(value)
	return trimmed == "" || trimmed == "..."
}

// validateAction applies policy guards before an action reaches the
// sandbox. These are quality gates on model output, independent of the
// sandbox's containment checks.
func validateAction(action schema.Action, goalPrints bool) error {
	switch a := action.(type) {
	case schema.WriteFile:
		return validateWrite(a, goalPrints)
	case schema.ReadFile:
		if isPlaceholder(a.Path) {
			return errors.New("read_file path is missing or placeholder")
		}
	case schema.ListDir:
		if isPlaceholder(a.Path) {
			return errors.New("list_dir path is missing or placeholder")
		}
	case schema.SearchInFiles:
		if isPlaceholder(a.Path) || isPlaceholder(a.Query) {
			return errors.New("search_in_files path/query is missing or placeholder")
		}
	case schema.RunCmd:
		if isPlaceholder(a.Cmd) || isPlaceholder(a.Cwd) {
			return errors.New("run_cmd cmd/cwd is missing or placeholder")
		}
	default:
		return fmt.Errorf("unknown tool %s", action.Tool())
	}
	return nil
}

func validateWrite(a schema.WriteFile, goalPrints bool) error {
	if isPlaceholder(a.Path) {
		return errors.New("write_file path is missing or placeholder")
	}
	lowerPath := strings.ToLower(strings.ReplaceAll(a.Path, "\\", "/"))

	if strings.HasSuffix(lowerPath, "pytest.ini") {
		if !strings.HasPrefix(strings.ToLower(strings.TrimLeft(a.Content, " \t\r\n")), "[pytest]") {
			return errors.New("pytest.ini must start with [pytest]")
		}
	}

	if isTestFilePath(lowerPath) {
		if !strings.Contains(a.Content, "def test_") {
			return errors.New("test file must include pytest-style test functions")
		}
		if strings.Contains(a.Content, "unittest") {
			return errors.New("test file must use pytest, not unittest")
		}
		if goalPrints && !capturesStdout(a.Content) {
			return errors.New("tests must capture stdout (capsys/capfd or subprocess)")
		}
	}
	return nil
}

// isTestFilePath matches pytest's default discovery layout: a basename with
// the test_ prefix, or any path segment under a test_ directory.
func isTestFilePath(lowerPath string) bool {
	return strings.HasPrefix(lowerPath, "test_") || strings.Contains(lowerPath, "/test_")
}

func capturesStdout(content string) bool {
	return strings.Contains(content, "capsys") ||
		strings.Contains(content, "capfd") ||
		strings.Contains(content, "subprocess")
}
