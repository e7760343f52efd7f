package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ghost-agent/ghost/internal/schema"
)

func TestValidateRejectsPlaceholders(t *testing.T) {
	cases := []schema.Action{
		schema.WriteFile{Path: "...", Content: "x"},
		schema.WriteFile{Path: "   ", Content: "x"},
		schema.ReadFile{Path: ""},
		schema.ListDir{Path: "..."},
		schema.SearchInFiles{Path: "src", Query: "..."},
		schema.SearchInFiles{Path: "...", Query: "x"},
		schema.RunCmd{Cmd: "...", Cwd: "."},
		schema.RunCmd{Cmd: "pytest -q", Cwd: " "},
	}
	for _, action := range cases {
		assert.Error(t, validateAction(action, false), "%#v should be rejected", action)
	}
}

func TestValidateAcceptsRealArguments(t *testing.T) {
	cases := []schema.Action{
		schema.WriteFile{Path: "mod.py", Content: "x = 1\n"},
		schema.ReadFile{Path: "mod.py"},
		schema.ListDir{Path: "."},
		schema.SearchInFiles{Path: ".", Query: "def "},
		schema.RunCmd{Cmd: "pytest -q", Cwd: "."},
	}
	for _, action := range cases {
		assert.NoError(t, validateAction(action, false))
	}
}

func TestValidatePytestIni(t *testing.T) {
	bad := schema.WriteFile{Path: "pytest.ini", Content: "addopts = -q\n"}
	assert.Error(t, validateAction(bad, false))

	good := schema.WriteFile{Path: "Pytest.INI", Content: "  \n[pytest]\naddopts = -q\n"}
	assert.NoError(t, validateAction(good, false))
}

func TestValidateTestFiles(t *testing.T) {
	noTests := schema.WriteFile{Path: "test_mod.py", Content: "x = 1\n"}
	assert.Error(t, validateAction(noTests, false))

	usesUnittest := schema.WriteFile{
		Path:    "tests/test_mod.py",
		Content: "import unittest\ndef test_x():\n    pass\n",
	}
	assert.Error(t, validateAction(usesUnittest, false))

	plain := schema.WriteFile{
		Path:    "test_mod.py",
		Content: "def test_x():\n    assert 1 == 1\n",
	}
	assert.NoError(t, validateAction(plain, false))

	// Non-test files are not held to test-file rules.
	module := schema.WriteFile{Path: "contest.py", Content: "x = 1\n"}
	assert.NoError(t, validateAction(module, false))
}

func TestValidatePrintGoalRequiresStdoutCapture(t *testing.T) {
	noCapture := schema.WriteFile{
		Path:    "test_mod.py",
		Content: "def test_x():\n    assert mod.run() is None\n",
	}
	assert.Error(t, validateAction(noCapture, true))
	assert.NoError(t, validateAction(noCapture, false))

	withCapsys := schema.WriteFile{
		Path:    "test_mod.py",
		Content: "def test_x(capsys):\n    mod.run()\n    assert capsys.readouterr().out == 'hi\\n'\n",
	}
	assert.NoError(t, validateAction(withCapsys, true))
}
