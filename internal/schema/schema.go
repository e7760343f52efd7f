// Package schema defines the action protocol spoken between the engine and
// the model: a closed union of tool requests plus the turn envelope.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Tool names accepted in a model turn.
const (
	ToolWriteFile     = "write_file"
	ToolReadFile      = "read_file"
	ToolListDir       = "list_dir"
	ToolSearchInFiles = "search_in_files"
	ToolRunCmd        = "run_cmd"
)

// Action is one tool invocation requested by the model. The union is closed:
// adding a variant requires touching every switch over it.
type Action interface {
	Tool() string
	isAction()
}

// WriteFile writes content to a workspace-relative path.
type WriteFile struct {
	Path    string
	Content string
}

// ReadFile reads a workspace file.
type ReadFile struct {
	Path string
}

// ListDir lists a workspace directory.
type ListDir struct {
	Path string
}

// SearchInFiles scans files under a directory for a literal substring.
type SearchInFiles struct {
	Path  string
	Query string
}

// RunCmd executes an allowlisted command inside the workspace.
type RunCmd struct {
	Cmd string
	Cwd string
}

func (WriteFile) Tool() string     { return ToolWriteFile }
func (ReadFile) Tool() string      { return ToolReadFile }
func (ListDir) Tool() string       { return ToolListDir }
func (SearchInFiles) Tool() string { return ToolSearchInFiles }
func (RunCmd) Tool() string        { return ToolRunCmd }

func (WriteFile) isAction()     {}
func (ReadFile) isAction()      {}
func (ListDir) isAction()       {}
func (SearchInFiles) isAction() {}
func (RunCmd) isAction()        {}

// Input returns the action's fields as a flat map for logging.
func Input(a Action) map[string]string {
	switch v := a.(type) {
	case WriteFile:
		return map[string]string{"tool": v.Tool(), "path": v.Path, "content": v.Content}
	case ReadFile:
		return map[string]string{"tool": v.Tool(), "path": v.Path}
	case ListDir:
		return map[string]string{"tool": v.Tool(), "path": v.Path}
	case SearchInFiles:
		return map[string]string{"tool": v.Tool(), "path": v.Path, "query": v.Query}
	case RunCmd:
		return map[string]string{"tool": v.Tool(), "cmd": v.Cmd, "cwd": v.Cwd}
	default:
		return map[string]string{"tool": a.Tool()}
	}
}

// TurnResult is one parsed model response: a thought plus the ordered list
// of actions to execute.
type TurnResult struct {
	Thought string
	Actions []Action
}

// requiredFields maps each tool to its exact field set beyond "tool".
var requiredFields = map[string][]string{
	ToolWriteFile:     {"path", "content"},
	ToolReadFile:      {"path"},
	ToolListDir:       {"path"},
	ToolSearchInFiles: {"path", "query"},
	ToolRunCmd:        {"cmd", "cwd"},
}

type rawTurn struct {
	Thought *string           `json:"thought"`
	Actions []json.RawMessage `json:"actions"`
}

// ParseTurnResult decodes a model response. The entire trimmed text must be
// exactly one JSON object with the keys "thought" and "actions"; prose
// around a valid fragment, unknown keys, missing keys, or malformed action
// variants all fail.
func ParseTurnResult(text string) (TurnResult, error) {
	payload := strings.TrimSpace(text)
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.DisallowUnknownFields()

	var raw rawTurn
	if err := dec.Decode(&raw); err != nil {
		return TurnResult{}, fmt.Errorf("invalid JSON from model: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return TurnResult{}, errors.New("invalid JSON from model: trailing content after object")
	}
	if raw.Thought == nil {
		return TurnResult{}, errors.New("invalid action schema: missing thought")
	}
	if raw.Actions == nil {
		return TurnResult{}, errors.New("invalid action schema: missing actions")
	}

	result := TurnResult{Thought: *raw.Thought}
	for i, msg := range raw.Actions {
		action, err := parseAction(msg)
		if err != nil {
			return TurnResult{}, fmt.Errorf("invalid action schema: action %d: %w", i, err)
		}
		result.Actions = append(result.Actions, action)
	}
	return result, nil
}

// parseAction decodes one action object. Every field must be a string and
// the key set must match the variant exactly.
func parseAction(msg json.RawMessage) (Action, error) {
	var fields map[string]string
	if err := json.Unmarshal(msg, &fields); err != nil {
		return nil, fmt.Errorf("fields must be strings: %w", err)
	}
	tool, ok := fields[KeyTool]
	if !ok {
		return nil, errors.New("missing tool")
	}
	want, ok := requiredFields[tool]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", tool)
	}
	if err := checkKeys(fields, want); err != nil {
		return nil, fmt.Errorf("tool %s: %w", tool, err)
	}

	switch tool {
	case ToolWriteFile:
		return WriteFile{Path: fields["path"], Content: fields["content"]}, nil
	case ToolReadFile:
		return ReadFile{Path: fields["path"]}, nil
	case ToolListDir:
		return ListDir{Path: fields["path"]}, nil
	case ToolSearchInFiles:
		return SearchInFiles{Path: fields["path"], Query: fields["query"]}, nil
	case ToolRunCmd:
		return RunCmd{Cmd: fields["cmd"], Cwd: fields["cwd"]}, nil
	}
	return nil, fmt.Errorf("unknown tool %q", tool)
}

// KeyTool is the discriminator field on every action object.
const KeyTool = "tool"

func checkKeys(fields map[string]string, want []string) error {
	for _, key := range want {
		if _, ok := fields[key]; !ok {
			return fmt.Errorf("missing field %q", key)
		}
	}
	if len(fields) != len(want)+1 {
		extra := make([]string, 0, len(fields))
		for key := range fields {
			if key == KeyTool {
				continue
			}
			known := false
			for _, w := range want {
				if key == w {
					known = true
					break
				}
			}
			if !known {
				extra = append(extra, key)
			}
		}
		sort.Strings(extra)
		return fmt.Errorf("unexpected fields %v", extra)
	}
	return nil
}
