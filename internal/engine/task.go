package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// DefaultIterationLimit bounds a run when the task does not set one.
const DefaultIterationLimit = 8

// Task is one unit of work for the engine. Immutable once loaded.
type Task struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Goal        string         `json:"goal"`
	Constraints map[string]any `json:"constraints"`
	Context     map[string]any `json:"context"`
}

// LoadTaskFile reads a task definition. Only "id" is required; missing
// optional fields default to empty.
func LoadTaskFile(path string) (Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Task{}, fmt.Errorf("read task file: %w", err)
	}
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return Task{}, fmt.Errorf("parse task file %s: %w", path, err)
	}
	if task.ID == "" {
		return Task{}, fmt.Errorf("task file %s: missing required field \"id\"", path)
	}
	if task.Constraints == nil {
		task.Constraints = map[string]any{}
	}
	if task.Context == nil {
		task.Context = map[string]any{}
	}
	return task, nil
}

// TestCmd returns the verification command, or "" when none is declared.
func (t Task) TestCmd() string {
	if cmd, ok := t.Constraints["test_cmd"].(string); ok {
		return cmd
	}
	return ""
}

// IterationLimit returns the run's iteration budget. "time_budget_iters" is
// accepted as a legacy alias.
func (t Task) IterationLimit() int {
	for _, key := range []string{"iteration_limit", "time_budget_iters"} {
		switch v := t.Constraints[key].(type) {
		case float64:
			return int(v)
		case int:
			return v
		}
	}
	return DefaultIterationLimit
}

// GoalMentionsPrint reports whether the goal text is print-oriented, which
// switches on the stdout-capture testing heuristics.
func (t Task) GoalMentionsPrint() bool {
	goal := strings.ToLower(t.Goal)
	return strings.Contains(goal, "print")
}

// ContextNotes returns the free-form notes entry from the task context.
func (t Task) ContextNotes() string {
	if notes, ok := t.Context["notes"].(string); ok {
		return notes
	}
	return ""
}
