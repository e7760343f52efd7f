package engine

import (
	"encoding/json"
	"fmt"
)

// systemPrompt pins the response contract: one JSON object, five tools,
// no prose. The wording is deliberately blunt; small local models drift
// otherwise.
const systemPrompt = `You are Ghost, a coding agent.
You MUST respond with ONLY valid JSON matching this schema:
{
  "thought": "string",
  "actions": [
    { "tool": "write_file", "path": "...", "content": "..." },
    { "tool": "read_file", "path": "..." },
    { "tool": "list_dir", "path": "..." },
    { "tool": "search_in_files", "path": "...", "query": "..." },
    { "tool": "run_cmd", "cmd": "...", "cwd": "..." }
  ]
}
No prose, no markdown, no extra keys. Do not use code fences.
If no actions are needed, return {"thought": "...", "actions": []}.
Do not use placeholder values like "...". Provide real paths, commands, and queries.
Use pytest-style tests unless the task explicitly asks for another framework.
Do not create or modify pytest.ini unless the task explicitly requests it.
Respect tool rules: stay inside the workspace root and use only allowed commands.`

// Phase instruction strings appended as the final message of each turn.
const (
	promptPlan      = "Create a short plan with steps and a verification strategy, then write it to plan.md using write_file."
	promptImplement = "Implement the task. Use tools to read/write files as needed."
	promptRepair    = "Fix the issues from the last step. Use tools to update files."
)

// buildContext renders the one-time context block for a run.
func buildContext(task Task, workspace string) string {
	constraints, err := json.Marshal(task.Constraints)
	if err != nil {
		constraints = []byte("{}")
	}
	taskContext, err := json.Marshal(task.Context)
	if err != nil {
		taskContext = []byte("{}")
	}
	testingHint := ""
	if task.GoalMentionsPrint() {
		testingHint = "Testing hint: if the goal mentions printing, " +
			"tests should capture stdout instead of expecting return values. " +
			"In pytest you can use the capsys fixture.\n"
	}
	return fmt.Sprintf(
		"Workspace root: %s\n"+
			"Task id: %s\n"+
			"Title: %s\n"+
			"Goal: %s\n"+
			"Constraints: %s\n"+
			"Context: %s\n"+
			"Tool rules: paths and cwd must stay inside the workspace.\n%s",
		workspace, task.ID, task.Title, task.Goal, constraints, taskContext, testingHint)
}
