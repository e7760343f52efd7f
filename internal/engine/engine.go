// Package engine drives the task state machine: it issues model turns,
// dispatches parsed actions to the sandbox, consults memory for context,
// and persists resumable run state after every transition.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ghost-agent/ghost/internal/gateway"
	"github.com/ghost-agent/ghost/internal/memory"
	"github.com/ghost-agent/ghost/internal/sandbox"
	"github.com/ghost-agent/ghost/internal/schema"
)

// ModelGateway is the completion endpoint the engine talks to. One request,
// one response; no streaming.
type ModelGateway interface {
	Chat(ctx context.Context, messages []gateway.Message) (string, error)
}

// Engine executes tasks against a sandboxed workspace.
type Engine struct {
	gw          ModelGateway
	memory      *memory.Store
	logger      *zap.Logger
	allowedCmds []string
	cmdTimeout  int
	memoryLimit int
}

// Option adjusts engine construction.
type Option func(*Engine)

// WithAllowedCmds overrides the sandbox command allowlist.
func WithAllowedCmds(cmds []string) Option {
	return func(e *Engine) { e.allowedCmds = cmds }
}

// WithCmdTimeout sets the sandboxed command timeout in seconds.
func WithCmdTimeout(seconds int) Option {
	return func(e *Engine) { e.cmdTimeout = seconds }
}

// WithMemoryLimit caps how many memory notes are retrieved per run.
func WithMemoryLimit(limit int) Option {
	return func(e *Engine) { e.memoryLimit = limit }
}

// New creates an engine.
func New(gw ModelGateway, mem *memory.Store, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		gw:          gw,
		memory:      mem,
		logger:      logger,
		cmdTimeout:  30,
		memoryLimit: 3,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run carries the per-execution state threaded through the phase bodies.
type run struct {
	task         Task
	state        *RunState
	sb           *sandbox.Sandbox
	workspace    string
	planPath     string
	statePath    string
	actionsLog   *jsonlWriter
	llmLog       *jsonlWriter
	messages     []gateway.Message
	lastFeedback string
	goalPrints   bool
	limit        int
}

func (r *run) saveState() error {
	return r.state.Save(r.statePath)
}

// Run executes the state machine until DONE or the iteration budget is
// exhausted. workspace is the sandbox root actions operate on; artifacts
// holds plan.md's sibling logs and the persisted state. For single-shot runs
// the two are the same directory. Gateway failures propagate and terminate
// the run; everything else routes through REPAIR.
func (e *Engine) Run(ctx context.Context, task Task, workspace, artifacts string, state *RunState) error {
	if state == nil {
		state = NewRunState()
	}
	if err := os.MkdirAll(artifacts, 0o755); err != nil {
		return fmt.Errorf("create artifacts root: %w", err)
	}

	opts := []sandbox.Option{
		sandbox.WithTimeout(e.cmdTimeout),
		sandbox.WithLogger(e.logger),
	}
	if len(e.allowedCmds) > 0 {
		opts = append(opts, sandbox.WithAllowlist(e.allowedCmds))
	}
	sb, err := sandbox.New(workspace, opts...)
	if err != nil {
		return err
	}

	actionsLog, err := newJSONLWriter(filepath.Join(artifacts, "actions.log"))
	if err != nil {
		return err
	}
	llmLog, err := newJSONLWriter(filepath.Join(artifacts, "llm.log"))
	if err != nil {
		return err
	}

	r := &run{
		task:       task,
		state:      state,
		sb:         sb,
		workspace:  sb.Root(),
		planPath:   filepath.Join(sb.Root(), "plan.md"),
		statePath:  filepath.Join(artifacts, "state.json"),
		actionsLog: actionsLog,
		llmLog:     llmLog,
		goalPrints: task.GoalMentionsPrint(),
		limit:      task.IterationLimit(),
	}

	r.messages = []gateway.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildContext(task, r.workspace)},
	}
	query := strings.TrimSpace(task.Title + " " + task.Goal + " " + task.ContextNotes())
	notes, err := e.memory.Retrieve(query, e.memoryLimit)
	if err != nil {
		e.logger.Warn("memory retrieval failed", zap.Error(err))
	} else if len(notes) > 0 {
		r.messages = append(r.messages, gateway.Message{
			Role:    "user",
			Content: "Relevant memories:\n" + strings.Join(notes, "\n\n"),
		})
	}

	e.logger.Info("run started",
		zap.String("task_id", task.ID),
		zap.String("phase", string(state.Phase)),
		zap.Int("iteration_limit", r.limit))

	for {
		if r.state.Iteration >= r.limit {
			r.state.Phase = PhaseDone
			r.state.LastResult = ResultIterationLimit
			if err := r.saveState(); err != nil {
				return err
			}
			e.writeLesson(r)
			e.logger.Info("run hit iteration limit", zap.String("task_id", task.ID))
			return nil
		}

		switch r.state.Phase {
		case PhaseIngest:
			// Pure bookkeeping step; no model turn, no iteration charge.
			r.state.Phase = PhasePlan
			if err := r.saveState(); err != nil {
				return err
			}
		case PhasePlan:
			if err := e.phasePlan(ctx, r); err != nil {
				return err
			}
		case PhaseImplement:
			if err := e.phaseImplement(ctx, r); err != nil {
				return err
			}
		case PhaseVerify:
			if err := e.phaseVerify(ctx, r); err != nil {
				return err
			}
		case PhaseRepair:
			if err := e.phaseRepair(ctx, r); err != nil {
				return err
			}
		case PhaseDone:
			e.writeLesson(r)
			if err := r.saveState(); err != nil {
				return err
			}
			e.logger.Info("run finished",
				zap.String("task_id", task.ID),
				zap.String("result", r.state.LastResult),
				zap.Int("iterations", r.state.Iteration))
			return nil
		default:
			// Corrupted or hand-edited resume state lands here.
			r.state.Phase = PhaseDone
			r.state.LastResult = ResultUnknownPhase
			if err := r.saveState(); err != nil {
				return err
			}
			e.logger.Warn("unknown phase on resume", zap.String("task_id", task.ID))
			return nil
		}
	}
}

func (e *Engine) phasePlan(ctx context.Context, r *run) error {
	turn, parseErr, err := e.modelTurn(ctx, r, promptPlan)
	if err != nil {
		return err
	}
	results, touched := e.executeActions(ctx, r, turn)
	if parseErr != "" {
		results = append(results, errorResult(parseErr))
	}
	r.state.FilesTouched = mergeTouched(r.state.FilesTouched, touched)

	switch {
	case hasErrors(results):
		r.state.Phase = PhaseRepair
		r.state.LastResult = ResultPlanFailed
		r.lastFeedback = formatResults(results)
	case !fileExists(r.planPath):
		r.state.Phase = PhaseRepair
		r.state.LastResult = ResultPlanMissing
		r.lastFeedback = "plan.md was not created."
	default:
		r.state.Phase = PhaseImplement
		r.state.LastResult = ResultPlanOK
	}
	return e.finishPhase(r)
}

func (e *Engine) phaseImplement(ctx context.Context, r *run) error {
	turn, parseErr, err := e.modelTurn(ctx, r, promptImplement)
	if err != nil {
		return err
	}
	results, touched := e.executeActions(ctx, r, turn)
	if parseErr != "" {
		results = append(results, errorResult(parseErr))
	}
	r.state.FilesTouched = mergeTouched(r.state.FilesTouched, touched)

	if hasErrors(results) {
		r.state.Phase = PhaseRepair
		r.state.LastResult = ResultImplementFail
		r.lastFeedback = formatResults(results)
	} else {
		r.state.Phase = PhaseVerify
		r.state.LastResult = ResultImplementOK
	}
	return e.finishPhase(r)
}

func (e *Engine) phaseVerify(ctx context.Context, r *run) error {
	testCmd := r.task.TestCmd()
	if testCmd == "" {
		// No verification command declared: terminal, skips REPAIR.
		r.state.Phase = PhaseDone
		r.state.LastResult = ResultNoTestCmd
		return e.finishPhase(r)
	}

	result, err := r.sb.RunCommand(ctx, testCmd, ".")
	if err != nil {
		result = sandbox.ExecResult{Returncode: 1, Output: err.Error()}
	}
	if err := r.actionsLog.Append(map[string]any{"tool": schema.ToolRunCmd, "cmd": testCmd, "result": result}); err != nil {
		e.logger.Warn("action log append failed", zap.Error(err))
	}

	feedback := formatResults([]any{result})
	if result.Returncode == 0 {
		r.state.Phase = PhaseDone
		r.state.LastResult = ResultTestsPassed
		r.lastFeedback = feedback
	} else {
		r.state.Phase = PhaseRepair
		r.state.LastResult = ResultTestsFailed
		r.lastFeedback = feedback + verifyHints(result.Output)
	}
	return e.finishPhase(r)
}

func (e *Engine) phaseRepair(ctx context.Context, r *run) error {
	turn, parseErr, err := e.modelTurn(ctx, r, promptRepair)
	if err != nil {
		return err
	}
	results, touched := e.executeActions(ctx, r, turn)
	if parseErr != "" {
		results = append(results, errorResult(parseErr))
	}
	r.state.FilesTouched = mergeTouched(r.state.FilesTouched, touched)

	if hasErrors(results) {
		r.state.Phase = PhaseRepair
		r.state.LastResult = ResultRepairFailed
	} else {
		r.state.Phase = PhaseVerify
		r.state.LastResult = ResultRepairOK
	}
	r.lastFeedback = formatResults(results)
	return e.finishPhase(r)
}

// finishPhase charges the iteration, persists state, and logs the
// transition. Every working phase body funnels through here exactly once.
func (e *Engine) finishPhase(r *run) error {
	r.state.Iteration++
	e.logger.Info("phase transition",
		zap.String("task_id", r.task.ID),
		zap.String("phase", string(r.state.Phase)),
		zap.String("result", r.state.LastResult),
		zap.Int("iteration", r.state.Iteration))
	return r.saveState()
}

// modelTurn runs one request/response exchange. Both the full request and
// the raw response are logged before parsing, so malformed responses stay
// auditable. A parse failure is returned as feedback text, not an error;
// transport failures are real errors and abort the run.
func (e *Engine) modelTurn(ctx context.Context, r *run, prompt string) (schema.TurnResult, string, error) {
	turnMessages := make([]gateway.Message, len(r.messages), len(r.messages)+2)
	copy(turnMessages, r.messages)
	if r.lastFeedback != "" {
		turnMessages = append(turnMessages, gateway.Message{
			Role:    "user",
			Content: "Last feedback:\n" + r.lastFeedback,
		})
	}
	turnMessages = append(turnMessages, gateway.Message{Role: "user", Content: prompt})

	if err := r.llmLog.Append(map[string]any{"request": turnMessages}); err != nil {
		e.logger.Warn("turn log append failed", zap.Error(err))
	}
	text, err := e.gw.Chat(ctx, turnMessages)
	if err != nil {
		return schema.TurnResult{}, "", fmt.Errorf("model turn: %w", err)
	}
	if err := r.llmLog.Append(map[string]any{"response": text}); err != nil {
		e.logger.Warn("turn log append failed", zap.Error(err))
	}

	turn, parseErr := schema.ParseTurnResult(text)
	if parseErr != nil {
		if err := r.llmLog.Append(map[string]any{"parse_error": parseErr.Error()}); err != nil {
			e.logger.Warn("turn log append failed", zap.Error(err))
		}
		return schema.TurnResult{Thought: "invalid_json"}, parseErr.Error(), nil
	}
	return turn, "", nil
}

// executeActions dispatches each action in order. Execution is best-effort
// and fully sequential: an individual failure becomes an error result and
// the remaining actions still run.
func (e *Engine) executeActions(ctx context.Context, r *run, turn schema.TurnResult) ([]any, []string) {
	var results []any
	var touched []string
	for _, action := range turn.Actions {
		result := e.executeAction(ctx, r, action)
		if write, ok := action.(schema.WriteFile); ok && !isErrorResult(result) {
			touched = append(touched, write.Path)
		}
		if err := r.actionsLog.Append(map[string]any{
			"tool":   action.Tool(),
			"input":  schema.Input(action),
			"result": result,
		}); err != nil {
			e.logger.Warn("action log append failed", zap.Error(err))
		}
		results = append(results, result)
	}
	return results, touched
}

func (e *Engine) executeAction(ctx context.Context, r *run, action schema.Action) any {
	if err := validateAction(action, r.goalPrints); err != nil {
		return errorResult(err.Error())
	}
	switch a := action.(type) {
	case schema.WriteFile:
		msg, err := r.sb.WriteFile(a.Path, a.Content)
		if err != nil {
			return errorResult(err.Error())
		}
		return msg
	case schema.ReadFile:
		content, err := r.sb.ReadFile(a.Path)
		if err != nil {
			return errorResult(err.Error())
		}
		return content
	case schema.ListDir:
		entries, err := r.sb.ListDir(a.Path)
		if err != nil {
			return errorResult(err.Error())
		}
		return entries
	case schema.SearchInFiles:
		matches, err := r.sb.SearchInFiles(a.Path, a.Query)
		if err != nil {
			return errorResult(err.Error())
		}
		if matches == nil {
			matches = []sandbox.Match{}
		}
		return matches
	case schema.RunCmd:
		result, err := r.sb.RunCommand(ctx, a.Cmd, a.Cwd)
		if err != nil {
			return errorResult(err.Error())
		}
		return result
	default:
		return errorResult("unknown tool " + action.Tool())
	}
}

// writeLesson records the run outcome in memory so future retrievals can
// surface it. Failures are logged, not fatal; the run outcome stands.
func (e *Engine) writeLesson(r *run) {
	lesson := fmt.Sprintf("Task %s completed with result %s.\nFiles touched: %s\nWorkspace: %s\n",
		r.task.ID, r.state.LastResult, strings.Join(r.state.FilesTouched, ", "), r.workspace)
	meta := memory.Metadata{
		Type:       "lesson",
		Tags:       []string{"ghost", "task"},
		Confidence: 0.5,
		Created:    time.Now().Format("2006-01-02"),
	}
	if _, err := e.memory.WriteLesson(r.task.ID, lesson, meta); err != nil {
		e.logger.Warn("lesson write failed", zap.String("task_id", r.task.ID), zap.Error(err))
	}
}

// verifyHints augments test-failure feedback with two targeted hints for
// common pytest failure shapes. Deliberately narrow string matches; they
// track one specific testing idiom and are not general policy.
func verifyHints(output string) string {
	hints := ""
	if strings.Contains(output, "Captured stdout") && strings.Contains(output, "None !=") {
		hints += "\nHint: The code is printing output. " +
			"Update tests to capture stdout (pytest capsys or subprocess) " +
			"instead of expecting return values."
	}
	if strings.Contains(strings.ToLower(output), "no tests ran") {
		hints += "\nHint: Create a pytest test file named test_*.py " +
			"with at least one def test_* function."
	}
	return hints
}

func errorResult(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func isErrorResult(result any) bool {
	m, ok := result.(map[string]string)
	if !ok {
		return false
	}
	_, has := m["error"]
	return has
}

func hasErrors(results []any) bool {
	for _, result := range results {
		if isErrorResult(result) {
			return true
		}
	}
	return false
}

func formatResults(results []any) string {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", results)
	}
	return string(data)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
