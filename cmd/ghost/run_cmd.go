package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ghost-agent/ghost/internal/engine"
	"github.com/ghost-agent/ghost/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run <task.json>",
	Short: "Run a task definition file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <task-id>",
	Short: "Resume a task by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func runRun(cmd *cobra.Command, args []string) error {
	repoRoot, err := os.Getwd()
	if err != nil {
		return err
	}
	task, err := engine.LoadTaskFile(args[0])
	if err != nil {
		return err
	}

	workspace, err := initWorkspace(repoRoot, task.ID, args[0])
	if err != nil {
		return err
	}

	eng, err := newEngine(repoRoot)
	if err != nil {
		return err
	}
	state := engine.NewRunState()
	started := time.Now()
	if err := eng.Run(cmd.Context(), task, workspace, workspace, state); err != nil {
		return err
	}
	recordHistory(repoRoot, task, state, started)
	fmt.Printf("Task %s finished: %s (%d iterations)\n", task.ID, state.LastResult, state.Iteration)
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	repoRoot, err := os.Getwd()
	if err != nil {
		return err
	}
	taskID := args[0]
	workspace := filepath.Join(repoRoot, "workspaces", taskID)
	taskPath := filepath.Join(workspace, "task.json")
	if _, err := os.Stat(taskPath); err != nil {
		return fmt.Errorf("task.json not found for %s", taskID)
	}
	task, err := engine.LoadTaskFile(taskPath)
	if err != nil {
		return err
	}

	statePath := filepath.Join(workspace, "state.json")
	state := engine.NewRunState()
	if _, err := os.Stat(statePath); err == nil {
		state, err = engine.LoadRunState(statePath)
		if err != nil {
			return err
		}
	}

	eng, err := newEngine(repoRoot)
	if err != nil {
		return err
	}
	started := time.Now()
	if err := eng.Run(cmd.Context(), task, workspace, workspace, state); err != nil {
		return err
	}
	recordHistory(repoRoot, task, state, started)
	fmt.Printf("Task %s finished: %s (%d iterations)\n", task.ID, state.LastResult, state.Iteration)
	return nil
}

// recordHistory appends the run to the local history database. Failures are
// logged and swallowed; the run outcome stands.
func recordHistory(repoRoot string, task engine.Task, state *engine.RunState, started time.Time) {
	s, err := store.New(filepath.Join(repoRoot, ".ghost", "ghost.db"))
	if err != nil {
		logger.Warn("open history store failed", zap.Error(err))
		return
	}
	defer s.Close()
	if _, err := s.RecordRun(store.Run{
		TaskID:     task.ID,
		Goal:       task.Goal,
		Result:     state.LastResult,
		Iterations: state.Iteration,
		StartedAt:  started,
		EndedAt:    time.Now(),
	}); err != nil {
		logger.Warn("record run failed", zap.Error(err))
	}
}

// initWorkspace resets workspaces/<id> and seeds it with the task
// definition and an empty notes file.
func initWorkspace(repoRoot, taskID, taskPath string) (string, error) {
	workspace := filepath.Join(repoRoot, "workspaces", taskID)
	if err := os.RemoveAll(workspace); err != nil {
		return "", fmt.Errorf("reset workspace: %w", err)
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	data, err := os.ReadFile(taskPath)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(workspace, "task.json"), data, 0o644); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(workspace, "notes.md"), nil, 0o644); err != nil {
		return "", err
	}
	return workspace, nil
}
