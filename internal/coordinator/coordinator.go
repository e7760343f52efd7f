// Package coordinator serializes interactive engine runs. One single-flight
// lock guards execution; a separate state lock guards only the timestamp of
// the last completed run, which the watcher loop reads for debouncing.
package coordinator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ghost-agent/ghost/internal/engine"
	"github.com/ghost-agent/ghost/internal/store"
)

// TaskRunner executes one task to completion. Satisfied by *engine.Engine.
type TaskRunner interface {
	Run(ctx context.Context, task engine.Task, workspace, artifacts string, state *engine.RunState) error
}

// ChangePoller drains buffered filesystem changes. Satisfied by
// *watch.Watcher.
type ChangePoller interface {
	Poll(max int) []string
}

// Coordinator owns the interactive run loop's shared mutable state. Multiple
// coordinators can coexist; nothing here is process-global.
type Coordinator struct {
	runner         TaskRunner
	poller         ChangePoller
	history        *store.Store
	logger         *zap.Logger
	projectRoot    string
	artifactsBase  string
	testCmd        string
	iterationLimit int
	pollInterval   time.Duration
	quietWindow    time.Duration

	runMu    sync.Mutex
	inFlight atomic.Bool
	watchOn  atomic.Bool
	seq      int

	stateMu sync.Mutex
	lastRun time.Time
}

// Option adjusts coordinator construction.
type Option func(*Coordinator)

// WithHistory records completed runs in the given store.
func WithHistory(s *store.Store) Option {
	return func(c *Coordinator) { c.history = s }
}

// WithTestCmd sets the verification command for interactive tasks.
func WithTestCmd(cmd string) Option {
	return func(c *Coordinator) { c.testCmd = cmd }
}

// WithIterationLimit sets the per-run iteration budget.
func WithIterationLimit(limit int) Option {
	return func(c *Coordinator) { c.iterationLimit = limit }
}

// WithIntervals overrides the watcher poll interval and the post-run quiet
// window. Zero values keep the defaults.
func WithIntervals(poll, quiet time.Duration) Option {
	return func(c *Coordinator) {
		if poll > 0 {
			c.pollInterval = poll
		}
		if quiet > 0 {
			c.quietWindow = quiet
		}
	}
}

// New creates a coordinator for a project root. Artifacts for each run land
// under artifactsBase/<task-id>.
func New(runner TaskRunner, poller ChangePoller, projectRoot, artifactsBase string, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		runner:         runner,
		poller:         poller,
		logger:         logger,
		projectRoot:    projectRoot,
		artifactsBase:  artifactsBase,
		testCmd:        "pytest -q",
		iterationLimit: engine.DefaultIterationLimit,
		pollInterval:   2 * time.Second,
		quietWindow:    2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.watchOn.Store(true)
	return c
}

// SetWatch toggles auto-runs from the background watcher.
func (c *Coordinator) SetWatch(enabled bool) {
	c.watchOn.Store(enabled)
}

// WatchEnabled reports the current watch toggle.
func (c *Coordinator) WatchEnabled() bool {
	return c.watchOn.Load()
}

// RunGoal executes one goal under the single-flight lock, blocking until any
// in-flight run finishes first.
func (c *Coordinator) RunGoal(ctx context.Context, goal string, auto bool) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.runLocked(ctx, goal, auto)
}

// tryRunGoal is the watcher's non-blocking entry: if a run is already in
// flight the trigger is dropped, not queued.
func (c *Coordinator) tryRunGoal(ctx context.Context, goal string) (bool, error) {
	if !c.runMu.TryLock() {
		return false, nil
	}
	defer c.runMu.Unlock()
	return true, c.runLocked(ctx, goal, true)
}

// runLocked must be called with runMu held.
func (c *Coordinator) runLocked(ctx context.Context, goal string, auto bool) error {
	c.inFlight.Store(true)
	defer c.inFlight.Store(false)

	c.seq++
	taskID := fmt.Sprintf("live_%s_%d", time.Now().Format("20060102_150405"), c.seq)
	task := engine.Task{
		ID:    taskID,
		Title: "Interactive task",
		Goal:  goal,
		Constraints: map[string]any{
			"test_cmd":        c.testCmd,
			"iteration_limit": c.iterationLimit,
		},
		Context: map[string]any{
			"repo_path": c.projectRoot,
			"notes":     "interactive",
		},
	}

	state := engine.NewRunState()
	started := time.Now()
	runErr := c.runner.Run(ctx, task, c.projectRoot, filepath.Join(c.artifactsBase, taskID), state)
	ended := time.Now()

	if c.history != nil {
		if _, err := c.history.RecordRun(store.Run{
			TaskID:     taskID,
			Goal:       goal,
			Result:     state.LastResult,
			Iterations: state.Iteration,
			Auto:       auto,
			StartedAt:  started,
			EndedAt:    ended,
		}); err != nil {
			c.logger.Warn("record run failed", zap.Error(err))
		}
	}

	c.stateMu.Lock()
	c.lastRun = ended
	c.stateMu.Unlock()

	return runErr
}

// WatchLoop polls for filesystem changes on a fixed interval and fires
// debounced auto-runs. It returns when ctx is cancelled.
func (c *Coordinator) WatchLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Coordinator) tick(ctx context.Context) {
	if !c.watchOn.Load() {
		return
	}
	if c.inFlight.Load() {
		return
	}
	c.stateMu.Lock()
	sinceLast := time.Since(c.lastRun)
	c.stateMu.Unlock()
	if sinceLast < c.quietWindow {
		return
	}

	changes := c.poller.Poll(0)
	if len(changes) == 0 {
		return
	}

	goal := autoGoal(changes)
	ran, err := c.tryRunGoal(ctx, goal)
	if !ran {
		// Dropped, not queued: a foreground run grabbed the lock between
		// the in-flight check and here.
		c.logger.Debug("auto-run dropped, run lock busy", zap.Int("changes", len(changes)))
		return
	}
	if err != nil {
		c.logger.Error("auto-run failed", zap.Error(err))
	}
}

// autoGoal summarizes watcher changes into a goal for the engine.
func autoGoal(changes []string) string {
	return fmt.Sprintf(
		"User edited files detected: %s. Review these changes and improve or fix issues. "+
			"Focus only on the changed files unless necessary.",
		strings.Join(changes, "; "))
}
