package coordinator

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghost-agent/ghost/internal/engine"
	"github.com/ghost-agent/ghost/internal/store"
)

// fakeRunner records invocations and simulates a run of fixed duration.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []engine.Task
	duration time.Duration
	active   atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeRunner) Run(_ context.Context, task engine.Task, _, _ string, state *engine.RunState) error {
	current := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if current <= seen || f.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, task)
	f.mu.Unlock()

	time.Sleep(f.duration)
	state.Phase = engine.PhaseDone
	state.LastResult = engine.ResultNoTestCmd
	state.Iteration = 1
	return nil
}

func (f *fakeRunner) taskCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePoller struct {
	mu      sync.Mutex
	changes []string
}

func (f *fakePoller) Poll(int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.changes
	f.changes = nil
	return out
}

func (f *fakePoller) set(changes []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = changes
}

func newTestCoordinator(t *testing.T, runner *fakeRunner, poller *fakePoller, opts ...Option) *Coordinator {
	t.Helper()
	root := t.TempDir()
	return New(runner, poller, root, filepath.Join(root, ".ghost", "workspaces"), nil, opts...)
}

func TestRunGoalSingleFlight(t *testing.T) {
	runner := &fakeRunner{duration: 50 * time.Millisecond}
	c := newTestCoordinator(t, runner, &fakePoller{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, c.RunGoal(context.Background(), "goal", false))
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, runner.taskCount())
	assert.Equal(t, int32(1), runner.maxSeen.Load(), "runs must never overlap")
}

func TestRunGoalTaskShape(t *testing.T) {
	runner := &fakeRunner{}
	c := newTestCoordinator(t, runner, &fakePoller{},
		WithTestCmd("pytest -q tests"), WithIterationLimit(5))

	require.NoError(t, c.RunGoal(context.Background(), "add a parser", false))

	require.Equal(t, 1, runner.taskCount())
	task := runner.calls[0]
	assert.Contains(t, task.ID, "live_")
	assert.Equal(t, "Interactive task", task.Title)
	assert.Equal(t, "add a parser", task.Goal)
	assert.Equal(t, "pytest -q tests", task.Constraints["test_cmd"])
	assert.Equal(t, 5, task.Constraints["iteration_limit"])
	assert.Equal(t, "interactive", task.Context["notes"])
}

func TestTickRunsOnChanges(t *testing.T) {
	runner := &fakeRunner{}
	poller := &fakePoller{}
	c := newTestCoordinator(t, runner, poller, WithIntervals(10*time.Millisecond, 10*time.Millisecond))

	poller.set([]string{"modified: mod.py"})
	time.Sleep(20 * time.Millisecond) // get past the initial quiet window
	c.tick(context.Background())

	require.Equal(t, 1, runner.taskCount())
	assert.Contains(t, runner.calls[0].Goal, "modified: mod.py")
	assert.Contains(t, runner.calls[0].Goal, "User edited files detected")
}

func TestTickSkipsWhenWatchDisabled(t *testing.T) {
	runner := &fakeRunner{}
	poller := &fakePoller{}
	c := newTestCoordinator(t, runner, poller, WithIntervals(10*time.Millisecond, 10*time.Millisecond))

	c.SetWatch(false)
	poller.set([]string{"modified: mod.py"})
	time.Sleep(20 * time.Millisecond)
	c.tick(context.Background())

	assert.Zero(t, runner.taskCount())
	assert.False(t, c.WatchEnabled())
}

func TestTickDebouncesAfterRun(t *testing.T) {
	runner := &fakeRunner{}
	poller := &fakePoller{}
	c := newTestCoordinator(t, runner, poller, WithIntervals(10*time.Millisecond, time.Hour))

	require.NoError(t, c.RunGoal(context.Background(), "first", false))
	require.Equal(t, 1, runner.taskCount())

	// Inside the quiet window the trigger is dropped without polling.
	poller.set([]string{"modified: mod.py"})
	c.tick(context.Background())
	assert.Equal(t, 1, runner.taskCount())
}

func TestTickDropsTriggerWhileRunInFlight(t *testing.T) {
	runner := &fakeRunner{duration: 100 * time.Millisecond}
	poller := &fakePoller{}
	c := newTestCoordinator(t, runner, poller, WithIntervals(10*time.Millisecond, 10*time.Millisecond))

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, c.RunGoal(context.Background(), "slow", false))
	}()

	// Wait for the foreground run to take the lock, then tick.
	require.Eventually(t, func() bool { return c.inFlight.Load() }, time.Second, 5*time.Millisecond)
	poller.set([]string{"modified: mod.py"})
	c.tick(context.Background())
	<-done

	assert.Equal(t, 1, runner.taskCount(), "auto trigger must be dropped, not queued")
}

func TestRunGoalRecordsHistory(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "ghost.db"))
	require.NoError(t, err)
	defer s.Close()

	runner := &fakeRunner{}
	c := newTestCoordinator(t, runner, &fakePoller{}, WithHistory(s))

	require.NoError(t, c.RunGoal(context.Background(), "tracked goal", false))

	runs, err := s.ListRuns(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "tracked goal", runs[0].Goal)
	assert.Equal(t, engine.ResultNoTestCmd, runs[0].Result)
	assert.Equal(t, 1, runs[0].Iterations)
	assert.False(t, runs[0].Auto)
}

func TestAutoGoalSummarizesChanges(t *testing.T) {
	goal := autoGoal([]string{"added: a.py", "deleted: b.py"})
	assert.Contains(t, goal, "added: a.py; deleted: b.py")
}
