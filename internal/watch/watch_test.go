package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	w, err := New(root, []string{".ghost", "node_modules"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

// pollUntil polls until at least one change arrives or the deadline passes.
func pollUntil(t *testing.T, w *Watcher, timeout time.Duration) []string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var collected []string
	for time.Now().Before(deadline) {
		collected = append(collected, w.Poll(DefaultMaxChanges)...)
		if len(collected) > 0 {
			return collected
		}
		time.Sleep(20 * time.Millisecond)
	}
	return collected
}

func TestPollReportsAddedFile(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "new.py"), []byte("x = 1\n"), 0o644))

	changes := pollUntil(t, w, 2*time.Second)
	require.NotEmpty(t, changes)
	assert.Contains(t, changes[0], "new.py")
}

func TestPollReportsModification(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "mod.py")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o644))
	w := newTestWatcher(t, root)

	require.NoError(t, os.WriteFile(path, []byte("x = 2\n"), 0o644))

	changes := pollUntil(t, w, 2*time.Second)
	require.NotEmpty(t, changes)
	assert.Contains(t, changes[0], "mod.py")
}

func TestPollDrainsBuffer(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("a"), 0o644))
	changes := pollUntil(t, w, 2*time.Second)
	require.NotEmpty(t, changes)

	// Nothing new since the drain.
	assert.Empty(t, w.Poll(DefaultMaxChanges))
}

func TestIgnoredDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".ghost", "workspaces"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	w := newTestWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".ghost", "workspaces", "state.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, w.Poll(DefaultMaxChanges))
}

func TestNewDirectoryIsPickedUp(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, root)

	sub := filepath.Join(root, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	changes := pollUntil(t, w, 2*time.Second)
	require.NotEmpty(t, changes)

	// Give fsnotify a moment to register the new directory, then verify
	// files created inside it are seen.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "inner.py"), []byte("y"), 0o644))
	changes = pollUntil(t, w, 2*time.Second)
	require.NotEmpty(t, changes)
	assert.Contains(t, changes[len(changes)-1], "inner.py")
}
