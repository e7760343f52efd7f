package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "ghost.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewCreatesDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "ghost.db")

	s, err := New(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	require.NoError(t, err)
}

func TestRecordAndListRuns(t *testing.T) {
	s := newTestStore(t)

	start := time.Now().Add(-time.Minute)
	first, err := s.RecordRun(Run{
		TaskID:     "live_20260824_100000_1",
		Goal:       "add a fibonacci module",
		Result:     "tests_passed",
		Iterations: 3,
		StartedAt:  start,
		EndedAt:    start.Add(30 * time.Second),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	_, err = s.RecordRun(Run{
		TaskID:     "live_20260824_100100_2",
		Goal:       "auto repair after edits",
		Result:     "iteration_limit",
		Iterations: 8,
		Auto:       true,
		StartedAt:  start.Add(time.Minute),
		EndedAt:    start.Add(2 * time.Minute),
	})
	require.NoError(t, err)

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Most recent first.
	assert.Equal(t, "live_20260824_100100_2", runs[0].TaskID)
	assert.True(t, runs[0].Auto)
	assert.Equal(t, "iteration_limit", runs[0].Result)
	assert.Equal(t, "tests_passed", runs[1].Result)
	assert.False(t, runs[1].Auto)
}

func TestListRunsLimit(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()
	for i := 0; i < 5; i++ {
		_, err := s.RecordRun(Run{
			TaskID:     "t",
			Goal:       "g",
			Result:     "no_test_cmd",
			Iterations: 1,
			StartedAt:  base.Add(time.Duration(i) * time.Second),
			EndedAt:    base.Add(time.Duration(i+1) * time.Second),
		})
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}
