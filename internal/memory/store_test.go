package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func testMeta() Metadata {
	return Metadata{Type: "lesson", Tags: []string{"ghost", "task"}, Confidence: 0.5, Created: "2026-08-24"}
}

func TestNewCreatesFolders(t *testing.T) {
	dir := t.TempDir()
	_, err := New(dir)
	require.NoError(t, err)

	for _, folder := range []string{"facts", "lessons", "snippets", "projects"} {
		info, err := os.Stat(filepath.Join(dir, folder))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	_, err = os.Stat(filepath.Join(dir, "index.json"))
	require.NoError(t, err)
}

func TestWriteLessonThenRetrieve(t *testing.T) {
	s := newTestStore(t)

	_, err := s.WriteLesson("task_001", "Fibonacci tasks need memoization to pass timing tests.", testMeta())
	require.NoError(t, err)

	results, err := s.Retrieve("how to handle fibonacci memoization", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0], "memoization")
	assert.Contains(t, results[0], "type: \"lesson\"")
}

func TestRetrieveRanksByOverlap(t *testing.T) {
	s := newTestStore(t)

	_, err := s.WriteLesson("low", "parsing csv files", testMeta())
	require.NoError(t, err)
	_, err = s.WriteLesson("high", "parsing csv files with headers and quoting", testMeta())
	require.NoError(t, err)

	results, err := s.Retrieve("csv headers quoting", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Contains(t, results[0], "headers and quoting")
}

func TestRetrieveIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WriteLesson("a", "alpha beta gamma", testMeta())
	require.NoError(t, err)
	_, err = s.WriteLesson("b", "beta gamma delta", testMeta())
	require.NoError(t, err)

	first, err := s.Retrieve("beta gamma", 5)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := s.Retrieve("beta gamma", 5)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRetrieveSkipsStaleEntries(t *testing.T) {
	s := newTestStore(t)
	path, err := s.WriteLesson("gone", "ephemeral wisdom", testMeta())
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	results, err := s.Retrieve("ephemeral wisdom", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestWriteLessonIndexIdempotent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WriteLesson("dup", "repeat repeat repeat", testMeta())
	require.NoError(t, err)
	_, err = s.WriteLesson("dup", "repeat repeat repeat", testMeta())
	require.NoError(t, err)

	index, err := s.loadIndex()
	require.NoError(t, err)
	assert.Equal(t, []string{"lessons/dup.md"}, index["repeat"])
}

func TestRetrieveLimit(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"one", "two", "three"} {
		_, err := s.WriteLesson(id, "shared topic words", testMeta())
		require.NoError(t, err)
	}
	results, err := s.Retrieve("shared topic", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
