// Package memory is an append-only note store with token-overlap retrieval.
// Notes are plain files with a small metadata header; the retrieval index is
// one JSON document mapping lowercase alphanumeric tokens to note paths.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// note folders created under the store directory.
var folders = []string{"facts", "lessons", "snippets", "projects"}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Metadata is the header block written at the top of every note.
type Metadata struct {
	Type       string  `json:"type"`
	Tags       []string `json:"tags"`
	Confidence float64 `json:"confidence"`
	Created    string  `json:"created"`
}

// Store persists notes and maintains the retrieval index.
type Store struct {
	baseDir   string
	indexPath string
}

// New creates the store directory tree and an empty index if missing.
func New(baseDir string) (*Store, error) {
	s := &Store{
		baseDir:   baseDir,
		indexPath: filepath.Join(baseDir, "index.json"),
	}
	for _, folder := range folders {
		if err := os.MkdirAll(filepath.Join(baseDir, folder), 0o755); err != nil {
			return nil, fmt.Errorf("create memory folder %s: %w", folder, err)
		}
	}
	if _, err := os.Stat(s.indexPath); os.IsNotExist(err) {
		if err := os.WriteFile(s.indexPath, []byte("{}"), 0o644); err != nil {
			return nil, fmt.Errorf("create memory index: %w", err)
		}
	}
	return s, nil
}

// Retrieve scores indexed notes by flat query-token overlap and returns up
// to limit note bodies in descending score order. Ties keep index insertion
// order, so repeated identical queries rank identically. Index entries whose
// note file no longer exists are skipped, not repaired.
func (s *Store) Retrieve(query string, limit int) ([]string, error) {
	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	scores := make(map[string]int)
	var order []string
	for _, token := range tokenize(query) {
		for _, path := range index[token] {
			if _, seen := scores[path]; !seen {
				order = append(order, path)
			}
			scores[path]++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	var results []string
	for _, path := range order {
		if len(results) >= limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, path))
		if err != nil {
			continue // stale index entry
		}
		results = append(results, string(data))
	}
	return results, nil
}

// WriteLesson persists a new lesson note keyed by task id and merges its
// tokens into the index. Existing notes are never updated in place.
func (s *Store) WriteLesson(taskID, content string, meta Metadata) (string, error) {
	return s.WriteNote("lessons", taskID, content, meta)
}

// WriteNote persists a note under one of the store folders and merges its
// tokens into the index.
func (s *Store) WriteNote(folder, id, content string, meta Metadata) (string, error) {
	relPath := filepath.Join(folder, id+".md")
	path := filepath.Join(s.baseDir, relPath)
	note := formatNote(meta, content)
	if err := os.WriteFile(path, []byte(note), 0o644); err != nil {
		return "", fmt.Errorf("write note %s: %w", id, err)
	}
	if err := s.mergeIndex(relPath, note); err != nil {
		return "", err
	}
	return path, nil
}

func formatNote(meta Metadata, content string) string {
	var b strings.Builder
	b.WriteString("---\n")
	writeField := func(key string, value any) {
		encoded, err := json.Marshal(value)
		if err != nil {
			return
		}
		fmt.Fprintf(&b, "%s: %s\n", key, encoded)
	}
	writeField("type", meta.Type)
	writeField("tags", meta.Tags)
	writeField("confidence", meta.Confidence)
	writeField("created", meta.Created)
	b.WriteString("---\n\n")
	b.WriteString(strings.TrimSpace(content))
	b.WriteString("\n")
	return b.String()
}

func (s *Store) loadIndex() (map[string][]string, error) {
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]string{}, nil
		}
		return nil, fmt.Errorf("read memory index: %w", err)
	}
	index := map[string][]string{}
	if err := json.Unmarshal(data, &index); err != nil {
		// A corrupt index degrades to empty retrieval rather than failing
		// the run; the next write rebuilds entries for new notes.
		return map[string][]string{}, nil
	}
	return index, nil
}

// mergeIndex adds the note's tokens to the index. Idempotent: a token
// already mapped to this note path is not duplicated.
func (s *Store) mergeIndex(relPath, content string) error {
	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	// Index paths use forward slashes regardless of platform.
	relPath = filepath.ToSlash(relPath)
	for _, token := range tokenize(content) {
		if !contains(index[token], relPath) {
			index[token] = append(index[token], relPath)
		}
	}
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.indexPath, data, 0o644); err != nil {
		return fmt.Errorf("write memory index: %w", err)
	}
	return nil
}

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
