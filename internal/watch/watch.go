// Package watch collects filesystem changes under a project root. Events
// arrive from fsnotify in the background and accumulate in a buffer that the
// caller drains on its own schedule via Poll.
package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultMaxChanges bounds one Poll batch.
const DefaultMaxChanges = 25

// Watcher buffers change labels for a directory tree.
type Watcher struct {
	root       string
	ignoreDirs map[string]struct{}
	fsw        *fsnotify.Watcher
	logger     *zap.Logger

	mu      sync.Mutex
	pending []string
	queued  map[string]struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// New starts watching root recursively. Directories named in ignoreDirs and
// dot-directories are not descended into.
func New(root string, ignoreDirs []string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		root:       abs,
		ignoreDirs: make(map[string]struct{}, len(ignoreDirs)),
		fsw:        fsw,
		logger:     logger,
		queued:     make(map[string]struct{}),
		done:       make(chan struct{}),
	}
	for _, dir := range ignoreDirs {
		w.ignoreDirs[dir] = struct{}{}
	}

	if err := w.addRecursive(abs); err != nil {
		fsw.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Poll drains up to max buffered change labels in arrival order.
func (w *Watcher) Poll(max int) []string {
	if max <= 0 {
		max = DefaultMaxChanges
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(w.pending)
	if n > max {
		n = max
	}
	changes := make([]string, n)
	copy(changes, w.pending[:n])
	for _, label := range w.pending {
		delete(w.queued, label)
	}
	w.pending = w.pending[:0]
	return changes
}

// Close stops the event loop and releases the fsnotify watcher.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Debug("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || w.ignored(rel) {
		return
	}

	var label string
	switch {
	case event.Has(fsnotify.Create):
		label = "added: " + rel
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Debug("watch new directory failed", zap.String("dir", rel), zap.Error(err))
			}
		}
	case event.Has(fsnotify.Write):
		label = "modified: " + rel
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		label = "deleted: " + rel
	default:
		return // chmod noise
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, dup := w.queued[label]; dup {
		return
	}
	w.queued[label] = struct{}{}
	w.pending = append(w.pending, label)
}

// ignored reports whether any path segment is an ignored or dot directory.
func (w *Watcher) ignored(rel string) bool {
	for _, segment := range strings.Split(filepath.ToSlash(rel), "/") {
		if segment == "." || segment == "" {
			continue
		}
		if strings.HasPrefix(segment, ".") {
			return true
		}
		if _, skip := w.ignoreDirs[segment]; skip {
			return true
		}
	}
	return false
}

// addRecursive registers dir and every non-ignored subdirectory.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err == nil && rel != "." && w.ignored(rel) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Debug("watch add failed", zap.String("dir", path), zap.Error(err))
		}
		return nil
	})
}
