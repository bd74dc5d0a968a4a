package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ReopenOnRemove watches the writer's directory and reopens the log file
// whenever it is removed or renamed by an external tool such as logrotate.
// It blocks until ctx is cancelled. onReopen, if non-nil, is called after
// each reopen attempt with its result.
func (w *RotatingWriter) ReopenOnRemove(ctx context.Context, onReopen func(error)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating log watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching log directory: %w", err)
	}

	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Our own rotation renames the file too; the handle is already fresh.
			if w.isCurrent() {
				continue
			}
			err := w.Reopen()
			if onReopen != nil {
				onReopen(err)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			Get("logging").Warn("log watcher error", "error", err)
		}
	}
}

// isCurrent reports whether the open handle still refers to the file at path.
func (w *RotatingWriter) isCurrent() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return false
	}
	return sameFile(w.file, w.path)
}

func sameFile(f *os.File, path string) bool {
	open, err := f.Stat()
	if err != nil {
		return false
	}
	onDisk, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(open, onDisk)
}
