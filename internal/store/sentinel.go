package store

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WaitForFile blocks until path exists, ctx is cancelled, or the grace
// window elapses, and reports whether the file is present. The parent
// directory is watched with fsnotify rather than polled, so a write that
// races the caller's check is picked up immediately.
func WaitForFile(ctx context.Context, path string, grace time.Duration) bool {
	if _, err := os.Stat(path); err == nil {
		return true
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return false
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return false
	}
	// The file may have appeared between the Stat and the Add.
	if _, err := os.Stat(path); err == nil {
		return true
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return false
		case ev, ok := <-watcher.Events:
			if !ok {
				return false
			}
			if ev.Name == path && ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				return true
			}
		case <-watcher.Errors:
		}
	}
}
