package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"
)

// Refresher is told to reload the model after the backing file changed.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// MTimeWatcher detects changes of a model file by its modification time.
// It has no timer of its own; Check is driven by the caller once per
// scheduling step.
type MTimeWatcher struct {
	path      string
	refresher Refresher
	last      time.Time
}

// NewMTimeWatcher records the file's current modification time so that only
// later changes trigger a refresh.
func NewMTimeWatcher(path string, refresher Refresher) (*MTimeWatcher, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat model file: %w", err)
	}
	return &MTimeWatcher{path: path, refresher: refresher, last: info.ModTime()}, nil
}

// Check refreshes the model if the file was modified since the last check.
// It reports whether a refresh happened.
func (w *MTimeWatcher) Check(ctx context.Context) (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, fmt.Errorf("failed to stat model file: %w", err)
	}

	mtime := info.ModTime()
	if !mtime.After(w.last) {
		return false, nil
	}
	w.last = mtime

	log.Printf("[INFO] Model file changed: path=%s mtime=%s", w.path, mtime.Format(time.RFC3339Nano))
	if err := w.refresher.Refresh(ctx); err != nil {
		return true, fmt.Errorf("failed to refresh model: %w", err)
	}
	return true, nil
}

// LastModified returns the modification time seen by the last check.
func (w *MTimeWatcher) LastModified() time.Time {
	return w.last
}
