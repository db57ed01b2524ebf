// SPDX-License-Identifier: MIT
package ir

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"ampsim/internal/log"
)

// rescanDelay coalesces the burst of events a file copy produces.
const rescanDelay = 250 * time.Millisecond

// Watch rescans the library whenever files below its directory are
// created, removed or renamed. onChange, if non-nil, receives the new name
// list after each rescan. Watch blocks until ctx is cancelled.
func (l *Library) Watch(ctx context.Context, onChange func([]string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addTree(w, l.dir); err != nil {
		return err
	}

	timer := time.NewTimer(rescanDelay)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Write) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				// New subdirectories need their own watch.
				_ = addTree(w, ev.Name)
			}
			timer.Reset(rescanDelay)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warnf("ir: watch %s: %v", l.dir, err)

		case <-timer.C:
			if err := l.Scan(); err != nil {
				log.Warnf("ir: rescan failed: %v", err)
				continue
			}
			if onChange != nil {
				onChange(l.Names())
			}
		}
	}
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
