package commands

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/converge/pkg/telemetry"
)

// watchPaths calls trigger once per burst of changes below paths until ctx
// is done. Changes below an ignored directory are dropped. Triggers never
// overlap.
func watchPaths(ctx context.Context, logger *telemetry.Logger, paths, ignore []string, debounce time.Duration, trigger func(context.Context)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	ignored := make([]string, 0, len(ignore))
	for _, p := range ignore {
		if abs, err := filepath.Abs(p); err == nil {
			ignored = append(ignored, abs)
		}
	}

	for _, p := range paths {
		if err := addRecursive(w, p, ignored); err != nil {
			logger.WithField("path", p).WithError(err).Warn("not watching path")
		}
	}
	logger.WithField("paths", paths).Info("watching for changes")

	return watchLoop(ctx, w, logger, ignored, debounce, trigger)
}

func watchLoop(ctx context.Context, w *fsnotify.Watcher, logger *telemetry.Logger, ignored []string, debounce time.Duration, trigger func(context.Context)) error {
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if isIgnored(event.Name, ignored) || event.Op == fsnotify.Chmod {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = addRecursive(w, event.Name, ignored)
				}
			}
			logger.WithField("file", event.Name).Debug("change detected")
			if pending && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(debounce)
			pending = true

		case <-timer.C:
			pending = false
			trigger(ctx)
			drain(w)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("watcher error")
		}
	}
}

// drain discards events queued while a trigger ran, such as those caused
// by the trigger itself.
func drain(w *fsnotify.Watcher) {
	for {
		select {
		case <-w.Events:
		default:
			return
		}
	}
}

func addRecursive(w *fsnotify.Watcher, root string, ignored []string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.Add(root)
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && (strings.HasPrefix(d.Name(), ".") || d.Name() == "__pycache__") {
			return filepath.SkipDir
		}
		if isIgnored(p, ignored) {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}

func isIgnored(p string, ignored []string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	for _, dir := range ignored {
		if abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
