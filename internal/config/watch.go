package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file whenever it changes and invokes onReload
// with the new snapshot and its diff against the previous one. Reloads that
// fail to parse keep the previous config. Watch returns once the watcher is
// installed; it stops when ctx is cancelled.
func Watch(ctx context.Context, path string, current *Config, onReload func(cfg *Config, diff ConfigDiff)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		last := current
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				// Let the write settle before reading.
				time.Sleep(100 * time.Millisecond)

				cfg, err := LoadFile(path)
				if err != nil {
					slog.Error("config reload failed, keeping previous", "path", path, "error", err)
					continue
				}
				diff := Diff(last, cfg)
				last = cfg
				if len(diff.NonReloadable) > 0 {
					slog.Warn("config changes need a restart to apply", "fields", diff.NonReloadable)
				}
				if !diff.HasChanges() {
					continue
				}
				slog.Info("config reloaded", "path", path)
				onReload(cfg, diff)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			}
		}
	}()

	return nil
}
