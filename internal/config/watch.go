package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// Watch reloads the config file whenever it changes on disk and calls
// onChange with the fresh config. Editors replace files via rename, so the
// parent directory is watched rather than the file itself. Blocks until ctx
// is done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(path)
	lastHash := ""
	if cfg, err := Load(path); err == nil {
		lastHash = cfg.Hash()
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			slog.Warn("config reload failed, keeping previous config", "path", path, "error", err)
			return
		}
		hash := cfg.Hash()
		if hash == lastHash {
			return
		}
		lastHash = hash
		slog.Info("config reloaded", "path", path, "hash", hash)
		onChange(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			// Debounce bursts of events from a single save.
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watchDebounce)
			}
		case <-timerC:
			reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
