package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the event bursts editors emit on save (write,
// chmod, rename) into a single reload.
const reloadDebounce = 250 * time.Millisecond

// Watch monitors the config file at path and calls onChange with the newly
// loaded Config after each change settles. It runs until ctx is cancelled.
//
// A reload that fails to parse or validate is logged and discarded; the
// catalog keeps running on the previous config.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	slog.Info("config: watching for catalog changes", "path", path)

	var pending *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Atomic saves land as create-after-rename, so both count.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(reloadDebounce)
			} else {
				if !pending.Stop() {
					select {
					case <-pending.C:
					default:
					}
				}
				pending.Reset(reloadDebounce)
			}
			fire = pending.C

		case <-fire:
			fire = nil
			cfg, err := Load(path)
			if err != nil {
				slog.Error("config: reload failed, keeping previous catalog",
					"path", path, "err", err)
			} else {
				slog.Info("config: catalog reloaded",
					"path", path,
					"stations", len(cfg.Stations),
					"rules", len(cfg.Alerts.Rules))
				onChange(cfg)
			}
			// An atomic save replaces the inode; re-arm the watch either way.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
