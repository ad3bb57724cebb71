package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay collapses the burst of events an editor's atomic save
// produces (create, write, chmod) into a single reload.
const debounceDelay = 200 * time.Millisecond

// Watch monitors the config file at path and calls onChange with the freshly
// loaded Config after each effective change. It runs until ctx is cancelled.
//
// A reload is rejected, keeping the previous config active, when the file no
// longer parses or validates, or when it tries to change store.dir: the ping
// store is bound to its directory at startup and cannot be re-pointed while
// the daemon is running. Reloads that change nothing are silently dropped.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	current, err := Load(path)
	if err != nil {
		return fmt.Errorf("config: initial load for watch: %w", err)
	}

	slog.Info("config: watching for changes", "path", path)

	debounce := time.NewTimer(debounceDelay)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Direct writes fire Write; atomic saves replace the inode and
			// fire Create or Rename. Everything else is noise.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			debounce.Reset(debounceDelay)

		case <-debounce.C:
			// Re-add the path first: an atomic save leaves the watch on the
			// old, now-unlinked inode.
			watcher.Add(path) //nolint:errcheck

			cfg, err := Load(path)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config",
					"path", path, "err", err)
				continue
			}
			if cfg.Store.Dir != current.Store.Dir {
				slog.Error("config: store.dir cannot change at runtime, keeping previous config",
					"running", current.Store.Dir, "reloaded", cfg.Store.Dir)
				continue
			}
			if reflect.DeepEqual(cfg, current) {
				continue
			}

			current = cfg
			slog.Info("config: reloaded",
				"max_count", cfg.Store.MaxCount,
				"prune_interval", cfg.Store.PruneInterval,
				"upload_enabled", cfg.Uploader.Endpoint != "",
			)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config: watcher error", "err", err)
		}
	}
}
