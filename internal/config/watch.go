package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file at path whenever it changes on disk
// and invokes onReload with the freshly parsed Config. Debounces
// rapid successive writes (editors often emit several events per
// save) and stops when ctx is cancelled.
func Watch(ctx context.Context, path string, logger *slog.Logger, onReload func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var pending *time.Timer
		reload := func() {
			cfg, err := Load(path)
			if err != nil {
				logger.Warn("config: reload failed", "path", path, "error", err)
				return
			}
			onReload(cfg)
		}

		for {
			select {
			case <-ctx.Done():
				if pending != nil {
					pending.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(200*time.Millisecond, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config: watch error", "error", err)
			}
		}
	}()

	return nil
}
