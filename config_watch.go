package canopy

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig reloads the config file at path whenever it changes and passes
// each successfully parsed Config to apply. Invalid files are logged and
// ignored so a half-written edit never reaches the pipeline. WatchConfig
// blocks until ctx is done.
//
// The parent directory is watched rather than the file itself so that
// editors which save by rename are still observed.
func WatchConfig(ctx context.Context, path string, apply func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("canopy: config watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("canopy: config path: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("canopy: watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			cfg, err := LoadConfig(abs)
			if err != nil {
				Logger().Warn("config reload rejected", "path", abs, "err", err)
				continue
			}
			Logger().Info("config reloaded", "path", abs)
			apply(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			Logger().Warn("config watcher error", "err", err)
		}
	}
}
