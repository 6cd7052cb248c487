package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// reloadDebounce coalesces the burst of events editors emit for one save.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads the config file at path whenever it changes and passes the
// new configuration to onChange. Invalid reloads are logged and skipped.
// Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	if path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic rename-on-save is observed.
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	log.WithField("path", abs).Info("Watching config for changes")

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.After(reloadDebounce)
			}

		case <-pending:
			pending = nil
			cfg, err := Load(path)
			if err != nil {
				log.WithError(err).Warn("Ignoring invalid config reload")
				continue
			}
			log.WithField("path", abs).Info("Config reloaded")
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("Config watcher error")
		}
	}
}
