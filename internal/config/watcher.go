package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// watchDebounce coalesces editor write bursts into one reload.
const watchDebounce = 300 * time.Millisecond

// Watch reloads the config file whenever it changes on disk and hands each
// successfully parsed document to onChange. It watches the parent directory
// so atomic save patterns (write temp, rename over) are still observed.
// Returns after the watch is installed; the reload loop stops when ctx is
// done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		var debounce *time.Timer
		var fire <-chan time.Time
		target := filepath.Clean(path)

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce == nil {
					debounce = time.NewTimer(watchDebounce)
					fire = debounce.C
				} else {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(watchDebounce)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config: watch error")
			case <-fire:
				cfg, err := Load(path)
				if err != nil {
					log.WithError(err).Warnf("config: reload of %s failed, keeping previous config", path)
					continue
				}
				log.Infof("config: reloaded %s", path)
				onChange(cfg)
			}
		}
	}()
	return nil
}
