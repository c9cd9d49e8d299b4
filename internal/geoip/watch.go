package geoip

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gatescope/gatescope/internal/logging"
)

// Watch reloads the readers when an .mmdb file lands in the database
// directory, so a manually copied-in database takes effect without a
// restart. Events are debounced because a large download produces many
// writes.
func (s *Service) Watch(ctx context.Context) error {
	// On a fresh install the directory appears only once the downloader or
	// an operator creates it; create it up front so the watch can attach.
	if err := os.MkdirAll(s.Dir(), 0o755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.Dir()); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var pending *time.Timer
		reload := func() {
			if err := s.Reload(); err != nil {
				logging.Warn("geoip reload after file change failed", "error", err)
			}
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
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
					continue
				}
				if !strings.EqualFold(filepath.Ext(event.Name), ".mmdb") {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(2*time.Second, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("geoip watcher error", "error", err)
			}
		}
	}()

	return nil
}
