package store

import (
	"context"
	"fmt"
	log "log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch refreshes the snapshot when another process writes the database
// (for example a second nebula-ctl or the UI backend). Blocks until ctx is
// done. Writes are coalesced over the settle interval.
func (s *Store) Watch(ctx context.Context, settle time.Duration) error {
	if s.path == ":memory:" {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	base := filepath.Base(s.path)

	timer := time.NewTimer(settle)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), base) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(settle)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("Store watcher error", "err", err)

		case <-timer.C:
			if err := s.Refresh(ctx); err != nil {
				log.Warn("Failed to refresh tasks", "err", err)
			}
		}
	}
}
