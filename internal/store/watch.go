package store

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the collections whenever another process rewrites the table
// files (e.g. a manual edit or a second CLI invocation against the same
// directory). Returns after the watcher is installed; reloads happen in a
// goroutine that exits when ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory, not the files: table rewrites go through
	// create-truncate, which drops per-file watches.
	if err := w.Add(s.dir); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				name := filepath.Base(event.Name)
				if name != songsFile && name != metaFile {
					continue
				}
				if err := s.Reload(); err != nil {
					slog.WarnContext(ctx, "Failed to reload after external change", "file", name, "err", err)
					continue
				}
				slog.DebugContext(ctx, "Reloaded after external change", "file", name)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching data directory", "err", err)
			}
		}
	}()
	return nil
}
