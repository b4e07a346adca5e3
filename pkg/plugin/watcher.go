// Copyright 2025 Stoq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package plugin

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DirWatcher watches the plugin directories of a Manager and re-collects the
// registry when descriptor files change.
//
// Changes are debounced so that a burst of writes (unpacking a plugin unit,
// editor save sequences) results in a single rebuild.
type DirWatcher struct {
	// manager is rebuilt on changes
	manager *Manager

	// watcher is the fsnotify file watcher
	watcher *fsnotify.Watcher

	// debounceDelay is the time to wait before rebuilding after a change
	debounceDelay time.Duration

	// onReload is invoked after every rebuild attempt
	onReload func(error)

	logger zerolog.Logger

	// mu protects the debounce timer
	mu sync.Mutex

	// debounceTimer is the active debounce timer (if any)
	debounceTimer *time.Timer
}

// NewDirWatcher creates a watcher for the directories of the manager's
// registry. onReload may be nil.
//
// Default debounce delay is 100ms.
func NewDirWatcher(m *Manager, logger zerolog.Logger, onReload func(error)) (*DirWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &DirWatcher{
		manager:       m,
		watcher:       watcher,
		debounceDelay: 100 * time.Millisecond,
		onReload:      onReload,
		logger:        logger.With().Str("component", "plugin.watcher").Logger(),
	}, nil
}

// SetDebounce overrides the debounce delay.
func (w *DirWatcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounceDelay = d
}

// Start begins watching. It blocks until ctx is canceled:
//
//	go watcher.Start(ctx)
//
// fsnotify is not recursive, so every subdirectory present at start is
// added; directories created later are added as they appear.
func (w *DirWatcher) Start(ctx context.Context) error {
	for _, dir := range w.manager.Registry().Dirs() {
		if err := w.addTree(dir); err != nil {
			w.logger.Error().
				Err(err).
				Str("dir", dir).
				Msg("Failed to watch plugin directory")
			return err
		}
	}

	w.logger.Info().
		Strs("dirs", w.manager.Registry().Dirs()).
		Dur("debounce", w.debounceDelay).
		Msg("Started watching plugin directories")

	defer func() {
		w.mu.Lock()
		if w.debounceTimer != nil {
			w.debounceTimer.Stop()
		}
		w.mu.Unlock()
		if err := w.watcher.Close(); err != nil {
			w.logger.Warn().Err(err).Msg("Error closing watcher")
		}
		w.logger.Info().Msg("Stopped watching plugin directories")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			if event.Op&fsnotify.Create == fsnotify.Create {
				// New plugin unit directories need their own watch.
				_ = w.addTree(event.Name)
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			if !IsDescriptorFile(event.Name) && event.Op&(fsnotify.Remove|fsnotify.Rename|fsnotify.Create) == 0 {
				continue
			}

			w.logger.Debug().
				Str("op", event.Op.String()).
				Str("file", event.Name).
				Msg("Detected plugin directory change")
			w.scheduleRebuild()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().
				Err(err).
				Msg("File watcher error")
		}
	}
}

func (w *DirWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

// scheduleRebuild schedules a registry rebuild after the debounce delay.
// If a rebuild is already scheduled, the timer is reset.
func (w *DirWatcher) scheduleRebuild() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	w.debounceTimer = time.AfterFunc(w.debounceDelay, func() {
		err := w.manager.Rebuild()
		if err != nil {
			w.logger.Error().
				Err(err).
				Msg("Failed to re-collect plugins")
		} else {
			w.logger.Info().
				Int("count", w.manager.Registry().Count()).
				Msg("Plugins re-collected")
		}
		if w.onReload != nil {
			w.onReload(err)
		}
	})
}

// Close stops the watcher and releases resources.
func (w *DirWatcher) Close() error {
	return w.watcher.Close()
}
