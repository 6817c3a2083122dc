// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package watch is the File Watcher (spec §4.11): it subscribes to OS
// file-change events under one or more roots, debounces them into
// batches, and dispatches each changed path to the Incremental
// Reindexer.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kraklabs/cartograph/pkg/diffengine"
	"github.com/kraklabs/cartograph/pkg/extract"
	"github.com/kraklabs/cartograph/pkg/graphstore"
	"github.com/kraklabs/cartograph/pkg/ingest"
	"github.com/kraklabs/cartograph/pkg/reindex"
)

// skipDirs are never descended into, regardless of include/exclude
// globs: they're either VCS internals or build output, never source.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	"dist": true, "build": true, "bin": true,
}

const defaultDebounce = 500 * time.Millisecond

// Config configures a Watcher.
type Config struct {
	Roots        []string
	IncludeGlobs []string
	ExcludeGlobs []string
	// Debounce is the quiet period after the last event before a batch
	// fires. 0 defaults to 500ms (spec §4.11).
	Debounce time.Duration
	// BaseStore, if non-nil, is diffed against Store after every
	// debounce batch completes, and the result attached to the
	// Notification. Nil disables diffing.
	BaseStore *graphstore.Store
}

// Notification is delivered to subscribers after a debounce batch's
// reindexes complete.
type Notification struct {
	ChangedPaths []string
	Diff         *diffengine.Result // nil when Config.BaseStore is nil
	Errors       []error
}

// Watcher watches Config.Roots and reindexes changed files into Store
// via the Incremental Reindexer, batched by a debounce timer.
type Watcher struct {
	cfg       Config
	store     *graphstore.Store
	extractor *extract.Extractor
	logger    *slog.Logger

	fsWatcher *fsnotify.Watcher
	notify    chan Notification

	mu     sync.Mutex
	paused bool

	done chan struct{}
}

// New creates a Watcher over cfg.Roots, watching every directory except
// those named in skipDirs and hidden ones; the include/exclude globs are
// applied per event, not per directory.
func New(cfg Config, store *graphstore.Store, extractor *extract.Extractor, logger *slog.Logger) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:       cfg,
		store:     store,
		extractor: extractor,
		logger:    logger,
		fsWatcher: fsWatcher,
		notify:    make(chan Notification, 8),
		done:      make(chan struct{}),
	}

	for _, root := range cfg.Roots {
		if err := w.addDirsRecursive(root); err != nil {
			fsWatcher.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) addDirsRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if skipDirs[base] || (base != "." && len(base) > 0 && base[0] == '.' && path != root) {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil {
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			w.logger.Warn("watch: failed to add directory", "path", path, "error", err)
		}
		return nil
	})
}

// Subscribe returns the channel notifications are delivered on. There
// is a single subscriber channel per Watcher.
func (w *Watcher) Subscribe() <-chan Notification {
	return w.notify
}

// Pause drops all events arriving until Resume is called, without
// losing the held base snapshot (spec §4.11 lifecycle).
func (w *Watcher) Pause() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
}

// Resume stops dropping events.
func (w *Watcher) Resume() {
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
}

func (w *Watcher) isPaused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// Run drives the watcher's event loop until ctx is cancelled or Close
// is called. It accumulates changed paths into a pending set, restarts
// the debounce timer on every new event, and on firing dispatches each
// pending path to the Incremental Reindexer.
func (w *Watcher) Run(ctx context.Context) error {
	pending := map[string]bool{}
	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if w.isPaused() {
				continue
			}
			if !w.pathEligible(event.Name) {
				continue
			}
			pending[event.Name] = true
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.cfg.Debounce)
			timerCh = timer.C
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch: fsnotify error", "error", err)
		case <-timerCh:
			timerCh = nil
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			pending = map[string]bool{}
			w.dispatchBatch(ctx, paths)
		}
	}
}

// dispatchBatch reindexes every path in the batch, then (if a base
// snapshot is configured) diffs live against it and delivers a
// Notification.
func (w *Watcher) dispatchBatch(ctx context.Context, paths []string) {
	var errs []error
	for _, path := range paths {
		lang, ok := ingest.LanguageForPath(path)
		if !ok {
			continue
		}
		if _, err := reindex.ReindexFile(ctx, w.store, w.extractor, w.logger, path, lang); err != nil {
			errs = append(errs, fmt.Errorf("reindex %s: %w", path, err))
		}
	}

	notification := Notification{ChangedPaths: paths, Errors: errs}
	if w.cfg.BaseStore != nil {
		diffResult, err := diffengine.Diff(w.cfg.BaseStore, w.store, diffengine.Options{})
		if err != nil {
			notification.Errors = append(notification.Errors, fmt.Errorf("diff against base snapshot: %w", err))
		} else {
			notification.Diff = diffResult
		}
	}

	select {
	case w.notify <- notification:
	default:
		w.logger.Warn("watch: notification dropped, subscriber channel full")
	}
}

// pathEligible applies the shared include/exclude globs (spec §4.11
// path filtering) plus the skip-dir list.
func (w *Watcher) pathEligible(path string) bool {
	for dir := range skipDirs {
		if filepath.Base(filepath.Dir(path)) == dir {
			return false
		}
	}
	rel := path
	for _, root := range w.cfg.Roots {
		if r, err := filepath.Rel(root, path); err == nil && filepath.IsLocal(r) {
			rel = filepath.ToSlash(r)
			break
		}
	}
	if len(w.cfg.ExcludeGlobs) > 0 && ingest.MatchesAny(rel, w.cfg.ExcludeGlobs) {
		return false
	}
	if len(w.cfg.IncludeGlobs) > 0 && !ingest.MatchesAny(rel, w.cfg.IncludeGlobs) {
		return false
	}
	return true
}

// Close stops the watcher's underlying fsnotify watcher and terminates
// Run.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsWatcher.Close()
}
