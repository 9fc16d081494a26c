package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quoracle/quoracle/internal/observability"
)

// Watcher hot-reloads the profile catalog portion of the runtime config
// from disk, so Restore (spec.md §4.9: capability_groups and
// max_refinement_rounds are "re-resolved from the profile catalog ...
// ensures updated profiles apply to restored agents") sees edits made
// while agents are already running, not just at process startup.
//
// Grounded on the debounced directory-watch shape of
// other_examples/kadirpekel-hector's pkg/config/provider/file.go
// (fsnotify.Watcher over the containing directory rather than the file
// itself, since editors and sync tools often replace the file instead of
// writing it in place), adapted to swap an in-memory ProfilesConfig
// snapshot instead of pushing raw bytes down a channel — a
// tree.ProfileCatalog only ever needs the current profile set.
type Watcher struct {
	path   string
	logger *observability.Logger

	mu      sync.RWMutex
	current ProfilesConfig

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher loads path once and returns a Watcher serving that snapshot.
// Call Start to begin watching path's directory for subsequent changes.
func NewWatcher(path string, logger *observability.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, logger: logger, current: cfg.Profiles}, nil
}

// Resolve implements tree.ProfileCatalog against the most recently loaded
// snapshot, satisfying that interface structurally with no import of
// internal/tree needed here.
func (w *Watcher) Resolve(profileName string) ([]string, int, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current.Resolve(profileName)
}

// Start begins watching path's directory and reloads the whole config
// (then takes just its Profiles section) on write/create events for
// path's basename, debounced to coalesce rapid successive writes. Returns
// once the watch is registered; reloads happen in a background goroutine
// until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch config directory %s: %w", dir, err)
	}
	w.watcher = fsw
	w.done = make(chan struct{})

	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer w.watcher.Close()

	target := filepath.Base(w.path)
	const debounceDelay = 250 * time.Millisecond
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() { w.reload(ctx) })

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn(ctx, "config watcher error", "error", err)
			}
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := Load(w.path)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn(ctx, "profile catalog reload failed", "path", w.path, "error", err)
		}
		return
	}
	w.mu.Lock()
	w.current = cfg.Profiles
	w.mu.Unlock()
	if w.logger != nil {
		w.logger.Info(ctx, "profile catalog reloaded", "path", w.path, "profile_count", len(cfg.Profiles.Entries))
	}
}

// Close stops the watch goroutine and releases the underlying fsnotify
// handle. Safe to call even if Start was never called.
func (w *Watcher) Close() {
	if w.watcher == nil {
		return
	}
	w.watcher.Close()
	<-w.done
}
