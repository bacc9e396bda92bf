package gateconfig

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Reloader holds the active Config behind an atomic pointer, swapped
// wholesale on reload: readers see either the old or the new snapshot,
// never a partial one.
type Reloader struct {
	path string
	cur  atomic.Pointer[Config]

	mu        sync.Mutex
	listeners []func(Config)

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewReloader wraps an already-loaded Config. path is retained so Reload()
// (and the optional file watcher) can re-read it later; an empty path means
// this Reloader is config-file-less (e.g. started from Default()) and
// WatchFile returns an error.
func NewReloader(path string, initial Config) *Reloader {
	r := &Reloader{path: path}
	r.cur.Store(&initial)
	return r
}

// Snapshot returns the currently active Config. Readers take this once per
// Observation and never re-read mid-pipeline.
func (r *Reloader) Snapshot() Config {
	return *r.cur.Load()
}

// OnReload registers a listener invoked (synchronously, in registration
// order) after every successful Reload.
func (r *Reloader) OnReload(fn func(Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Reload re-reads and re-validates the config file, swapping the snapshot
// only on success. The old snapshot remains live if the new document fails
// to parse or carries an unsupported version.
func (r *Reloader) Reload() error {
	if r.path == "" {
		return fmt.Errorf("gateconfig: reloader has no backing file")
	}
	cfg, err := Load(r.path)
	if err != nil {
		slog.Warn("gateconfig: reload rejected, keeping previous snapshot", "path", r.path, "error", err)
		return err
	}
	r.set(cfg)
	return nil
}

func (r *Reloader) set(cfg Config) {
	r.cur.Store(&cfg)
	r.mu.Lock()
	listeners := append([]func(Config){}, r.listeners...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

// OverridesPatch carries a partial update to Overrides; nil fields are left
// untouched. Only the Reflex Controller (via UpdateOverrides) and operator
// tooling construct one of these.
type OverridesPatch struct {
	EmergencyMode *bool
	ForceLowModel *bool
}

// UpdateOverrides atomically applies a whitelisted partial patch to the
// current snapshot's Overrides and swaps the snapshot. Returns whether
// anything actually changed, which the Reflex Controller uses to decide
// whether to emit system_mode_changed.
func (r *Reloader) UpdateOverrides(patch OverridesPatch) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.cur.Load()
	changed := false
	next := cur

	if patch.EmergencyMode != nil && *patch.EmergencyMode != cur.Overrides.EmergencyMode {
		next.Overrides.EmergencyMode = *patch.EmergencyMode
		changed = true
	}
	if patch.ForceLowModel != nil && *patch.ForceLowModel != cur.Overrides.ForceLowModel {
		next.Overrides.ForceLowModel = *patch.ForceLowModel
		changed = true
	}
	if !changed {
		return false
	}

	r.cur.Store(&next)
	listeners := append([]func(Config){}, r.listeners...)
	// deliberately called while still holding r.mu, unlike Reload/set:
	// UpdateOverrides is called from the Reflex Controller's single-
	// threaded handling loop and must observe/publish its own change
	// atomically with respect to a concurrent Reload.
	for _, fn := range listeners {
		fn(next)
	}
	return true
}

// WatchFile starts a background fsnotify watch on the backing config file
// and calls Reload on every write/create event, so an operator editing the
// YAML on disk gets a live reload without a restart.
func (r *Reloader) WatchFile() error {
	if r.path == "" {
		return fmt.Errorf("gateconfig: reloader has no backing file to watch")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("gateconfig: fsnotify: %w", err)
	}
	if err := w.Add(r.path); err != nil {
		w.Close()
		return fmt.Errorf("gateconfig: watch %s: %w", r.path, err)
	}
	r.watcher = w
	r.done = make(chan struct{})

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := r.Reload(); err != nil {
						slog.Warn("gateconfig: watched reload failed", "error", err)
					} else {
						slog.Info("gateconfig: reloaded from file watch", "path", r.path)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("gateconfig: watcher error", "error", err)
			case <-r.done:
				return
			}
		}
	}()
	return nil
}

// StopWatch stops the file watcher started by WatchFile, if any.
func (r *Reloader) StopWatch() {
	if r.watcher == nil {
		return
	}
	close(r.done)
	r.watcher.Close()
	r.watcher = nil
}
