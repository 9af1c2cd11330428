// Package watch provides the single long-lived fsnotify.Watcher shared
// by the Cache Manager's file_watcher strategy and the Template
// Engine (SPEC_FULL.md §4.11): one debounced change channel, multiple
// subscribers, grounded on the teacher's one-long-lived-connection-
// per-resource pattern (a single *mpostgres.PostgresConnection, a
// single *mredis.RedisConnection, opened once and shared by every
// component that needs it, rather than each component opening its
// own).
package watch

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	cerrors "github.com/civicforge/recordengine/pkg/errors"
	"github.com/civicforge/recordengine/pkg/mlog"
)

// DebounceWindow collapses bursts of writes to the same path (a git
// checkout touching many files, an editor's save-then-rewrite) into
// one notification, per spec.md §4.9's 100ms default.
const DebounceWindow = 100 * time.Millisecond

// Watcher wraps one fsnotify.Watcher and fans out debounced path
// change notifications to every subscriber, so the process holds
// exactly one OS-level inotify/kqueue handle regardless of how many
// components need path invalidation.
type Watcher struct {
	logger  mlog.Logger
	fsw     *fsnotify.Watcher

	mu        sync.Mutex
	watching  map[string]bool
	subscribers []func(path string)

	debounceMu sync.Mutex
	pending    map[string]bool
	timer      *time.Timer
}

// New starts a Watcher. Call Close when done.
func New(logger mlog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = mlog.NoneLogger{}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, cerrors.Operational("watch", "starting file watcher", err)
	}

	w := &Watcher{
		logger:   logger,
		fsw:      fsw,
		watching: make(map[string]bool),
		pending:  make(map[string]bool),
	}

	go w.run()

	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			w.scheduleNotify(event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

			w.logger.Errorf("watch: error: %v", err)
		}
	}
}

func (w *Watcher) scheduleNotify(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	w.pending[path] = true

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(DebounceWindow, w.flushPending)
}

func (w *Watcher) flushPending() {
	w.debounceMu.Lock()
	paths := w.pending
	w.pending = make(map[string]bool)
	w.debounceMu.Unlock()

	w.mu.Lock()
	subs := append([]func(path string){}, w.subscribers...)
	w.mu.Unlock()

	for path := range paths {
		for _, sub := range subs {
			sub(path)
		}
	}
}

// Subscribe registers fn to be called (after debounce) with every path
// that changes under a directory previously passed to Add. Subscribers
// added before or after Add calls all receive future events.
func (w *Watcher) Subscribe(fn func(path string)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.subscribers = append(w.subscribers, fn)
}

// Add registers dir (the containing directory of a watched file, since
// fsnotify watches directories, not individual files) for change
// notification. Idempotent.
func (w *Watcher) Add(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching[dir] {
		return nil
	}

	if err := w.fsw.Add(dir); err != nil {
		return cerrors.Operational("watch", "watching "+dir, err)
	}

	w.watching[dir] = true

	return nil
}

// AddFile watches the directory containing path.
func (w *Watcher) AddFile(path string) error {
	return w.Add(filepath.Dir(path))
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// PathsMatch reports whether changed is or is beneath one of
// watchPaths, the shared rule both the Cache Manager and Template
// Engine use to decide whether a change notification applies to a
// given cached entry.
func PathsMatch(watchPaths []string, changed string) bool {
	for _, wp := range watchPaths {
		if wp == changed || strings.HasPrefix(changed, wp+string(filepath.Separator)) {
			return true
		}
	}

	return false
}
