// Package fswatcher observes cbzDir for filesystem-level .cbz changes and
// injects FsCbzAdded/FsCbzRemoved tasks, keeping the queue in sync with
// archives dropped in or removed outside of the engine (e.g. by hand, or a
// sync client).
package fswatcher

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kmkr/telegrab-go/internal/queue"
	"github.com/kmkr/telegrab-go/internal/shutdown"
	"github.com/kmkr/telegrab-go/internal/task"
)

// Watcher wraps an fsnotify.Watcher recursively watching a root directory
// for .cbz create/remove events.
type Watcher struct {
	fsw      *fsnotify.Watcher
	queue    *queue.State
	shutdown *shutdown.Coordinator
	root     string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingEvent
}

// pendingEvent tracks the latest kind seen for a path during its debounce
// window; a burst of create/remove/create on the same path within the
// window collapses to one enqueue of the most recent kind.
type pendingEvent struct {
	kind  task.Kind
	timer *time.Timer
}

// New creates a Watcher rooted at dir, recursively adding every existing
// subdirectory to the fsnotify watch list. debounce coalesces rapid
// create/remove bursts on the same path into a single enqueue; 0 disables
// coalescing and enqueues immediately.
func New(dir string, q *queue.State, sh *shutdown.Coordinator, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		queue:    q,
		shutdown: sh,
		root:     dir,
		debounce: debounce,
		logger:   logger,
		pending:  make(map[string]*pendingEvent),
	}
	if err := w.addRecursive(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

// Run processes fsnotify events until shutdown is signaled or the
// underlying watcher is closed (Stop).
func (w *Watcher) Run() {
	shutdownCh := w.shutdown.SubscribeShutdown()

	for {
		select {
		case <-shutdownCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fswatcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !strings.EqualFold(filepath.Ext(ev.Name), ".cbz") {
		return
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		rel = filepath.Base(ev.Name)
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		w.schedule(rel, task.KindFsCbzAdded)
	case ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0:
		w.schedule(rel, task.KindFsCbzRemoved)
	}
}

// schedule enqueues kind for path after the debounce window, replacing any
// still-pending enqueue for the same path with this one. With debounce <=
// 0 it enqueues immediately.
func (w *Watcher) schedule(path string, kind task.Kind) {
	if w.debounce <= 0 {
		w.queue.Enqueue(task.New(kind, task.Payload{Path: path}))
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[path]; ok {
		p.kind = kind
		p.timer.Reset(w.debounce)
		return
	}

	pe := &pendingEvent{kind: kind}
	pe.timer = time.AfterFunc(w.debounce, func() { w.fire(path) })
	w.pending[path] = pe
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	pe, ok := w.pending[path]
	if ok {
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if ok {
		w.queue.Enqueue(task.New(pe.kind, task.Payload{Path: path}))
	}
}

// Stop releases the underlying fsnotify handle and cancels any pending
// debounced enqueues.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	for path, pe := range w.pending {
		pe.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	return w.fsw.Close()
}
