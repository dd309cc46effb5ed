// Package monitor runs the client-side control loop: it discovers session
// log files, classifies their activity, reaps stale records, and pushes the
// resulting view to the renderer and the sync protocol.
package monitor

import (
	"log"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceInterval coalesces bursts of file-change notifications into one
// refresh trigger.
const DebounceInterval = 500 * time.Millisecond

// Watcher watches the log root and every discovered project directory,
// coalescing file-system events into a single refresh signal.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	signal    chan struct{}
	done      chan struct{}
	debounce  time.Duration

	mu      sync.Mutex
	watched map[string]bool
	timer   *time.Timer
}

// NewWatcher creates a Watcher. Call Start to begin processing events.
func NewWatcher() (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsWatcher: fsWatcher,
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		debounce:  DebounceInterval,
		watched:   make(map[string]bool),
	}, nil
}

// Signal returns the channel that fires after a debounced change burst.
func (w *Watcher) Signal() <-chan struct{} {
	return w.signal
}

// Start begins watching root and processing events.
func (w *Watcher) Start(root string) error {
	if err := w.Watch(root); err != nil {
		return err
	}
	go w.processEvents()
	return nil
}

// Stop stops the watcher and releases its resources.
func (w *Watcher) Stop() {
	close(w.done)
	_ = w.fsWatcher.Close()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

// Watch adds a directory to the watch set. Re-adding is a no-op.
func (w *Watcher) Watch(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watched[dir] {
		return nil
	}
	if err := w.fsWatcher.Add(dir); err != nil {
		return err
	}
	w.watched[dir] = true
	return nil
}

// RetainOnly drops watches for directories not in keep, except the ones it
// never saw (keep may contain more than is watched).
func (w *Watcher) RetainOnly(keep map[string]bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for dir := range w.watched {
		if !keep[dir] {
			_ = w.fsWatcher.Remove(dir)
			delete(w.watched, dir)
		}
	}
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			// Write, create, and rename all matter: atomic writes (write
			// tmp, rename to target) surface as Rename on the target.
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.kick()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("[watcher] error: %v", err)
		}
	}
}

// kick arms (or re-arms) the debounce timer; when it fires, one refresh
// signal is delivered.
func (w *Watcher) kick() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case w.signal <- struct{}{}:
		default:
		}
	})
}
