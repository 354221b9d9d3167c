package server

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 100 * time.Millisecond

// Watcher signals when a single file is written, created, renamed or
// removed. It watches the parent directory so that replace-by-rename
// writers are seen too.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	name      string
	events    chan struct{}
	stop      chan struct{}
	debounce  *time.Timer
	mu        sync.Mutex
	closed    bool
	stopOnce  sync.Once
}

// NewWatcher starts watching path.
func NewWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fsWatcher: fsw,
		name:      filepath.Base(abs),
		events:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer func() {
		w.mu.Lock()
		w.closed = true
		if w.debounce != nil {
			w.debounce.Stop()
		}
		w.mu.Unlock()
		close(w.events)
	}()

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != w.name || event.Op == fsnotify.Chmod {
				continue
			}

			w.mu.Lock()
			if w.debounce != nil {
				w.debounce.Stop()
			}
			w.debounce = time.AfterFunc(watchDebounce, func() {
				w.mu.Lock()
				defer w.mu.Unlock()
				if w.closed {
					return
				}
				select {
				case w.events <- struct{}{}:
				default:
				}
			})
			w.mu.Unlock()
		case _, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Events returns a channel that receives one signal per burst of changes.
// It is closed when the watcher stops.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Stop shuts down the watcher. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.fsWatcher.Close()
	})
}
