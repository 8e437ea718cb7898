// Package watcher reports debounced changes to watched document files.
package watcher

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

var watchLog = log.New(os.Stderr, "[ecmalinks:watcher] ", log.Ltime)

// DefaultDebounceDelay is used when Config.DebounceDelay is zero.
const DefaultDebounceDelay = 300 * time.Millisecond

// Config selects what to watch.
type Config struct {
	// Files are watched through their parent directories so editors that
	// save by rename keep being observed.
	Files         []string
	DebounceDelay time.Duration
}

// ChangeHandler receives one batch of changed files.
type ChangeHandler interface {
	OnChanges(files map[string]fsnotify.Op)
}

// ChangeHandlerFunc adapts a function to ChangeHandler.
type ChangeHandlerFunc func(files map[string]fsnotify.Op)

// OnChanges calls f.
func (f ChangeHandlerFunc) OnChanges(files map[string]fsnotify.Op) {
	f(files)
}

// Watcher batches file events and hands them to its handlers once no new
// event arrived for the debounce delay.
type Watcher struct {
	fsnotify *fsnotify.Watcher
	config   Config
	handlers []ChangeHandler
	files    map[string]bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	pending map[string]fsnotify.Op
	timer   *time.Timer
	stopped bool
}

// New creates a watcher for config.Files.
func New(config Config, handlers ...ChangeHandler) (*Watcher, error) {
	if len(config.Files) == 0 {
		return nil, errors.New("no files to watch")
	}
	if config.DebounceDelay <= 0 {
		config.DebounceDelay = DefaultDebounceDelay
	}

	files := make(map[string]bool, len(config.Files))
	for _, f := range config.Files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, err
		}
		files[abs] = true
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsnotify: fsw,
		config:   config,
		handlers: handlers,
		files:    files,
		stop:     make(chan struct{}),
		pending:  make(map[string]fsnotify.Op),
	}, nil
}

// AddHandler registers another handler. Call before Start.
func (w *Watcher) AddHandler(h ChangeHandler) {
	w.handlers = append(w.handlers, h)
}

// Start begins watching.
func (w *Watcher) Start() error {
	dirs := make(map[string]bool)
	for f := range w.files {
		dirs[filepath.Dir(f)] = true
	}
	for dir := range dirs {
		if err := w.fsnotify.Add(dir); err != nil {
			return err
		}
	}

	w.wg.Add(1)
	go w.processEvents()

	watchLog.Printf("watching %d files in %d directories (debounce: %v)", len(w.files), len(dirs), w.config.DebounceDelay)
	return nil
}

// Stop ends watching and waits for in-flight handlers to return.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.mu.Lock()
		w.stopped = true
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	})
	w.wg.Wait()
	return w.fsnotify.Close()
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if !w.watched(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.queueChange(event.Name, event.Op)
			}

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			watchLog.Printf("error: %v", err)
		}
	}
}

func (w *Watcher) watched(name string) bool {
	base := filepath.Base(name)
	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, ".tmp") {
		return false
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	return w.files[abs]
}

// queueChange records the event and restarts the debounce timer.
func (w *Watcher) queueChange(path string, op fsnotify.Op) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] |= op
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.config.DebounceDelay, w.flushPending)
}

func (w *Watcher) flushPending() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.wg.Add(1)
	defer w.wg.Done()
	pending := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.timer = nil
	w.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	watchLog.Printf("processing %d file changes", len(pending))
	for _, h := range w.handlers {
		h.OnChanges(pending)
	}
}

// IsRemove reports whether op removed or renamed the file away.
func IsRemove(op fsnotify.Op) bool {
	return op&(fsnotify.Remove|fsnotify.Rename) != 0
}

// IsGone reports whether op removed path and nothing has replaced it since.
// Editors that save by renaming the old file away and writing a new one
// produce a merged op with Rename set while the file still exists.
func IsGone(path string, op fsnotify.Op) bool {
	if !IsRemove(op) {
		return false
	}
	_, err := os.Stat(path)
	return errors.Is(err, fs.ErrNotExist)
}
