// Package watcher reports source files that are created or changed under a
// directory tree, or a single watched file.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"pomconv/pkg/logger"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher emits a path once writes to it have settled for the debounce
// interval.
type Watcher struct {
	ext      string
	debounce time.Duration

	fs     *fsnotify.Watcher
	mu     sync.Mutex
	timers map[string]*time.Timer
	fired  chan string
	closed bool

	// only restricts events to one file when Watch was given a file.
	only string
}

func New(ext string, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		ext:      ext,
		debounce: debounce,
		fs:       fw,
		timers:   make(map[string]*time.Timer),
		fired:    make(chan string, 64),
	}, nil
}

// Watch adds path and its subdirectories and streams settled paths until ctx
// is done. When path is a file, its directory is watched and only that file
// is reported. The returned channel is closed when watching stops.
func (w *Watcher) Watch(ctx context.Context, path string) (<-chan string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		if err := w.addTree(path); err != nil {
			return nil, err
		}
	} else {
		w.only = filepath.Clean(path)
		if err := w.fs.Add(filepath.Dir(w.only)); err != nil {
			return nil, err
		}
	}

	out := make(chan string)
	go w.run(ctx, out)
	return out, nil
}

func (w *Watcher) run(ctx context.Context, out chan<- string) {
	defer close(out)
	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.fired:
			select {
			case out <- path:
			case <-ctx.Done():
				return
			}
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logger.Warnf("watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if w.only != "" {
		if filepath.Clean(ev.Name) == w.only {
			w.schedule(ev.Name)
		}
		return
	}
	if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
		if err := w.addTree(ev.Name); err != nil {
			logger.Warnf("watcher failed to add %s: %v", ev.Name, err)
		}
		return
	}
	if !w.Matches(ev.Name) {
		return
	}
	logger.Debugf("watcher event %s %s", ev.Op, ev.Name)
	w.schedule(ev.Name)
}

// Matches reports whether path has the watched extension.
func (w *Watcher) Matches(path string) bool {
	if w.ext == "" {
		return true
	}
	return strings.EqualFold(filepath.Ext(path), w.ext)
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.timers, path)
		if w.closed {
			return
		}
		select {
		case w.fired <- path:
		default:
			logger.Warnf("watcher backlog full, dropping %s", path)
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	w.stopTimers()
	return w.fs.Close()
}
