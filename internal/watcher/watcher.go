// Package watcher discovers site config documents in a directory and
// reacts to their lifecycle (added/modified/removed), debouncing bursts of
// filesystem events the way an editor's save-then-rewrite sequence would
// otherwise produce.
package watcher

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cwsf/cwsf/internal/config"
)

// EventType classifies one config lifecycle event delivered to a Watcher's
// callback.
type EventType int

const (
	EventValidated EventType = iota
	EventRejected
	EventRemoved
)

func (t EventType) String() string {
	switch t {
	case EventValidated:
		return "validated"
	case EventRejected:
		return "rejected"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is delivered once per debounced file change, after re-running the
// load-and-validate pipeline (except for removals, which skip straight to
// EventRemoved).
type Event struct {
	Type   EventType
	Path   string
	Config *config.Config
	Errors []config.FieldError
}

const defaultDebounce = 2 * time.Second

// Watcher monitors a single, non-recursive directory of *.yaml/*.yml site
// documents.
type Watcher struct {
	fsw       *fsnotify.Watcher
	dir       string
	debounce  time.Duration
	overrides map[string]interface{}
	callback  func(Event)

	mu            sync.Mutex
	timers        map[string]*time.Timer
	lastKnownGood map[string]*config.Config
	closed        bool
}

// New creates a Watcher over dir. debounce <= 0 uses the default of 2s.
// callback is invoked from each path's debounce-timer goroutine, so calls
// for different paths may run concurrently; it must not block for long.
func New(dir string, debounce time.Duration, overrides map[string]interface{}, callback func(Event)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	w := &Watcher{
		fsw:           fsw,
		dir:           dir,
		debounce:      debounce,
		overrides:     overrides,
		callback:      callback,
		timers:        make(map[string]*time.Timer),
		lastKnownGood: make(map[string]*config.Config),
	}
	go w.loop()
	return w, nil
}

// LastKnownGood returns the most recently validated Config for path, if
// any. A config rejected after validating once still has its last-known-
// good entry retained here; only a removal clears it.
func (w *Watcher) LastKnownGood(path string) (*config.Config, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cfg, ok := w.lastKnownGood[path]
	return cfg, ok
}

// Close stops the watcher and cancels any pending debounce timers.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = map[string]*time.Timer{}
	w.mu.Unlock()
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !isConfigFile(ev.Name) {
				continue
			}
			w.schedule(ev.Name, ev.Op)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// schedule debounces bursts of events for the same path: each new event
// cancels the prior timer and restarts the wait, so a rapid write-then-
// rewrite sequence collapses into a single fire.
func (w *Watcher) schedule(path string, op fsnotify.Op) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() { w.fire(path, op) })
}

func (w *Watcher) fire(path string, op fsnotify.Op) {
	w.mu.Lock()
	delete(w.timers, path)
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	if op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.mu.Lock()
		delete(w.lastKnownGood, path)
		w.mu.Unlock()
		w.callback(Event{Type: EventRemoved, Path: path})
		return
	}

	cfg, raw, err := config.LoadDocument(path, w.overrides)
	if err != nil {
		w.callback(Event{Type: EventRejected, Path: path, Errors: []config.FieldError{{Message: err.Error()}}})
		return
	}

	result := config.Validate(cfg, raw)
	if !result.IsValid {
		w.callback(Event{Type: EventRejected, Path: path, Errors: result.Errors})
		return
	}

	w.mu.Lock()
	w.lastKnownGood[path] = cfg
	w.mu.Unlock()
	w.callback(Event{Type: EventValidated, Path: path, Config: cfg})
}

// isConfigFile reports whether path names a non-hidden, non-temporary
// *.yaml/*.yml file. Editor swap files and dotfiles are ignored so saves
// don't trigger spurious reload cycles.
func isConfigFile(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".tmp") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
