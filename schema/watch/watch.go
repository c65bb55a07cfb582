// Package watch re-parses a schema file whenever it changes on disk,
// feeding the CLI's generate --watch loop.
package watch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lode-orm/lode/schema/ast"
	"github.com/lode-orm/lode/schema/parser"
	"github.com/lode-orm/lode/schema/validate"
)

// Event is one reload: a freshly validated schema, or the parse or
// validation error the edit introduced.
type Event struct {
	Schema *ast.Schema
	Err    error
}

// Watcher re-parses one schema file on every change.
type Watcher struct {
	path     string
	log      *slog.Logger
	fs       *fsnotify.Watcher
	events   chan Event
	done     chan struct{}
	debounce time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the watcher logger.
func WithLogger(log *slog.Logger) Option {
	return func(w *Watcher) { w.log = log }
}

// WithDebounce sets the quiet period after a filesystem event before
// reparsing, coalescing editor write bursts. Defaults to 100ms.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New watches the schema file at path and emits an Event for its
// current content and for every subsequent change. Editors replace
// files by rename, so the parent directory is watched and events are
// filtered by name.
func New(path string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("schema/watch: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("schema/watch: %w", err)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("schema/watch: %w", err)
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("schema/watch: %w", err)
	}
	w := &Watcher{
		path:     abs,
		log:      slog.Default(),
		fs:       fs,
		events:   make(chan Event, 1),
		done:     make(chan struct{}),
		debounce: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.loop()
	return w, nil
}

// Events returns the reload channel. It is closed by Close.
func (w *Watcher) Events() <-chan Event { return w.events }

// Close stops watching and closes the event channel.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	return w.fs.Close()
}

func (w *Watcher) loop() {
	defer close(w.events)

	// Initial load so the caller renders once before the first edit.
	w.emit(w.reload())

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("schema watch error", "path", w.path, "error", err)
		case <-fire:
			timer, fire = nil, nil
			w.emit(w.reload())
		}
	}
}

func (w *Watcher) reload() Event {
	src, err := os.ReadFile(w.path)
	if err != nil {
		return Event{Err: fmt.Errorf("schema/watch: %w", err)}
	}
	parsed, err := parser.Parse(src)
	if err != nil {
		return Event{Err: err}
	}
	validated, err := validate.Schema(parsed)
	if err != nil {
		return Event{Err: err}
	}
	return Event{Schema: validated}
}

// emit delivers the event, dropping the previous undelivered one: a
// slow consumer only cares about the newest schema.
func (w *Watcher) emit(ev Event) {
	for {
		select {
		case <-w.done:
			return
		case w.events <- ev:
			return
		default:
		}
		select {
		case <-w.events:
		default:
		}
	}
}
