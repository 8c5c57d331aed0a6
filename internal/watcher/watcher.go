// Package watcher watches the grievance dataset file with fsnotify and debounces change notifications.
package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher calls onChange once per burst of writes to a single file.
// The parent directory is watched so editors that replace the file by rename are still seen.
type Watcher struct {
	path     string
	dir      string
	base     string
	onChange func(ctx context.Context)
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	timer   *time.Timer
	ctx     context.Context
	done    chan struct{}
	started bool
	stopped sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets the quiet period before onChange fires. Non-positive values keep the default.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for the file at path.
func NewWatcher(path string, onChange func(ctx context.Context), opts ...WatcherOption) *Watcher {
	clean := filepath.Clean(path)
	w := &Watcher{
		path:     clean,
		dir:      filepath.Dir(clean),
		base:     filepath.Base(clean),
		onChange: onChange,
		debounce: defaultDebounce,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

// Path returns the watched file path.
func (w *Watcher) Path() string {
	return w.path
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsw = fsw
	w.ctx = ctx
	w.started = true
	w.logger.Debug("watcher starting", zap.String("path", w.path), zap.Duration("debounce", w.debounce))
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !w.matches(ev.Name) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Rename) || ev.Op.Has(fsnotify.Remove) {
		w.schedule()
	}
}

func (w *Watcher) matches(name string) bool {
	clean := filepath.Clean(name)
	return filepath.Dir(clean) == w.dir && filepath.Base(clean) == w.base
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	ctx := w.ctx
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.timer = nil
		active := w.started
		w.mu.Unlock()
		if !active || w.onChange == nil {
			return
		}
		w.logger.Debug("watcher firing change (debounced)", zap.String("path", w.path))
		w.onChange(ctx)
	})
}

// Stop stops the watcher and cancels any pending notification.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	fsw := w.fsw
	w.fsw = nil
	w.started = false
	w.mu.Unlock()
	w.stopped.Do(func() { close(w.done) })
	if err := fsw.Close(); err != nil && !errors.Is(err, fsnotify.ErrClosed) {
		w.logger.Debug("watcher close", zap.Error(err))
	}
}
