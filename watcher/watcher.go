// Package watcher triggers index refreshes when artifacts change. Local
// artifact files are observed through fsnotify; remote artifacts are polled
// for a newer modification time.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hupe1980/annserve"
	"github.com/hupe1980/annserve/blobstore"
)

// DefaultDebounce coalesces bursts of file events for the same artifact.
const DefaultDebounce = 500 * time.Millisecond

// DefaultPollInterval is how often remote artifacts are checked.
const DefaultPollInterval = time.Minute

// ErrAlreadyStarted is returned by Start when the watcher is running.
var ErrAlreadyStarted = errors.New("watcher: already started")

// Refresher triggers a reload of one index. *annserve.Registry satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, name string) error
}

// Options configures the watcher.
type Options struct {
	Logger       *annserve.Logger
	Debounce     time.Duration
	PollInterval time.Duration
}

// Option modifies Options.
type Option func(*Options)

// WithLogger sets the logger.
func WithLogger(logger *annserve.Logger) Option {
	return func(o *Options) {
		if logger == nil {
			logger = annserve.NoopLogger()
		}
		o.Logger = logger
	}
}

// WithDebounce sets the file-event debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(o *Options) {
		o.Debounce = d
	}
}

// WithPollInterval sets the remote poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Options) {
		o.PollInterval = d
	}
}

// polled is one remote artifact checked on the poll ticker.
type polled struct {
	name     string
	key      string
	store    blobstore.Store
	lastSeen time.Time
}

// Watcher drives refreshes from artifact change signals.
type Watcher struct {
	refresher Refresher
	logger    *annserve.Logger
	debounce  time.Duration
	interval  time.Duration

	mu      sync.Mutex
	files   map[string]string // absolute artifact path -> index name
	remotes []*polled
	timers  map[string]*time.Timer
	started bool
}

// New creates a watcher that refreshes indexes through refresher.
func New(refresher Refresher, optFns ...Option) *Watcher {
	opts := Options{
		Logger:       annserve.NewLogger(nil),
		Debounce:     DefaultDebounce,
		PollInterval: DefaultPollInterval,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Watcher{
		refresher: refresher,
		logger:    opts.Logger,
		debounce:  opts.Debounce,
		interval:  opts.PollInterval,
		files:     make(map[string]string),
		timers:    make(map[string]*time.Timer),
	}
}

// WatchFile registers a local artifact file. A write, create or rename of
// the file refreshes the index after the debounce interval. Must be called
// before Start.
func (w *Watcher) WatchFile(name, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watcher: resolve %q: %w", path, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrAlreadyStarted
	}
	w.files[abs] = name
	return nil
}

// PollRemote registers a remote artifact checked on every poll tick. The
// index is refreshed when the artifact's modification time advances past the
// last one seen. Must be called before Start.
func (w *Watcher) PollRemote(name string, store blobstore.Store, key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrAlreadyStarted
	}
	w.remotes = append(w.remotes, &polled{name: name, key: key, store: store})
	return nil
}

// Start runs the watch loops until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	w.started = true
	hasFiles := len(w.files) > 0
	hasRemotes := len(w.remotes) > 0
	w.mu.Unlock()

	var fsw *fsnotify.Watcher
	if hasFiles {
		var err error
		fsw, err = fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("watcher: %w", err)
		}
		defer fsw.Close()

		// Watch parent directories so artifact replacement via rename is
		// observed even when the file is briefly absent.
		dirs := make(map[string]struct{})
		w.mu.Lock()
		for path := range w.files {
			dirs[filepath.Dir(path)] = struct{}{}
		}
		w.mu.Unlock()
		for dir := range dirs {
			if err := fsw.Add(dir); err != nil {
				return fmt.Errorf("watcher: watch %q: %w", dir, err)
			}
		}
	}

	var ticker *time.Ticker
	var tick <-chan time.Time
	if hasRemotes {
		w.primeRemotes(ctx)
		ticker = time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var events <-chan fsnotify.Event
	var fsErrs <-chan error
	if fsw != nil {
		events = fsw.Events
		fsErrs = fsw.Errors
	}

	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			w.handleFileEvent(ctx, event)
		case err, ok := <-fsErrs:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		case <-tick:
			w.pollOnce(ctx)
		}
	}
}

func (w *Watcher) handleFileEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}

	w.mu.Lock()
	name, ok := w.files[abs]
	w.mu.Unlock()
	if !ok {
		return
	}

	w.scheduleRefresh(ctx, name)
}

// scheduleRefresh debounces per index name.
func (w *Watcher) scheduleRefresh(ctx context.Context, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[name]; ok {
		t.Stop()
	}
	w.timers[name] = time.AfterFunc(w.debounce, func() {
		w.refresh(ctx, name)
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = make(map[string]*time.Timer)
}

// primeRemotes records the current modification times so that only changes
// after startup trigger a refresh.
func (w *Watcher) primeRemotes(ctx context.Context) {
	w.mu.Lock()
	remotes := w.remotes
	w.mu.Unlock()

	for _, p := range remotes {
		if mod, err := p.store.ModTime(ctx, p.key); err == nil {
			p.lastSeen = mod
		}
	}
}

func (w *Watcher) pollOnce(ctx context.Context) {
	w.mu.Lock()
	remotes := w.remotes
	w.mu.Unlock()

	for _, p := range remotes {
		mod, err := p.store.ModTime(ctx, p.key)
		if err != nil {
			w.logger.Warn("poll failed", "index", p.name, "key", p.key, "error", err)
			continue
		}
		if !mod.After(p.lastSeen) {
			continue
		}
		p.lastSeen = mod
		w.refresh(ctx, p.name)
	}
}

func (w *Watcher) refresh(ctx context.Context, name string) {
	err := w.refresher.Refresh(ctx, name)
	switch {
	case err == nil:
		w.logger.Info("auto refresh completed", "index", name)
	case errors.Is(err, annserve.ErrRefreshInProgress):
		// A manual or earlier auto refresh is already running.
		w.logger.Debug("auto refresh skipped", "index", name)
	case errors.Is(err, context.Canceled):
	default:
		w.logger.Error("auto refresh failed", "index", name, "error", err)
	}
}
