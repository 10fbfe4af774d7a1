package annserve

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/annserve/index"
	"github.com/hupe1980/annserve/loader"
	"github.com/hupe1980/annserve/resource"
)

// Registry owns the authoritative mapping from index name to its currently
// active immutable version.
//
// Concurrency model: readers acquire the active version through an atomic
// pointer load and keep using it for the whole query, so a refresh completing
// mid-query never tears their view. The expensive load phase of a refresh
// runs outside every lock; installing the new version is a single atomic
// swap. Superseded versions stay alive until their last reader drops them
// and are then reclaimed by the garbage collector.
type Registry struct {
	loader  loader.Loader
	logger  *Logger
	metrics MetricsCollector
	ctrl    *resource.Controller

	mu      sync.RWMutex
	entries map[string]*registryEntry
}

// registryEntry tracks one index name. current is nil until the initial
// load has completed.
type registryEntry struct {
	current    atomic.Pointer[index.Version]
	refreshing atomic.Bool
}

// NewRegistry creates an empty registry that builds versions with l.
func NewRegistry(l loader.Loader, optFns ...Option) *Registry {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}

	return &Registry{
		loader:  l,
		logger:  o.logger,
		metrics: o.metrics,
		ctrl:    o.ctrl,
		entries: make(map[string]*registryEntry),
	}
}

// Add registers an index name and performs its initial load. The name
// becomes visible to Get and List only after the load succeeded; a failed
// load leaves the registry without the name.
func (r *Registry) Add(ctx context.Context, name string) error {
	r.mu.Lock()
	if _, exists := r.entries[name]; exists {
		r.mu.Unlock()
		return ErrIndexExists
	}
	e := &registryEntry{}
	e.refreshing.Store(true)
	r.entries[name] = e
	r.mu.Unlock()

	v, err := r.load(ctx, name)
	if err != nil {
		r.mu.Lock()
		delete(r.entries, name)
		r.mu.Unlock()
		return err
	}

	e.current.Store(v)
	e.refreshing.Store(false)
	return nil
}

// Get returns the currently active version for name. It never blocks on a
// concurrent refresh of the same or any other name.
func (r *Registry) Get(name string) (*index.Version, error) {
	r.mu.RLock()
	e := r.entries[name]
	r.mu.RUnlock()

	if e == nil {
		return nil, ErrIndexNotFound
	}
	v := e.current.Load()
	if v == nil {
		// Registered but initial load still running.
		return nil, ErrIndexNotFound
	}
	return v, nil
}

// List returns the sorted names of all loaded indexes. The snapshot may be
// momentarily stale with respect to concurrent Add/Refresh.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name, e := range r.entries {
		if e.current.Load() != nil {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Refresh builds a brand-new version for name and atomically installs it.
//
// A refresh already in flight for the same name is rejected with
// ErrRefreshInProgress. On failure the previously active version keeps
// serving untouched. Cancelling ctx aborts the load and likewise leaves the
// active version in place.
func (r *Registry) Refresh(ctx context.Context, name string) error {
	start := time.Now()

	r.mu.RLock()
	e := r.entries[name]
	r.mu.RUnlock()

	if e == nil {
		return ErrIndexNotFound
	}

	if !e.refreshing.CompareAndSwap(false, true) {
		r.metrics.RecordRefresh(time.Since(start), ErrRefreshInProgress)
		return ErrRefreshInProgress
	}
	defer e.refreshing.Store(false)

	v, err := r.load(ctx, name)
	r.metrics.RecordRefresh(time.Since(start), err)
	r.logger.LogRefresh(ctx, name, time.Since(start), err)
	if err != nil {
		return err
	}

	// The single synchronization point: subsequent Get calls observe the
	// new version immediately and indivisibly.
	e.current.Store(v)
	return nil
}

// load runs the loader under the resource controller's refresh budget.
// All failures are wrapped as RefreshError.
func (r *Registry) load(ctx context.Context, name string) (*index.Version, error) {
	if err := r.ctrl.AcquireRefresh(ctx); err != nil {
		return nil, &RefreshError{Name: name, Cause: err}
	}
	defer r.ctrl.ReleaseRefresh()

	v, err := r.loader.Load(ctx, name)
	if err != nil {
		return nil, &RefreshError{Name: name, Cause: err}
	}
	return v, nil
}

// Close releases the backends of all active versions. It must only be
// called after all readers have drained, typically at process shutdown.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, e := range r.entries {
		if v := e.current.Swap(nil); v != nil {
			if err := v.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	r.entries = make(map[string]*registryEntry)
	return firstErr
}
