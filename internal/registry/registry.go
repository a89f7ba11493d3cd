// Package registry caches loaded models and collapses concurrent loads of
// the same artifact into one.
package registry

import (
	"context"
	"sort"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ricesearch/rice-nlu/internal/nlu"
	"github.com/ricesearch/rice-nlu/internal/pkg/errors"
	"github.com/ricesearch/rice-nlu/internal/pkg/logger"
)

// DefaultSize is used when a non-positive cache size is configured.
const DefaultSize = 8

// ModelLoader resolves the model for one artifact location.
type ModelLoader interface {
	Location() string
	LoadOrTrain(ctx context.Context, dataPath string, forceRetrain bool) (nlu.Model, error)
}

// Registry serves models for registered loaders. Successful loads are kept
// in a bounded LRU cache; failures are never cached.
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]*entry
	cache   *lru.Cache[string, nlu.Model]
	group   singleflight.Group
	log     *logger.Logger

	// in-flight loads; closed refuses new ones
	flights sync.WaitGroup
	closed  bool
}

type entry struct {
	loader   ModelLoader
	dataPath string

	// serializes LoadOrTrain across forced and plain flights
	mu sync.Mutex
}

// New creates a registry caching up to size models.
func New(size int, log *logger.Logger) (*Registry, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if log == nil {
		log = logger.Default()
	}
	cache, err := lru.New[string, nlu.Model](size)
	if err != nil {
		return nil, errors.InternalError("failed to create model cache", err)
	}
	return &Registry{
		loaders: make(map[string]*entry),
		cache:   cache,
		log:     log.WithComponent("registry"),
	}, nil
}

// Register binds a loader and its training data file to the loader's
// artifact location and returns that location as the registry key.
func (r *Registry) Register(l ModelLoader, dataPath string) string {
	key := l.Location()

	r.mu.Lock()
	r.loaders[key] = &entry{loader: l, dataPath: dataPath}
	r.mu.Unlock()

	r.cache.Remove(key)
	return key
}

// Get returns the cached model for key, or runs LoadOrTrain once for all
// concurrent callers. forceRetrain bypasses the cache.
func (r *Registry) Get(ctx context.Context, key string, forceRetrain bool) (nlu.Model, error) {
	if !forceRetrain {
		if model, ok := r.cache.Get(key); ok {
			return model, nil
		}
	}

	e, ok := r.lookup(key)
	if !ok {
		return nil, errors.NotFoundError("model " + key)
	}

	// Forced and plain loads of one key must not share a flight.
	flight := key + "|" + strconv.FormatBool(forceRetrain)

	ch := r.group.DoChan(flight, func() (any, error) {
		if !r.beginFlight() {
			return nil, errors.New(errors.CodeUnavailable, "registry is closed")
		}
		defer r.flights.Done()

		e.mu.Lock()
		defer e.mu.Unlock()

		// Caller cancellation must not abort a load other callers share.
		model, err := e.loader.LoadOrTrain(context.WithoutCancel(ctx), e.dataPath, forceRetrain)
		if err != nil {
			return nil, err
		}
		r.cache.Add(key, model)
		r.log.Debug("Model cached", "model", key, "forced", forceRetrain)
		return model, nil
	})

	select {
	case <-ctx.Done():
		return nil, errors.Wrap(errors.CodeTimeout, "waiting for model", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(nlu.Model), nil
	}
}

func (r *Registry) beginFlight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.flights.Add(1)
	return true
}

// Close refuses new loads and waits for loads already running, including
// those whose callers stopped waiting.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.flights.Wait()
}

// Reload retrains the model for key and replaces the cached entry. When the
// retrain fails the previously cached model stays in service.
func (r *Registry) Reload(ctx context.Context, key string) (nlu.Model, error) {
	model, err := r.Get(ctx, key, true)
	if err != nil {
		r.log.Warn("Reload failed, keeping cached model", "model", key, "error", err)
		return nil, err
	}
	r.log.Info("Model reloaded", "model", key)
	return model, nil
}

// Invalidate drops the cached model for key.
func (r *Registry) Invalidate(key string) {
	r.cache.Remove(key)
}

// Cached reports whether a model for key is cached.
func (r *Registry) Cached(key string) bool {
	return r.cache.Contains(key)
}

// Keys lists registered artifact locations.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.loaders))
	for k := range r.loaders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) lookup(key string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.loaders[key]
	return e, ok
}
