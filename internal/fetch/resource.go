package fetch

import (
	"context"
	"log/slog"
	"sync"

	"pagecache/internal/cache"
	"pagecache/internal/core"
)

// ResourceState is the snapshot a Resource exposes to callers.
type ResourceState[T any] struct {
	Payload    T
	HasPayload bool
	IsLoading  bool
	Err        error
}

// Resource fetches a value as one unit, caches it and serves it stale-while-revalidate.
type Resource[T any] struct {
	cfg   ResourceConfig
	store *cache.Store
	fetch core.FetchAllFunc[T]

	mu    sync.Mutex
	coord *coordinator
	state ResourceState[T]
	bgErr error
	subs  subscribers[ResourceState[T]]
	wg    sync.WaitGroup
}

// NewResource creates a Resource reading through store.
func NewResource[T any](store *cache.Store, cfg ResourceConfig, fetch core.FetchAllFunc[T]) *Resource[T] {
	cfg = cfg.withDefaults()
	return &Resource[T]{
		cfg:   cfg,
		store: selectStore(store, cfg.MemoryOnly),
		fetch: fetch,
		coord: newCoordinator(),
	}
}

// Enabled reports whether Load may fetch.
func (r *Resource[T]) Enabled() bool {
	return !r.cfg.Disabled
}

// State returns the current snapshot.
func (r *Resource[T]) State() ResourceState[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastBackgroundError returns the most recent background revalidation failure.
// It is cleared by the next successful fetch.
func (r *Resource[T]) LastBackgroundError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bgErr
}

// Subscribe registers fn for every state change and returns its unsubscribe func.
func (r *Resource[T]) Subscribe(fn func(ResourceState[T])) func() {
	return r.subs.add(fn)
}

// Load serves the cached value when there is one, revalidating it in the
// background once it is stale. Without a cached value it fetches in the foreground.
func (r *Resource[T]) Load(ctx context.Context) ResourceState[T] {
	r.mu.Lock()
	if r.cfg.Disabled || r.coord.closed() {
		defer r.mu.Unlock()
		return r.state
	}
	r.mu.Unlock()

	v, entry, cached := r.cached(ctx)

	r.mu.Lock()
	if r.coord.closed() {
		defer r.mu.Unlock()
		return r.state
	}
	if cached {
		r.state.Payload = v
		r.state.HasPayload = true
		r.state.Err = nil
		if entry.Stale(r.store.Now(), r.cfg.StaleThreshold) && !r.coord.inFlight() {
			h := r.coord.begin(r.coord.scope)
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.complete(h, true)
			}()
		}
		state := r.state
		r.mu.Unlock()
		r.subs.publish(state)
		return state
	}

	h := r.beginForeground(ctx)
	r.mu.Unlock()
	r.publishCurrent()
	r.complete(h, false)
	return r.State()
}

// cached reads and decodes the cache entry. It must be called without r.mu
// held since the store may reach the durable tier.
func (r *Resource[T]) cached(ctx context.Context) (T, *cache.Entry, bool) {
	var zero T
	entry, ok := r.store.Get(ctx, r.cfg.CacheKey)
	if !ok {
		return zero, nil, false
	}
	v, err := cache.DecodeSingle[T](entry)
	if err != nil {
		slog.Warn("discarding undecodable cache entry", "key", r.cfg.CacheKey, "error", err)
		r.store.Delete(ctx, r.cfg.CacheKey)
		return zero, nil, false
	}
	return v, entry, true
}

// Refetch fetches in the foreground regardless of freshness.
func (r *Resource[T]) Refetch(ctx context.Context) error {
	r.mu.Lock()
	if r.coord.closed() {
		r.mu.Unlock()
		return nil
	}
	h := r.beginForeground(ctx)
	r.mu.Unlock()
	r.publishCurrent()
	return r.complete(h, false)
}

// Invalidate deletes the cached value and refetches.
func (r *Resource[T]) Invalidate(ctx context.Context) error {
	r.store.Delete(ctx, r.cfg.CacheKey)
	return r.Refetch(ctx)
}

// Close cancels any outstanding request and waits for background work to stop.
func (r *Resource[T]) Close() {
	r.mu.Lock()
	r.coord.close()
	r.mu.Unlock()
	r.wg.Wait()
}

// beginForeground must be called with r.mu held.
func (r *Resource[T]) beginForeground(ctx context.Context) *handle {
	h := r.coord.begin(ctx)
	r.state.IsLoading = true
	return h
}

// complete runs the upstream call for h and commits the result if h is still current.
// Background failures are recorded but never surfaced in the state.
func (r *Resource[T]) complete(h *handle, background bool) error {
	v, err := r.fetch(h.ctx)

	r.mu.Lock()
	if !r.coord.finish(h) {
		r.mu.Unlock()
		supersededTotal.Inc()
		slog.Debug("dropping superseded result", "request_id", h.id, "error", core.NewSupersededError(r.cfg.CacheKey))
		return nil
	}

	if err != nil {
		if canceled(h, err) {
			fetchesTotal.WithLabelValues(controllerResource, outcomeCanceled).Inc()
			if !background {
				r.state.IsLoading = false
			}
			state := r.state
			r.mu.Unlock()
			r.subs.publish(state)
			return err
		}
		fetchesTotal.WithLabelValues(controllerResource, outcomeError).Inc()
		if background {
			r.bgErr = err
			r.mu.Unlock()
			slog.Warn("background revalidation failed, keeping cached value", "key", r.cfg.CacheKey, "error", err)
			return nil
		}
		r.state.IsLoading = false
		r.state.Err = err
		state := r.state
		r.mu.Unlock()
		slog.Debug("fetch failed", "key", r.cfg.CacheKey, "error", err)
		r.subs.publish(state)
		return err
	}

	fetchesTotal.WithLabelValues(controllerResource, outcomeSuccess).Inc()
	entry, encErr := cache.NewSingleEntry(v, r.store.Now(), r.cfg.TTL)
	if encErr != nil {
		slog.Error("failed to build cache entry", "key", r.cfg.CacheKey, "error", encErr)
	} else {
		r.store.Set(context.WithoutCancel(h.ctx), r.cfg.CacheKey, entry)
	}
	r.state = ResourceState[T]{Payload: v, HasPayload: true}
	r.bgErr = nil
	state := r.state
	r.mu.Unlock()
	r.subs.publish(state)
	return nil
}

func (r *Resource[T]) publishCurrent() {
	r.subs.publish(r.State())
}
