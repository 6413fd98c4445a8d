package fetch

import (
	"context"
	"log/slog"
	"sync"

	"pagecache/internal/cache"
	"pagecache/internal/cachekey"
	"pagecache/internal/core"
)

// Status is the lifecycle state of a Pager.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusLoading     Status = "loading"
	StatusReady       Status = "ready"
	StatusLoadingMore Status = "loading_more"
	StatusExhausted   Status = "exhausted"
	StatusError       Status = "error"
	StatusRefetching  Status = "refetching"
)

// busy reports whether a fetch is in progress in this status.
func (s Status) busy() bool {
	switch s {
	case StatusLoading, StatusLoadingMore, StatusRefetching:
		return true
	default:
		return false
	}
}

// PagerState is the snapshot a Pager exposes to callers.
// Items is always the concatenation of Pages' items in page order.
type PagerState[T any] struct {
	Items         []T
	Pages         []core.Page[T]
	Filters       core.Filters
	CurrentPage   int
	HasMore       bool
	IsLoading     bool
	IsLoadingMore bool
	Err           error
	Retries       int
	Status        Status
}

// Pager accumulates the pages of a filtered collection and caches the sequence.
type Pager[T any] struct {
	cfg    PagerConfig
	policy cachekey.Policy
	store  *cache.Store
	fetch  core.FetchPageFunc[T]

	mu          sync.Mutex
	coord       *coordinator
	filters     core.Filters
	key         cachekey.Key
	pages       []core.Page[T]
	currentPage int
	hasMore     bool
	err         error
	retries     int
	status      Status
	subs        subscribers[PagerState[T]]
}

// NewPager creates a Pager and seeds it from the cache for the initial filters.
func NewPager[T any](store *cache.Store, cfg PagerConfig, fetch core.FetchPageFunc[T]) *Pager[T] {
	cfg = cfg.withDefaults()
	p := &Pager[T]{
		cfg:     cfg,
		policy:  cfg.policy(),
		store:   selectStore(store, cfg.MemoryOnly),
		fetch:   fetch,
		coord:   newCoordinator(),
		filters: cfg.Filters,
	}
	p.key = p.policy.Key(p.filters)
	p.seed(context.Background())
	return p
}

// Key returns the cache key of the current filter set.
func (p *Pager[T]) Key() cachekey.Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.key
}

// State returns the current snapshot.
func (p *Pager[T]) State() PagerState[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot()
}

// Subscribe registers fn for every state change and returns its unsubscribe func.
func (p *Pager[T]) Subscribe(fn func(PagerState[T])) func() {
	return p.subs.add(fn)
}

// Start fetches the first page when enabled, nothing is loaded or loading,
// and the retry ceiling has not been reached.
func (p *Pager[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.cfg.Disabled || p.coord.closed() || len(p.pages) > 0 || p.status.busy() || p.retries >= p.cfg.MaxRetries {
		p.mu.Unlock()
		return nil
	}
	h := p.begin(ctx, StatusLoading)
	return p.run(h, 1, StatusLoading)
}

// SetFilters switches to another filter set. Entries made stale by the switch
// are invalidated, state is reseeded from the cache and Start runs.
func (p *Pager[T]) SetFilters(ctx context.Context, filters core.Filters) error {
	next := filters.Clone()

	p.mu.Lock()
	if p.coord.closed() {
		p.mu.Unlock()
		return nil
	}
	nextKey := p.policy.Key(next)
	if nextKey == p.key {
		p.filters = next
		p.mu.Unlock()
		return p.Start(ctx)
	}

	prev, prevKey := p.filters, p.key
	p.coord.cancel()
	p.filters = next
	p.key = nextKey
	p.pages = nil
	p.currentPage = 0
	p.hasMore = true
	p.err = nil
	p.status = StatusIdle
	p.mu.Unlock()

	// Store calls may reach the durable tier and run without p.mu.
	invalidated := p.policy.Apply(ctx, p.store, prev, next)
	if len(invalidated) > 0 {
		slog.Debug("invalidated cache entries on filter change", "from", prevKey, "to", nextKey, "keys", invalidated)
	}
	p.seed(ctx)
	return p.Start(ctx)
}

// LoadMore fetches the page after the current one and appends it.
// It does nothing while a fetch is running or when there are no more pages.
func (p *Pager[T]) LoadMore(ctx context.Context) error {
	p.mu.Lock()
	if p.cfg.Disabled || p.coord.closed() || p.status.busy() || !p.hasMore {
		p.mu.Unlock()
		return nil
	}
	mode := StatusLoadingMore
	if len(p.pages) == 0 {
		mode = StatusLoading
	}
	h := p.begin(ctx, mode)
	return p.run(h, p.currentPage+1, mode)
}

// Refetch discards loaded pages and fetches page 1 again, resetting the retry counter.
func (p *Pager[T]) Refetch(ctx context.Context) error {
	p.mu.Lock()
	if p.coord.closed() {
		p.mu.Unlock()
		return nil
	}
	p.pages = nil
	p.currentPage = 0
	p.hasMore = true
	p.err = nil
	p.retries = 0
	h := p.begin(ctx, StatusRefetching)
	return p.run(h, 1, StatusRefetching)
}

// InvalidateCache deletes the cached pages for the current filters and refetches.
func (p *Pager[T]) InvalidateCache(ctx context.Context) error {
	p.store.Delete(ctx, p.Key().String())
	return p.Refetch(ctx)
}

// Close cancels any outstanding request.
func (p *Pager[T]) Close() {
	p.mu.Lock()
	p.coord.close()
	p.mu.Unlock()
}

// seed loads pages for the current key from the cache.
func (p *Pager[T]) seed(ctx context.Context) {
	p.mu.Lock()
	key := p.key
	p.mu.Unlock()

	var pages []core.Page[T]
	if entry, ok := p.store.Get(ctx, key.String()); ok {
		decoded, err := cache.DecodePaged[T](entry)
		if err != nil {
			slog.Warn("discarding undecodable cache entry", "key", key, "error", err)
			p.store.Delete(ctx, key.String())
		} else {
			pages = decoded
		}
	}

	p.mu.Lock()
	if p.key != key {
		p.mu.Unlock()
		return
	}
	p.err = nil
	if len(pages) == 0 {
		p.pages = nil
		p.currentPage = 0
		p.hasMore = true
		p.status = StatusIdle
	} else {
		last := pages[len(pages)-1].Pagination
		p.pages = pages
		p.currentPage = last.PageNumber
		p.hasMore = last.HasMore
		p.status = p.settledStatus()
	}
	state := p.snapshot()
	p.mu.Unlock()
	p.subs.publish(state)
}

// begin issues a handle and enters mode. It must be called with p.mu held.
func (p *Pager[T]) begin(ctx context.Context, mode Status) *handle {
	h := p.coord.begin(ctx)
	p.status = mode
	p.err = nil
	return h
}

// run is entered with p.mu held and releases it. It fetches pageNumber and
// commits the result if h is still current.
func (p *Pager[T]) run(h *handle, pageNumber int, mode Status) error {
	key := p.key
	filters := p.filters.Clone()
	size := p.cfg.PageSize
	state := p.snapshot()
	p.mu.Unlock()
	p.subs.publish(state)

	page, err := p.fetch(h.ctx, pageNumber, size, filters)

	p.mu.Lock()
	if !p.coord.finish(h) {
		p.mu.Unlock()
		supersededTotal.Inc()
		slog.Debug("dropping superseded page", "page", pageNumber, "request_id", h.id, "error", core.NewSupersededError(key.String()))
		return nil
	}

	if err != nil {
		if canceled(h, err) {
			fetchesTotal.WithLabelValues(controllerPager, outcomeCanceled).Inc()
			p.status = p.settledStatus()
			state := p.snapshot()
			p.mu.Unlock()
			p.subs.publish(state)
			return err
		}
		fetchesTotal.WithLabelValues(controllerPager, outcomeError).Inc()
		p.retries++
		p.err = err
		p.status = StatusError
		state := p.snapshot()
		p.mu.Unlock()
		slog.Debug("page fetch failed", "key", key, "page", pageNumber, "retries", state.Retries, "error", err)
		p.subs.publish(state)
		return err
	}

	fetchesTotal.WithLabelValues(controllerPager, outcomeSuccess).Inc()
	if mode == StatusLoadingMore {
		p.pages = append(p.pages, page)
	} else {
		p.pages = []core.Page[T]{page}
	}
	core.SortPages(p.pages)
	p.currentPage = pageNumber
	p.hasMore = page.Pagination.HasMore
	p.retries = 0
	p.err = nil
	p.status = p.settledStatus()

	entry, encErr := cache.NewPagedEntry(p.pages, p.store.Now(), p.cfg.TTL)
	if encErr != nil {
		slog.Error("failed to build cache entry", "key", key, "error", encErr)
	} else {
		p.store.Set(context.WithoutCancel(h.ctx), key.String(), entry)
	}
	state = p.snapshot()
	p.mu.Unlock()
	p.subs.publish(state)
	return nil
}

// settledStatus derives the resting status from loaded pages. Callers hold p.mu.
func (p *Pager[T]) settledStatus() Status {
	switch {
	case p.err != nil:
		return StatusError
	case len(p.pages) == 0:
		return StatusIdle
	case !p.hasMore:
		return StatusExhausted
	default:
		return StatusReady
	}
}

// snapshot copies the state. Callers hold p.mu.
func (p *Pager[T]) snapshot() PagerState[T] {
	pages := make([]core.Page[T], len(p.pages))
	copy(pages, p.pages)
	return PagerState[T]{
		Items:         core.Flatten(pages),
		Pages:         pages,
		Filters:       p.filters.Clone(),
		CurrentPage:   p.currentPage,
		HasMore:       p.hasMore,
		IsLoading:     p.status == StatusLoading || p.status == StatusRefetching,
		IsLoadingMore: p.status == StatusLoadingMore,
		Err:           p.err,
		Retries:       p.retries,
		Status:        p.status,
	}
}
