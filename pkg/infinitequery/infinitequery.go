// Package infinitequery extends package query's per-key state machine to
// paginated ("infinite") queries: the cached value is a whole page list
// fetched and extended incrementally.
package infinitequery

import (
	"context"
	"reflect"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orneryd/rquery/pkg/cache"
	"github.com/orneryd/rquery/pkg/metrics"
	"github.com/orneryd/rquery/pkg/tracing"
)

// Fn fetches a single page for pageParam.
type Fn[T, PageParam any] func(ctx context.Context, pageParam PageParam) (T, error)

// Status tags an InfiniteQueryState[T] value.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusRefetching
	StatusError
	StatusFetchingNextPage
	StatusFetchingPreviousPage
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusLoading:
		return "Loading"
	case StatusSuccess:
		return "Success"
	case StatusRefetching:
		return "Refetching"
	case StatusError:
		return "Error"
	case StatusFetchingNextPage:
		return "FetchingNextPage"
	case StatusFetchingPreviousPage:
		return "FetchingPreviousPage"
	default:
		return "Unknown"
	}
}

// Data holds a full loaded page list, treated atomically and stored in the
// cache as one entry per key, not per page.
type Data[T any] struct {
	Pages           []T
	HasNextPage     bool
	HasPreviousPage bool
	FetchedAt       time.Time
}

// State is the caller-visible status/data pair for an infinite query.
type State[T any] struct {
	Status     Status
	Data       Data[T]
	Err        error
	StackTrace string
}

// Options configures an infinite query Engine.
type Options[T, PageParam any] struct {
	StaleTime        time.Duration
	CacheTime        time.Duration
	Retry            int
	RetryDelay       time.Duration
	Enabled          bool
	KeepPreviousData bool

	InitialPageParam PageParam

	// GetNextPageParam computes the next page's param from the last loaded
	// page and the full page list so far. A false second return terminates
	// that direction.
	GetNextPageParam func(lastPage T, allPages []T) (PageParam, bool)
	// GetPreviousPageParam is optional; a nil value means the query has no
	// backward pagination and HasPreviousPage is always false.
	GetPreviousPageParam func(firstPage T, allPages []T) (PageParam, bool)

	OnSuccess func(data Data[T])
	OnError   func(err error, stackTrace string)

	// Equal compares two loaded page lists for cache-listener reconciliation.
	// Defaults to reflect.DeepEqual.
	Equal func(a, b Data[T]) bool

	Metrics *metrics.Recorder
}

func (o Options[T, PageParam]) equalFn() func(a, b Data[T]) bool {
	if o.Equal != nil {
		return o.Equal
	}
	return func(a, b Data[T]) bool { return reflect.DeepEqual(a, b) }
}

// Engine is the pagination-aware per-key state machine driving FetchNextPage,
// FetchPreviousPage, and Refetch.
type Engine[T, PageParam any] struct {
	mu sync.Mutex

	instanceID string

	name string
	key  string
	c    *cache.Cache
	fn   Fn[T, PageParam]
	opts Options[T, PageParam]

	state      State[T]
	isDisposed bool

	listeners    map[uint64]func(State[T])
	nextListener uint64

	cacheHandle *cache.Handle

	ctx    context.Context
	cancel context.CancelFunc
}

// Handle detaches a Subscribe callback. Safe to Close more than once.
type Handle struct {
	detach func()
	once   sync.Once
}

// Close detaches the subscription.
func (h *Handle) Close() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if h.detach != nil {
			h.detach()
		}
	})
}

// New builds an Engine and resolves its initial state: a fresh cached page
// list is adopted as-is; otherwise the first page (InitialPageParam) is
// fetched before New returns.
func New[T, PageParam any](c *cache.Cache, name, key string, fn Fn[T, PageParam], opts Options[T, PageParam]) *Engine[T, PageParam] {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine[T, PageParam]{
		instanceID: uuid.NewString(),
		name:       name,
		key:        key,
		c:          c,
		fn:         fn,
		opts:       opts,
		listeners:  make(map[uint64]func(State[T])),
		ctx:        ctx,
		cancel:     cancel,
	}

	e.cacheHandle = c.AddListener(key, e.onCacheChange)

	if entry, data, ok := cache.Get[Data[T]](c, key); ok && entry.HasData() && !entry.IsStale(time.Now()) {
		e.state = State[T]{Status: StatusSuccess, Data: data}
	} else {
		e.loadFromScratch(false)
	}
	return e
}

// InstanceID returns the engine's unique identifier, useful for correlating
// trace spans across multiple engines subscribed to the same key.
func (e *Engine[T, PageParam]) InstanceID() string {
	return e.instanceID
}

// State returns the current visible state.
func (e *Engine[T, PageParam]) State() State[T] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe registers cb for every state change, delivering the current
// state immediately.
func (e *Engine[T, PageParam]) Subscribe(cb func(State[T])) *Handle {
	e.mu.Lock()
	e.nextListener++
	id := e.nextListener
	e.listeners[id] = cb
	current := e.state
	e.mu.Unlock()

	cb(current)
	return &Handle{detach: func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}}
}

// Dispose detaches the cache subscription, cancels the engine's context, and
// marks it disposed so in-flight goroutines drop their results instead of
// applying them.
func (e *Engine[T, PageParam]) Dispose() {
	e.mu.Lock()
	if e.isDisposed {
		e.mu.Unlock()
		return
	}
	e.isDisposed = true
	e.cancel()
	e.mu.Unlock()

	if e.cacheHandle != nil {
		e.cacheHandle.Close()
	}
}

// onCacheChange reconciles engine state after another engine sharing this
// key (or a direct cache mutation) changes the cached page list: an
// eviction triggers a refetch, and a changed value is adopted and fanned
// out, mirroring package query's cache-listener reconciliation.
func (e *Engine[T, PageParam]) onCacheChange(_ string, entry *cache.Entry) {
	e.mu.Lock()
	if e.isDisposed {
		e.mu.Unlock()
		return
	}

	if entry == nil {
		e.mu.Unlock()
		e.Refetch()
		return
	}

	if !entry.HasData() {
		e.mu.Unlock()
		return
	}
	data, ok := entry.Data.(Data[T])
	if !ok {
		e.mu.Unlock()
		return
	}
	if e.state.Status == StatusSuccess && e.opts.equalFn()(e.state.Data, data) {
		e.mu.Unlock()
		return
	}

	s := State[T]{Status: StatusSuccess, Data: data}
	listeners := e.applyLocked(s)
	e.mu.Unlock()
	fanOut(s, listeners)
}

// FetchNextPage loads and appends the next page. It is a no-op unless the
// engine is currently Success with HasNextPage true.
func (e *Engine[T, PageParam]) FetchNextPage() error {
	e.mu.Lock()
	if e.state.Status != StatusSuccess || !e.state.Data.HasNextPage || len(e.state.Data.Pages) == 0 {
		e.mu.Unlock()
		return nil
	}
	pages := append([]T{}, e.state.Data.Pages...)
	lastPage := pages[len(pages)-1]
	param, more := e.opts.GetNextPageParam(lastPage, pages)
	if !more {
		e.mu.Unlock()
		return nil
	}
	hadPrev := e.state.Data.HasPreviousPage
	fetchedAt := e.state.Data.FetchedAt
	transitional := State[T]{Status: StatusFetchingNextPage, Data: e.state.Data}
	listeners := e.applyLocked(transitional)
	e.mu.Unlock()
	fanOut(transitional, listeners)

	page, err := e.fetchOne(param)
	if err != nil {
		stack := string(debug.Stack())
		if e.opts.OnError != nil {
			e.opts.OnError(err, stack)
		}
		// on failure, retain the prior state.
		e.emit(State[T]{Status: StatusSuccess, Data: Data[T]{Pages: pages, HasNextPage: true, HasPreviousPage: hadPrev, FetchedAt: fetchedAt}})
		return err
	}

	newPages := append(pages, page)
	hasNext := e.computeHasNext(newPages)
	e.writeAndEmitSuccess(newPages, hasNext, hadPrev)
	return nil
}

// FetchPreviousPage loads and prepends the previous page, symmetric to
// FetchNextPage.
func (e *Engine[T, PageParam]) FetchPreviousPage() error {
	e.mu.Lock()
	if e.state.Status != StatusSuccess || !e.state.Data.HasPreviousPage || len(e.state.Data.Pages) == 0 || e.opts.GetPreviousPageParam == nil {
		e.mu.Unlock()
		return nil
	}
	pages := append([]T{}, e.state.Data.Pages...)
	firstPage := pages[0]
	param, more := e.opts.GetPreviousPageParam(firstPage, pages)
	if !more {
		e.mu.Unlock()
		return nil
	}
	hadNext := e.state.Data.HasNextPage
	fetchedAt := e.state.Data.FetchedAt
	transitional := State[T]{Status: StatusFetchingPreviousPage, Data: e.state.Data}
	listeners := e.applyLocked(transitional)
	e.mu.Unlock()
	fanOut(transitional, listeners)

	page, err := e.fetchOne(param)
	if err != nil {
		stack := string(debug.Stack())
		if e.opts.OnError != nil {
			e.opts.OnError(err, stack)
		}
		e.emit(State[T]{Status: StatusSuccess, Data: Data[T]{Pages: pages, HasNextPage: hadNext, HasPreviousPage: true, FetchedAt: fetchedAt}})
		return err
	}

	newPages := append([]T{page}, pages...)
	hasPrev := e.computeHasPrevious(newPages)
	e.writeAndEmitSuccess(newPages, hadNext, hasPrev)
	return nil
}

// Refetch re-fetches exactly as many pages as currently loaded, starting
// from InitialPageParam and chaining through GetNextPageParam.
func (e *Engine[T, PageParam]) Refetch() error {
	e.mu.Lock()
	pageCount := len(e.state.Data.Pages)
	if pageCount == 0 {
		pageCount = 1
	}
	keepPrevious := e.opts.KeepPreviousData
	prior := e.state.Data
	var transitional State[T]
	if keepPrevious {
		transitional = State[T]{Status: StatusRefetching, Data: prior}
	} else {
		transitional = State[T]{Status: StatusLoading}
	}
	listeners := e.applyLocked(transitional)
	e.mu.Unlock()
	fanOut(transitional, listeners)

	pages, err := e.fetchNPages(pageCount)
	if err != nil {
		stack := string(debug.Stack())
		if e.opts.OnError != nil {
			e.opts.OnError(err, stack)
		}
		if keepPrevious {
			e.emit(State[T]{Status: StatusSuccess, Data: prior})
		} else {
			e.emit(State[T]{Status: StatusError, Err: err, StackTrace: stack})
		}
		return err
	}

	e.writeAndEmitSuccess(pages, e.computeHasNext(pages), e.computeHasPrevious(pages))
	return nil
}

func (e *Engine[T, PageParam]) loadFromScratch(keepPrevious bool) {
	if keepPrevious {
		e.state = State[T]{Status: StatusRefetching, Data: e.state.Data}
	} else {
		e.state = State[T]{Status: StatusLoading}
	}

	pages, err := e.fetchNPages(1)
	if err != nil {
		stack := string(debug.Stack())
		e.state = State[T]{Status: StatusError, Err: err, StackTrace: stack}
		if e.opts.OnError != nil {
			e.opts.OnError(err, stack)
		}
		return
	}

	now := time.Now()
	data := Data[T]{Pages: pages, HasNextPage: e.computeHasNext(pages), HasPreviousPage: e.computeHasPrevious(pages), FetchedAt: now}
	cache.SetData(e.c, e.key, data, cache.Options{StaleTime: e.opts.StaleTime, CacheTime: e.opts.CacheTime}, now, true)
	e.state = State[T]{Status: StatusSuccess, Data: data}
	if e.opts.OnSuccess != nil {
		e.opts.OnSuccess(data)
	}
}

func (e *Engine[T, PageParam]) fetchNPages(n int) ([]T, error) {
	pages := make([]T, 0, n)
	param := e.opts.InitialPageParam
	for i := 0; i < n; i++ {
		page, err := e.fetchOne(param)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
		if i == n-1 {
			break
		}
		next, more := e.opts.GetNextPageParam(page, pages)
		if !more {
			break
		}
		param = next
	}
	return pages, nil
}

func (e *Engine[T, PageParam]) fetchOne(param PageParam) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			time.Sleep(e.opts.RetryDelay)
		}
		if e.opts.Metrics != nil {
			e.opts.Metrics.RecordFetchAttempt(e.key)
		}
		var page T
		err := tracing.AttemptFor(e.ctx, "rquery.infinite_fetch", e.instanceID, e.key, attempt, func(ctx context.Context) error {
			var ferr error
			page, ferr = e.fn(ctx, param)
			return ferr
		})
		if err == nil {
			return page, nil
		}
		lastErr = err
		if attempt >= e.opts.Retry {
			return zero, lastErr
		}
		if e.opts.Metrics != nil {
			e.opts.Metrics.RecordFetchRetry(e.key)
		}
	}
}

func (e *Engine[T, PageParam]) computeHasNext(pages []T) bool {
	if len(pages) == 0 || e.opts.GetNextPageParam == nil {
		return false
	}
	_, more := e.opts.GetNextPageParam(pages[len(pages)-1], pages)
	return more
}

func (e *Engine[T, PageParam]) computeHasPrevious(pages []T) bool {
	if len(pages) == 0 || e.opts.GetPreviousPageParam == nil {
		return false
	}
	_, more := e.opts.GetPreviousPageParam(pages[0], pages)
	return more
}

func (e *Engine[T, PageParam]) writeAndEmitSuccess(pages []T, hasNext, hasPrev bool) {
	now := time.Now()
	data := Data[T]{Pages: pages, HasNextPage: hasNext, HasPreviousPage: hasPrev, FetchedAt: now}
	cache.SetData(e.c, e.key, data, cache.Options{StaleTime: e.opts.StaleTime, CacheTime: e.opts.CacheTime}, now, true)
	e.emit(State[T]{Status: StatusSuccess, Data: data})
	if e.opts.OnSuccess != nil {
		e.opts.OnSuccess(data)
	}
}

// applyLocked sets state and returns a listener snapshot to fan out after
// the caller releases e.mu, mirroring package query's lock-then-snapshot
// pattern.
func (e *Engine[T, PageParam]) applyLocked(s State[T]) []func(State[T]) {
	e.state = s
	out := make([]func(State[T]), 0, len(e.listeners))
	for _, l := range e.listeners {
		out = append(out, l)
	}
	return out
}

func (e *Engine[T, PageParam]) emit(s State[T]) {
	e.mu.Lock()
	listeners := e.applyLocked(s)
	e.mu.Unlock()
	fanOut(s, listeners)
}

func fanOut[T any](s State[T], listeners []func(State[T])) {
	for _, l := range listeners {
		l(s)
	}
}
