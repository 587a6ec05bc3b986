package query

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orneryd/rquery/pkg/cache"
	"github.com/orneryd/rquery/pkg/lifecycle"
	"github.com/orneryd/rquery/pkg/metrics"
	"github.com/orneryd/rquery/pkg/tracing"
	"golang.org/x/sync/singleflight"
)

// ErrDisabled is returned by RequireData when neither the engine state nor
// the cache holds a value, as for a disabled query with nothing cached, for
// callers that need a synchronous value rather than an Idle state.
var ErrDisabled = errors.New("query: disabled with no cached data")

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

// Deps bundles an Engine's optional collaborators. All fields are optional;
// a zero Deps yields an engine with no lifecycle-driven revalidation and no
// metrics, exercising only the cache and queryFn.
type Deps struct {
	Foreground  lifecycle.ForegroundSource
	WindowFocus lifecycle.WindowFocusSource
	Metrics     *metrics.Recorder

	// SingleFlight, when shared across every Engine bound to the same
	// cache, collapses concurrent fetches for the same key issued by
	// distinct engine instances into one queryFn invocation (testable
	// property 8's cross-engine case; the same-engine case is additionally
	// guarded by isFetching below). A nil value gives the engine its own
	// private group, which still dedupes concurrent calls on itself.
	SingleFlight *singleflight.Group
}

// Engine is the per-key, per-observation state machine: it owns a cache
// subscription, an optional lifecycle subscription, a retry loop, and the
// caller-visible State[T].
type Engine[T any] struct {
	mu sync.Mutex

	instanceID string // unique per Engine, distinguishes observers of the same key in traces

	name string // query name, used for breaker grouping
	key  string // full derived cache key, also the metrics label
	c    *cache.Cache
	fn   Fn[T]
	opts Options[T]

	foreground  lifecycle.ForegroundSource
	windowFocus lifecycle.WindowFocusSource
	metricsRec  *metrics.Recorder
	sf          *singleflight.Group

	state          State[T]
	errorUpdatedAt time.Time
	retryCount     int
	isFetching     bool
	isRefetchPaused bool
	isDisposed     bool

	listeners    map[uint64]func(State[T])
	nextListener uint64

	cacheHandle  *cache.Handle
	resumeHandle *lifecycle.Handle
	pauseHandle  *lifecycle.Handle
	focusHandle  *lifecycle.Handle

	refetchTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds an Engine bound to key, subscribes it to c and (if supplied)
// to deps' lifecycle sources, resolves its initial state from the cache,
// and arms the refetch interval timer if configured.
//
// name identifies the query family (e.g. "users") for breaker grouping;
// key is the full derived cache key (see package querykey), which may equal
// name for unparameterised queries and labels this engine's metrics.
func New[T any](c *cache.Cache, name, key string, fn Fn[T], opts Options[T], deps Deps) *Engine[T] {
	if opts.Equal == nil {
		opts.Equal = opts.equalFn()
	}
	sf := deps.SingleFlight
	if sf == nil {
		sf = &singleflight.Group{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine[T]{
		instanceID:  uuid.NewString(),
		name:        name,
		key:         key,
		c:           c,
		fn:          fn,
		opts:        opts,
		foreground:  deps.Foreground,
		windowFocus: deps.WindowFocus,
		metricsRec:  deps.Metrics,
		sf:          sf,
		listeners:   make(map[uint64]func(State[T])),
		ctx:         ctx,
		cancel:      cancel,
	}

	e.cacheHandle = c.AddListener(key, e.onCacheChange)
	if deps.Foreground != nil && (opts.RefetchOnAppFocus || opts.PauseRefetchInBackground) {
		e.resumeHandle = deps.Foreground.OnResume(e.onResume)
		e.pauseHandle = deps.Foreground.OnPause(e.onPause)
	}
	if deps.WindowFocus != nil && opts.RefetchOnWindowFocus && deps.WindowFocus.IsSupported() {
		e.focusHandle = deps.WindowFocus.OnFocus(e.onFocus)
	}

	e.resolveInitial()
	e.armRefetchInterval()
	return e
}

// State returns the engine's current visible state.
func (e *Engine[T]) State() State[T] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Snapshot returns debug-facing metadata about this engine's state.
func (e *Engine[T]) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	var dataAt time.Time
	if e.state.HasData() {
		dataAt = e.state.FetchedAt
	}
	return Snapshot{
		InstanceID:     e.instanceID,
		Status:         e.state.Status,
		DataUpdatedAt:  dataAt,
		ErrorUpdatedAt: e.errorUpdatedAt,
		IsFetching:     e.isFetching,
		IsPaused:       e.isRefetchPaused,
	}
}

// RequireData returns the engine's visible data or, when there is none,
// this key's cached data, for callers that need a value synchronously
// rather than observing State transitions. With neither it returns
// ErrDisabled; that includes an enabled query that is still Loading or has
// failed, not only a disabled one.
func (e *Engine[T]) RequireData() (T, error) {
	e.mu.Lock()
	if e.state.HasData() {
		data := e.state.Data
		e.mu.Unlock()
		return data, nil
	}
	e.mu.Unlock()
	if _, data, ok := cache.Get[T](e.c, e.key); ok {
		return data, nil
	}
	var zero T
	return zero, ErrDisabled
}

// Subscribe registers cb for every subsequent state change and delivers
// the current state immediately. Closing the returned Handle detaches cb.
func (e *Engine[T]) Subscribe(cb func(State[T])) *Handle {
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

// Refetch re-runs the fetch algorithm with forceRemote=true, bypassing the
// freshness check. background=true suppresses the Loading/Refetching
// transition and never clobbers visible state on failure.
func (e *Engine[T]) Refetch(background bool) {
	e.fetch(e.ctx, true, background)
}

// Refresh clears the cache entry for this key, then refetches in the
// foreground.
func (e *Engine[T]) Refresh() {
	e.c.Remove(e.key, false)
	e.fetch(e.ctx, true, false)
}

// SetData writes data through to the cache and emits Success immediately.
func (e *Engine[T]) SetData(data T) {
	now := time.Now()
	cache.SetData(e.c, e.key, data, e.cacheOptions(), now, true)
	e.setState(State[T]{Status: StatusSuccess, Data: data, FetchedAt: now})
}

// PauseRefetch suppresses the next interval-timer tick.
func (e *Engine[T]) PauseRefetch() {
	e.mu.Lock()
	e.isRefetchPaused = true
	e.mu.Unlock()
}

// ResumeRefetch clears a pause set by PauseRefetch or an app-background
// transition.
func (e *Engine[T]) ResumeRefetch() {
	e.mu.Lock()
	e.isRefetchPaused = false
	e.mu.Unlock()
}

// GetCachedData reads the current cache entry for this key without going
// through engine state.
func (e *Engine[T]) GetCachedData() (T, bool) {
	_, data, ok := cache.Get[T](e.c, e.key)
	return data, ok
}

// Dispose detaches every subscription, stops the interval timer, cancels
// the engine's context, and marks it disposed so in-flight goroutines drop
// their results instead of applying them.
func (e *Engine[T]) Dispose() {
	e.mu.Lock()
	if e.isDisposed {
		e.mu.Unlock()
		return
	}
	e.isDisposed = true
	if e.refetchTimer != nil {
		e.refetchTimer.Stop()
	}
	e.cancel()
	e.mu.Unlock()

	if e.cacheHandle != nil {
		e.cacheHandle.Close()
	}
	if e.resumeHandle != nil {
		e.resumeHandle.Close()
	}
	if e.pauseHandle != nil {
		e.pauseHandle.Close()
	}
	if e.focusHandle != nil {
		e.focusHandle.Close()
	}
}

// resolveInitial resolves the engine's state from whatever is already in
// the cache: a fresh hit is served as Success (followed by a background
// refetch when RefetchOnMount is set), a stale hit is served as Refetching
// while a background refetch runs when KeepPreviousData is set, and
// anything else triggers a foreground fetch.
func (e *Engine[T]) resolveInitial() {
	if !e.opts.Enabled {
		e.setState(State[T]{Status: StatusIdle})
		return
	}

	entry, data, ok := cache.Get[T](e.c, e.key)
	now := time.Now()

	switch {
	case ok && entry.HasData() && !entry.IsStale(now):
		e.setState(State[T]{Status: StatusSuccess, Data: data, FetchedAt: entry.FetchedAt})
		if e.opts.RefetchOnMount {
			e.fetch(e.ctx, true, true)
		}
	case e.opts.KeepPreviousData && ok && entry.HasData():
		e.setState(State[T]{Status: StatusRefetching, Data: data, FetchedAt: entry.FetchedAt})
		e.fetch(e.ctx, true, true)
	default:
		e.fetch(e.ctx, false, false)
	}
}

// fetch runs the fetch algorithm. background=true suppresses the
// Loading/Refetching transition and never clobbers visible state on
// failure.
func (e *Engine[T]) fetch(ctx context.Context, forceRemote, background bool) {
	e.mu.Lock()
	if e.isDisposed || !e.opts.Enabled {
		e.mu.Unlock()
		return
	}
	if e.isFetching {
		e.mu.Unlock()
		return
	}

	entry, data, ok := cache.Get[T](e.c, e.key)
	now := time.Now()
	if !forceRemote && ok && entry.HasData() && !entry.IsStale(now) {
		s := State[T]{Status: StatusSuccess, Data: data, FetchedAt: entry.FetchedAt}
		listeners := e.applyLocked(s)
		e.mu.Unlock()
		fanOut(s, listeners)
		return
	}

	var prior T
	var priorFetchedAt time.Time
	havePrior := false
	if e.opts.KeepPreviousData {
		if e.state.HasData() {
			prior, priorFetchedAt, havePrior = e.state.Data, e.state.FetchedAt, true
		} else if ok && entry.HasData() {
			prior, priorFetchedAt, havePrior = data, entry.FetchedAt, true
		}
	}

	e.isFetching = true

	var listeners []func(State[T])
	var emitted State[T]
	emit := !background
	if emit {
		if havePrior {
			emitted = State[T]{Status: StatusRefetching, Data: prior, FetchedAt: priorFetchedAt}
		} else {
			emitted = State[T]{Status: StatusLoading}
		}
		listeners = e.applyLocked(emitted)
	}
	e.mu.Unlock()

	if emit {
		fanOut(emitted, listeners)
	}

	go e.runFetch(ctx, background)
}

// runFetch performs the retry loop (de-duplicated across concurrent callers
// via singleflight) and applies the terminal result.
func (e *Engine[T]) runFetch(ctx context.Context, background bool) {
	v, err, _ := e.sf.Do(e.key, func() (any, error) {
		return e.attemptWithRetry(ctx)
	})

	e.mu.Lock()
	e.isFetching = false
	if e.isDisposed {
		e.mu.Unlock()
		return
	}

	if err != nil {
		e.retryCount = 0
		if background {
			e.mu.Unlock()
			if e.metricsRec != nil {
				e.metricsRec.RecordBackgroundFailure(e.key)
			}
			return
		}
		stack := string(debug.Stack())
		e.errorUpdatedAt = time.Now()
		s := State[T]{Status: StatusError, Err: err, StackTrace: stack}
		listeners := e.applyLocked(s)
		e.mu.Unlock()

		cache.SetError(e.c, e.key, err, stack, e.cacheOptions(), time.Now())
		fanOut(s, listeners)
		if e.opts.OnError != nil {
			e.opts.OnError(err, stack)
		}
		if e.metricsRec != nil {
			e.metricsRec.RecordFetchFailure(e.key)
		}
		return
	}

	data, _ := v.(T)
	e.retryCount = 0
	now := time.Now()
	e.mu.Unlock()

	cache.SetData(e.c, e.key, data, e.cacheOptions(), now, true)

	e.mu.Lock()
	if e.isDisposed {
		e.mu.Unlock()
		return
	}
	s := State[T]{Status: StatusSuccess, Data: data, FetchedAt: now}
	listeners := e.applyLocked(s)
	e.mu.Unlock()

	fanOut(s, listeners)
	if e.opts.OnSuccess != nil {
		e.opts.OnSuccess(data)
	}
}

// attemptWithRetry runs queryFn up to 1+Retry times, sleeping RetryDelay
// between attempts, matching testable property 3 ("retry bound").
func (e *Engine[T]) attemptWithRetry(ctx context.Context) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			time.Sleep(e.opts.RetryDelay)
		}
		if e.metricsRec != nil {
			e.metricsRec.RecordFetchAttempt(e.key)
		}

		var data T
		call := func(ctx context.Context) error {
			var ferr error
			data, ferr = e.fn(ctx)
			return ferr
		}

		var err error
		if e.opts.Breaker != nil {
			_, err = e.opts.Breaker.Execute(e.name, func() (any, error) {
				return nil, tracing.AttemptFor(ctx, "rquery.fetch", e.instanceID, e.key, attempt, call)
			})
		} else {
			err = tracing.AttemptFor(ctx, "rquery.fetch", e.instanceID, e.key, attempt, call)
		}

		if err == nil {
			return data, nil
		}
		lastErr = err
		if attempt >= e.opts.Retry {
			return zero, lastErr
		}
		if e.metricsRec != nil {
			e.metricsRec.RecordFetchRetry(e.key)
		}
	}
}

// onCacheChange reconciles engine state after another engine (or a direct
// cache mutation) changes this key's entry.
func (e *Engine[T]) onCacheChange(_ string, entry *cache.Entry) {
	e.mu.Lock()
	if e.isDisposed {
		e.mu.Unlock()
		return
	}

	if entry == nil {
		onEvicted := e.opts.OnCacheEvicted
		e.mu.Unlock()
		if onEvicted != nil {
			onEvicted()
			return
		}
		e.Refetch(false)
		return
	}

	if !entry.HasData() {
		e.mu.Unlock()
		return
	}
	data, ok := entry.Data.(T)
	if !ok {
		e.mu.Unlock()
		return
	}
	if e.state.HasData() && e.opts.equalFn()(e.state.Data, data) {
		e.mu.Unlock()
		return
	}

	s := State[T]{Status: StatusSuccess, Data: data, FetchedAt: entry.FetchedAt}
	listeners := e.applyLocked(s)
	e.mu.Unlock()
	fanOut(s, listeners)
}

func (e *Engine[T]) onResume() {
	e.mu.Lock()
	if e.opts.PauseRefetchInBackground {
		e.isRefetchPaused = false
	}
	refetchOnResume := e.opts.RefetchOnAppFocus
	enabled := e.opts.Enabled
	e.mu.Unlock()
	if !refetchOnResume || !enabled {
		return
	}
	if entry, _, ok := cache.Get[T](e.c, e.key); ok && entry.IsStale(time.Now()) {
		e.Refetch(true)
	}
}

func (e *Engine[T]) onPause() {
	if !e.opts.PauseRefetchInBackground {
		return
	}
	e.mu.Lock()
	e.isRefetchPaused = true
	e.mu.Unlock()
}

func (e *Engine[T]) onFocus() {
	e.mu.Lock()
	enabled := e.opts.Enabled
	e.mu.Unlock()
	if !enabled {
		return
	}
	if entry, _, ok := cache.Get[T](e.c, e.key); ok && entry.IsStale(time.Now()) {
		e.Refetch(true)
	}
}

func (e *Engine[T]) armRefetchInterval() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isDisposed || e.opts.RefetchInterval <= 0 {
		return
	}
	if e.refetchTimer != nil {
		e.refetchTimer.Stop()
	}
	e.refetchTimer = time.AfterFunc(e.opts.RefetchInterval, e.onIntervalTick)
}

func (e *Engine[T]) onIntervalTick() {
	e.mu.Lock()
	if e.isDisposed {
		e.mu.Unlock()
		return
	}
	paused := e.isRefetchPaused
	e.mu.Unlock()

	if !paused {
		e.Refetch(true)
	}
	e.armRefetchInterval()
}

func (e *Engine[T]) cacheOptions() cache.Options {
	return cache.Options{StaleTime: e.opts.StaleTime, CacheTime: e.opts.CacheTime}
}

// applyLocked sets the engine's visible state and returns a snapshot of
// listeners to fan out to after the caller releases e.mu, mirroring
// package cache's lock-then-snapshot-then-notify-unlocked pattern.
func (e *Engine[T]) applyLocked(s State[T]) []func(State[T]) {
	e.state = s
	out := make([]func(State[T]), 0, len(e.listeners))
	for _, l := range e.listeners {
		out = append(out, l)
	}
	return out
}

func (e *Engine[T]) setState(s State[T]) {
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
