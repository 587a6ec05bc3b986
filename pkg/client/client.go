// Package client provides Client, a thin façade over a single process-wide
// cache instance. It does not itself run fetches — that is package
// query/infinitequery/mutation's job — but coordinates external operations
// (invalidation, direct cache writes, scheduled refetch) across every
// engine subscribed to affected keys.
package client

import (
	"sync"
	"time"

	"github.com/orneryd/rquery/pkg/cache"
	"github.com/orneryd/rquery/pkg/metrics"
)

// Client is a façade over a *cache.Cache. It is not itself a singleton, so
// tests can construct independent clients wrapping independent caches.
type Client struct {
	mu sync.Mutex

	cache      *cache.Cache
	metricsRec *metrics.Recorder

	scheduled map[string]*time.Timer
}

// Option configures optional Client collaborators.
type Option func(*Client)

// WithMetrics attaches r to the Client: every GetCacheStats and
// CleanupCache call also pushes the current cache.Stats snapshot into r's
// gauges.
func WithMetrics(r *metrics.Recorder) Option {
	return func(cl *Client) { cl.metricsRec = r }
}

// New wraps c in a Client. A nil c is replaced with a fresh cache.New().
func New(c *cache.Cache, opts ...Option) *Client {
	if c == nil {
		c = cache.New()
	}
	cl := &Client{cache: c, scheduled: make(map[string]*time.Timer)}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// Cache returns the underlying cache, for callers (package query's Engine
// constructors) that need direct access.
func (cl *Client) Cache() *cache.Cache {
	return cl.cache
}

// InvalidateQueries removes every cache entry whose key contains pattern.
// Removal notifies listeners with nil, so every active engine for those
// keys observes the eviction and reacts per its OnCacheEvicted policy
// (default: refetch).
func (cl *Client) InvalidateQueries(pattern string) int {
	return cl.cache.RemoveByPattern(pattern)
}

// InvalidateAll removes every cache entry.
func (cl *Client) InvalidateAll() {
	cl.cache.Clear()
}

// RemoveQueries is an alias for InvalidateQueries kept as a distinct name
// for callers that think of the operation as removal rather than
// invalidation; the two behave identically.
func (cl *Client) RemoveQueries(pattern string) int {
	return cl.cache.RemoveByPattern(pattern)
}

// SetQueryData writes data under key, notifying subscribed engines.
func SetQueryData[T any](cl *Client, key string, data T) {
	cache.SetData(cl.cache, key, data, cache.Options{StaleTime: defaultStaleTime, CacheTime: defaultCacheTime}, time.Time{}, true)
}

// GetQueryData reads key's cached payload as T, if present and not yet
// evicted.
func GetQueryData[T any](cl *Client, key string) (T, bool) {
	_, data, ok := cache.Get[T](cl.cache, key)
	return data, ok
}

// HasQueryData reports whether key currently has an entry. Error entries,
// and entries past their CacheTime that have not yet been removed, also
// count; hit/miss statistics and LRU order are not touched.
func (cl *Client) HasQueryData(key string) bool {
	return cl.cache.ContainsKey(key)
}

// GetCacheStats returns a snapshot of cache.Stats, also pushing it to the
// attached metrics.Recorder (if any) so a scrape always reflects the most
// recently observed snapshot.
func (cl *Client) GetCacheStats() cache.Stats {
	stats := cl.cache.Stats()
	if cl.metricsRec != nil {
		cl.metricsRec.ObserveCacheStats(stats)
	}
	return stats
}

// ClearCache removes every cache entry, identical to InvalidateAll.
func (cl *Client) ClearCache() {
	cl.cache.Clear()
}

// CleanupCache runs one expiry sweep immediately, in addition to the
// cache's own adaptive scheduler, then refreshes the attached
// metrics.Recorder (if any) with the post-sweep cache.Stats.
func (cl *Client) CleanupCache() int {
	n := cl.cache.Cleanup()
	if cl.metricsRec != nil {
		cl.metricsRec.ObserveCacheStats(cl.cache.Stats())
	}
	return n
}

// GetCacheKeys returns a snapshot of all present keys.
func (cl *Client) GetCacheKeys() []string {
	return cl.cache.Keys()
}

// ScheduleRefetch arms a periodic timer that calls refetchCallback every
// interval until CancelRefetch(key) or Dispose. Re-scheduling the same key
// replaces the previous timer.
func (cl *Client) ScheduleRefetch(key string, interval time.Duration, refetchCallback func()) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if t, ok := cl.scheduled[key]; ok {
		t.Stop()
	}
	cl.scheduled[key] = time.AfterFunc(interval, func() {
		refetchCallback()
		cl.mu.Lock()
		if t, ok := cl.scheduled[key]; ok {
			t.Reset(interval)
		}
		cl.mu.Unlock()
	})
}

// CancelRefetch stops a timer armed by ScheduleRefetch, if any.
func (cl *Client) CancelRefetch(key string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if t, ok := cl.scheduled[key]; ok {
		t.Stop()
		delete(cl.scheduled, key)
	}
}

// Dispose cancels every scheduled refetch and disposes the underlying
// cache. The Client must not be used afterward.
func (cl *Client) Dispose() {
	cl.mu.Lock()
	for _, t := range cl.scheduled {
		t.Stop()
	}
	cl.scheduled = make(map[string]*time.Timer)
	cl.mu.Unlock()

	cl.cache.Dispose()
}

const (
	defaultStaleTime = 5 * time.Minute
	defaultCacheTime = 30 * time.Minute
)
