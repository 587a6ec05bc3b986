package cache

import (
	"fmt"
	"time"
)

// Options is the subset of QueryOptions that the cache's own predicates
// need. The full, callback-bearing QueryOptions[T] lives in package query
// and is never stored in the cache itself.
type Options struct {
	StaleTime time.Duration
	CacheTime time.Duration
}

// Get looks up key and, on a hit (stale or not), type-asserts its payload
// to T. A miss, an error-only entry, or an entry evicted for having passed
// its CacheTime (handled transparently by the underlying Cache.getRaw) all
// report ok=false.
//
// A payload whose concrete type is not T also reports ok=false, with the
// raw entry still returned; Get does not panic. WithTypeCheck logs type
// changes at write time (in setRaw), not here.
func Get[T any](c *Cache, key string) (*Entry, T, bool) {
	var zero T
	raw := c.getRaw(key)
	if raw == nil || !raw.HasData() {
		return raw, zero, false
	}
	v, ok := raw.Data.(T)
	if !ok {
		return raw, zero, false
	}
	return raw, v, true
}

// Set stores entry under key, enforcing LRU sizing and notifying listeners
// when notify is true.
func Set(c *Cache, key string, entry *Entry, notify bool) {
	c.setRaw(key, entry, notify)
}

// SetData constructs a data entry for value and stores it.
func SetData[T any](c *Cache, key string, value T, opts Options, fetchedAt time.Time, notify bool) {
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}
	entry := &Entry{
		Data:      value,
		FetchedAt: fetchedAt,
		StaleTime: opts.StaleTime,
		CacheTime: opts.CacheTime,
	}
	if c.typeCheck {
		entry.typeTag = fmt.Sprintf("%T", value)
	}
	c.setRaw(key, entry, notify)
}

// SetError constructs an error entry and stores it. Error entries always
// notify, same as a data Set.
func SetError(c *Cache, key string, err error, stackTrace string, opts Options, fetchedAt time.Time) {
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}
	entry := &Entry{
		Err:        err,
		StackTrace: stackTrace,
		FetchedAt:  fetchedAt,
		StaleTime:  opts.StaleTime,
		CacheTime:  opts.CacheTime,
	}
	c.setRaw(key, entry, true)
}
