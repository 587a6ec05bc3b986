// Package cache provides the shared, keyed data store at the heart of
// rquery: an LRU-and-TTL cache with per-key change listeners, hit/miss
// statistics, and an adaptive cleanup scheduler.
//
// Entries are type-erased (stored as any) since a single Cache instance is
// shared by queries of many different payload types. Callers use the
// generic package-level functions (Get, Set, SetData, SetError) to recover
// the concrete type; the cache itself never inspects the payload.
package cache

import "time"

// Entry is the immutable record stored under a CacheKey.
//
// An Entry holds either Data or Err as a live value, never both: writing
// one replaces the other. StaleTime and CacheTime are copied from the
// QueryOptions in effect at write time and drive the IsStale/ShouldEvict
// predicates below.
type Entry struct {
	Data      any
	Err       error
	StackTrace string
	FetchedAt time.Time
	StaleTime time.Duration
	CacheTime time.Duration

	// typeTag records the concrete payload type's name for the optional
	// debug-time type check (set by SetData, compared in setRaw). Empty when
	// Err is set or when type checking is disabled.
	typeTag string
}

// HasData reports whether the entry carries a live data value (and not an
// error).
func (e *Entry) HasData() bool {
	return e != nil && e.Data != nil && e.Err == nil
}

// IsStale reports whether the entry's age has passed its StaleTime as of
// now. A stale entry is still served from cache but is a candidate for
// background refresh.
func (e *Entry) IsStale(now time.Time) bool {
	if e == nil {
		return true
	}
	return now.Sub(e.FetchedAt) >= e.StaleTime
}

// ShouldEvict reports whether the entry's age has passed its CacheTime as
// of now, making it eligible for permanent removal.
func (e *Entry) ShouldEvict(now time.Time) bool {
	if e == nil {
		return true
	}
	return now.Sub(e.FetchedAt) >= e.CacheTime
}

func (e *Entry) clone() *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	return &cp
}
