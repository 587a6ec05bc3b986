package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func opts(stale, ttl time.Duration) Options {
	return Options{StaleTime: stale, CacheTime: ttl}
}

func TestGetSetRoundTrip(t *testing.T) {
	c := New()
	defer c.Dispose()

	SetData(c, "users", []int{1}, opts(time.Minute, 10*time.Minute), time.Time{}, true)

	_, got, ok := Get[[]int](c, "users")
	require.True(t, ok)
	assert.Equal(t, []int{1}, got)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.HitCount)
	assert.Equal(t, uint64(0), stats.MissCount)
}

func TestGetMissIncrementsMissCount(t *testing.T) {
	c := New()
	defer c.Dispose()

	_, _, ok := Get[int](c, "absent")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().MissCount)
}

// TestS1CacheHit verifies a fresh entry is served without a second fetch,
// and stats read 1 miss / 1 hit.
func TestS1CacheHit(t *testing.T) {
	c := New()
	defer c.Dispose()

	o := opts(60*time.Second, 10*time.Minute)
	fetchedAt := time.Now()

	_, _, ok := Get[[]map[string]int](c, "list")
	require.False(t, ok)

	SetData(c, "list", []map[string]int{{"id": 1}}, o, fetchedAt, true)

	_, data, ok := Get[[]map[string]int](c, "list")
	require.True(t, ok)
	assert.Equal(t, []map[string]int{{"id": 1}}, data)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.MissCount)
	assert.Equal(t, uint64(1), stats.HitCount)
}

func TestEntryEitherDataOrError(t *testing.T) {
	c := New()
	defer c.Dispose()

	o := opts(time.Minute, 10*time.Minute)
	SetData(c, "k", "v", o, time.Time{}, true)
	SetError(c, "k", errors.New("boom"), "", o, time.Time{})

	raw, _, ok := Get[string](c, "k")
	assert.False(t, ok)
	assert.NotNil(t, raw)
	assert.Error(t, raw.Err)
	assert.Nil(t, raw.Data)
}

// TestS6LRUEviction verifies that inserting past maxSize evicts the least
// recently used key and notifies its listeners with nil exactly once.
func TestS6LRUEviction(t *testing.T) {
	c := New(WithMaxSize(3))
	defer c.Dispose()

	o := opts(time.Hour, time.Hour)

	var evictedKeys []string
	var mu sync.Mutex
	handle := c.AddListener("b", func(key string, entry *Entry) {
		mu.Lock()
		defer mu.Unlock()
		if entry == nil {
			evictedKeys = append(evictedKeys, key)
		}
	})
	defer handle.Close()

	SetData(c, "a", 1, o, time.Time{}, true)
	SetData(c, "b", 2, o, time.Time{}, true)
	SetData(c, "c", 3, o, time.Time{}, true)

	_, _, ok := Get[int](c, "a")
	require.True(t, ok)

	SetData(c, "d", 4, o, time.Time{}, true)

	assert.True(t, c.ContainsKey("a"))
	assert.True(t, c.ContainsKey("c"))
	assert.True(t, c.ContainsKey("d"))
	assert.False(t, c.ContainsKey("b"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"b"}, evictedKeys)
}

func TestRemoveNotifiesWithNil(t *testing.T) {
	c := New()
	defer c.Dispose()

	var got *Entry
	var gotOK bool
	handle := c.AddListener("k", func(key string, entry *Entry) {
		got = entry
		gotOK = true
	})
	defer handle.Close()

	SetData(c, "k", 1, opts(time.Minute, time.Minute), time.Time{}, false)
	ok := c.Remove("k", true)

	require.True(t, ok)
	require.True(t, gotOK)
	assert.Nil(t, got)
}

func TestClearNotifiesEveryKeyOnce(t *testing.T) {
	c := New()
	defer c.Dispose()

	counts := map[string]int{}
	var mu sync.Mutex
	for _, k := range []string{"a", "b"} {
		k := k
		c.AddListener(k, func(key string, entry *Entry) {
			mu.Lock()
			defer mu.Unlock()
			counts[key]++
		})
		SetData(c, k, 1, opts(time.Minute, time.Minute), time.Time{}, false)
	}

	c.Clear()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, counts["a"])
	assert.Equal(t, 1, counts["b"])
	assert.Equal(t, 0, c.Size())
}

func TestRemoveByPattern(t *testing.T) {
	c := New()
	defer c.Dispose()

	o := opts(time.Minute, time.Minute)
	SetData(c, "users/1", 1, o, time.Time{}, false)
	SetData(c, "users/2", 2, o, time.Time{}, false)
	SetData(c, "posts/1", 3, o, time.Time{}, false)

	n := c.RemoveByPattern("users/")
	assert.Equal(t, 2, n)
	assert.True(t, c.ContainsKey("posts/1"))
}

func TestMarkAsStaleByPatternDoesNotNotify(t *testing.T) {
	c := New()
	defer c.Dispose()

	notified := false
	handle := c.AddListener("users/1", func(string, *Entry) { notified = true })
	defer handle.Close()

	o := opts(time.Minute, time.Hour)
	SetData(c, "users/1", 1, o, time.Now(), false)

	n := c.MarkAsStaleByPattern("users/")
	assert.Equal(t, 1, n)
	assert.False(t, notified)

	raw, _, ok := Get[int](c, "users/1")
	assert.True(t, ok) // still has data
	assert.True(t, raw.IsStale(time.Now()))
}

func TestCleanupEvictsExpiredEntries(t *testing.T) {
	c := New()
	defer c.Dispose()

	past := time.Now().Add(-time.Hour)
	SetData(c, "old", 1, opts(time.Second, time.Millisecond), past, false)
	SetData(c, "new", 2, opts(time.Hour, time.Hour), time.Time{}, false)

	n := c.Cleanup()
	assert.Equal(t, 1, n)
	assert.False(t, c.ContainsKey("old"))
	assert.True(t, c.ContainsKey("new"))
}

func TestHandleCloseDetachesListener(t *testing.T) {
	c := New()
	defer c.Dispose()

	calls := 0
	handle := c.AddListener("k", func(string, *Entry) { calls++ })
	handle.Close()
	handle.Close() // idempotent

	SetData(c, "k", 1, opts(time.Minute, time.Minute), time.Time{}, true)
	assert.Equal(t, 0, calls)
}

func TestListenerPanicIsRecovered(t *testing.T) {
	c := New()
	defer c.Dispose()

	c.AddListener("k", func(string, *Entry) { panic("boom") })

	assert.NotPanics(t, func() {
		SetData(c, "k", 1, opts(time.Minute, time.Minute), time.Time{}, true)
	})
}

func TestResetStats(t *testing.T) {
	c := New()
	defer c.Dispose()

	Get[int](c, "missing")
	c.ResetStats()

	stats := c.Stats()
	assert.Equal(t, uint64(0), stats.MissCount)
}

func TestTypeCheckLogsMismatchWithoutPanicking(t *testing.T) {
	c := New(WithTypeCheck(true))
	defer c.Dispose()

	o := opts(time.Minute, time.Minute)
	SetData(c, "k", 1, o, time.Time{}, false)

	assert.NotPanics(t, func() {
		SetData(c, "k", "now a string", o, time.Time{}, false)
	})
}
