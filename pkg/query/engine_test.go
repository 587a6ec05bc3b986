package query

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orneryd/rquery/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForStatus[T any](t *testing.T, e *Engine[T], want Status, timeout time.Duration) State[T] {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s := e.State(); s.Status == want {
			return s
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s, last was %s", want, e.State().Status)
	return State[T]{}
}

// TestS1CacheHitSkipsQueryFn verifies a second engine bound to the same
// fresh key never invokes queryFn.
func TestS1CacheHitSkipsQueryFn(t *testing.T) {
	c := cache.New()
	defer c.Dispose()

	var calls int32
	fn := func(ctx context.Context) ([]int, error) {
		atomic.AddInt32(&calls, 1)
		return []int{1}, nil
	}

	opts := DefaultOptions[[]int]()
	opts.StaleTime = 60 * time.Second
	opts.CacheTime = 10 * time.Minute

	e1 := New(c, "items", "items", fn, opts, Deps{})
	defer e1.Dispose()
	waitForStatus[[]int](t, e1, StatusSuccess, time.Second)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	e2 := New(c, "items", "items", fn, opts, Deps{})
	defer e2.Dispose()

	s := e2.State()
	assert.Equal(t, StatusSuccess, s.Status)
	assert.Equal(t, []int{1}, s.Data)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "queryFn must not be called on a fresh hit")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.MissCount)
	assert.GreaterOrEqual(t, stats.HitCount, uint64(1))
}

// TestS3RetryExhaustion verifies a query that always fails makes exactly
// 1+Retry attempts before settling into Error.
func TestS3RetryExhaustion(t *testing.T) {
	c := cache.New()
	defer c.Dispose()

	var calls int32
	boom := errors.New("boom")
	fn := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, boom
	}

	opts := DefaultOptions[int]()
	opts.Retry = 2
	opts.RetryDelay = 10 * time.Millisecond

	e := New(c, "flaky", "flaky", fn, opts, Deps{})
	defer e.Dispose()

	s := waitForStatus[int](t, e, StatusError, time.Second)
	assert.ErrorIs(t, s.Err, boom)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "exactly 1+retry invocations")
}

// TestS2StaleBackgroundRefreshFansOutToAllObservers verifies that a
// background refresh triggered by one observer updates every engine
// subscribed to the same key.
func TestS2StaleBackgroundRefreshFansOutToAllObservers(t *testing.T) {
	c := cache.New()
	defer c.Dispose()

	var call int32
	fn := func(ctx context.Context) ([]int, error) {
		n := atomic.AddInt32(&call, 1)
		if n == 1 {
			return []int{1}, nil
		}
		return []int{1, 2}, nil
	}

	opts := DefaultOptions[[]int]()
	opts.StaleTime = 10 * time.Millisecond
	opts.CacheTime = time.Minute
	opts.KeepPreviousData = true

	e1 := New(c, "items", "items", fn, opts, Deps{})
	defer e1.Dispose()
	waitForStatus[[]int](t, e1, StatusSuccess, time.Second)

	time.Sleep(20 * time.Millisecond) // entry now stale

	e2 := New(c, "items", "items", fn, opts, Deps{})
	defer e2.Dispose()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(e1.State().Data) == 2 && len(e2.State().Data) == 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	assert.Equal(t, []int{1, 2}, e1.State().Data, "every live observer reconciles to the new value")
	assert.Equal(t, []int{1, 2}, e2.State().Data)
}

// TestRefetchIsIdempotentUnderConcurrentCalls mirrors testable property 8.
func TestRefetchIsIdempotentUnderConcurrentCalls(t *testing.T) {
	c := cache.New()
	defer c.Dispose()

	var calls int32
	fn := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return 7, nil
	}

	opts := DefaultOptions[int]()
	e := New(c, "n", "n", fn, opts, Deps{})
	defer e.Dispose()
	waitForStatus[int](t, e, StatusSuccess, time.Second)

	atomic.StoreInt32(&calls, 0)
	e.Refetch(false)
	e.Refetch(false)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "two synchronous refetch calls issue exactly one queryFn invocation")
}

// TestNoRegressionOnBackgroundFailure mirrors testable property 5.
func TestNoRegressionOnBackgroundFailure(t *testing.T) {
	c := cache.New()
	defer c.Dispose()

	var call int32
	boom := errors.New("transient")
	fn := func(ctx context.Context) (int, error) {
		n := atomic.AddInt32(&call, 1)
		if n == 1 {
			return 9, nil
		}
		return 0, boom
	}

	opts := DefaultOptions[int]()
	e := New(c, "n", "n", fn, opts, Deps{})
	defer e.Dispose()
	waitForStatus[int](t, e, StatusSuccess, time.Second)

	e.Refetch(true)
	time.Sleep(50 * time.Millisecond)

	s := e.State()
	assert.Equal(t, StatusSuccess, s.Status)
	assert.Equal(t, 9, s.Data, "a failed background refresh must not clobber visible state")
}

func TestSetDataWritesThroughAndEmitsSuccess(t *testing.T) {
	c := cache.New()
	defer c.Dispose()

	opts := DefaultOptions[string]()
	opts.Enabled = false
	e := New(c, "name", "name", func(ctx context.Context) (string, error) { return "", nil }, opts, Deps{})
	defer e.Dispose()

	assert.Equal(t, StatusIdle, e.State().Status)

	e.SetData("hello")
	s := e.State()
	assert.Equal(t, StatusSuccess, s.Status)
	assert.Equal(t, "hello", s.Data)

	data, ok := e.GetCachedData()
	assert.True(t, ok)
	assert.Equal(t, "hello", data)
}

func TestRequireDataReturnsErrDisabledWithoutCachedValue(t *testing.T) {
	c := cache.New()
	defer c.Dispose()

	opts := DefaultOptions[int]()
	opts.Enabled = false
	e := New(c, "n", "n", func(ctx context.Context) (int, error) { return 0, nil }, opts, Deps{})
	defer e.Dispose()

	_, err := e.RequireData()
	assert.ErrorIs(t, err, ErrDisabled)
}
