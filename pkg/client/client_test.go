package client

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGetQueryData(t *testing.T) {
	cl := New(nil)
	defer cl.Dispose()

	SetQueryData(cl, "users", []int{1, 2, 3})

	data, ok := GetQueryData[[]int](cl, "users")
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, data)
	assert.True(t, cl.HasQueryData("users"))
}

func TestInvalidateQueriesRemovesMatchingKeys(t *testing.T) {
	cl := New(nil)
	defer cl.Dispose()

	SetQueryData(cl, "users/1", "a")
	SetQueryData(cl, "users/2", "b")
	SetQueryData(cl, "posts/1", "c")

	n := cl.InvalidateQueries("users")
	assert.Equal(t, 2, n)
	assert.False(t, cl.HasQueryData("users/1"))
	assert.True(t, cl.HasQueryData("posts/1"))
}

func TestClearCacheRemovesEverything(t *testing.T) {
	cl := New(nil)
	defer cl.Dispose()

	SetQueryData(cl, "a", 1)
	SetQueryData(cl, "b", 2)
	cl.ClearCache()

	assert.Empty(t, cl.GetCacheKeys())
}

func TestScheduleRefetchFiresPeriodically(t *testing.T) {
	cl := New(nil)
	defer cl.Dispose()

	count := make(chan struct{}, 4)
	cl.ScheduleRefetch("k", 10*time.Millisecond, func() {
		select {
		case count <- struct{}{}:
		default:
		}
	})
	defer cl.CancelRefetch("k")

	select {
	case <-count:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("scheduled refetch never fired")
	}
}

func TestCancelRefetchStopsFutureFires(t *testing.T) {
	cl := New(nil)
	defer cl.Dispose()

	var fired int32
	cl.ScheduleRefetch("k", 5*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	cl.CancelRefetch("k")
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&fired))
}

func TestGlobalClientReturnsSameInstance(t *testing.T) {
	a := GlobalClient()
	b := GlobalClient()
	assert.Same(t, a, b)
}
