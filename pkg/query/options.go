package query

import (
	"context"
	"reflect"
	"time"

	"github.com/orneryd/rquery/pkg/breaker"
	"github.com/orneryd/rquery/pkg/config"
)

// Fn fetches T for a single query invocation. Must return a non-nil error
// on failure; there is no distinct cancellation signal beyond ctx.
type Fn[T any] func(ctx context.Context) (T, error)

// Options is an immutable configuration record consumed by a single
// Engine[T]. Callers normally start from DefaultOptions[T]() and override
// fields by literal assignment rather than a builder.
type Options[T any] struct {
	StaleTime                time.Duration
	CacheTime                time.Duration
	RefetchOnMount           bool
	RefetchOnWindowFocus     bool
	RefetchOnAppFocus        bool
	PauseRefetchInBackground bool
	RefetchInterval          time.Duration
	Retry                    int
	RetryDelay               time.Duration
	Enabled                  bool
	KeepPreviousData         bool

	OnSuccess      func(data T)
	OnError        func(err error, stackTrace string)
	OnCacheEvicted func()

	// Equal compares two payload values for cache-listener reconciliation
	// (element-wise for collections, value equality for scalars). Defaults
	// to reflect.DeepEqual.
	Equal func(a, b T) bool

	// Breaker, when non-nil, wraps each retry attempt in a circuit breaker
	// keyed by the Engine's query name. Nil runs the plain bounded retry loop.
	Breaker *breaker.Registry
}

// DefaultOptions returns the library's baseline defaults, sourced from
// config.Default() so a single place of truth backs both the
// environment-variable loader and every new query's defaults.
func DefaultOptions[T any]() Options[T] {
	d := config.Default()
	return Options[T]{
		StaleTime:                d.StaleTime,
		CacheTime:                d.CacheTime,
		RefetchOnMount:           d.RefetchOnMount,
		RefetchOnWindowFocus:     d.RefetchOnWindowFocus,
		RefetchOnAppFocus:        d.RefetchOnAppFocus,
		PauseRefetchInBackground: d.PauseRefetchInBackground,
		Retry:                    d.Retry,
		RetryDelay:               d.RetryDelay,
		Enabled:                  d.Enabled,
		KeepPreviousData:         d.KeepPreviousData,
	}
}

func (o Options[T]) equalFn() func(a, b T) bool {
	if o.Equal != nil {
		return o.Equal
	}
	return func(a, b T) bool { return reflect.DeepEqual(a, b) }
}
