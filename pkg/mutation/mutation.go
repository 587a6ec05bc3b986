// Package mutation implements a single-shot mutation state machine:
// pre-hook, call, retry, success/error, with a caller-visible reset.
// Unlike package query, a mutation is not cached by identity — it may
// write to the shared cache as a side effect (optimistic update and
// rollback) but owns no cache entry of its own.
package mutation

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orneryd/rquery/pkg/tracing"
)

// Fn performs a single mutation call with bound variables V, returning the
// server's response T.
type Fn[T, V any] func(ctx context.Context, variables V) (T, error)

// Status tags a MutationState[T] value.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusLoading:
		return "Loading"
	case StatusSuccess:
		return "Success"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// State is the caller-visible status/data pair for a mutation.
type State[T any] struct {
	Status     Status
	Data       T
	Err        error
	StackTrace string
}

// Options configures a mutation Engine. V = struct{} marks a mutation
// that takes no variables.
type Options[T, V any] struct {
	Retry      int
	RetryDelay time.Duration

	// OnMutate runs before MutationFn is called, typically performing an
	// optimistic cache write. Its return value (opaque to the engine) is
	// passed to OnError so a failed mutation can roll back to the
	// pre-mutate snapshot.
	OnMutate func(variables V) (snapshot any)
	OnSuccess func(data T, variables V)
	OnError   func(variables V, err error, stackTrace string, snapshot any)
}

// Engine is a single mutation's state machine. A new Engine may be reused
// across repeated Mutate calls; Reset returns it to Idle.
type Engine[T, V any] struct {
	mu sync.Mutex

	instanceID string

	fn   Fn[T, V]
	opts Options[T, V]

	state      State[T]
	retryCount int

	listeners    map[uint64]func(State[T])
	nextListener uint64
}

// New builds an Engine starting at Idle.
func New[T, V any](fn Fn[T, V], opts Options[T, V]) *Engine[T, V] {
	return &Engine[T, V]{
		instanceID: uuid.NewString(),
		fn:         fn,
		opts:       opts,
		listeners:  make(map[uint64]func(State[T])),
	}
}

// InstanceID returns the engine's unique identifier, used to tag this
// mutation's trace spans.
func (e *Engine[T, V]) InstanceID() string {
	return e.instanceID
}

// State returns the current visible state.
func (e *Engine[T, V]) State() State[T] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe registers cb for every state change, delivering the current
// state immediately.
func (e *Engine[T, V]) Subscribe(cb func(State[T])) *Handle {
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

// Reset returns the engine to Idle and clears the retry counter.
func (e *Engine[T, V]) Reset() {
	e.mu.Lock()
	e.retryCount = 0
	e.mu.Unlock()
	e.emit(State[T]{Status: StatusIdle})
}

// Mutate emits Loading, runs OnMutate, calls fn with bounded retry, emits
// Success or Error, and (on error) returns the error to the caller after
// OnError runs — mutation errors propagate, unlike fetch errors.
func (e *Engine[T, V]) Mutate(ctx context.Context, variables V) (T, error) {
	e.emit(State[T]{Status: StatusLoading})

	var snapshot any
	if e.opts.OnMutate != nil {
		snapshot = e.opts.OnMutate(variables)
	}

	data, err := e.callWithRetry(ctx, variables)

	e.mu.Lock()
	e.retryCount = 0
	e.mu.Unlock()

	if err != nil {
		stack := string(debug.Stack())
		e.emit(State[T]{Status: StatusError, Err: err, StackTrace: stack})
		if e.opts.OnError != nil {
			e.opts.OnError(variables, err, stack, snapshot)
		}
		return data, err
	}

	e.emit(State[T]{Status: StatusSuccess, Data: data})
	if e.opts.OnSuccess != nil {
		e.opts.OnSuccess(data, variables)
	}
	return data, nil
}

func (e *Engine[T, V]) callWithRetry(ctx context.Context, variables V) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			time.Sleep(e.opts.RetryDelay)
		}
		var data T
		err := tracing.AttemptFor(ctx, "rquery.mutate", e.instanceID, "", attempt, func(ctx context.Context) error {
			var ferr error
			data, ferr = e.fn(ctx, variables)
			return ferr
		})
		if err == nil {
			return data, nil
		}
		lastErr = err
		if attempt >= e.opts.Retry {
			return zero, lastErr
		}
	}
}

func (e *Engine[T, V]) emit(s State[T]) {
	e.mu.Lock()
	e.state = s
	listeners := make([]func(State[T]), 0, len(e.listeners))
	for _, l := range e.listeners {
		listeners = append(listeners, l)
	}
	e.mu.Unlock()

	for _, l := range listeners {
		l(s)
	}
}
