// Package breaker wraps the retry loop of a query or mutation fetch in a
// sony/gobreaker circuit breaker, one per distinct query name, so a
// persistently failing remote source stops being hammered with synchronous
// retries once it has proven itself unhealthy.
//
// Breakers are opt-in: a query Engine whose Options.Breaker is nil runs the
// plain bounded retry loop unmodified, so a caller that never configures a
// breaker sees no behavior change from this package's existence.
package breaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Registry hands out one gobreaker.CircuitBreaker per query name, creating
// it lazily on first use. Keying by name rather than by the full
// parameterised cache key bounds breaker cardinality: one breaker per
// distinct query name, not one per parameterised key.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings func(name string) gobreaker.Settings
}

// NewRegistry returns a Registry using settings to build a fresh
// gobreaker.Settings for each newly seen query name. A nil settings func
// falls back to DefaultSettings.
func NewRegistry(settings func(name string) gobreaker.Settings) *Registry {
	if settings == nil {
		settings = DefaultSettings
	}
	return &Registry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: settings,
	}
}

// DefaultSettings trips after 5 consecutive failures and probes again after
// 30 seconds, matching the conservative defaults most gobreaker consumers
// in the wild start from.
func DefaultSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
}

// For returns the breaker for name, creating it on first use.
func (r *Registry) For(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(r.settings(name))
	r.breakers[name] = b
	return b
}

// Execute runs fn through the named breaker, returning gobreaker.ErrOpenState
// or gobreaker.ErrTooManyRequests unchanged when the breaker rejects the
// call outright, so callers can distinguish "breaker open" from a genuine
// fetch failure if they need to.
func (r *Registry) Execute(name string, fn func() (any, error)) (any, error) {
	return r.For(name).Execute(fn)
}
