// Package lifecycle models two abstract platform event sources: app
// foreground/background transitions and window-focus transitions. Neither
// is wired to a real OS signal here — the host application is expected to
// drive a ManualLifecycleSource from whatever platform hooks it has (an
// Android lifecycle callback, an Electron "focus" event, a systemd
// readiness signal, ...). The subscription-handle shape mirrors package
// cache's AddListener/Handle for consistency across the module.
package lifecycle

import "sync"

// ForegroundSource emits resume/pause notifications as the host application
// moves to and from the foreground.
type ForegroundSource interface {
	IsInForeground() bool
	OnResume(callback func()) *Handle
	OnPause(callback func()) *Handle
}

// WindowFocusSource emits focus/blur notifications for hosts that have a
// window-focus concept (desktop, web). IsSupported is false for hosts that
// don't (headless services, mobile without an equivalent signal); engines
// check it before subscribing.
type WindowFocusSource interface {
	IsSupported() bool
	OnFocus(callback func()) *Handle
	OnBlur(callback func()) *Handle
}

// Handle detaches a registered callback. Safe to Close more than once.
type Handle struct {
	detach func()
	once   sync.Once
}

// Close detaches the callback.
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

func newHandle(detach func()) *Handle {
	return &Handle{detach: detach}
}

// ManualLifecycleSource is a ForegroundSource and WindowFocusSource driven
// imperatively by the host application (or by tests): a callback registry
// generalised to multi-listener fan-out rather than a single callback slot.
type ManualLifecycleSource struct {
	mu sync.Mutex

	inForeground bool
	focusSupported bool

	nextID  uint64
	resume  map[uint64]func()
	pause   map[uint64]func()
	focus   map[uint64]func()
	blur    map[uint64]func()
}

// NewManualLifecycleSource returns a source starting in the foreground with
// window-focus support enabled.
func NewManualLifecycleSource() *ManualLifecycleSource {
	return &ManualLifecycleSource{
		inForeground:   true,
		focusSupported: true,
		resume:         make(map[uint64]func()),
		pause:          make(map[uint64]func()),
		focus:          make(map[uint64]func()),
		blur:           make(map[uint64]func()),
	}
}

// SetWindowFocusSupported toggles IsSupported for hosts without a
// window-focus concept.
func (m *ManualLifecycleSource) SetWindowFocusSupported(supported bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.focusSupported = supported
}

// IsInForeground implements ForegroundSource.
func (m *ManualLifecycleSource) IsInForeground() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inForeground
}

// IsSupported implements WindowFocusSource.
func (m *ManualLifecycleSource) IsSupported() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focusSupported
}

// OnResume implements ForegroundSource.
func (m *ManualLifecycleSource) OnResume(callback func()) *Handle {
	return m.register(&m.resume, callback)
}

// OnPause implements ForegroundSource.
func (m *ManualLifecycleSource) OnPause(callback func()) *Handle {
	return m.register(&m.pause, callback)
}

// OnFocus implements WindowFocusSource.
func (m *ManualLifecycleSource) OnFocus(callback func()) *Handle {
	return m.register(&m.focus, callback)
}

// OnBlur implements WindowFocusSource.
func (m *ManualLifecycleSource) OnBlur(callback func()) *Handle {
	return m.register(&m.blur, callback)
}

func (m *ManualLifecycleSource) register(set *map[uint64]func(), callback func()) *Handle {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	(*set)[id] = callback
	m.mu.Unlock()

	return newHandle(func() {
		m.mu.Lock()
		delete(*set, id)
		m.mu.Unlock()
	})
}

// Resume transitions to the foreground and fires every OnResume callback.
func (m *ManualLifecycleSource) Resume() {
	m.mu.Lock()
	m.inForeground = true
	callbacks := snapshot(m.resume)
	m.mu.Unlock()
	fire(callbacks)
}

// Pause transitions to the background and fires every OnPause callback.
func (m *ManualLifecycleSource) Pause() {
	m.mu.Lock()
	m.inForeground = false
	callbacks := snapshot(m.pause)
	m.mu.Unlock()
	fire(callbacks)
}

// Focus fires every OnFocus callback.
func (m *ManualLifecycleSource) Focus() {
	m.mu.Lock()
	callbacks := snapshot(m.focus)
	m.mu.Unlock()
	fire(callbacks)
}

// Blur fires every OnBlur callback.
func (m *ManualLifecycleSource) Blur() {
	m.mu.Lock()
	callbacks := snapshot(m.blur)
	m.mu.Unlock()
	fire(callbacks)
}

func snapshot(set map[uint64]func()) []func() {
	out := make([]func(), 0, len(set))
	for _, cb := range set {
		out = append(out, cb)
	}
	return out
}

func fire(callbacks []func()) {
	for _, cb := range callbacks {
		cb()
	}
}
