package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResumePauseToggleForeground(t *testing.T) {
	src := NewManualLifecycleSource()
	assert.True(t, src.IsInForeground())

	src.Pause()
	assert.False(t, src.IsInForeground())

	src.Resume()
	assert.True(t, src.IsInForeground())
}

func TestOnResumeFiresOnResume(t *testing.T) {
	src := NewManualLifecycleSource()
	calls := 0
	h := src.OnResume(func() { calls++ })
	defer h.Close()

	src.Resume()
	src.Resume()
	assert.Equal(t, 2, calls)
}

func TestHandleCloseStopsDelivery(t *testing.T) {
	src := NewManualLifecycleSource()
	calls := 0
	h := src.OnFocus(func() { calls++ })

	src.Focus()
	h.Close()
	src.Focus()

	assert.Equal(t, 1, calls)
}

func TestWindowFocusSupportToggle(t *testing.T) {
	src := NewManualLifecycleSource()
	assert.True(t, src.IsSupported())

	src.SetWindowFocusSupported(false)
	assert.False(t, src.IsSupported())
}
