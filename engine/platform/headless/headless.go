// Package headless provides a window stand-in for rendering without a display.
package headless

import (
	"sync/atomic"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// Window stands in for a native window when rendering to the software backend.
// It is its own native handle.
type Window struct {
	name          string
	width, height uint32
	closed        atomic.Bool
}

func New() *Window {
	return &Window{}
}

func (h *Window) Startup(applicationName string, x uint32, y uint32, width uint32, height uint32) error {
	h.name, h.width, h.height = applicationName, width, height
	core.LogInfo("headless surface %q: %dx%d", applicationName, width, height)
	return nil
}

func (h *Window) Shutdown() error {
	h.closed.Store(true)
	return nil
}

func (h *Window) PumpMessages() bool {
	return !h.closed.Load()
}

func (h *Window) NativeHandle() gpu.WindowHandle {
	return h
}

func (h *Window) FramebufferSize() (uint32, uint32) {
	return h.width, h.height
}

func (h *Window) RequestClose() {
	if !h.closed.Swap(true) {
		core.EventFire(core.EVENT_CODE_APPLICATION_QUIT, h, core.EventContext{})
	}
}
