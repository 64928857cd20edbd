package platform

import (
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// Platform is a native GLFW window without a client API, presented to by
// the Vulkan backend.
type Platform struct {
	Window *glfw.Window
}

func New() *Platform {
	return &Platform{}
}

func (p *Platform) Startup(applicationName string, x uint32, y uint32, width uint32, height uint32) error {
	if err := glfw.Init(); err != nil {
		return errors.Wrap(err, "failed to initialize glfw")
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	// Swapchain images are never recreated.
	glfw.WindowHint(glfw.Resizable, glfw.False)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		glfw.Terminate()
		return errors.Wrap(err, "failed to create window")
	}
	p.Window = window

	p.Window.SetKeyCallback(keyCallback)
	p.Window.SetCloseCallback(closeCallback)
	p.Window.SetFramebufferSizeCallback(framebufferSizeCallback)
	p.Window.SetPos(int(x), int(y))
	p.Window.Show()
	core.LogInfo("window %q created: %dx%d", applicationName, width, height)
	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

// PumpMessages processes pending window events. It returns false once the
// window was asked to close.
func (p *Platform) PumpMessages() bool {
	glfw.PollEvents()
	return !p.Window.ShouldClose()
}

// NativeHandle is the window the graphics backend creates its surface for.
func (p *Platform) NativeHandle() gpu.WindowHandle {
	return p.Window
}

func (p *Platform) FramebufferSize() (uint32, uint32) {
	w, h := p.Window.GetFramebufferSize()
	return uint32(w), uint32(h)
}

// RequestClose makes the next PumpMessages report the window as closed.
func (p *Platform) RequestClose() {
	if p.Window != nil {
		p.Window.SetShouldClose(true)
	}
	glfw.PostEmptyEvent()
}

func keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if key == glfw.KeyEscape && action == glfw.Press {
		w.SetShouldClose(true)
		core.EventFire(core.EVENT_CODE_APPLICATION_QUIT, w, core.EventContext{})
	}
}

func closeCallback(w *glfw.Window) {
	core.EventFire(core.EVENT_CODE_APPLICATION_QUIT, w, core.EventContext{})
}

func framebufferSizeCallback(w *glfw.Window, width, height int) {
	data := core.EventContext{}
	data.U32[0] = uint32(width)
	data.U32[1] = uint32(height)
	core.EventFire(core.EVENT_CODE_RESIZED, w, data)
}
