package renderer

import (
	"sync"
	"time"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// Backend opens the graphics API for a window.
type Backend func(window gpu.WindowHandle, debug gpu.DebugOptions) (gpu.Factory, error)

type Options struct {
	Width  uint32
	Height uint32
	// Frames the CPU may record ahead of the GPU. Also the swapchain buffer
	// count. Fixed for the lifetime of the device.
	MaxFrameLatency uint32
	ClearColor      gpu.Color
	SyncInterval    uint32
	Preference      gpu.GPUPreference
	FeatureLevels   []gpu.FeatureLevel
	Debug           gpu.DebugOptions
	// Zero waits forever.
	FenceTimeout time.Duration
}

const (
	DefaultMaxFrameLatency = 3
	DefaultWidth           = 1280
	DefaultHeight          = 720
)

var DefaultClearColor = gpu.Color{R: 0.0, G: 0.2, B: 0.4, A: 1.0}

// DefaultMessageFilter drops informational chatter and the clear value
// warning every swapchain clear triggers.
func DefaultMessageFilter() gpu.MessageFilter {
	return gpu.MessageFilter{
		DenySeverities: []gpu.MessageSeverity{gpu.MessageSeverityInfo, gpu.MessageSeverityMessage},
		DenyIDs:        []gpu.MessageID{gpu.MessageIDClearValueMismatch},
	}
}

func DefaultOptions() Options {
	return Options{
		Width:           DefaultWidth,
		Height:          DefaultHeight,
		MaxFrameLatency: DefaultMaxFrameLatency,
		ClearColor:      DefaultClearColor,
		SyncInterval:    1,
		Preference:      gpu.GPUPreferenceHighPerformance,
		Debug:           gpu.DebugOptions{Filter: DefaultMessageFilter()},
	}
}

// RenderDevice drives the frame loop: it owns the factory, the device, the
// submission engine and the swapchain, and clears one back buffer per frame.
// Render, Close and Destroy are called from a single goroutine.
type RenderDevice struct {
	backend Backend
	opts    Options

	factory   gpu.Factory
	selected  *SelectedDevice
	submitter *CommandSubmitter
	swapchain *SwapchainManager

	info          AdapterInfo
	width, height uint32
	initialized   bool
	frameCount  uint64
	state       FrameState
	err         error

	mu         sync.Mutex
	clearColor gpu.Color
}

func New(backend Backend, opts Options) *RenderDevice {
	if opts.MaxFrameLatency == 0 {
		opts.MaxFrameLatency = DefaultMaxFrameLatency
	}
	if opts.Width == 0 || opts.Height == 0 {
		opts.Width, opts.Height = DefaultWidth, DefaultHeight
	}
	return &RenderDevice{
		backend:    backend,
		opts:       opts,
		clearColor: opts.ClearColor,
	}
}

// Initialize creates, in order, the factory, the device, the submission
// engine and the swapchain for window. width and height are the window's
// client size, read once by the caller; zero falls back to the configured
// size. On failure everything created so far is released and the device
// stays uninitialized.
func (d *RenderDevice) Initialize(window gpu.WindowHandle, width, height uint32) error {
	if d.initialized {
		return core.DeviceCreationErrorf(gpu.ErrInvalidCall, "render device already initialized")
	}
	if width == 0 || height == 0 {
		width, height = d.opts.Width, d.opts.Height
	}
	d.width, d.height = width, height
	core.LogInfo("initializing render device: %dx%d, %d frames in flight", width, height, d.opts.MaxFrameLatency)

	factory, err := d.backend(window, d.opts.Debug)
	if err != nil {
		return core.DeviceCreationErrorf(err, "failed to open the graphics backend")
	}
	d.factory = factory

	d.selected, err = SelectAndCreateDevice(factory, window, width, height, SelectorOptions{
		Preference:    d.opts.Preference,
		FeatureLevels: d.opts.FeatureLevels,
		Debug:         d.opts.Debug,
	})
	if err != nil {
		core.LogError("render device: %s", err)
		d.Destroy()
		return err
	}
	d.info = d.selected.Info

	d.submitter, err = NewCommandSubmitter(d.selected.Device, d.opts.MaxFrameLatency, d.opts.FenceTimeout)
	if err != nil {
		core.LogError("render device: %s", err)
		d.Destroy()
		return err
	}

	d.swapchain, err = NewSwapchainManager(factory, d.selected.Device, d.submitter.Queue, window,
		width, height, d.opts.MaxFrameLatency, d.opts.SyncInterval)
	if err != nil {
		core.LogError("render device: %s", err)
		d.Destroy()
		return err
	}

	d.initialized = true
	d.state = FrameStateIdle
	core.LogInfo("render device initialized on %s", d.info.Name)
	return nil
}

// Render records and presents one frame. The first failure is sticky: every
// later call returns it without touching the GPU.
func (d *RenderDevice) Render() error {
	if d.err != nil {
		return d.err
	}
	if !d.initialized {
		return core.ErrNotInitialized
	}

	d.state = FrameStateWaiting
	_, list, err := d.submitter.BeginFrame(d.frameCount)
	if err != nil {
		return d.fail(err)
	}

	d.state = FrameStateRecording
	index := d.swapchain.AcquireCurrentIndex()
	image := d.swapchain.CurrentImage()
	list.ResourceBarrier(gpu.TransitionBarrier(image, gpu.ResourceStatePresent, gpu.ResourceStateRenderTarget))
	list.ClearRenderTargetView(d.swapchain.View(index), d.ClearColor())
	list.ResourceBarrier(gpu.TransitionBarrier(image, gpu.ResourceStateRenderTarget, gpu.ResourceStatePresent))

	if _, err := d.submitter.Submit(); err != nil {
		return d.fail(err)
	}
	d.state = FrameStateSubmitted

	if _, err := d.swapchain.Present(); err != nil {
		return d.fail(err)
	}
	d.state = FrameStatePresented

	d.frameCount++
	d.state = FrameStateIdle
	return nil
}

func (d *RenderDevice) fail(err error) error {
	core.LogError("frame %d failed in state %s: %s", d.frameCount, d.state, err)
	d.err = err
	return err
}

// Close waits until the GPU finished the last submitted frame.
func (d *RenderDevice) Close() error {
	if d.submitter == nil {
		return nil
	}
	return d.submitter.Close()
}

// Destroy drains the queue and releases every GPU object in reverse creation
// order. It checks each handle first, so it is safe after a partial
// Initialize and when called twice.
func (d *RenderDevice) Destroy() {
	if d.submitter != nil {
		if err := d.submitter.Flush(); err != nil {
			core.LogWarn("failed to drain the queue before teardown: %s", err)
		}
	}
	if d.swapchain != nil {
		d.swapchain.Destroy()
		d.swapchain = nil
	}
	if d.submitter != nil {
		d.submitter.Destroy()
		d.submitter = nil
	}
	if d.selected != nil {
		d.selected.Release()
		d.selected = nil
	}
	if d.factory != nil {
		d.factory.Release()
		d.factory = nil
	}
	d.initialized = false
	d.frameCount = 0
	d.state = FrameStateIdle
	d.err = nil
}

// AdapterInfo describes the adapter selected by Initialize.
func (d *RenderDevice) AdapterInfo() AdapterInfo {
	return d.info
}

// ClientSize is the back buffer size chosen by Initialize.
func (d *RenderDevice) ClientSize() (uint32, uint32) {
	return d.width, d.height
}

// FrameCount is the number of frames presented.
func (d *RenderDevice) FrameCount() uint64 {
	return d.frameCount
}

// SlotUsage returns how many frames each in-flight slot recorded.
func (d *RenderDevice) SlotUsage() []uint64 {
	if d.submitter == nil {
		return nil
	}
	return d.submitter.SlotUsage()
}

func (d *RenderDevice) State() FrameState {
	return d.state
}

// Err returns the error that stopped the device, if any.
func (d *RenderDevice) Err() error {
	return d.err
}

// SetClearColor changes the color of the next frame. Safe to call from any
// goroutine.
func (d *RenderDevice) SetClearColor(c gpu.Color) {
	d.mu.Lock()
	d.clearColor = c
	d.mu.Unlock()
}

func (d *RenderDevice) ClearColor() gpu.Color {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clearColor
}
