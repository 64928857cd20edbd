// Package software is a simulated GPU implementing the gpu interfaces on the
// CPU. Command lists execute on a worker goroutine per queue, in submission
// order, optionally delayed or gated by a Controller so tests can model a
// slow GPU. Back buffers are real RGBA images.
package software

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// AdapterConfig describes one simulated adapter.
type AdapterConfig struct {
	Desc            gpu.AdapterDesc
	MaxFeatureLevel gpu.FeatureLevel
	// The adapter reports support but device creation still fails.
	FailDeviceCreation bool
}

type Options struct {
	// Adapters enumerated by the factory. Nil means DefaultAdapters().
	Adapters []AdapterConfig
	// Time the GPU spends on every executed command list.
	ExecutionDelay time.Duration
	// When set, command lists only execute after Controller.Step.
	ManualCompletion bool
	// FailCreate makes the nth (1-based) creation of a kind fail.
	FailCreate map[ObjectKind]int
	// FailExecuteAfter makes every ExecuteCommandLists call after the first
	// n succeed calls fail. Zero disables the fault.
	FailExecuteAfter int
	// PresentOrder returns the back buffer index following current.
	// Nil means round robin.
	PresentOrder func(current, count uint32) uint32
}

func DefaultAdapters() []AdapterConfig {
	return []AdapterConfig{
		{
			Desc: gpu.AdapterDesc{
				Name:     "Anima Basic Render Driver",
				VendorID: 0x1414,
				DeviceID: 0x008c,
				Type:     gpu.AdapterTypeCPU,
				Flags:    gpu.AdapterFlagSoftware,
			},
			MaxFeatureLevel: gpu.FeatureLevel1_3,
		},
		{
			Desc: gpu.AdapterDesc{
				Name:                 "Anima Simulated GPU",
				VendorID:             0x1af4,
				DeviceID:             0x1050,
				Revision:             1,
				DedicatedVideoMemory: 4 << 30,
				Type:                 gpu.AdapterTypeDiscrete,
			},
			MaxFeatureLevel: gpu.FeatureLevel1_2,
		},
	}
}

func roundRobin(current, count uint32) uint32 {
	return (current + 1) % count
}

// Controller gates command list execution when ManualCompletion is set.
type Controller struct {
	mu       sync.Mutex
	cond     *sync.Cond
	manual   bool
	delay    time.Duration
	credits  int
	executed int
}

func newController(manual bool, delay time.Duration) *Controller {
	c := &Controller{manual: manual, delay: delay}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Step lets n more command lists execute.
func (c *Controller) Step(n int) {
	c.mu.Lock()
	c.credits += n
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Executed is the number of command lists the GPU finished.
func (c *Controller) Executed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executed
}

// acquire blocks the queue worker until it may execute one command list.
// It returns false when the queue was closed while waiting.
func (c *Controller) acquire(closed func() bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.manual {
		return true
	}
	for c.credits == 0 {
		if closed() {
			return false
		}
		c.cond.Wait()
	}
	c.credits--
	return true
}

func (c *Controller) done() {
	c.mu.Lock()
	c.executed++
	c.mu.Unlock()
	c.cond.Broadcast()
}

// wake takes the lock so a worker between its closed check and Wait
// cannot miss the broadcast.
func (c *Controller) wake() {
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Factory is the entry point of the simulated GPU.
type Factory struct {
	h          *handle
	opts       Options
	tracker    *Tracker
	controller *Controller

	mu      sync.Mutex
	windows map[gpu.WindowHandle]*Swapchain
	execs   int
}

func NewFactory(opts Options) (*Factory, error) {
	if opts.Adapters == nil {
		opts.Adapters = DefaultAdapters()
	}
	if opts.PresentOrder == nil {
		opts.PresentOrder = roundRobin
	}
	tracker := newTracker(opts.FailCreate)
	h, err := tracker.track(KindFactory)
	if err != nil {
		return nil, err
	}
	return &Factory{
		h:          h,
		opts:       opts,
		tracker:    tracker,
		controller: newController(opts.ManualCompletion, opts.ExecutionDelay),
		windows:    make(map[gpu.WindowHandle]*Swapchain),
	}, nil
}

// Backend adapts the factory to the constructor signature the renderer
// expects. Debug options are applied per device.
func (f *Factory) Backend() func(window gpu.WindowHandle, debug gpu.DebugOptions) (gpu.Factory, error) {
	return func(window gpu.WindowHandle, debug gpu.DebugOptions) (gpu.Factory, error) {
		if window == nil {
			return nil, gpu.ErrInvalidWindow
		}
		if debug.Validation {
			core.LogInfo("simulated gpu: validation layer enabled")
		}
		return f, nil
	}
}

// NewBackend returns a backend constructor creating a fresh factory with
// opts on every call.
func NewBackend(opts Options) func(window gpu.WindowHandle, debug gpu.DebugOptions) (gpu.Factory, error) {
	return func(window gpu.WindowHandle, debug gpu.DebugOptions) (gpu.Factory, error) {
		f, err := NewFactory(opts)
		if err != nil {
			return nil, err
		}
		return f.Backend()(window, debug)
	}
}

func (f *Factory) Tracker() *Tracker { return f.tracker }

func (f *Factory) Controller() *Controller { return f.controller }

func (f *Factory) EnumerateAdapters(pref gpu.GPUPreference) ([]gpu.Adapter, error) {
	if !f.h.alive() {
		return nil, gpu.ErrReleased
	}
	adapters := make([]gpu.Adapter, 0, len(f.opts.Adapters))
	for _, cfg := range f.opts.Adapters {
		h, err := f.tracker.track(KindAdapter)
		if err != nil {
			for _, a := range adapters {
				a.Release()
			}
			return nil, err
		}
		adapters = append(adapters, &Adapter{h: h, factory: f, cfg: cfg})
	}
	gpu.SortAdapters(adapters, pref)
	return adapters, nil
}

func (f *Factory) CreateSwapchain(device gpu.Device, queue gpu.Queue, window gpu.WindowHandle, desc gpu.SwapchainDesc) (gpu.Swapchain, error) {
	d, ok := device.(*Device)
	if !ok {
		return nil, gpu.ErrWrongBackendObject
	}
	q, ok := queue.(*Queue)
	if !ok {
		return nil, gpu.ErrWrongBackendObject
	}
	if window == nil {
		return nil, gpu.ErrInvalidWindow
	}
	if desc.BufferCount < 1 || desc.Width == 0 || desc.Height == 0 {
		return nil, errors.Wrapf(gpu.ErrInvalidCall, "invalid swapchain %dx%d with %d buffers", desc.Width, desc.Height, desc.BufferCount)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, taken := f.windows[window]; taken {
		return nil, errors.Wrap(gpu.ErrInvalidWindow, "window already has a swapchain")
	}
	sc, err := newSwapchain(f, d, q, window, desc)
	if err != nil {
		return nil, err
	}
	f.windows[window] = sc
	return sc, nil
}

func (f *Factory) forgetWindow(window gpu.WindowHandle) {
	f.mu.Lock()
	delete(f.windows, window)
	f.mu.Unlock()
}

// allowExecute applies FailExecuteAfter.
func (f *Factory) allowExecute() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opts.FailExecuteAfter > 0 && f.execs >= f.opts.FailExecuteAfter {
		return errors.Wrapf(gpu.ErrDeviceLost, "injected failure after %d submissions", f.execs)
	}
	f.execs++
	return nil
}

func (f *Factory) Release() {
	if !f.h.release() {
		return
	}
	f.mu.Lock()
	n := len(f.windows)
	f.mu.Unlock()
	if n > 0 {
		f.tracker.violation("factory released with %d live swapchains", n)
	}
}

type Adapter struct {
	h       *handle
	factory *Factory
	cfg     AdapterConfig
}

func (a *Adapter) Desc() gpu.AdapterDesc {
	return a.cfg.Desc
}

func (a *Adapter) SupportsFeatureLevel(level gpu.FeatureLevel) bool {
	return level <= a.cfg.MaxFeatureLevel
}

func (a *Adapter) CreateDevice(level gpu.FeatureLevel, debug gpu.DebugOptions) (gpu.Device, error) {
	if !a.h.alive() {
		return nil, gpu.ErrReleased
	}
	if !a.SupportsFeatureLevel(level) {
		return nil, errors.Wrapf(gpu.ErrUnsupported, "%s does not support feature level %s", a.cfg.Desc.Name, level)
	}
	if a.cfg.FailDeviceCreation {
		return nil, errors.Wrapf(gpu.ErrDeviceLost, "%s failed to create a device", a.cfg.Desc.Name)
	}
	h, err := a.factory.tracker.track(KindDevice)
	if err != nil {
		return nil, err
	}
	d := newDevice(h, a, level, debug)
	d.report(gpu.MessageSeverityInfo, MessageIDDeviceCreated, "device created on %s at feature level %s", a.cfg.Desc.Name, level)
	return d, nil
}

func (a *Adapter) Release() {
	a.h.release()
}
