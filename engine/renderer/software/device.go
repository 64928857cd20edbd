package software

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// Validation message IDs reported by the simulated debug layer.
const (
	MessageIDDeviceCreated        gpu.MessageID = 1
	MessageIDBarrierStateMismatch gpu.MessageID = 527
	MessageIDClearNotRenderTarget gpu.MessageID = 538
	MessageIDPresentNotPresent    gpu.MessageID = 680
	MessageIDClearValueMismatch                 = gpu.MessageIDClearValueMismatch
)

const (
	rtvDescriptorSize = 32
	heapAddressSpace  = 0x10000
)

type Device struct {
	h       *handle
	adapter *Adapter
	level   gpu.FeatureLevel
	debug   gpu.DebugOptions

	mu       sync.Mutex
	heaps    int
	views    map[gpu.DescriptorHandle]*Image
	messages []gpu.Message
}

func newDevice(h *handle, a *Adapter, level gpu.FeatureLevel, debug gpu.DebugOptions) *Device {
	return &Device{
		h:       h,
		adapter: a,
		level:   level,
		debug:   debug,
		views:   make(map[gpu.DescriptorHandle]*Image),
	}
}

func (d *Device) tracker() *Tracker {
	return d.adapter.factory.tracker
}

func (d *Device) FeatureLevel() gpu.FeatureLevel {
	return d.level
}

// report passes a validation message through the debug filter. Nothing is
// recorded when validation is off.
func (d *Device) report(severity gpu.MessageSeverity, id gpu.MessageID, format string, args ...interface{}) {
	if !d.debug.Validation {
		return
	}
	m := gpu.Message{Severity: severity, ID: id, Text: fmt.Sprintf(format, args...)}
	if !d.debug.Filter.Allows(m) {
		return
	}
	d.mu.Lock()
	d.messages = append(d.messages, m)
	d.mu.Unlock()

	switch severity {
	case gpu.MessageSeverityCorruption, gpu.MessageSeverityError:
		core.LogError("debug layer [%d]: %s", id, m.Text)
	case gpu.MessageSeverityWarning:
		core.LogWarn("debug layer [%d]: %s", id, m.Text)
	default:
		core.LogDebug("debug layer [%d]: %s", id, m.Text)
	}
}

// Messages returns the validation messages that passed the filter.
func (d *Device) Messages() []gpu.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]gpu.Message, len(d.messages))
	copy(out, d.messages)
	return out
}

func (d *Device) checkAlive() error {
	if !d.h.alive() {
		return errors.Wrap(gpu.ErrReleased, "device")
	}
	return nil
}

func (d *Device) CreateCommandQueue() (gpu.Queue, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	h, err := d.tracker().track(KindQueue)
	if err != nil {
		return nil, err
	}
	return newQueue(h, d), nil
}

func (d *Device) CreateCommandAllocator() (gpu.CommandAllocator, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	h, err := d.tracker().track(KindCommandAllocator)
	if err != nil {
		return nil, err
	}
	return &CommandAllocator{h: h, device: d}, nil
}

func (d *Device) CreateCommandList(allocator gpu.CommandAllocator) (gpu.CommandList, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	a, ok := allocator.(*CommandAllocator)
	if !ok {
		return nil, gpu.ErrWrongBackendObject
	}
	h, err := d.tracker().track(KindCommandList)
	if err != nil {
		return nil, err
	}
	return &CommandList{h: h, device: d, allocator: a}, nil
}

func (d *Device) CreateFence(initialValue uint64) (gpu.Fence, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	h, err := d.tracker().track(KindFence)
	if err != nil {
		return nil, err
	}
	return &Fence{h: h, completed: initialValue}, nil
}

func (d *Device) CreateEvent() (gpu.Event, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	h, err := d.tracker().track(KindEvent)
	if err != nil {
		return nil, err
	}
	return &Event{h: h, ch: make(chan struct{}, 1)}, nil
}

func (d *Device) CreateDescriptorHeap(kind gpu.DescriptorHeapType, count uint32) (gpu.DescriptorHeap, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if kind != gpu.DescriptorHeapTypeRTV {
		return nil, errors.Wrapf(gpu.ErrUnsupported, "descriptor heap type %d", kind)
	}
	if count == 0 {
		return nil, errors.Wrap(gpu.ErrInvalidCall, "empty descriptor heap")
	}
	h, err := d.tracker().track(KindDescriptorHeap)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.heaps++
	start := gpu.DescriptorHandle(heapAddressSpace * d.heaps)
	d.mu.Unlock()
	return &DescriptorHeap{h: h, device: d, start: start, count: count}, nil
}

func (d *Device) DescriptorHandleIncrementSize(kind gpu.DescriptorHeapType) uint32 {
	return rtvDescriptorSize
}

func (d *Device) CreateRenderTargetView(image gpu.Image, dest gpu.DescriptorHandle) error {
	img, ok := image.(*Image)
	if !ok {
		return gpu.ErrWrongBackendObject
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.views[dest] = img
	return nil
}

// View resolves a render target view written by CreateRenderTargetView.
func (d *Device) View(handle gpu.DescriptorHandle) (*Image, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.views[handle]
	return img, ok
}

func (d *Device) dropViews(start gpu.DescriptorHandle, count uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := uint32(0); i < count; i++ {
		delete(d.views, start.Offset(i, rtvDescriptorSize))
	}
}

func (d *Device) Release() {
	if !d.h.release() {
		return
	}
	// The device must outlive every object it created.
	t := d.tracker()
	for _, kind := range []ObjectKind{KindQueue, KindCommandAllocator, KindCommandList, KindFence, KindEvent, KindDescriptorHeap, KindSwapchain} {
		if n := t.LiveOf(kind); n > 0 {
			t.violation("device released with %d live %s objects", n, kind)
		}
	}
}

type DescriptorHeap struct {
	h      *handle
	device *Device
	start  gpu.DescriptorHandle
	count  uint32
}

func (h *DescriptorHeap) Start() gpu.DescriptorHandle { return h.start }

func (h *DescriptorHeap) Count() uint32 { return h.count }

func (h *DescriptorHeap) Release() {
	if h.h.release() {
		h.device.dropViews(h.start, h.count)
	}
}
