package renderer

import (
	"time"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// DeviceFence pairs a GPU counter fence with the event the CPU blocks on.
// Value is the last value signaled from a queue; it only grows.
type DeviceFence struct {
	Handle  gpu.Fence
	event   gpu.Event
	value   uint64
	timeout time.Duration
}

// NewDeviceFence creates a fence starting at zero. A timeout of zero or less
// waits forever.
func NewDeviceFence(device gpu.Device, timeout time.Duration) (*DeviceFence, error) {
	if timeout <= 0 {
		timeout = gpu.WaitInfinite
	}
	fence := &DeviceFence{timeout: timeout}

	handle, err := device.CreateFence(0)
	if err != nil {
		return nil, core.ResourceCreationErrorf(err, "failed to create fence")
	}
	fence.Handle = handle

	event, err := device.CreateEvent()
	if err != nil {
		fence.Release()
		return nil, core.ResourceCreationErrorf(err, "failed to create fence event")
	}
	fence.event = event
	return fence, nil
}

// Signal enqueues a signal of the next value on queue and returns it.
func (f *DeviceFence) Signal(queue gpu.Queue) (uint64, error) {
	next := f.value + 1
	if err := queue.Signal(f.Handle, next); err != nil {
		return 0, core.SubmissionErrorf(err, "failed to signal fence value %d", next)
	}
	f.value = next
	return next, nil
}

// WaitFor blocks until the GPU reached target. It returns immediately when it
// already has. A target beyond the last signaled value could never complete
// and is rejected.
func (f *DeviceFence) WaitFor(target uint64) error {
	if target > f.value {
		return core.SubmissionErrorf(gpu.ErrInvalidCall, "fence value %d was never signaled (last %d)", target, f.value)
	}
	// The event auto-resets, so a set left over from an earlier timed out
	// wait can wake us early.
	for f.Handle.CompletedValue() < target {
		if err := f.Handle.SetEventOnCompletion(target, f.event); err != nil {
			return core.SubmissionErrorf(err, "failed to arm fence event for value %d", target)
		}
		if err := f.event.Wait(f.timeout); err != nil {
			core.LogError("fence wait for value %d failed: %s", target, err)
			return core.SubmissionErrorf(err, "failed to wait for fence value %d", target)
		}
	}
	return nil
}

// Wait blocks until the last signaled value completed.
func (f *DeviceFence) Wait() error {
	return f.WaitFor(f.value)
}

func (f *DeviceFence) Value() uint64 {
	return f.value
}

// Completed reports whether the last signaled value was reached.
func (f *DeviceFence) Completed() bool {
	return f.Handle.CompletedValue() >= f.value
}

// Release frees the fence and its event. Safe on a nil or partially created
// fence and when called more than once.
func (f *DeviceFence) Release() {
	if f == nil {
		return
	}
	if f.event != nil {
		f.event.Release()
		f.event = nil
	}
	if f.Handle != nil {
		f.Handle.Release()
		f.Handle = nil
	}
	f.value = 0
}
