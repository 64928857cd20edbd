package vulkan

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

type Queue struct {
	device    *Device
	handle    vk.Queue
	swapchain *Swapchain
}

// ExecuteCommandLists submits lists in one batch. The first batch after a
// swapchain acquire waits for the acquired image and signals the semaphore
// the next present waits on.
func (q *Queue) ExecuteCommandLists(lists ...gpu.CommandList) error {
	buffers := make([]vk.CommandBuffer, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		if !ok {
			return gpu.ErrWrongBackendObject
		}
		if cl.recording {
			return errors.Wrap(gpu.ErrInvalidCall, "executing a command list that is still recording")
		}
		buffers = append(buffers, cl.buffer)
	}

	return q.device.locks.SafeCall(QueueManagement, func() error {
		submitInfo := vk.SubmitInfo{
			SType:              vk.StructureTypeSubmitInfo,
			CommandBufferCount: uint32(len(buffers)),
			PCommandBuffers:    buffers,
		}
		if sc := q.swapchain; sc != nil {
			if wait, signal, ok := sc.frameSemaphores(); ok {
				submitInfo.WaitSemaphoreCount = 1
				submitInfo.PWaitSemaphores = []vk.Semaphore{wait}
				submitInfo.PWaitDstStageMask = []vk.PipelineStageFlags{vk.PipelineStageFlags(acquireWaitStage)}
				submitInfo.SignalSemaphoreCount = 1
				submitInfo.PSignalSemaphores = []vk.Semaphore{signal}
			}
		}
		if res := vk.QueueSubmit(q.handle, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence); res != vk.Success {
			return resultError(res, "vkQueueSubmit failed")
		}
		return nil
	})
}

// Signal submits an empty batch whose binary fence marks value.
func (q *Queue) Signal(fence gpu.Fence, value uint64) error {
	f, ok := fence.(*Fence)
	if !ok {
		return gpu.ErrWrongBackendObject
	}
	handle, err := f.acquire()
	if err != nil {
		return err
	}
	err = q.device.locks.SafeCall(QueueManagement, func() error {
		if res := vk.QueueSubmit(q.handle, 0, nil, handle); res != vk.Success {
			return resultError(res, "failed to signal fence value %d", value)
		}
		return nil
	})
	if err != nil {
		f.recycle(handle)
		return err
	}
	f.push(value, handle)
	return nil
}

func (q *Queue) Release() {
	if q.handle == nil {
		return
	}
	vk.QueueWaitIdle(q.handle)
	q.handle = nil
}

type fenceSignal struct {
	value  uint64
	handle vk.Fence
}

// Fence emulates a counter fence with one binary fence per pending signal.
// Signaled binary fences are reset and reused.
type Fence struct {
	device *Device

	mu        sync.Mutex
	completed uint64
	pending   []fenceSignal
	free      []vk.Fence
}

func (f *Fence) acquire() (vk.Fence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := len(f.free); n > 0 {
		h := f.free[n-1]
		f.free = f.free[:n-1]
		return h, nil
	}
	var h vk.Fence
	createInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	err := f.device.locks.SafeCall(SynchronizationManagement, func() error {
		if res := vk.CreateFence(f.device.logical, &createInfo, nil, &h); res != vk.Success {
			return resultError(res, "failed to create fence")
		}
		return nil
	})
	return h, err
}

func (f *Fence) recycle(h vk.Fence) {
	f.mu.Lock()
	f.free = append(f.free, h)
	f.mu.Unlock()
}

func (f *Fence) push(value uint64, h vk.Fence) {
	f.mu.Lock()
	f.pending = append(f.pending, fenceSignal{value: value, handle: h})
	f.mu.Unlock()
}

// poll retires every pending signal the GPU reached, in submission order.
// Callers hold f.mu.
func (f *Fence) poll() {
	for len(f.pending) > 0 {
		s := f.pending[0]
		if vk.GetFenceStatus(f.device.logical, s.handle) != vk.Success {
			return
		}
		f.completed = s.value
		vk.ResetFences(f.device.logical, 1, []vk.Fence{s.handle})
		f.free = append(f.free, s.handle)
		f.pending = f.pending[1:]
	}
}

func (f *Fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poll()
	return f.completed
}

func (f *Fence) SetEventOnCompletion(value uint64, event gpu.Event) error {
	e, ok := event.(*Event)
	if !ok {
		return gpu.ErrWrongBackendObject
	}
	e.mu.Lock()
	e.fence, e.target, e.armed = f, value, true
	e.mu.Unlock()
	return nil
}

func (f *Fence) wait(target uint64, timeout time.Duration) error {
	f.mu.Lock()
	f.poll()
	if f.completed >= target {
		f.mu.Unlock()
		return nil
	}
	var handle vk.Fence
	for _, s := range f.pending {
		if s.value >= target {
			handle = s.handle
			break
		}
	}
	f.mu.Unlock()
	if handle == vk.NullFence {
		return errors.Wrapf(gpu.ErrInvalidCall, "value %d was never signaled", target)
	}

	res := vk.WaitForFences(f.device.logical, 1, []vk.Fence{handle}, vk.True, timeoutNanos(timeout))
	if err := resultError(res, "failed to wait for fence value %d", target); err != nil {
		return err
	}
	f.mu.Lock()
	f.poll()
	f.mu.Unlock()
	return nil
}

func (f *Fence) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.device == nil {
		return
	}
	for _, s := range f.pending {
		vk.WaitForFences(f.device.logical, 1, []vk.Fence{s.handle}, vk.True, timeoutNanos(gpu.WaitInfinite))
		vk.DestroyFence(f.device.logical, s.handle, nil)
	}
	for _, h := range f.free {
		vk.DestroyFence(f.device.logical, h, nil)
	}
	f.pending, f.free = nil, nil
	f.device = nil
}

// Event waits on the fence value it was armed with. It disarms after every
// wait.
type Event struct {
	mu     sync.Mutex
	fence  *Fence
	target uint64
	armed  bool
}

func (e *Event) Wait(timeout time.Duration) error {
	e.mu.Lock()
	fence, target, armed := e.fence, e.target, e.armed
	e.armed = false
	e.mu.Unlock()
	if !armed {
		return errors.Wrap(gpu.ErrInvalidCall, "event waited on without a pending fence value")
	}
	return fence.wait(target, timeout)
}

func (e *Event) Release() {
	e.mu.Lock()
	e.fence, e.armed = nil, false
	e.mu.Unlock()
}
