package renderer

import (
	"time"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// FrameSlot is one entry of the in-flight ring. Its allocator is only reset
// once its fence reached the value signaled after the slot's last submit.
type FrameSlot struct {
	Index     uint32
	Allocator gpu.CommandAllocator
	Fence     *DeviceFence
	uses      uint64
}

// Uses is the number of frames recorded through the slot.
func (s *FrameSlot) Uses() uint64 {
	return s.uses
}

func (s *FrameSlot) release() {
	if s == nil {
		return
	}
	s.Fence.Release()
	s.Fence = nil
	if s.Allocator != nil {
		s.Allocator.Release()
		s.Allocator = nil
	}
}

// CommandSubmitter owns the queue, the ring of frame slots and the single
// command list re-recorded every frame.
type CommandSubmitter struct {
	Queue gpu.Queue

	queueFence *DeviceFence
	list       gpu.CommandList
	slots      []*FrameSlot
	current    *FrameSlot
	lastUsed   *FrameSlot
	recording  bool
}

// NewCommandSubmitter creates the queue first, then the drain fence, the
// slots and the command list. On failure everything created so far is
// released.
func NewCommandSubmitter(device gpu.Device, latency uint32, fenceTimeout time.Duration) (*CommandSubmitter, error) {
	if latency == 0 {
		return nil, core.ResourceCreationErrorf(gpu.ErrInvalidCall, "frame latency must be at least 1")
	}
	s := &CommandSubmitter{}

	queue, err := device.CreateCommandQueue()
	if err != nil {
		return nil, core.ResourceCreationErrorf(err, "failed to create command queue")
	}
	s.Queue = queue

	if s.queueFence, err = NewDeviceFence(device, fenceTimeout); err != nil {
		s.Destroy()
		return nil, err
	}

	for i := uint32(0); i < latency; i++ {
		slot := &FrameSlot{Index: i}
		s.slots = append(s.slots, slot)
		if slot.Allocator, err = device.CreateCommandAllocator(); err != nil {
			s.Destroy()
			return nil, core.ResourceCreationErrorf(err, "failed to create command allocator %d", i)
		}
		if slot.Fence, err = NewDeviceFence(device, fenceTimeout); err != nil {
			s.Destroy()
			return nil, err
		}
	}

	if s.list, err = device.CreateCommandList(s.slots[0].Allocator); err != nil {
		s.Destroy()
		return nil, core.ResourceCreationErrorf(err, "failed to create command list")
	}
	core.LogDebug("command submitter created with %d frame slots", latency)
	return s, nil
}

func (s *CommandSubmitter) Latency() uint32 {
	return uint32(len(s.slots))
}

func (s *CommandSubmitter) Slot(i uint32) *FrameSlot {
	return s.slots[i]
}

// SlotUsage returns how many frames each slot recorded.
func (s *CommandSubmitter) SlotUsage() []uint64 {
	usage := make([]uint64, len(s.slots))
	for i, slot := range s.slots {
		usage[i] = slot.uses
	}
	return usage
}

// BeginFrame picks slot frameCount mod latency, waits until the GPU is done
// with the slot's previous frame, then resets its allocator and the command
// list for recording.
func (s *CommandSubmitter) BeginFrame(frameCount uint64) (*FrameSlot, gpu.CommandList, error) {
	if s.recording {
		return nil, nil, core.SubmissionErrorf(gpu.ErrInvalidCall, "frame %d begun while another frame is recording", frameCount)
	}
	slot := s.slots[frameCount%uint64(len(s.slots))]

	if err := slot.Fence.Wait(); err != nil {
		return nil, nil, err
	}
	if err := slot.Allocator.Reset(); err != nil {
		return nil, nil, core.SubmissionErrorf(err, "failed to reset allocator of slot %d", slot.Index)
	}
	if err := s.list.Reset(slot.Allocator); err != nil {
		return nil, nil, core.SubmissionErrorf(err, "failed to reset command list for slot %d", slot.Index)
	}
	slot.uses++
	s.current = slot
	s.recording = true
	return slot, s.list, nil
}

// Submit closes the list, executes it and signals the slot fence, in that
// order. It returns the signaled value.
func (s *CommandSubmitter) Submit() (uint64, error) {
	if !s.recording {
		return 0, core.SubmissionErrorf(gpu.ErrInvalidCall, "submit without a recording frame")
	}
	s.recording = false

	if err := s.list.Close(); err != nil {
		return 0, core.SubmissionErrorf(err, "failed to close command list")
	}
	if err := s.Queue.ExecuteCommandLists(s.list); err != nil {
		return 0, core.SubmissionErrorf(err, "failed to execute command list of slot %d", s.current.Index)
	}
	value, err := s.current.Fence.Signal(s.Queue)
	if err != nil {
		return 0, err
	}
	s.lastUsed = s.current
	return value, nil
}

// Close waits for the most recently submitted frame.
func (s *CommandSubmitter) Close() error {
	if s.lastUsed == nil {
		return nil
	}
	return s.lastUsed.Fence.Wait()
}

// Flush waits until every command queued so far completed.
func (s *CommandSubmitter) Flush() error {
	if s.Queue == nil || s.queueFence == nil {
		return nil
	}
	if _, err := s.queueFence.Signal(s.Queue); err != nil {
		return err
	}
	return s.queueFence.Wait()
}

// Destroy releases everything the submitter created. The caller drains the
// queue first. Safe after a partial construction and when called twice.
func (s *CommandSubmitter) Destroy() {
	if s == nil {
		return
	}
	if s.list != nil {
		s.list.Release()
		s.list = nil
	}
	for _, slot := range s.slots {
		slot.release()
	}
	s.queueFence.Release()
	s.queueFence = nil
	if s.Queue != nil {
		s.Queue.Release()
		s.Queue = nil
	}
	s.current = nil
	s.lastUsed = nil
	s.recording = false
}
