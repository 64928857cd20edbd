package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// CommandAllocator is a transient command pool holding one primary command
// buffer.
type CommandAllocator struct {
	device *Device
	pool   vk.CommandPool
	buffer vk.CommandBuffer
}

func (a *CommandAllocator) commandBuffer() (vk.CommandBuffer, error) {
	if a.buffer != nil {
		return a.buffer, nil
	}
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        a.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	err := a.device.locks.SafeCall(CommandPoolManagement, func() error {
		if res := vk.AllocateCommandBuffers(a.device.logical, &allocateInfo, buffers); res != vk.Success {
			return resultError(res, "failed to allocate command buffer")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.buffer = buffers[0]
	return a.buffer, nil
}

func (a *CommandAllocator) Reset() error {
	return a.device.locks.SafeCall(CommandPoolManagement, func() error {
		if res := vk.ResetCommandPool(a.device.logical, a.pool, 0); res != vk.Success {
			return resultError(res, "failed to reset command pool")
		}
		return nil
	})
}

func (a *CommandAllocator) Release() {
	if a.device == nil {
		return
	}
	_ = a.device.locks.SafeCall(CommandPoolManagement, func() error {
		if a.buffer != nil {
			vk.FreeCommandBuffers(a.device.logical, a.pool, 1, []vk.CommandBuffer{a.buffer})
			a.buffer = nil
		}
		vk.DestroyCommandPool(a.device.logical, a.pool, nil)
		return nil
	})
	a.device = nil
}

// CommandList records into the command buffer of the allocator it was last
// reset with. Recording errors surface from Close.
type CommandList struct {
	device    *Device
	allocator *CommandAllocator
	buffer    vk.CommandBuffer
	recording bool
	err       error
}

func (l *CommandList) Reset(allocator gpu.CommandAllocator) error {
	a, ok := allocator.(*CommandAllocator)
	if !ok {
		return gpu.ErrWrongBackendObject
	}
	if l.recording {
		return errors.Wrap(gpu.ErrInvalidCall, "command list is already recording")
	}
	buffer, err := a.commandBuffer()
	if err != nil {
		return err
	}
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(buffer, &beginInfo); res != vk.Success {
		return resultError(res, "failed to begin command buffer")
	}
	l.allocator, l.buffer = a, buffer
	l.recording, l.err = true, nil
	return nil
}

type layoutAccess struct {
	layout vk.ImageLayout
	access vk.AccessFlagBits
	// srcStage is used when the image leaves the state, dstStage when it
	// enters it.
	srcStage vk.PipelineStageFlagBits
	dstStage vk.PipelineStageFlagBits
}

// acquireWaitStage is where submissions wait on the acquire semaphore.
const acquireWaitStage = vk.PipelineStageTransferBit

// Clears are transfer operations, so the render target state maps to the
// transfer destination layout. Leaving the present state must start at the
// acquire wait stage so the layout transition is ordered after the
// presentation engine released the image.
func layoutFor(state gpu.ResourceState) layoutAccess {
	switch state {
	case gpu.ResourceStatePresent:
		return layoutAccess{vk.ImageLayoutPresentSrc, 0, acquireWaitStage, vk.PipelineStageBottomOfPipeBit}
	case gpu.ResourceStateRenderTarget:
		return layoutAccess{vk.ImageLayoutTransferDstOptimal, vk.AccessTransferWriteBit, vk.PipelineStageTransferBit, vk.PipelineStageTransferBit}
	}
	all := vk.PipelineStageAllCommandsBit
	return layoutAccess{vk.ImageLayoutGeneral, vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit, all, all}
}

func (l *CommandList) ResourceBarrier(barriers ...gpu.Barrier) {
	if !l.recording {
		l.setErr(errors.Wrap(gpu.ErrInvalidCall, "barrier recorded on a closed command list"))
		return
	}
	for _, b := range barriers {
		img, ok := b.Image.(*Image)
		if !ok {
			l.setErr(gpu.ErrWrongBackendObject)
			return
		}
		src, dst := layoutFor(b.Before), layoutFor(b.After)
		oldLayout := src.layout
		if !img.initialized {
			// Freshly acquired swapchain images have no defined contents.
			oldLayout = vk.ImageLayoutUndefined
			img.initialized = true
		}
		barrier := vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(src.access),
			DstAccessMask:       vk.AccessFlags(dst.access),
			OldLayout:           oldLayout,
			NewLayout:           dst.layout,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.handle,
			SubresourceRange:    colorRange,
		}
		vk.CmdPipelineBarrier(l.buffer,
			vk.PipelineStageFlags(src.srcStage), vk.PipelineStageFlags(dst.dstStage), 0,
			0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	}
}

func (l *CommandList) ClearRenderTargetView(view gpu.DescriptorHandle, color gpu.Color) {
	if !l.recording {
		l.setErr(errors.Wrap(gpu.ErrInvalidCall, "clear recorded on a closed command list"))
		return
	}
	rtv, ok := l.device.view(view)
	if !ok {
		l.setErr(errors.Wrapf(gpu.ErrInvalidCall, "no render target view at %#x", uintptr(view)))
		return
	}
	var value vk.ClearColorValue
	*(*[4]float32)(unsafe.Pointer(&value)) = color.Array()
	vk.CmdClearColorImage(l.buffer, rtv.image.handle, vk.ImageLayoutTransferDstOptimal, &value, 1, []vk.ImageSubresourceRange{colorRange})
}

func (l *CommandList) setErr(err error) {
	if l.err == nil {
		l.err = err
	}
}

func (l *CommandList) Close() error {
	if !l.recording {
		return errors.Wrap(gpu.ErrInvalidCall, "command list is not recording")
	}
	l.recording = false
	if res := vk.EndCommandBuffer(l.buffer); res != vk.Success {
		l.setErr(resultError(res, "failed to end command buffer"))
	}
	return l.err
}

// Release leaves the command buffer to its allocator.
func (l *CommandList) Release() {
	l.allocator, l.buffer = nil, nil
}
