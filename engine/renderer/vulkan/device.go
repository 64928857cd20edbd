package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

const (
	rtvDescriptorSize = 8
	heapAddressSpace  = 0x10000
)

type renderTargetView struct {
	image *Image
	view  vk.ImageView
}

type Device struct {
	adapter *Adapter
	logical vk.Device
	locks   *VulkanLockPool

	heaps int
	views map[gpu.DescriptorHandle]renderTargetView
}

func newDevice(a *Adapter, logical vk.Device) *Device {
	return &Device{
		adapter: a,
		logical: logical,
		locks:   a.factory.locks,
		views:   make(map[gpu.DescriptorHandle]renderTargetView),
	}
}

func (d *Device) CreateCommandQueue() (gpu.Queue, error) {
	var q vk.Queue
	vk.GetDeviceQueue(d.logical, uint32(d.adapter.family), 0, &q)
	if q == nil {
		return nil, errors.Wrap(gpu.ErrInvalidCall, "device has no graphics queue")
	}
	return &Queue{device: d, handle: q}, nil
}

func (d *Device) CreateCommandAllocator() (gpu.CommandAllocator, error) {
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(d.adapter.family),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(d.logical, &poolCreateInfo, nil, &pool); res != vk.Success {
		return nil, resultError(res, "failed to create command pool")
	}
	return &CommandAllocator{device: d, pool: pool}, nil
}

func (d *Device) CreateCommandList(allocator gpu.CommandAllocator) (gpu.CommandList, error) {
	a, ok := allocator.(*CommandAllocator)
	if !ok {
		return nil, gpu.ErrWrongBackendObject
	}
	if _, err := a.commandBuffer(); err != nil {
		return nil, err
	}
	return &CommandList{device: d, allocator: a}, nil
}

func (d *Device) CreateFence(initialValue uint64) (gpu.Fence, error) {
	return &Fence{device: d, completed: initialValue}, nil
}

func (d *Device) CreateEvent() (gpu.Event, error) {
	return &Event{}, nil
}

func (d *Device) CreateDescriptorHeap(kind gpu.DescriptorHeapType, count uint32) (gpu.DescriptorHeap, error) {
	if kind != gpu.DescriptorHeapTypeRTV {
		return nil, errors.Wrapf(gpu.ErrUnsupported, "descriptor heap type %d", kind)
	}
	if count == 0 {
		return nil, errors.Wrap(gpu.ErrInvalidCall, "empty descriptor heap")
	}
	d.heaps++
	return &DescriptorHeap{device: d, start: gpu.DescriptorHandle(heapAddressSpace * d.heaps), count: count}, nil
}

func (d *Device) DescriptorHandleIncrementSize(kind gpu.DescriptorHeapType) uint32 {
	return rtvDescriptorSize
}

// CreateRenderTargetView creates an image view for image and stores it at
// dest, replacing any view already there.
func (d *Device) CreateRenderTargetView(image gpu.Image, dest gpu.DescriptorHandle) error {
	img, ok := image.(*Image)
	if !ok {
		return gpu.ErrWrongBackendObject
	}
	viewInfo := vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            img.handle,
		ViewType:         vk.ImageViewType2d,
		Format:           img.format,
		SubresourceRange: colorRange,
	}
	var view vk.ImageView
	if res := vk.CreateImageView(d.logical, &viewInfo, nil, &view); res != vk.Success {
		return resultError(res, "failed to create render target view")
	}
	return d.locks.SafeCall(DescriptorManagement, func() error {
		d.destroyView(dest)
		d.views[dest] = renderTargetView{image: img, view: view}
		return nil
	})
}

func (d *Device) view(handle gpu.DescriptorHandle) (renderTargetView, bool) {
	var rtv renderTargetView
	var ok bool
	_ = d.locks.SafeCall(DescriptorManagement, func() error {
		rtv, ok = d.views[handle]
		return nil
	})
	return rtv, ok
}

func (d *Device) destroyView(handle gpu.DescriptorHandle) {
	if rtv, ok := d.views[handle]; ok {
		vk.DestroyImageView(d.logical, rtv.view, nil)
		delete(d.views, handle)
	}
}

func (d *Device) Release() {
	if d.logical == nil {
		return
	}
	vk.DeviceWaitIdle(d.logical)
	for handle := range d.views {
		d.destroyView(handle)
	}
	core.LogDebug("destroying logical device")
	vk.DestroyDevice(d.logical, nil)
	d.logical = nil
}

// DescriptorHeap is a range of render target view slots. The views live in
// the device table keyed by handle.
type DescriptorHeap struct {
	device *Device
	start  gpu.DescriptorHandle
	count  uint32
}

func (h *DescriptorHeap) Start() gpu.DescriptorHandle { return h.start }

func (h *DescriptorHeap) Count() uint32 { return h.count }

func (h *DescriptorHeap) Release() {
	if h.device == nil {
		return
	}
	_ = h.device.locks.SafeCall(DescriptorManagement, func() error {
		for i := uint32(0); i < h.count; i++ {
			h.device.destroyView(h.start.Offset(i, rtvDescriptorSize))
		}
		return nil
	})
	h.device = nil
}

var colorRange = vk.ImageSubresourceRange{
	AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
	LevelCount: 1,
	LayerCount: 1,
}

// Image is a swapchain image. Its contents are undefined until the first
// barrier out of the present state.
type Image struct {
	handle      vk.Image
	format      vk.Format
	width       uint32
	height      uint32
	initialized bool
}

func (i *Image) Width() uint32  { return i.width }
func (i *Image) Height() uint32 { return i.height }
