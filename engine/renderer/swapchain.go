package renderer

import (
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// SwapchainManager owns a flip-discard swapchain and the render target view
// of each of its buffers. The current index only changes through Present.
type SwapchainManager struct {
	Handle       gpu.Swapchain
	heap         gpu.DescriptorHeap
	stride       uint32
	images       []gpu.Image
	current      uint32
	syncInterval uint32
}

func NewSwapchainManager(factory gpu.Factory, device gpu.Device, queue gpu.Queue, window gpu.WindowHandle, width, height, imageCount, syncInterval uint32) (*SwapchainManager, error) {
	m := &SwapchainManager{syncInterval: syncInterval}

	desc := gpu.SwapchainDesc{
		Width:        width,
		Height:       height,
		Format:       gpu.FormatR8G8B8A8Unorm,
		BufferCount:  imageCount,
		SwapEffect:   gpu.SwapEffectFlipDiscard,
		SyncInterval: syncInterval,
	}
	chain, err := factory.CreateSwapchain(device, queue, window, desc)
	if err != nil {
		return nil, core.ResourceCreationErrorf(err, "failed to create %dx%d swapchain with %d buffers", width, height, imageCount)
	}
	m.Handle = chain

	count := chain.BufferCount()
	if m.heap, err = device.CreateDescriptorHeap(gpu.DescriptorHeapTypeRTV, count); err != nil {
		m.Destroy()
		return nil, core.ResourceCreationErrorf(err, "failed to create render target view heap")
	}
	m.stride = device.DescriptorHandleIncrementSize(gpu.DescriptorHeapTypeRTV)

	for i := uint32(0); i < count; i++ {
		image, err := chain.Buffer(i)
		if err != nil {
			m.Destroy()
			return nil, core.ResourceCreationErrorf(err, "failed to get swapchain buffer %d", i)
		}
		if err := device.CreateRenderTargetView(image, m.View(i)); err != nil {
			m.Destroy()
			return nil, core.ResourceCreationErrorf(err, "failed to create render target view %d", i)
		}
		m.images = append(m.images, image)
	}
	m.current = chain.CurrentBackBufferIndex()
	core.LogDebug("swapchain created: %dx%d, %d buffers, sync interval %d", width, height, count, syncInterval)
	return m, nil
}

// AcquireCurrentIndex is the buffer the next frame renders into.
func (m *SwapchainManager) AcquireCurrentIndex() uint32 {
	return m.current
}

func (m *SwapchainManager) ImageCount() uint32 {
	return uint32(len(m.images))
}

func (m *SwapchainManager) CurrentImage() gpu.Image {
	return m.images[m.current]
}

// View returns the render target view of buffer i: base + i*stride.
func (m *SwapchainManager) View(i uint32) gpu.DescriptorHandle {
	return m.heap.Start().Offset(i, m.stride)
}

// Present queues the current buffer for display, then reads the new current
// index back from the swapchain.
func (m *SwapchainManager) Present() (uint32, error) {
	if err := m.Handle.Present(m.syncInterval); err != nil {
		return m.current, core.SubmissionErrorf(err, "failed to present buffer %d", m.current)
	}
	m.current = m.Handle.CurrentBackBufferIndex()
	return m.current, nil
}

// Destroy releases the views, then the swapchain. The buffers are owned by
// the swapchain and never released here.
func (m *SwapchainManager) Destroy() {
	if m == nil {
		return
	}
	m.images = nil
	if m.heap != nil {
		m.heap.Release()
		m.heap = nil
	}
	if m.Handle != nil {
		m.Handle.Release()
		m.Handle = nil
	}
}
