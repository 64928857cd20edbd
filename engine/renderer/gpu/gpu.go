// Package gpu is the explicit graphics API the frame engine is written
// against: adapters, devices, an ordered command queue, counter fences,
// command allocators and lists, descriptor heaps and swapchains.
//
// Backends (vulkan, software) implement these interfaces. Every object is
// released exactly once with Release; objects borrowed from another object
// (swapchain images, descriptor handles) are never released by the caller.
package gpu

import "time"

// Factory enumerates adapters and creates swapchains.
type Factory interface {
	EnumerateAdapters(pref GPUPreference) ([]Adapter, error)
	// CreateSwapchain creates a presentable chain for window whose
	// presentation is ordered on queue.
	CreateSwapchain(device Device, queue Queue, window WindowHandle, desc SwapchainDesc) (Swapchain, error)
	Release()
}

type Adapter interface {
	Desc() AdapterDesc
	// SupportsFeatureLevel reports whether a device could be created at
	// level, without creating one.
	SupportsFeatureLevel(level FeatureLevel) bool
	CreateDevice(level FeatureLevel, debug DebugOptions) (Device, error)
	Release()
}

type Device interface {
	CreateCommandQueue() (Queue, error)
	CreateCommandAllocator() (CommandAllocator, error)
	// CreateCommandList returns a list in the closed state, bound to
	// allocator for its first Reset.
	CreateCommandList(allocator CommandAllocator) (CommandList, error)
	CreateFence(initialValue uint64) (Fence, error)
	// CreateEvent creates the wait primitive fences signal on completion.
	CreateEvent() (Event, error)
	CreateDescriptorHeap(kind DescriptorHeapType, count uint32) (DescriptorHeap, error)
	DescriptorHandleIncrementSize(kind DescriptorHeapType) uint32
	CreateRenderTargetView(image Image, dest DescriptorHandle) error
	Release()
}

// Queue is a single ordered execution stream.
type Queue interface {
	ExecuteCommandLists(lists ...CommandList) error
	// Signal sets fence to value once every previously queued command has
	// completed.
	Signal(fence Fence, value uint64) error
	Release()
}

type Fence interface {
	CompletedValue() uint64
	// SetEventOnCompletion sets event when the completed value reaches
	// value. If it already has, event is set immediately.
	SetEventOnCompletion(value uint64, event Event) error
	Release()
}

// Event is an auto-reset wait primitive.
type Event interface {
	// Wait blocks until the event is set or timeout elapses. WaitInfinite
	// never times out.
	Wait(timeout time.Duration) error
	Release()
}

type CommandAllocator interface {
	// Reset reclaims the memory of every command recorded from the
	// allocator. The caller guarantees the GPU finished executing them.
	Reset() error
	Release()
}

type CommandList interface {
	Reset(allocator CommandAllocator) error
	ResourceBarrier(barriers ...Barrier)
	ClearRenderTargetView(view DescriptorHandle, color Color)
	Close() error
	Release()
}

type DescriptorHeap interface {
	Start() DescriptorHandle
	Count() uint32
	Release()
}

// Image is a GPU image. Swapchain images are owned by their swapchain.
type Image interface {
	Width() uint32
	Height() uint32
}

type Swapchain interface {
	BufferCount() uint32
	Buffer(index uint32) (Image, error)
	CurrentBackBufferIndex() uint32
	Present(syncInterval uint32) error
	Release()
}
