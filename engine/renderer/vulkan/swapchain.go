package vulkan

import (
	stdmath "math"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/math"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// maxSyncInterval matches the largest interval a flip chain accepts.
const maxSyncInterval = 4

// Swapchain presents on the queue it was created with. The next image is
// acquired right after every present, so CurrentBackBufferIndex always names
// an image the application may render into.
type Swapchain struct {
	factory *Factory
	device  *Device
	queue   *Queue
	handle  vk.Swapchain
	images  []*Image

	// acquire semaphores form a ring one longer than the image count so a
	// semaphore is never reused while its acquire is still pending.
	acquireSemaphores []vk.Semaphore
	renderDone        []vk.Semaphore
	nextSemaphore     int
	pendingAcquire    vk.Semaphore
	rendered          bool
	current           uint32
}

func surfaceFormat(format gpu.Format) vk.Format {
	if format == gpu.FormatB8G8R8A8Unorm {
		return vk.FormatB8g8r8a8Unorm
	}
	return vk.FormatR8g8b8a8Unorm
}

func chooseFormat(formats []vk.SurfaceFormat, want vk.Format) vk.SurfaceFormat {
	for i := range formats {
		formats[i].Deref()
	}
	for _, f := range formats {
		if f.Format == want && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	for _, f := range formats {
		if f.Format == vk.FormatB8g8r8a8Unorm || f.Format == vk.FormatR8g8b8a8Unorm {
			core.LogWarn("surface does not offer format %d, using %d", want, f.Format)
			return f
		}
	}
	return formats[0]
}

func newSwapchain(f *Factory, d *Device, q *Queue, desc gpu.SwapchainDesc) (*Swapchain, error) {
	if desc.SyncInterval > maxSyncInterval {
		return nil, errors.Wrapf(gpu.ErrInvalidCall, "sync interval %d exceeds %d", desc.SyncInterval, maxSyncInterval)
	}
	physical := d.adapter.physical

	var caps vk.SurfaceCapabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(physical, f.surface, &caps); res != vk.Success {
		return nil, resultError(res, "failed to query surface capabilities")
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()
	if vk.ImageUsageFlagBits(caps.SupportedUsageFlags)&vk.ImageUsageTransferDstBit == 0 {
		return nil, errors.Wrap(gpu.ErrUnsupported, "surface images cannot be cleared")
	}

	var formatCount uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(physical, f.surface, &formatCount, nil); res != vk.Success {
		return nil, resultError(res, "failed to query surface formats")
	}
	if formatCount == 0 {
		return nil, errors.Wrap(gpu.ErrUnsupported, "surface reports no formats")
	}
	formats := make([]vk.SurfaceFormat, formatCount)
	vk.GetPhysicalDeviceSurfaceFormats(physical, f.surface, &formatCount, formats)
	format := chooseFormat(formats, surfaceFormat(desc.Format))

	presentMode := vk.PresentModeFifo
	if desc.SyncInterval == 0 {
		var modeCount uint32
		vk.GetPhysicalDeviceSurfacePresentModes(physical, f.surface, &modeCount, nil)
		modes := make([]vk.PresentMode, modeCount)
		vk.GetPhysicalDeviceSurfacePresentModes(physical, f.surface, &modeCount, modes)
		for _, mode := range modes {
			if mode == vk.PresentModeImmediate || mode == vk.PresentModeMailbox {
				presentMode = mode
				break
			}
		}
	}

	extent := vk.Extent2D{Width: desc.Width, Height: desc.Height}
	if caps.CurrentExtent.Width != stdmath.MaxUint32 {
		extent = caps.CurrentExtent
	}
	extent.Width = math.Clamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = math.Clamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)

	imageCount := desc.BufferCount
	if imageCount < caps.MinImageCount {
		imageCount = caps.MinImageCount
	}
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          f.surface,
		MinImageCount:    imageCount,
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
	}
	sc := &Swapchain{factory: f, device: d, queue: q}
	if res := vk.CreateSwapchain(d.logical, &createInfo, nil, &sc.handle); res != vk.Success {
		return nil, resultError(res, "failed to create swapchain")
	}

	var count uint32
	if res := vk.GetSwapchainImages(d.logical, sc.handle, &count, nil); res != vk.Success {
		sc.Release()
		return nil, resultError(res, "failed to get swapchain images")
	}
	handles := make([]vk.Image, count)
	if res := vk.GetSwapchainImages(d.logical, sc.handle, &count, handles); res != vk.Success {
		sc.Release()
		return nil, resultError(res, "failed to get swapchain images")
	}
	for _, h := range handles {
		sc.images = append(sc.images, &Image{handle: h, format: format.Format, width: extent.Width, height: extent.Height})
	}
	if count != desc.BufferCount {
		core.LogWarn("requested %d swapchain images, the surface gave %d", desc.BufferCount, count)
	}

	semaphoreInfo := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	newSemaphores := func(n int) ([]vk.Semaphore, error) {
		out := make([]vk.Semaphore, 0, n)
		for i := 0; i < n; i++ {
			var s vk.Semaphore
			if res := vk.CreateSemaphore(d.logical, &semaphoreInfo, nil, &s); res != vk.Success {
				return out, resultError(res, "failed to create semaphore")
			}
			out = append(out, s)
		}
		return out, nil
	}
	var err error
	if sc.acquireSemaphores, err = newSemaphores(len(sc.images) + 1); err != nil {
		sc.Release()
		return nil, err
	}
	if sc.renderDone, err = newSemaphores(len(sc.images)); err != nil {
		sc.Release()
		return nil, err
	}

	if err := sc.acquire(); err != nil {
		sc.Release()
		return nil, err
	}
	q.swapchain = sc
	core.LogInfo("swapchain created: %d images %dx%d present mode %d", count, extent.Width, extent.Height, presentMode)
	return sc, nil
}

func (s *Swapchain) acquire() error {
	semaphore := s.acquireSemaphores[s.nextSemaphore]
	s.nextSemaphore = (s.nextSemaphore + 1) % len(s.acquireSemaphores)

	var index uint32
	res := vk.AcquireNextImage(s.device.logical, s.handle, stdmath.MaxUint64, semaphore, vk.NullFence, &index)
	if res == vk.ErrorOutOfDate {
		return errors.Wrap(gpu.ErrUnsupported, "swapchain is out of date and cannot be recreated")
	}
	if err := resultError(res, "failed to acquire swapchain image"); err != nil {
		return err
	}
	s.current = index
	s.pendingAcquire = semaphore
	s.rendered = false
	return nil
}

// frameSemaphores hands the first submission after an acquire the semaphores
// it must wait on and signal.
func (s *Swapchain) frameSemaphores() (wait, signal vk.Semaphore, ok bool) {
	wait, ok := s.unconsumedAcquire()
	if !ok {
		return vk.NullSemaphore, vk.NullSemaphore, false
	}
	s.rendered = true
	return wait, s.renderDone[s.current], true
}

// unconsumedAcquire returns the semaphore of an acquire no submission has
// waited on yet.
func (s *Swapchain) unconsumedAcquire() (vk.Semaphore, bool) {
	if s.rendered || s.pendingAcquire == vk.NullSemaphore {
		return vk.NullSemaphore, false
	}
	return s.pendingAcquire, true
}

// drainAcquire makes the queue wait on a pending acquire so the semaphore is
// unsignaled and unused once the queue is idle.
func (s *Swapchain) drainAcquire() {
	wait, ok := s.unconsumedAcquire()
	if !ok {
		return
	}
	_ = s.device.locks.SafeCall(QueueManagement, func() error {
		submitInfo := vk.SubmitInfo{
			SType:              vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount: 1,
			PWaitSemaphores:    []vk.Semaphore{wait},
			PWaitDstStageMask:  []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)},
		}
		if err := resultError(vk.QueueSubmit(s.queue.handle, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence), "failed to drain the pending acquire"); err != nil {
			core.LogWarn("%s", err)
		}
		return nil
	})
	s.pendingAcquire = vk.NullSemaphore
}

func (s *Swapchain) BufferCount() uint32 { return uint32(len(s.images)) }

func (s *Swapchain) Buffer(index uint32) (gpu.Image, error) {
	if int(index) >= len(s.images) {
		return nil, errors.Wrapf(gpu.ErrInvalidCall, "swapchain has no buffer %d", index)
	}
	return s.images[index], nil
}

func (s *Swapchain) CurrentBackBufferIndex() uint32 { return s.current }

func (s *Swapchain) Present(syncInterval uint32) error {
	if syncInterval > maxSyncInterval {
		return errors.Wrapf(gpu.ErrInvalidCall, "sync interval %d exceeds %d", syncInterval, maxSyncInterval)
	}
	wait := s.pendingAcquire
	if s.rendered {
		wait = s.renderDone[s.current]
	}
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{wait},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.handle},
		PImageIndices:      []uint32{s.current},
	}
	err := s.device.locks.SafeCall(QueueManagement, func() error {
		res := vk.QueuePresent(s.queue.handle, &presentInfo)
		if res == vk.ErrorOutOfDate {
			return errors.Wrap(gpu.ErrUnsupported, "swapchain is out of date and cannot be recreated")
		}
		return resultError(res, "failed to present")
	})
	if err != nil {
		return err
	}
	s.pendingAcquire = vk.NullSemaphore
	return s.acquire()
}

func (s *Swapchain) Release() {
	if s.device == nil {
		return
	}
	logical := s.device.logical
	if s.queue != nil && s.queue.handle != nil {
		s.drainAcquire()
		vk.QueueWaitIdle(s.queue.handle)
	}
	for _, sem := range append(s.acquireSemaphores, s.renderDone...) {
		vk.DestroySemaphore(logical, sem, nil)
	}
	s.acquireSemaphores, s.renderDone = nil, nil
	if s.handle != vk.NullSwapchain {
		vk.DestroySwapchain(logical, s.handle, nil)
		s.handle = vk.NullSwapchain
	}
	if s.queue != nil && s.queue.swapchain == s {
		s.queue.swapchain = nil
	}
	if s.factory.swapchain == s {
		s.factory.swapchain = nil
	}
	s.images = nil
	s.device = nil
}
