package software

import (
	"image"
	"image/color"
	"sync"

	"github.com/cockroachdb/errors"
	xdraw "golang.org/x/image/draw"

	"github.com/spaghettifunk/anima/engine/math"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

const maxSyncInterval = 4

// Transition is one state change applied to an image by the GPU.
type Transition struct {
	Before gpu.ResourceState
	After  gpu.ResourceState
}

// Image is a swapchain buffer backed by CPU memory.
type Image struct {
	h     *handle
	index uint32

	mu          sync.Mutex
	state       gpu.ResourceState
	transitions []Transition
	clears      int
	pixels      *image.RGBA
}

func newImage(h *handle, index, width, height uint32) *Image {
	return &Image{
		h:      h,
		index:  index,
		state:  gpu.ResourceStatePresent,
		pixels: image.NewRGBA(image.Rect(0, 0, int(width), int(height))),
	}
}

func (i *Image) Width() uint32  { return uint32(i.pixels.Bounds().Dx()) }
func (i *Image) Height() uint32 { return uint32(i.pixels.Bounds().Dy()) }

func (i *Image) State() gpu.ResourceState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Transitions returns every state change the image went through.
func (i *Image) Transitions() []Transition {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Transition(nil), i.transitions...)
}

func (i *Image) Clears() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.clears
}

func (i *Image) Pixel(x, y int) color.RGBA {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pixels.RGBAAt(x, y)
}

// transition moves the image to after and returns the previous state.
func (i *Image) transition(after gpu.ResourceState) gpu.ResourceState {
	i.mu.Lock()
	defer i.mu.Unlock()
	before := i.state
	i.state = after
	i.transitions = append(i.transitions, Transition{Before: before, After: after})
	return before
}

func (i *Image) clear(c gpu.Color) {
	i.mu.Lock()
	defer i.mu.Unlock()
	fill := image.NewUniform(toRGBA(c))
	xdraw.Draw(i.pixels, i.pixels.Bounds(), fill, image.Point{}, xdraw.Src)
	i.clears++
}

func toRGBA(c gpu.Color) color.RGBA {
	return color.RGBA{R: math.UnormToByte(c.R), G: math.UnormToByte(c.G), B: math.UnormToByte(c.B), A: math.UnormToByte(c.A)}
}

// Swapchain is a flip model chain whose presents are ordered on a queue.
type Swapchain struct {
	h       *handle
	factory *Factory
	device  *Device
	queue   *Queue
	window  gpu.WindowHandle
	desc    gpu.SwapchainDesc
	images  []*Image

	mu           sync.Mutex
	current      uint32
	history      []uint32
	syncInterval uint32
}

func newSwapchain(f *Factory, d *Device, q *Queue, window gpu.WindowHandle, desc gpu.SwapchainDesc) (*Swapchain, error) {
	h, err := f.tracker.track(KindSwapchain)
	if err != nil {
		return nil, err
	}
	sc := &Swapchain{h: h, factory: f, device: d, queue: q, window: window, desc: desc}
	for i := uint32(0); i < desc.BufferCount; i++ {
		ih, err := f.tracker.track(KindImage)
		if err != nil {
			sc.releaseImages()
			h.release()
			return nil, err
		}
		sc.images = append(sc.images, newImage(ih, i, desc.Width, desc.Height))
	}
	return sc, nil
}

func (s *Swapchain) BufferCount() uint32 {
	return uint32(len(s.images))
}

func (s *Swapchain) Buffer(index uint32) (gpu.Image, error) {
	if int(index) >= len(s.images) {
		return nil, errors.Wrapf(gpu.ErrInvalidCall, "buffer %d of %d", index, len(s.images))
	}
	return s.images[index], nil
}

// Image returns the concrete buffer at index.
func (s *Swapchain) Image(index uint32) *Image {
	return s.images[index]
}

func (s *Swapchain) CurrentBackBufferIndex() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Swapchain) Present(syncInterval uint32) error {
	if !s.h.alive() {
		return errors.Wrap(gpu.ErrReleased, "swapchain")
	}
	if syncInterval > maxSyncInterval {
		return errors.Wrapf(gpu.ErrInvalidCall, "sync interval %d exceeds %d", syncInterval, maxSyncInterval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.queue.present(s, s.current); err != nil {
		return err
	}
	s.syncInterval = syncInterval
	s.current = s.factory.opts.PresentOrder(s.current, uint32(len(s.images)))
	return nil
}

// presented runs on the queue worker once the image reaches the display.
func (s *Swapchain) presented(index uint32) {
	img := s.images[index]
	if st := img.State(); st != gpu.ResourceStatePresent {
		s.device.tracker().violation("present of buffer %d in state %s", index, st)
		s.device.report(gpu.MessageSeverityError, MessageIDPresentNotPresent,
			"presented buffer %d is in state %s", index, st)
	}
	s.mu.Lock()
	s.history = append(s.history, index)
	s.mu.Unlock()
}

// Presented returns the buffer indices in the order they were displayed.
func (s *Swapchain) Presented() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.history...)
}

func (s *Swapchain) LastSyncInterval() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncInterval
}

func (s *Swapchain) releaseImages() {
	for _, img := range s.images {
		img.h.release()
	}
}

func (s *Swapchain) Release() {
	if !s.h.release() {
		return
	}
	s.releaseImages()
	s.factory.forgetWindow(s.window)
}
