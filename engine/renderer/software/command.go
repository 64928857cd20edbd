package software

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// CommandAllocator counts the submitted lists the GPU has not finished.
type CommandAllocator struct {
	h      *handle
	device *Device

	mu      sync.Mutex
	pending int
	resets  int
}

func (a *CommandAllocator) begin() {
	a.mu.Lock()
	a.pending++
	a.mu.Unlock()
}

func (a *CommandAllocator) end() {
	a.mu.Lock()
	a.pending--
	a.mu.Unlock()
}

// InFlight reports whether the GPU still executes commands of the allocator.
func (a *CommandAllocator) InFlight() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending > 0
}

// Resets counts the successful Reset calls.
func (a *CommandAllocator) Resets() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resets
}

func (a *CommandAllocator) Reset() error {
	if !a.h.alive() {
		return errors.Wrap(gpu.ErrReleased, "command allocator")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending > 0 {
		a.device.tracker().violation("command allocator reset with %d lists in flight", a.pending)
		return errors.Wrapf(gpu.ErrAllocatorInUse, "%d lists in flight", a.pending)
	}
	a.resets++
	return nil
}

func (a *CommandAllocator) Release() {
	if !a.h.release() {
		return
	}
	if a.InFlight() {
		a.device.tracker().violation("command allocator released while in use")
	}
}

type opKind uint8

const (
	opBarrier opKind = iota
	opClear
)

type command struct {
	kind     opKind
	barriers []gpu.Barrier
	view     gpu.DescriptorHandle
	color    gpu.Color
}

type recordedList struct {
	allocator *CommandAllocator
	commands  []command
}

// CommandList records commands between Reset and Close.
type CommandList struct {
	h         *handle
	device    *Device
	allocator *CommandAllocator

	mu        sync.Mutex
	recording bool
	commands  []command
}

func (l *CommandList) Reset(allocator gpu.CommandAllocator) error {
	if !l.h.alive() {
		return errors.Wrap(gpu.ErrReleased, "command list")
	}
	a, ok := allocator.(*CommandAllocator)
	if !ok {
		return gpu.ErrWrongBackendObject
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recording {
		return errors.Wrap(gpu.ErrInvalidCall, "command list reset while recording")
	}
	l.allocator = a
	l.recording = true
	l.commands = nil
	return nil
}

func (l *CommandList) record(c command) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.recording {
		l.device.tracker().violation("command recorded on a closed list")
		return
	}
	l.commands = append(l.commands, c)
}

func (l *CommandList) ResourceBarrier(barriers ...gpu.Barrier) {
	l.record(command{kind: opBarrier, barriers: append([]gpu.Barrier(nil), barriers...)})
}

func (l *CommandList) ClearRenderTargetView(view gpu.DescriptorHandle, color gpu.Color) {
	l.record(command{kind: opClear, view: view, color: color})
}

func (l *CommandList) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.recording {
		return errors.Wrap(gpu.ErrInvalidCall, "command list closed twice")
	}
	l.recording = false
	return nil
}

func (l *CommandList) snapshot() (*recordedList, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recording {
		return nil, errors.Wrap(gpu.ErrInvalidCall, "executing a command list that is still recording")
	}
	return &recordedList{
		allocator: l.allocator,
		commands:  append([]command(nil), l.commands...),
	}, nil
}

func (l *CommandList) Release() {
	l.h.release()
}

func (r *recordedList) execute(d *Device) {
	for _, c := range r.commands {
		switch c.kind {
		case opBarrier:
			for _, b := range c.barriers {
				img, ok := b.Image.(*Image)
				if !ok {
					d.tracker().violation("barrier on a foreign image")
					continue
				}
				if before := img.transition(b.After); before != b.Before {
					d.tracker().violation("barrier expects %s but image is %s", b.Before, before)
					d.report(gpu.MessageSeverityError, MessageIDBarrierStateMismatch,
						"resource barrier before state %s does not match current state %s", b.Before, before)
				}
			}
		case opClear:
			img, ok := d.View(c.view)
			if !ok {
				d.tracker().violation("clear of unknown render target view %#x", uintptr(c.view))
				continue
			}
			if s := img.State(); s != gpu.ResourceStateRenderTarget {
				d.tracker().violation("clear of an image in state %s", s)
				d.report(gpu.MessageSeverityError, MessageIDClearNotRenderTarget,
					"clear of a render target in state %s", s)
			}
			d.report(gpu.MessageSeverityWarning, MessageIDClearValueMismatch,
				"clear value does not match the optimized clear value of the resource")
			img.clear(c.color)
		}
	}
}
