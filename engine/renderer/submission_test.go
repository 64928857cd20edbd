package renderer

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/software"
)

func newTestGPUDevice(t *testing.T, opts software.Options) (*software.Factory, *SelectedDevice) {
	t.Helper()
	f, err := software.NewFactory(opts)
	if err != nil {
		t.Fatal(err)
	}
	sel, err := SelectAndCreateDevice(f, &testWindow{"main"}, 8, 4, SelectorOptions{})
	if err != nil {
		t.Fatal(err)
	}
	return f, sel
}

func TestDeviceFenceRedundantWaits(t *testing.T) {
	f, sel := newTestGPUDevice(t, software.Options{ExecutionDelay: time.Millisecond})
	queue, err := sel.Device.CreateCommandQueue()
	if err != nil {
		t.Fatal(err)
	}
	fence, err := NewDeviceFence(sel.Device, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	// Nothing signaled yet: the wait is satisfied by the initial value.
	if err := fence.Wait(); err != nil {
		t.Fatal(err)
	}
	for want := uint64(1); want <= 3; want++ {
		v, err := fence.Signal(queue)
		if err != nil {
			t.Fatal(err)
		}
		if v != want {
			t.Fatalf("signaled %d, want %d", v, want)
		}
	}
	if err := fence.Wait(); err != nil {
		t.Fatal(err)
	}
	if !fence.Completed() {
		t.Fatal("fence not completed after wait")
	}
	for i := 0; i < 3; i++ {
		if err := fence.Wait(); err != nil {
			t.Fatalf("redundant wait %d: %v", i, err)
		}
		if err := fence.WaitFor(1); err != nil {
			t.Fatalf("wait for an older value: %v", err)
		}
	}
	if err := fence.WaitFor(4); !errors.Is(err, gpu.ErrInvalidCall) || !errors.Is(err, core.ErrSubmission) {
		t.Fatalf("wait for an unsignaled value: %v", err)
	}

	fence.Release()
	fence.Release()
	var nilFence *DeviceFence
	nilFence.Release()

	queue.Release()
	sel.Release()
	f.Release()
	assertClean(t, f)
}

func TestDeviceFenceTimeout(t *testing.T) {
	f, sel := newTestGPUDevice(t, software.Options{ManualCompletion: true})
	queue, _ := sel.Device.CreateCommandQueue()
	alloc, _ := sel.Device.CreateCommandAllocator()
	list, _ := sel.Device.CreateCommandList(alloc)
	fence, err := NewDeviceFence(sel.Device, 5*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	_ = list.Reset(alloc)
	_ = list.Close()
	if err := queue.ExecuteCommandLists(list); err != nil {
		t.Fatal(err)
	}
	if _, err := fence.Signal(queue); err != nil {
		t.Fatal(err)
	}
	err = fence.Wait()
	if !errors.Is(err, gpu.ErrWaitTimeout) || !errors.Is(err, core.ErrSubmission) {
		t.Fatalf("expected a timeout, got %v", err)
	}

	f.Controller().Step(1)
	fence.timeout = gpu.WaitInfinite
	if err := fence.Wait(); err != nil {
		t.Fatal(err)
	}

	fence.Release()
	list.Release()
	alloc.Release()
	queue.Release()
	sel.Release()
	f.Release()
	assertClean(t, f)
}

func TestFrameSlotSelection(t *testing.T) {
	f, sel := newTestGPUDevice(t, software.Options{})
	s, err := NewCommandSubmitter(sel.Device, 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	for frame := uint64(0); frame < 11; frame++ {
		slot, list, err := s.BeginFrame(frame)
		if err != nil {
			t.Fatal(err)
		}
		if slot.Index != uint32(frame%4) {
			t.Fatalf("frame %d used slot %d", frame, slot.Index)
		}
		if list == nil {
			t.Fatal("no command list")
		}
		if _, _, err := s.BeginFrame(frame + 1); !errors.Is(err, core.ErrSubmission) {
			t.Fatalf("nested BeginFrame: %v", err)
		}
		v, err := s.Submit()
		if err != nil {
			t.Fatal(err)
		}
		if want := frame/4 + 1; v != want {
			t.Fatalf("frame %d signaled %d, want %d", frame, v, want)
		}
	}
	if _, err := s.Submit(); !errors.Is(err, core.ErrSubmission) {
		t.Fatalf("submit without a frame: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !s.Slot(2).Fence.Completed() {
		t.Error("last used slot not complete after Close")
	}
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}
	for i := uint32(0); i < s.Latency(); i++ {
		if !s.Slot(i).Fence.Completed() {
			t.Errorf("slot %d not complete after Flush", i)
		}
	}

	s.Destroy()
	s.Destroy()
	sel.Release()
	f.Release()
	assertClean(t, f)
}

func TestNewCommandSubmitterRejectsZeroLatency(t *testing.T) {
	f, sel := newTestGPUDevice(t, software.Options{})
	if _, err := NewCommandSubmitter(sel.Device, 0, 0); !errors.Is(err, core.ErrResourceCreation) {
		t.Fatalf("expected ErrResourceCreation, got %v", err)
	}
	sel.Release()
	f.Release()
	assertClean(t, f)
}
