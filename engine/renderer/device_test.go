package renderer

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/software"
)

type testWindow struct{ name string }

func newTestDevice(t *testing.T, swOpts software.Options, opts Options) (*RenderDevice, *software.Factory) {
	t.Helper()
	f, err := software.NewFactory(swOpts)
	if err != nil {
		t.Fatal(err)
	}
	return New(f.Backend(), opts), f
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Width, opts.Height = 8, 4
	return opts
}

func assertClean(t *testing.T, f *software.Factory) {
	t.Helper()
	tr := f.Tracker()
	if live := tr.Live(); live != 0 {
		t.Errorf("%d objects still alive", live)
	}
	if n := tr.DoubleReleases(); n != 0 {
		t.Errorf("%d objects released twice", n)
	}
	if v := tr.Violations(); len(v) != 0 {
		t.Errorf("violations: %v", v)
	}
}

func swapchainImage(d *RenderDevice, i uint32) *software.Image {
	return d.swapchain.Handle.(*software.Swapchain).Image(i)
}

func TestRenderFramesSlotUsage(t *testing.T) {
	d, f := newTestDevice(t, software.Options{}, testOptions())
	if err := d.Initialize(&testWindow{"main"}, 0, 0); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if err := d.Render(); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}

	if got := d.FrameCount(); got != 10 {
		t.Errorf("frame count %d, want 10", got)
	}
	want := []uint64{4, 3, 3}
	got := d.SlotUsage()
	if len(got) != len(want) {
		t.Fatalf("slot usage %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("slot usage %v, want %v", got, want)
		}
	}
	if d.State() != FrameStateIdle {
		t.Errorf("state %s after render, want idle", d.State())
	}

	d.Destroy()
	d.Destroy()
	assertClean(t, f)
}

func TestBackBufferTransitions(t *testing.T) {
	d, f := newTestDevice(t, software.Options{}, testOptions())
	if err := d.Initialize(&testWindow{"main"}, 0, 0); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 7; i++ {
		if err := d.Render(); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	// Drain the presents queued behind the last fence signal.
	if err := d.submitter.Flush(); err != nil {
		t.Fatal(err)
	}

	total := 0
	for i := uint32(0); i < d.swapchain.ImageCount(); i++ {
		img := swapchainImage(d, i)
		transitions := img.Transitions()
		if len(transitions)%2 != 0 {
			t.Fatalf("image %d has an odd number of transitions: %v", i, transitions)
		}
		for j, tr := range transitions {
			want := software.Transition{Before: gpu.ResourceStatePresent, After: gpu.ResourceStateRenderTarget}
			if j%2 == 1 {
				want = software.Transition{Before: gpu.ResourceStateRenderTarget, After: gpu.ResourceStatePresent}
			}
			if tr != want {
				t.Fatalf("image %d transition %d = %v, want %v", i, j, tr, want)
			}
		}
		if img.State() != gpu.ResourceStatePresent {
			t.Errorf("image %d left in state %s", i, img.State())
		}
		total += img.Clears()
	}
	if total != 7 {
		t.Errorf("%d clears, want 7", total)
	}

	d.Destroy()
	assertClean(t, f)
}

func TestAllocatorWaitsForSlowGPU(t *testing.T) {
	d, f := newTestDevice(t, software.Options{ManualCompletion: true}, testOptions())
	if err := d.Initialize(&testWindow{"main"}, 0, 0); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := d.Render(); err != nil {
			t.Fatal(err)
		}
	}
	slot0 := d.submitter.Slot(0).Allocator.(*software.CommandAllocator)
	if n := slot0.Resets(); n != 1 {
		t.Fatalf("slot 0 reset %d times, want 1", n)
	}

	done := make(chan error, 1)
	go func() { done <- d.Render() }()

	select {
	case err := <-done:
		t.Fatalf("frame 3 did not wait for the GPU: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	if n := slot0.Resets(); n != 1 {
		t.Fatalf("slot 0 allocator reset before its fence completed")
	}
	if !slot0.InFlight() {
		t.Fatal("slot 0 commands should still be in flight")
	}

	f.Controller().Step(1)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("frame 3 still blocked after the GPU finished frame 0")
	}
	if n := f.Controller().Executed(); n != 1 {
		t.Errorf("%d command lists executed, want 1", n)
	}
	if n := slot0.Resets(); n != 2 {
		t.Errorf("slot 0 reset %d times, want 2", n)
	}

	f.Controller().Step(3)
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	d.Destroy()
	assertClean(t, f)
}

func TestNonRoundRobinPresentOrder(t *testing.T) {
	swOpts := software.Options{
		PresentOrder: func(current, count uint32) uint32 {
			return (current + count - 1) % count
		},
	}
	d, f := newTestDevice(t, swOpts, testOptions())
	if err := d.Initialize(&testWindow{"main"}, 0, 0); err != nil {
		t.Fatal(err)
	}
	var rendered []uint32
	for i := 0; i < 4; i++ {
		rendered = append(rendered, d.swapchain.AcquireCurrentIndex())
		if err := d.Render(); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.submitter.Flush(); err != nil {
		t.Fatal(err)
	}

	want := []uint32{0, 2, 1, 0}
	presented := d.swapchain.Handle.(*software.Swapchain).Presented()
	for i := range want {
		if rendered[i] != want[i] || presented[i] != want[i] {
			t.Fatalf("rendered %v presented %v, want %v", rendered, presented, want)
		}
	}
	d.Destroy()
	assertClean(t, f)
}

func TestInitializeUsesClientSize(t *testing.T) {
	d, f := newTestDevice(t, software.Options{}, testOptions())
	if err := d.Initialize(&testWindow{"main"}, 16, 8); err != nil {
		t.Fatal(err)
	}
	if w, h := d.ClientSize(); w != 16 || h != 8 {
		t.Errorf("client size %dx%d, want 16x8", w, h)
	}
	for i := uint32(0); i < d.swapchain.ImageCount(); i++ {
		img := swapchainImage(d, i)
		if img.Width() != 16 || img.Height() != 8 {
			t.Errorf("buffer %d is %dx%d, want 16x8", i, img.Width(), img.Height())
		}
	}
	d.Destroy()
	assertClean(t, f)
}

func TestPresentSyncInterval(t *testing.T) {
	for _, tt := range []struct {
		name     string
		interval *uint32
		want     uint32
	}{
		{name: "default", want: 1},
		{name: "unthrottled", interval: new(uint32), want: 0},
	} {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			if tt.interval != nil {
				opts.SyncInterval = *tt.interval
			}
			d, f := newTestDevice(t, software.Options{}, opts)
			if err := d.Initialize(&testWindow{"main"}, 0, 0); err != nil {
				t.Fatal(err)
			}
			if err := d.Render(); err != nil {
				t.Fatal(err)
			}
			if got := d.swapchain.Handle.(*software.Swapchain).LastSyncInterval(); got != tt.want {
				t.Errorf("presented with sync interval %d, want %d", got, tt.want)
			}
			d.Destroy()
			assertClean(t, f)
		})
	}
}

func TestClearColor(t *testing.T) {
	opts := testOptions()
	opts.ClearColor = gpu.Color{R: 1, A: 1}
	d, f := newTestDevice(t, software.Options{}, opts)
	if err := d.Initialize(&testWindow{"main"}, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := d.Render(); err != nil {
		t.Fatal(err)
	}
	d.SetClearColor(gpu.Color{B: 1, A: 1})
	if err := d.Render(); err != nil {
		t.Fatal(err)
	}
	if err := d.submitter.Flush(); err != nil {
		t.Fatal(err)
	}

	if px := swapchainImage(d, 0).Pixel(0, 0); px.R != 255 || px.B != 0 {
		t.Errorf("buffer 0 = %v, want red", px)
	}
	if px := swapchainImage(d, 1).Pixel(7, 3); px.B != 255 || px.R != 0 {
		t.Errorf("buffer 1 = %v, want blue", px)
	}
	d.Destroy()
	assertClean(t, f)
}

func TestRenderBeforeInitialize(t *testing.T) {
	d, _ := newTestDevice(t, software.Options{}, testOptions())
	if err := d.Render(); !errors.Is(err, core.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	d.Destroy()
}

func TestRenderFailureIsSticky(t *testing.T) {
	d, f := newTestDevice(t, software.Options{FailExecuteAfter: 2}, testOptions())
	if err := d.Initialize(&testWindow{"main"}, 0, 0); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := d.Render(); err != nil {
			t.Fatal(err)
		}
	}
	err := d.Render()
	if !errors.Is(err, core.ErrSubmission) || !errors.Is(err, gpu.ErrDeviceLost) {
		t.Fatalf("expected a submission error caused by device loss, got %v", err)
	}
	if again := d.Render(); again != err {
		t.Fatalf("second failure %v, want the original %v", again, err)
	}
	if d.FrameCount() != 2 {
		t.Errorf("frame count %d, want 2", d.FrameCount())
	}
	if d.Err() != err {
		t.Errorf("Err() = %v", d.Err())
	}

	d.Destroy()
	if live := f.Tracker().Live(); live != 0 {
		t.Errorf("%d objects leaked", live)
	}
	if f.Tracker().DoubleReleases() != 0 {
		t.Error("double release during teardown")
	}
}

func TestReinitializeAfterFailure(t *testing.T) {
	d := New(software.NewBackend(software.Options{FailExecuteAfter: 2}), testOptions())
	if err := d.Initialize(&testWindow{"main"}, 0, 0); err != nil {
		t.Fatal(err)
	}
	for d.Render() == nil {
	}
	if d.Err() == nil {
		t.Fatal("device did not record the failure")
	}
	d.Destroy()
	if d.Err() != nil || d.FrameCount() != 0 {
		t.Fatalf("destroy kept err %v and frame count %d", d.Err(), d.FrameCount())
	}

	if err := d.Initialize(&testWindow{"main"}, 0, 0); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := d.Render(); err != nil {
			t.Fatalf("frame %d after reinitialize: %v", i, err)
		}
	}
	if d.FrameCount() != 2 {
		t.Errorf("frame count %d, want 2", d.FrameCount())
	}
	d.Destroy()
}

func TestFenceTimeoutIsFatal(t *testing.T) {
	opts := testOptions()
	opts.FenceTimeout = 10 * time.Millisecond
	d, f := newTestDevice(t, software.Options{ManualCompletion: true}, opts)
	if err := d.Initialize(&testWindow{"main"}, 0, 0); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := d.Render(); err != nil {
			t.Fatal(err)
		}
	}
	err := d.Render()
	if !errors.Is(err, gpu.ErrWaitTimeout) || !errors.Is(err, core.ErrSubmission) {
		t.Fatalf("expected a fence timeout, got %v", err)
	}
	if d.State() != FrameStateWaiting {
		t.Errorf("failed in state %s, want waiting", d.State())
	}
	f.Controller().Step(3)
	d.Destroy()
	if live := f.Tracker().Live(); live != 0 {
		t.Errorf("%d objects leaked", live)
	}
}

func TestAdapterInfo(t *testing.T) {
	d, f := newTestDevice(t, software.Options{}, testOptions())
	if err := d.Initialize(&testWindow{"main"}, 0, 0); err != nil {
		t.Fatal(err)
	}
	info := d.AdapterInfo()
	if info.Name != "Anima Simulated GPU" || info.Type != gpu.AdapterTypeDiscrete {
		t.Errorf("unexpected adapter %s", info)
	}
	if info.FeatureLevel != gpu.FeatureLevel1_2 {
		t.Errorf("feature level %s, want 1.2", info.FeatureLevel)
	}
	if info.DedicatedVideoMemory != 4<<30 {
		t.Errorf("dedicated memory %d", info.DedicatedVideoMemory)
	}
	if err := d.Initialize(&testWindow{"main"}, 0, 0); err == nil {
		t.Error("second Initialize succeeded")
	}
	d.Destroy()
	assertClean(t, f)
}
