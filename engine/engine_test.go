package engine

import (
	"context"
	"testing"
	"time"

	"github.com/spaghettifunk/anima/engine/config"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/platform/headless"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/software"
)

func testConfig(maxFrames uint64) *config.Config {
	cfg := config.Default()
	cfg.Application.Width, cfg.Application.Height = 8, 4
	cfg.Application.MaxFrames = maxFrames
	cfg.Renderer.Backend = config.BackendSoftware
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) (*Engine, *software.Factory) {
	t.Helper()
	f, err := software.NewFactory(software.Options{})
	if err != nil {
		t.Fatal(err)
	}
	e := New(cfg, headless.New(), f.Backend(), nil)
	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return e, f
}

func TestRunStopsAfterMaxFrames(t *testing.T) {
	e, f := newTestEngine(t, testConfig(7))
	if e.Stage() != EngineStageInitialized {
		t.Fatalf("stage = %d", e.Stage())
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := e.Device().FrameCount(); n != 7 {
		t.Errorf("frames = %d, want 7", n)
	}
	if err := e.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if e.Stage() != EngineStageShutdown {
		t.Errorf("stage = %d", e.Stage())
	}
	if live := f.Tracker().Live(); live != 0 {
		t.Errorf("%d objects alive after shutdown", live)
	}
	if v := f.Tracker().Violations(); len(v) != 0 {
		t.Errorf("violations: %v", v)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(0))
	defer e.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := e.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if e.Device().FrameCount() == 0 {
		t.Error("no frame rendered before cancellation")
	}
}

func TestQuitEventStopsRun(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(0))
	defer e.Shutdown()

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			return
		case <-tick.C:
			core.EventFire(core.EVENT_CODE_APPLICATION_QUIT, nil, core.EventContext{})
		case <-timeout:
			t.Fatal("quit event did not stop the loop")
		}
	}
}

func TestConfigReloadUpdatesClearColor(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(1))
	defer e.Shutdown()

	data := core.EventContext{F32: [4]float32{1, 0, 1, 1}}
	core.EventFire(core.EVENT_CODE_CONFIG_RELOADED, nil, data)
	if got, want := e.Device().ClearColor(), (gpu.Color{R: 1, G: 0, B: 1, A: 1}); got != want {
		t.Fatalf("clear color = %+v, want %+v", got, want)
	}
}

func TestMinimizeSuspends(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(0))
	defer e.Shutdown()

	var data core.EventContext
	core.EventFire(core.EVENT_CODE_RESIZED, nil, data)
	if !e.isSuspended.Load() {
		t.Fatal("zero size should suspend rendering")
	}
	data.U32[0], data.U32[1] = 8, 4
	core.EventFire(core.EVENT_CODE_RESIZED, nil, data)
	if e.isSuspended.Load() {
		t.Fatal("restoring the size should resume rendering")
	}
}

func TestInitializeWithoutAdapter(t *testing.T) {
	f, err := software.NewFactory(software.Options{Adapters: []software.AdapterConfig{{
		Desc:            gpu.AdapterDesc{Name: "warp", Type: gpu.AdapterTypeCPU, Flags: gpu.AdapterFlagSoftware},
		MaxFeatureLevel: gpu.FeatureLevel1_3,
	}}})
	if err != nil {
		t.Fatal(err)
	}
	e := New(testConfig(1), headless.New(), f.Backend(), nil)
	if err := e.Initialize(); err == nil {
		t.Fatal("expected initialization to fail without a hardware adapter")
	}
	if e.Stage() != EngineStageUninitialized {
		t.Errorf("stage = %d", e.Stage())
	}
	if err := e.Shutdown(); err != nil {
		t.Errorf("Shutdown after failed init: %v", err)
	}
	if live := f.Tracker().Live(); live != 0 {
		t.Errorf("%d objects alive", live)
	}
}

// hiDPIWindow reports a framebuffer twice the requested window size.
type hiDPIWindow struct {
	*headless.Window
}

func (w hiDPIWindow) FramebufferSize() (uint32, uint32) {
	width, height := w.Window.FramebufferSize()
	return 2 * width, 2 * height
}

func TestInitializeUsesFramebufferSize(t *testing.T) {
	f, err := software.NewFactory(software.Options{})
	if err != nil {
		t.Fatal(err)
	}
	e := New(testConfig(1), hiDPIWindow{headless.New()}, f.Backend(), nil)
	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer e.Shutdown()

	if w, h := e.Device().ClientSize(); w != 16 || h != 8 {
		t.Errorf("back buffers are %dx%d, want the 16x8 framebuffer", w, h)
	}
	if w, h := e.GetFramebufferSize(); w != 16 || h != 8 {
		t.Errorf("framebuffer %dx%d", w, h)
	}
}
