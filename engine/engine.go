package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/anima/engine/config"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released everything it created
	EngineStageShutdown
)

// Window is the surface the engine renders to: a native window or a
// headless stand-in.
type Window interface {
	Startup(applicationName string, x uint32, y uint32, width uint32, height uint32) error
	Shutdown() error
	// PumpMessages returns false once the window should close.
	PumpMessages() bool
	NativeHandle() gpu.WindowHandle
	FramebufferSize() (uint32, uint32)
	RequestClose()
}

type Engine struct {
	currentStage Stage
	config       ApplicationConfig
	window       Window
	device       *renderer.RenderDevice
	watcher      *config.Watcher
	clock        *core.Clock
	metrics      *core.FrameMetrics

	isRunning   atomic.Bool
	isSuspended atomic.Bool
	ownsEvents  bool
}

// New wires an engine together. watcher may be nil when the configuration
// does not come from a file.
func New(cfg *config.Config, window Window, backend renderer.Backend, watcher *config.Watcher) *Engine {
	return &Engine{
		currentStage: EngineStageUninitialized,
		config:       NewApplicationConfig(cfg),
		window:       window,
		device:       renderer.New(backend, cfg.RendererOptions()),
		watcher:      watcher,
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
	}
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

// Device exposes the render device for diagnostics.
func (e *Engine) Device() *renderer.RenderDevice {
	return e.device
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageUninitialized {
		return errors.Newf("engine already initialized (stage %d)", e.currentStage)
	}
	e.currentStage = EngineStageInitializing
	core.SetLogLevel(e.config.LogLevel)

	// The event system may already be up when the engine is embedded.
	e.ownsEvents = core.EventInitialize()
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	core.EventRegister(core.EVENT_CODE_RESIZED, e, e.onResized)
	core.EventRegister(core.EVENT_CODE_CONFIG_RELOADED, e, e.onConfigReloaded)

	if err := e.window.Startup(e.config.Name, e.config.StartPosX, e.config.StartPosY, e.config.StartWidth, e.config.StartHeight); err != nil {
		e.unregister()
		e.currentStage = EngineStageUninitialized
		return err
	}

	// The framebuffer can be larger than the requested window size on
	// high density displays.
	width, height := e.window.FramebufferSize()
	if err := e.device.Initialize(e.window.NativeHandle(), width, height); err != nil {
		_ = e.window.Shutdown()
		e.unregister()
		e.currentStage = EngineStageUninitialized
		return err
	}
	core.LogInfo("rendering on %s", e.device.AdapterInfo())

	e.currentStage = EngineStageInitialized
	return nil
}

// Run renders frames on the calling goroutine until the window closes, ctx
// is done, a quit event arrives, or MaxFrames frames were presented. The
// configuration watcher runs alongside and stops with the loop.
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return errors.Newf("engine not initialized (stage %d)", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	if e.watcher != nil {
		g.Go(func() error {
			return e.watcher.Run(gctx)
		})
	}

	loopErr := e.loop(gctx)
	cancel()
	if err := g.Wait(); err != nil && loopErr == nil {
		loopErr = err
	}
	return loopErr
}

func (e *Engine) loop(ctx context.Context) error {
	e.clock.Start()
	lastTime := e.clock.Elapsed()

	for e.isRunning.Load() {
		if ctx.Err() != nil {
			core.LogInfo("stopping: %s", context.Cause(ctx))
			return nil
		}
		if !e.window.PumpMessages() {
			core.LogInfo("window closed, shutting down")
			return nil
		}
		if e.isSuspended.Load() {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if err := e.device.Render(); err != nil {
			return err
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		if e.metrics.Update(currentTime - lastTime) {
			core.LogDebug("%.1f fps, %s average frame time, slot usage %v",
				e.metrics.FPS(), e.metrics.AverageFrameTime(), e.device.SlotUsage())
		}
		lastTime = currentTime

		if limit := e.config.MaxFrames; limit > 0 && e.device.FrameCount() >= limit {
			core.LogInfo("rendered %d frames, shutting down", e.device.FrameCount())
			return nil
		}
	}
	return nil
}

// Shutdown waits for the GPU, releases the render device and closes the
// window. It returns the error of the final wait, if any.
func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown || e.currentStage == EngineStageUninitialized {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)

	err := e.device.Close()
	if err != nil {
		core.LogError("failed to wait for the last frame: %s", err)
	}
	e.device.Destroy()
	if werr := e.window.Shutdown(); werr != nil && err == nil {
		err = werr
	}
	e.unregister()
	e.clock.Stop()
	e.currentStage = EngineStageShutdown
	core.LogInfo("engine shut down after %d frames", e.device.FrameCount())
	return err
}

func (e *Engine) unregister() {
	core.EventUnregister(core.EVENT_CODE_APPLICATION_QUIT, e)
	core.EventUnregister(core.EVENT_CODE_RESIZED, e)
	core.EventUnregister(core.EVENT_CODE_CONFIG_RELOADED, e)
	if e.ownsEvents {
		_ = core.EventShutdown()
		e.ownsEvents = false
	}
}

// GetFramebufferSize returns the width and height (in this order) of the
// window framebuffer.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.window.FramebufferSize()
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	width, height := data.U32[0], data.U32[1]
	if width == 0 || height == 0 {
		core.LogInfo("window minimized, suspending application")
		e.isSuspended.Store(true)
		return false
	}
	if e.isSuspended.Swap(false) {
		core.LogInfo("window restored, resuming application")
	}
	core.LogDebug("window resized to %dx%d, back buffers keep their size", width, height)
	return false
}

func (e *Engine) onConfigReloaded(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	c := data.F32
	e.device.SetClearColor(gpu.Color{R: c[0], G: c[1], B: c[2], A: c[3]})
	return false
}
