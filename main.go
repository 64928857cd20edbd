/*
Anima renders a cleared frame per display refresh through the engine's
frame pacing and command submission layer. Use -backend software to run
without a GPU or a display.
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima/engine"
	"github.com/spaghettifunk/anima/engine/config"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/platform"
	"github.com/spaghettifunk/anima/engine/platform/headless"
	"github.com/spaghettifunk/anima/engine/renderer"
	"github.com/spaghettifunk/anima/engine/renderer/software"
	"github.com/spaghettifunk/anima/engine/renderer/vulkan"
)

func main() {
	var (
		configPath = flag.String("config", "anima.toml", "configuration file, watched for changes")
		backend    = flag.String("backend", "", "override renderer.backend (vulkan or software)")
		maxFrames  = flag.Uint64("frames", 0, "override application.max_frames")
		debug      = flag.Bool("debug", false, "enable the validation layer")
	)
	flag.Parse()

	if err := run(*configPath, *backend, *maxFrames, *debug); err != nil {
		core.LogFatal("%+v", err)
	}
}

func run(configPath, backendName string, maxFrames uint64, debug bool) error {
	cfg, fromFile, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if backendName != "" {
		cfg.Renderer.Backend = backendName
	}
	if maxFrames > 0 {
		cfg.Application.MaxFrames = maxFrames
	}
	if debug {
		cfg.Renderer.Debug.Validation = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	core.SetLogLevel(cfg.LogLevel())

	var (
		window  engine.Window
		backend renderer.Backend
	)
	switch cfg.Renderer.Backend {
	case config.BackendSoftware:
		window = headless.New()
		backend = software.NewBackend(software.Options{})
	default:
		window = platform.New()
		backend = vulkan.NewBackend(cfg.Application.Name)
	}

	var watcher *config.Watcher
	if fromFile {
		if watcher, err = config.NewWatcher(configPath, cfg); err != nil {
			core.LogWarn("config hot reload disabled: %s", err)
			watcher = nil
		}
	}

	e := engine.New(cfg, window, backend, watcher)
	if err := e.Initialize(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	runErr := e.Run(ctx)
	if err := e.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// loadConfig falls back to the defaults when path does not exist.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		core.LogWarn("%s not found, using the default configuration", path)
		return config.Default(), false, nil
	}
	return nil, false, err
}
