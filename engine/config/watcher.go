package config

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/anima/engine/core"
)

// Watcher reloads the configuration file whenever it changes on disk. The
// log level is applied directly; listeners of EVENT_CODE_CONFIG_RELOADED
// receive the clear color in F32 and the log level in C.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current *Config
}

// NewWatcher watches the directory holding path, so editors that replace the
// file on save are still seen.
func NewWatcher(path string, current *Config) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s", path)
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create the config watcher")
	}
	if err := fsWatch.Add(filepath.Dir(abs)); err != nil {
		fsWatch.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", filepath.Dir(abs))
	}
	return &Watcher{path: abs, watcher: fsWatch, current: current}, nil
}

func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run processes file events until ctx is done. It closes the underlying
// watcher before returning.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(e.Name) != w.path {
				continue
			}
			if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.reload(); err != nil {
				core.LogError("config reload: %s", err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			core.LogError("config watcher: %s", err)
		}
	}
}

func (w *Watcher) reload() error {
	next, err := Load(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	w.mu.Unlock()

	if prev.restartRequired(next) {
		core.LogWarn("config %s changed settings that apply on the next start", w.path)
	}
	if next.Application.LogLevel != prev.Application.LogLevel {
		core.SetLogLevel(next.LogLevel())
		core.LogInfo("log level set to %s", next.LogLevel())
	}

	data := core.EventContext{
		F32: next.Renderer.ClearColor,
		C:   next.LogLevel().String(),
	}
	core.EventFire(core.EVENT_CODE_CONFIG_RELOADED, w, data)
	return nil
}
