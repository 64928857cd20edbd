package engine

import (
	"github.com/spaghettifunk/anima/engine/config"
	"github.com/spaghettifunk/anima/engine/core"
)

type ApplicationConfig struct {
	// Window starting position x axis, if applicable.
	StartPosX uint32
	// Window starting position y axis, if applicable.
	StartPosY uint32
	// Window starting width, if applicable.
	StartWidth uint32
	// Window starting height, if applicable.
	StartHeight uint32
	// The application name used in windowing, if applicable.
	Name     string
	LogLevel core.LogLevel
	// Frames to render before stopping on its own. Zero renders until the
	// window closes.
	MaxFrames uint64
}

func NewApplicationConfig(cfg *config.Config) ApplicationConfig {
	return ApplicationConfig{
		StartPosX:   cfg.Application.X,
		StartPosY:   cfg.Application.Y,
		StartWidth:  cfg.Application.Width,
		StartHeight: cfg.Application.Height,
		Name:        cfg.Application.Name,
		LogLevel:    cfg.LogLevel(),
		MaxFrames:   cfg.Application.MaxFrames,
	}
}
