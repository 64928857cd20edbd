// Package config loads the engine configuration from a TOML file and keeps
// it in sync with the file while the engine runs.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/math"
	"github.com/spaghettifunk/anima/engine/renderer"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

const (
	BackendVulkan   = "vulkan"
	BackendSoftware = "software"

	MinFrameLatency = 1
	MaxFrameLatency = 16
	MaxSyncInterval = 4
)

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" || s == "0" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type Config struct {
	Application Application `toml:"application"`
	Renderer    Renderer    `toml:"renderer"`
}

type Application struct {
	Name     string `toml:"name"`
	X        uint32 `toml:"x"`
	Y        uint32 `toml:"y"`
	Width    uint32 `toml:"width"`
	Height   uint32 `toml:"height"`
	LogLevel string `toml:"log_level"`
	// Stop after this many frames. Zero runs until the window closes.
	MaxFrames uint64 `toml:"max_frames"`
}

type Renderer struct {
	Backend         string             `toml:"backend"`
	MaxFrameLatency uint32             `toml:"max_frame_latency"`
	SyncInterval    uint32             `toml:"sync_interval"`
	ClearColor      [4]float32         `toml:"clear_color"`
	GPUPreference   gpu.GPUPreference  `toml:"gpu_preference"`
	FeatureLevels   []gpu.FeatureLevel `toml:"feature_levels"`
	FenceTimeout    Duration           `toml:"fence_timeout"`
	Debug           Debug              `toml:"debug"`
}

type Debug struct {
	Validation         bool                  `toml:"validation"`
	GPUBasedValidation bool                  `toml:"gpu_based_validation"`
	DenySeverities     []gpu.MessageSeverity `toml:"deny_severities"`
	DenyIDs            []int32               `toml:"deny_ids"`
}

func Default() *Config {
	opts := renderer.DefaultOptions()
	filter := renderer.DefaultMessageFilter()
	ids := make([]int32, len(filter.DenyIDs))
	for i, id := range filter.DenyIDs {
		ids[i] = int32(id)
	}
	return &Config{
		Application: Application{
			Name:     "Anima",
			X:        100,
			Y:        100,
			Width:    opts.Width,
			Height:   opts.Height,
			LogLevel: core.LogLevelInfo.String(),
		},
		Renderer: Renderer{
			Backend:         BackendVulkan,
			MaxFrameLatency: opts.MaxFrameLatency,
			SyncInterval:    opts.SyncInterval,
			ClearColor:      opts.ClearColor.Array(),
			GPUPreference:   opts.Preference,
			Debug: Debug{
				DenySeverities: filter.DenySeverities,
				DenyIDs:        ids,
			},
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, errors.Wrapf(err, "config line %d column %d", row, col)
		}
		return nil, errors.Wrap(err, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with and clamps the ones it
// can correct.
func (c *Config) Validate() error {
	if _, err := core.ParseLogLevel(c.Application.LogLevel); err != nil {
		return errors.Wrap(err, "application.log_level")
	}
	if c.Application.Width == 0 || c.Application.Height == 0 {
		return errors.Newf("application size %dx%d is empty", c.Application.Width, c.Application.Height)
	}

	switch c.Renderer.Backend {
	case BackendVulkan, BackendSoftware:
	default:
		return errors.Newf("renderer.backend %q is not one of %q, %q", c.Renderer.Backend, BackendVulkan, BackendSoftware)
	}
	latency := math.Clamp(c.Renderer.MaxFrameLatency, MinFrameLatency, MaxFrameLatency)
	if latency != c.Renderer.MaxFrameLatency {
		core.LogWarn("renderer.max_frame_latency %d clamped to %d", c.Renderer.MaxFrameLatency, latency)
		c.Renderer.MaxFrameLatency = latency
	}
	if c.Renderer.SyncInterval > MaxSyncInterval {
		return errors.Newf("renderer.sync_interval %d exceeds %d", c.Renderer.SyncInterval, MaxSyncInterval)
	}
	for i, v := range c.Renderer.ClearColor {
		c.Renderer.ClearColor[i] = math.Saturate(v)
	}
	if c.Renderer.FenceTimeout < 0 {
		return errors.Newf("renderer.fence_timeout %s is negative", time.Duration(c.Renderer.FenceTimeout))
	}
	return nil
}

func (c *Config) LogLevel() core.LogLevel {
	level, _ := core.ParseLogLevel(c.Application.LogLevel)
	return level
}

func (c *Config) ClearColor() gpu.Color {
	v := c.Renderer.ClearColor
	return gpu.Color{R: v[0], G: v[1], B: v[2], A: v[3]}
}

func (c *Config) MessageFilter() gpu.MessageFilter {
	ids := make([]gpu.MessageID, len(c.Renderer.Debug.DenyIDs))
	for i, id := range c.Renderer.Debug.DenyIDs {
		ids[i] = gpu.MessageID(id)
	}
	return gpu.MessageFilter{
		DenySeverities: append([]gpu.MessageSeverity(nil), c.Renderer.Debug.DenySeverities...),
		DenyIDs:        ids,
	}
}

// RendererOptions converts the configuration into render device options.
func (c *Config) RendererOptions() renderer.Options {
	return renderer.Options{
		Width:           c.Application.Width,
		Height:          c.Application.Height,
		MaxFrameLatency: c.Renderer.MaxFrameLatency,
		ClearColor:      c.ClearColor(),
		SyncInterval:    c.Renderer.SyncInterval,
		Preference:      c.Renderer.GPUPreference,
		FeatureLevels:   append([]gpu.FeatureLevel(nil), c.Renderer.FeatureLevels...),
		Debug: gpu.DebugOptions{
			Validation:         c.Renderer.Debug.Validation,
			GPUBasedValidation: c.Renderer.Debug.GPUBasedValidation,
			Filter:             c.MessageFilter(),
		},
		FenceTimeout: time.Duration(c.Renderer.FenceTimeout),
	}
}

// restartRequired reports whether o differs from c in anything besides the
// fields that apply live.
func (c *Config) restartRequired(o *Config) bool {
	a, b := *c, *o
	a.Application.LogLevel, b.Application.LogLevel = "", ""
	a.Renderer.ClearColor, b.Renderer.ClearColor = [4]float32{}, [4]float32{}
	ab, err1 := toml.Marshal(a)
	bb, err2 := toml.Marshal(b)
	if err1 != nil || err2 != nil {
		return true
	}
	return string(ab) != string(bb)
}
