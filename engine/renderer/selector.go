package renderer

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// AdapterInfo describes the adapter a device was created on. It is captured
// once and never changes afterwards.
type AdapterInfo struct {
	Name                 string
	VendorID             uint32
	DeviceID             uint32
	Revision             uint32
	DedicatedVideoMemory uint64
	Type                 gpu.AdapterType
	FeatureLevel         gpu.FeatureLevel
}

func (i AdapterInfo) String() string {
	return fmt.Sprintf("%s (vendor %#04x, device %#04x, rev %d, %s, %d MiB, feature level %s)",
		i.Name, i.VendorID, i.DeviceID, i.Revision, i.Type, i.DedicatedVideoMemory>>20, i.FeatureLevel)
}

type SelectorOptions struct {
	Preference gpu.GPUPreference
	// Levels to probe. Nil means gpu.DefaultFeatureLevels.
	FeatureLevels []gpu.FeatureLevel
	Debug         gpu.DebugOptions
}

// SelectedDevice owns the chosen adapter and the device created on it.
type SelectedDevice struct {
	Adapter gpu.Adapter
	Device  gpu.Device
	Info    AdapterInfo
}

// SelectAndCreateDevice walks the adapters in preference order, skips
// software adapters, and returns the first one that both reports support for
// a feature level and creates a device at it. Levels are probed from highest
// to lowest. Every adapter that is not selected is released.
func SelectAndCreateDevice(factory gpu.Factory, window gpu.WindowHandle, width, height uint32, opts SelectorOptions) (*SelectedDevice, error) {
	if window == nil {
		return nil, core.DeviceCreationErrorf(gpu.ErrInvalidWindow, "no window to render to")
	}
	levels := append([]gpu.FeatureLevel(nil), opts.FeatureLevels...)
	if len(levels) == 0 {
		levels = append(levels, gpu.DefaultFeatureLevels...)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] > levels[j] })

	if opts.Preference == gpu.GPUPreferenceUnspecified {
		opts.Preference = gpu.GPUPreferenceHighPerformance
	}
	core.LogInfo("selecting adapter for a %dx%d surface (preference %s)", width, height, opts.Preference)

	adapters, err := factory.EnumerateAdapters(opts.Preference)
	if err != nil {
		return nil, core.DeviceCreationErrorf(err, "failed to enumerate adapters")
	}

	var selected *SelectedDevice
	for _, adapter := range adapters {
		if selected != nil {
			adapter.Release()
			continue
		}
		desc := adapter.Desc()
		if desc.IsSoftware() {
			core.LogDebug("skipping software adapter %s", desc.Name)
			adapter.Release()
			continue
		}
		for _, level := range levels {
			if !adapter.SupportsFeatureLevel(level) {
				continue
			}
			device, err := adapter.CreateDevice(level, opts.Debug)
			if err != nil {
				core.LogWarn("adapter %s reports feature level %s but device creation failed: %s", desc.Name, level, err)
				continue
			}
			selected = &SelectedDevice{
				Adapter: adapter,
				Device:  device,
				Info: AdapterInfo{
					Name:                 desc.Name,
					VendorID:             desc.VendorID,
					DeviceID:             desc.DeviceID,
					Revision:             desc.Revision,
					DedicatedVideoMemory: desc.DedicatedVideoMemory,
					Type:                 desc.Type,
					FeatureLevel:         level,
				},
			}
			break
		}
		if selected == nil {
			adapter.Release()
		}
	}

	if selected == nil {
		return nil, core.DeviceCreationErrorf(nil, "no hardware adapter supports any of feature levels %v", levels)
	}
	core.LogInfo("selected adapter %s", selected.Info)
	if opts.Debug.Validation {
		core.LogInfo("debug layer enabled (gpu based validation: %t)", opts.Debug.GPUBasedValidation)
	}
	return selected, nil
}

// Release frees the device, then the adapter. Safe on nil and when called
// more than once.
func (s *SelectedDevice) Release() {
	if s == nil {
		return
	}
	if s.Device != nil {
		s.Device.Release()
		s.Device = nil
	}
	if s.Adapter != nil {
		s.Adapter.Release()
		s.Adapter = nil
	}
}
