package renderer

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/software"
)

func hardware(name string, kind gpu.AdapterType, mem uint64, max gpu.FeatureLevel) software.AdapterConfig {
	return software.AdapterConfig{
		Desc:            gpu.AdapterDesc{Name: name, Type: kind, DedicatedVideoMemory: mem},
		MaxFeatureLevel: max,
	}
}

var warp = software.AdapterConfig{
	Desc:            gpu.AdapterDesc{Name: "warp", Type: gpu.AdapterTypeCPU, Flags: gpu.AdapterFlagSoftware},
	MaxFeatureLevel: gpu.FeatureLevel1_3,
}

func TestSelectAndCreateDevice(t *testing.T) {
	broken := hardware("broken", gpu.AdapterTypeDiscrete, 16<<30, gpu.FeatureLevel1_3)
	broken.FailDeviceCreation = true

	tests := []struct {
		name      string
		adapters  []software.AdapterConfig
		levels    []gpu.FeatureLevel
		pref      gpu.GPUPreference
		wantName  string
		wantLevel gpu.FeatureLevel
		wantErr   bool
	}{
		{
			name:      "prefers discrete",
			adapters:  []software.AdapterConfig{hardware("igpu", gpu.AdapterTypeIntegrated, 0, gpu.FeatureLevel1_3), hardware("dgpu", gpu.AdapterTypeDiscrete, 8<<30, gpu.FeatureLevel1_1)},
			wantName:  "dgpu",
			wantLevel: gpu.FeatureLevel1_1,
		},
		{
			name:      "minimum power",
			adapters:  []software.AdapterConfig{hardware("dgpu", gpu.AdapterTypeDiscrete, 8<<30, gpu.FeatureLevel1_3), hardware("igpu", gpu.AdapterTypeIntegrated, 0, gpu.FeatureLevel1_2)},
			pref:      gpu.GPUPreferenceMinimumPower,
			wantName:  "igpu",
			wantLevel: gpu.FeatureLevel1_2,
		},
		{
			name:      "skips software adapters",
			adapters:  []software.AdapterConfig{warp, hardware("old", gpu.AdapterTypeIntegrated, 0, gpu.FeatureLevel1_0)},
			wantName:  "old",
			wantLevel: gpu.FeatureLevel1_0,
		},
		{
			name:      "falls through failed device creation",
			adapters:  []software.AdapterConfig{broken, hardware("good", gpu.AdapterTypeDiscrete, 1<<30, gpu.FeatureLevel1_2)},
			wantName:  "good",
			wantLevel: gpu.FeatureLevel1_2,
		},
		{
			name:     "requested levels unsupported",
			adapters: []software.AdapterConfig{hardware("old", gpu.AdapterTypeDiscrete, 0, gpu.FeatureLevel1_0)},
			levels:   []gpu.FeatureLevel{gpu.FeatureLevel1_2, gpu.FeatureLevel1_3},
			wantErr:  true,
		},
		{
			name:     "only software",
			adapters: []software.AdapterConfig{warp},
			wantErr:  true,
		},
		{
			name:     "no adapters",
			adapters: []software.AdapterConfig{},
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := software.NewFactory(software.Options{Adapters: tt.adapters})
			if err != nil {
				t.Fatal(err)
			}
			sel, err := SelectAndCreateDevice(f, &testWindow{"main"}, 8, 4, SelectorOptions{
				Preference:    tt.pref,
				FeatureLevels: tt.levels,
			})
			if tt.wantErr {
				if !errors.Is(err, core.ErrDeviceCreation) {
					t.Fatalf("expected ErrDeviceCreation, got %v", err)
				}
			} else {
				if err != nil {
					t.Fatal(err)
				}
				if sel.Info.Name != tt.wantName || sel.Info.FeatureLevel != tt.wantLevel {
					t.Errorf("selected %s at %s, want %s at %s", sel.Info.Name, sel.Info.FeatureLevel, tt.wantName, tt.wantLevel)
				}
				if live := f.Tracker().LiveOf(software.KindAdapter); live != 1 {
					t.Errorf("%d adapters alive, want only the selected one", live)
				}
				sel.Release()
				sel.Release()
			}
			f.Release()
			assertClean(t, f)
		})
	}
}

func TestInitializeWithoutUsableAdapter(t *testing.T) {
	broken := hardware("broken", gpu.AdapterTypeDiscrete, 0, gpu.FeatureLevel1_3)
	broken.FailDeviceCreation = true
	d, f := newTestDevice(t, software.Options{Adapters: []software.AdapterConfig{warp, broken}}, testOptions())

	err := d.Initialize(&testWindow{"main"}, 0, 0)
	if !errors.Is(err, core.ErrDeviceCreation) {
		t.Fatalf("expected ErrDeviceCreation, got %v", err)
	}
	if d.submitter != nil || d.swapchain != nil {
		t.Fatal("queue or swapchain created without a device")
	}
	if n := f.Tracker().Created(software.KindQueue); n != 0 {
		t.Errorf("%d queues created", n)
	}
	if n := f.Tracker().Created(software.KindSwapchain); n != 0 {
		t.Errorf("%d swapchains created", n)
	}
	if err := d.Render(); !errors.Is(err, core.ErrNotInitialized) {
		t.Errorf("render after failed init: %v", err)
	}
	d.Destroy()
	assertClean(t, f)
}

func TestInitializeNilWindow(t *testing.T) {
	d, f := newTestDevice(t, software.Options{}, testOptions())
	if err := d.Initialize(nil, 0, 0); !errors.Is(err, core.ErrDeviceCreation) {
		t.Fatalf("expected ErrDeviceCreation, got %v", err)
	}
	d.Destroy()
	if live := f.Tracker().Live(); live != 1 {
		// The factory handed to the backend is still owned by the test.
		t.Errorf("%d objects alive, want the factory only", live)
	}
}

func TestPartialInitializeReleasesOnce(t *testing.T) {
	for _, tc := range []struct {
		kind software.ObjectKind
		nth  int
		want error
	}{
		{software.KindAdapter, 1, core.ErrDeviceCreation},
		{software.KindQueue, 1, core.ErrResourceCreation},
		{software.KindFence, 1, core.ErrResourceCreation},
		{software.KindEvent, 1, core.ErrResourceCreation},
		{software.KindCommandAllocator, 2, core.ErrResourceCreation},
		{software.KindFence, 3, core.ErrResourceCreation},
		{software.KindEvent, 4, core.ErrResourceCreation},
		{software.KindCommandList, 1, core.ErrResourceCreation},
		{software.KindSwapchain, 1, core.ErrResourceCreation},
		{software.KindImage, 2, core.ErrResourceCreation},
		{software.KindDescriptorHeap, 1, core.ErrResourceCreation},
	} {
		t.Run(string(tc.kind), func(t *testing.T) {
			d, f := newTestDevice(t, software.Options{FailCreate: map[software.ObjectKind]int{tc.kind: tc.nth}}, testOptions())
			err := d.Initialize(&testWindow{"main"}, 0, 0)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			d.Destroy()
			d.Destroy()
			assertClean(t, f)
		})
	}
}

func TestDeviceCreationFailureFallsBack(t *testing.T) {
	// The simulated adapter tops out at 1.2, so the first device creation
	// is the 1.2 attempt and the selector retries at 1.1.
	d, f := newTestDevice(t, software.Options{FailCreate: map[software.ObjectKind]int{software.KindDevice: 1}}, testOptions())
	if err := d.Initialize(&testWindow{"main"}, 0, 0); err != nil {
		t.Fatal(err)
	}
	if lvl := d.AdapterInfo().FeatureLevel; lvl != gpu.FeatureLevel1_1 {
		t.Errorf("feature level %s, want 1.1", lvl)
	}
	if lvl := d.selected.Device.(*software.Device).FeatureLevel(); lvl != gpu.FeatureLevel1_1 {
		t.Errorf("device created at %s, want 1.1", lvl)
	}
	if n := f.Tracker().Created(software.KindDevice); n != 1 {
		t.Errorf("%d devices created, want 1", n)
	}
	if err := d.Render(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	d.Destroy()
	d.Destroy()
	assertClean(t, f)
}
