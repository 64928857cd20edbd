package gpu

import (
	"testing"
)

type fakeAdapter struct{ desc AdapterDesc }

func (a fakeAdapter) Desc() AdapterDesc { return a.desc }
func (a fakeAdapter) SupportsFeatureLevel(FeatureLevel) bool { return true }
func (a fakeAdapter) CreateDevice(FeatureLevel, DebugOptions) (Device, error) {
	return nil, ErrUnsupported
}
func (a fakeAdapter) Release() {}

func names(adapters []Adapter) []string {
	out := make([]string, len(adapters))
	for i, a := range adapters {
		out[i] = a.Desc().Name
	}
	return out
}

func TestSortAdapters(t *testing.T) {
	mk := func() []Adapter {
		return []Adapter{
			fakeAdapter{AdapterDesc{Name: "cpu", Type: AdapterTypeCPU, Flags: AdapterFlagSoftware}},
			fakeAdapter{AdapterDesc{Name: "igpu", Type: AdapterTypeIntegrated, DedicatedVideoMemory: 128}},
			fakeAdapter{AdapterDesc{Name: "small", Type: AdapterTypeDiscrete, DedicatedVideoMemory: 4 << 30}},
			fakeAdapter{AdapterDesc{Name: "big", Type: AdapterTypeDiscrete, DedicatedVideoMemory: 16 << 30}},
		}
	}
	tests := []struct {
		pref GPUPreference
		want []string
	}{
		{GPUPreferenceHighPerformance, []string{"big", "small", "igpu", "cpu"}},
		{GPUPreferenceMinimumPower, []string{"igpu", "small", "big", "cpu"}},
		{GPUPreferenceUnspecified, []string{"cpu", "igpu", "small", "big"}},
	}
	for _, tt := range tests {
		t.Run(tt.pref.String(), func(t *testing.T) {
			adapters := mk()
			SortAdapters(adapters, tt.pref)
			got := names(adapters)
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("order = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestFeatureLevelText(t *testing.T) {
	var l FeatureLevel
	if err := l.UnmarshalText([]byte("1.2")); err != nil {
		t.Fatal(err)
	}
	if l != FeatureLevel1_2 {
		t.Fatalf("level = %v", l)
	}
	if FeatureLevel1_3 <= FeatureLevel1_2 || FeatureLevel1_1 <= FeatureLevel1_0 {
		t.Fatal("feature levels must order by version")
	}
	for _, bad := range []string{"12", "a.b", "1.300"} {
		if err := l.UnmarshalText([]byte(bad)); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestMessageFilter(t *testing.T) {
	f := MessageFilter{
		DenySeverities: []MessageSeverity{MessageSeverityInfo},
		DenyIDs:        []MessageID{820},
	}
	if f.Allows(Message{Severity: MessageSeverityInfo, ID: 1}) {
		t.Error("info severity should be denied")
	}
	if f.Allows(Message{Severity: MessageSeverityError, ID: 820}) {
		t.Error("id 820 should be denied")
	}
	if !f.Allows(Message{Severity: MessageSeverityWarning, ID: 7}) {
		t.Error("warning 7 should pass")
	}
}

func TestDescriptorHandleOffset(t *testing.T) {
	base := DescriptorHandle(0x1000)
	if got := base.Offset(2, 32); got != 0x1040 {
		t.Fatalf("offset = %#x", got)
	}
}
