package gpu

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// WaitInfinite makes Event.Wait block until the event is set.
const WaitInfinite time.Duration = -1

// FeatureLevel is a capability level a device can be created at, encoded as
// major<<8 | minor.
type FeatureLevel uint16

const (
	FeatureLevel1_0 FeatureLevel = 1<<8 | 0
	FeatureLevel1_1 FeatureLevel = 1<<8 | 1
	FeatureLevel1_2 FeatureLevel = 1<<8 | 2
	FeatureLevel1_3 FeatureLevel = 1<<8 | 3
)

// DefaultFeatureLevels is probed from the highest to the lowest level.
var DefaultFeatureLevels = []FeatureLevel{
	FeatureLevel1_3,
	FeatureLevel1_2,
	FeatureLevel1_1,
	FeatureLevel1_0,
}

func MakeFeatureLevel(major, minor uint8) FeatureLevel {
	return FeatureLevel(uint16(major)<<8 | uint16(minor))
}

func (l FeatureLevel) Major() uint8 { return uint8(l >> 8) }
func (l FeatureLevel) Minor() uint8 { return uint8(l) }

func (l FeatureLevel) String() string {
	return fmt.Sprintf("%d.%d", l.Major(), l.Minor())
}

func (l FeatureLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *FeatureLevel) UnmarshalText(text []byte) error {
	major, minor, ok := strings.Cut(strings.TrimSpace(string(text)), ".")
	if !ok {
		return errors.Newf("invalid feature level %q, expected <major>.<minor>", text)
	}
	ma, err := strconv.ParseUint(major, 10, 8)
	if err != nil {
		return errors.Wrapf(err, "invalid feature level %q", text)
	}
	mi, err := strconv.ParseUint(minor, 10, 8)
	if err != nil {
		return errors.Wrapf(err, "invalid feature level %q", text)
	}
	*l = MakeFeatureLevel(uint8(ma), uint8(mi))
	return nil
}

type AdapterType uint8

const (
	AdapterTypeOther AdapterType = iota
	AdapterTypeDiscrete
	AdapterTypeIntegrated
	AdapterTypeVirtual
	AdapterTypeCPU
)

func (t AdapterType) String() string {
	switch t {
	case AdapterTypeDiscrete:
		return "discrete"
	case AdapterTypeIntegrated:
		return "integrated"
	case AdapterTypeVirtual:
		return "virtual"
	case AdapterTypeCPU:
		return "cpu"
	}
	return "other"
}

type AdapterFlags uint32

const (
	AdapterFlagNone AdapterFlags = 0
	// The adapter is an emulated/software rasterizer.
	AdapterFlagSoftware AdapterFlags = 1 << 0
)

// AdapterDesc is the metadata an adapter reports about itself.
type AdapterDesc struct {
	Name                 string
	VendorID             uint32
	DeviceID             uint32
	Revision             uint32
	DedicatedVideoMemory uint64
	Type                 AdapterType
	Flags                AdapterFlags
}

func (d AdapterDesc) IsSoftware() bool {
	return d.Flags&AdapterFlagSoftware != 0
}

type GPUPreference uint8

const (
	GPUPreferenceUnspecified GPUPreference = iota
	GPUPreferenceHighPerformance
	GPUPreferenceMinimumPower
)

func (p GPUPreference) String() string {
	switch p {
	case GPUPreferenceHighPerformance:
		return "high-performance"
	case GPUPreferenceMinimumPower:
		return "minimum-power"
	}
	return "unspecified"
}

func (p *GPUPreference) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "high-performance", "high_performance", "":
		*p = GPUPreferenceHighPerformance
	case "minimum-power", "minimum_power", "low-power":
		*p = GPUPreferenceMinimumPower
	case "unspecified", "none":
		*p = GPUPreferenceUnspecified
	default:
		return errors.Newf("unknown gpu preference %q", text)
	}
	return nil
}

func (p GPUPreference) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func typeRank(t AdapterType, pref GPUPreference) int {
	switch pref {
	case GPUPreferenceHighPerformance:
		switch t {
		case AdapterTypeDiscrete:
			return 0
		case AdapterTypeIntegrated:
			return 1
		case AdapterTypeVirtual:
			return 2
		case AdapterTypeOther:
			return 3
		}
		return 4
	case GPUPreferenceMinimumPower:
		switch t {
		case AdapterTypeIntegrated:
			return 0
		case AdapterTypeDiscrete:
			return 1
		case AdapterTypeVirtual:
			return 2
		case AdapterTypeOther:
			return 3
		}
		return 4
	}
	return 0
}

// SortAdapters orders adapters by preference. Enumeration order is kept for
// adapters of the same rank; within a rank the high-performance preference
// favours more dedicated memory.
func SortAdapters(adapters []Adapter, pref GPUPreference) {
	if pref == GPUPreferenceUnspecified {
		return
	}
	sort.SliceStable(adapters, func(i, j int) bool {
		di, dj := adapters[i].Desc(), adapters[j].Desc()
		ri, rj := typeRank(di.Type, pref), typeRank(dj.Type, pref)
		if ri != rj {
			return ri < rj
		}
		if pref == GPUPreferenceHighPerformance {
			return di.DedicatedVideoMemory > dj.DedicatedVideoMemory
		}
		return false
	})
}

// ResourceState is the queue-visible usage state of an image.
type ResourceState uint8

const (
	ResourceStateCommon ResourceState = iota
	ResourceStatePresent
	ResourceStateRenderTarget
)

func (s ResourceState) String() string {
	switch s {
	case ResourceStatePresent:
		return "present"
	case ResourceStateRenderTarget:
		return "render-target"
	}
	return "common"
}

// Barrier declares a state transition of Image.
type Barrier struct {
	Image  Image
	Before ResourceState
	After  ResourceState
}

func TransitionBarrier(image Image, before, after ResourceState) Barrier {
	return Barrier{Image: image, Before: before, After: after}
}

// DescriptorHandle addresses one descriptor inside a heap.
type DescriptorHandle uintptr

func (h DescriptorHandle) Offset(index, stride uint32) DescriptorHandle {
	return h + DescriptorHandle(uintptr(index)*uintptr(stride))
}

type DescriptorHeapType uint8

const (
	DescriptorHeapTypeRTV DescriptorHeapType = iota
)

type Color struct {
	R, G, B, A float32
}

func (c Color) Array() [4]float32 {
	return [4]float32{c.R, c.G, c.B, c.A}
}

type Format uint8

const (
	FormatR8G8B8A8Unorm Format = iota
	FormatB8G8R8A8Unorm
)

type SwapEffect uint8

const (
	// Contents of a presented image are discarded; the next index is
	// whatever the presentation engine hands back.
	SwapEffectFlipDiscard SwapEffect = iota
	SwapEffectFlipSequential
)

type SwapchainDesc struct {
	Width       uint32
	Height      uint32
	Format      Format
	BufferCount uint32
	SwapEffect  SwapEffect
	// Presentation interval used to choose the present mode at creation.
	SyncInterval uint32
}

// WindowHandle is the opaque native window a swapchain presents to. Each
// backend knows which concrete types it accepts.
type WindowHandle interface{}

type MessageSeverity uint8

const (
	MessageSeverityCorruption MessageSeverity = iota
	MessageSeverityError
	MessageSeverityWarning
	MessageSeverityInfo
	MessageSeverityMessage
)

func (s MessageSeverity) String() string {
	switch s {
	case MessageSeverityCorruption:
		return "corruption"
	case MessageSeverityError:
		return "error"
	case MessageSeverityWarning:
		return "warning"
	case MessageSeverityInfo:
		return "info"
	}
	return "message"
}

func (s *MessageSeverity) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "corruption":
		*s = MessageSeverityCorruption
	case "error":
		*s = MessageSeverityError
	case "warning", "warn":
		*s = MessageSeverityWarning
	case "info":
		*s = MessageSeverityInfo
	case "message", "debug":
		*s = MessageSeverityMessage
	default:
		return errors.Newf("unknown message severity %q", text)
	}
	return nil
}

func (s MessageSeverity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MessageID identifies one diagnostic message of a validation layer.
type MessageID int32

// MessageIDClearValueMismatch is raised when a render target is cleared to a
// value other than its optimized clear value. It is benign for swapchain
// buffers, which have none.
const MessageIDClearValueMismatch MessageID = 820

// Message is one diagnostic emitted by a validation layer.
type Message struct {
	Severity MessageSeverity
	ID       MessageID
	Text     string
}

// MessageFilter is a deny list applied to validation messages before they
// reach the log.
type MessageFilter struct {
	DenySeverities []MessageSeverity
	DenyIDs        []MessageID
}

func (f MessageFilter) Allows(m Message) bool {
	for _, s := range f.DenySeverities {
		if s == m.Severity {
			return false
		}
	}
	for _, id := range f.DenyIDs {
		if id == m.ID {
			return false
		}
	}
	return true
}

type DebugOptions struct {
	// Enables the backend validation layer.
	Validation bool
	// Enables the (slower) GPU assisted validation when available.
	GPUBasedValidation bool
	Filter             MessageFilter
}
