package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// Adapter is a physical device together with the queue family that can both
// render and present to the factory's surface.
type Adapter struct {
	factory  *Factory
	physical vk.PhysicalDevice
	desc     gpu.AdapterDesc
	api      gpu.FeatureLevel
	family   int32

	swapchainSupported bool
	portable           bool
}

func newAdapter(f *Factory, pd vk.PhysicalDevice) *Adapter {
	a := &Adapter{factory: f, physical: pd, family: -1}

	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(pd, &props)
	props.Deref()
	a.desc = gpu.AdapterDesc{
		Name:     vk.ToString(props.DeviceName[:]),
		VendorID: props.VendorID,
		DeviceID: props.DeviceID,
		Revision: props.DriverVersion,
		Type:     adapterType(props.DeviceType),
	}
	if a.desc.Type == gpu.AdapterTypeCPU {
		a.desc.Flags |= gpu.AdapterFlagSoftware
	}
	api := vk.Version(props.ApiVersion)
	a.api = gpu.MakeFeatureLevel(uint8(api.Major()), uint8(api.Minor()))

	var memory vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(pd, &memory)
	memory.Deref()
	for i := uint32(0); i < memory.MemoryHeapCount; i++ {
		memory.MemoryHeaps[i].Deref()
		if vk.MemoryHeapFlagBits(memory.MemoryHeaps[i].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			a.desc.DedicatedVideoMemory += uint64(memory.MemoryHeaps[i].Size)
		}
	}

	a.family = a.findQueueFamily()
	a.swapchainSupported, a.portable = a.deviceExtensions()
	return a
}

func adapterType(t vk.PhysicalDeviceType) gpu.AdapterType {
	switch t {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return gpu.AdapterTypeDiscrete
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return gpu.AdapterTypeIntegrated
	case vk.PhysicalDeviceTypeVirtualGpu:
		return gpu.AdapterTypeVirtual
	case vk.PhysicalDeviceTypeCpu:
		return gpu.AdapterTypeCPU
	}
	return gpu.AdapterTypeOther
}

func (a *Adapter) findQueueFamily() int32 {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(a.physical, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(a.physical, &count, families)

	for i := range families {
		families[i].Deref()
		if vk.QueueFlagBits(families[i].QueueFlags)&vk.QueueGraphicsBit == 0 {
			continue
		}
		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(a.physical, uint32(i), a.factory.surface, &supportsPresent); res != vk.Success {
			continue
		}
		if supportsPresent == vk.True {
			return int32(i)
		}
	}
	return -1
}

func (a *Adapter) deviceExtensions() (swapchain, portability bool) {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(a.physical, "", &count, nil); res != vk.Success || count == 0 {
		return false, false
	}
	extensions := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(a.physical, "", &count, extensions); res != vk.Success {
		return false, false
	}
	for i := range extensions {
		extensions[i].Deref()
		switch vk.ToString(extensions[i].ExtensionName[:]) {
		case vk.KhrSwapchainExtensionName:
			swapchain = true
		case "VK_KHR_portability_subset":
			portability = true
		}
	}
	return swapchain, portability
}

func (a *Adapter) Desc() gpu.AdapterDesc {
	return a.desc
}

// SupportsFeatureLevel maps feature levels onto Vulkan API versions. The
// adapter must also be able to present to the window.
func (a *Adapter) SupportsFeatureLevel(level gpu.FeatureLevel) bool {
	return a.family >= 0 && a.swapchainSupported && level <= a.api
}

func (a *Adapter) CreateDevice(level gpu.FeatureLevel, debug gpu.DebugOptions) (gpu.Device, error) {
	if !a.SupportsFeatureLevel(level) {
		return nil, errors.Wrapf(gpu.ErrUnsupported, "%s cannot create a device at feature level %s", a.desc.Name, level)
	}

	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: uint32(a.family),
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	extensions := []string{vk.KhrSwapchainExtensionName}
	if a.portable {
		core.LogInfo("adding required extension 'VK_KHR_portability_subset'")
		extensions = append(extensions, "VK_KHR_portability_subset")
	}
	var layers []string
	if debug.Validation {
		layers = append(layers, validationLayerName)
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     VulkanSafeStrings(layers),
	}

	var logical vk.Device
	if res := vk.CreateDevice(a.physical, &deviceCreateInfo, nil, &logical); res != vk.Success {
		return nil, resultError(res, "failed to create a logical device on %s", a.desc.Name)
	}
	core.LogInfo("logical device created on %s (vulkan %s, queue family %d)", a.desc.Name, a.api, a.family)
	return newDevice(a, logical), nil
}

// Release is a no-op: physical devices belong to the instance.
func (a *Adapter) Release() {}
