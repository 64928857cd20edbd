// Package vulkan implements the gpu interfaces on Vulkan. Counter fences,
// command allocators and render target views are emulated on top of binary
// fences, command pools and image views.
package vulkan

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

const validationLayerName = "VK_LAYER_KHRONOS_validation"

// Window is the native window a surface is created for. *glfw.Window
// implements it.
type Window interface {
	CreateWindowSurface(instance interface{}, allocCallbacks unsafe.Pointer) (uintptr, error)
	GetRequiredInstanceExtensions() []string
}

var (
	loaderOnce sync.Once
	loaderErr  error
)

func initLoader() error {
	loaderOnce.Do(func() {
		procAddr := glfw.GetVulkanGetInstanceProcAddress()
		if procAddr == nil {
			loaderErr = errors.Wrap(gpu.ErrUnsupported, "vulkan loader not found")
			return
		}
		vk.SetGetInstanceProcAddr(procAddr)
		loaderErr = vk.Init()
	})
	return loaderErr
}

// NewBackend returns a constructor opening Vulkan for a window.
func NewBackend(appName string) func(window gpu.WindowHandle, debug gpu.DebugOptions) (gpu.Factory, error) {
	return func(window gpu.WindowHandle, debug gpu.DebugOptions) (gpu.Factory, error) {
		return NewFactory(appName, window, debug)
	}
}

// Factory owns the instance, the debug callback and the window surface.
type Factory struct {
	instance      vk.Instance
	surface       vk.Surface
	debugCallback vk.DebugReportCallback
	window        gpu.WindowHandle
	debug         gpu.DebugOptions
	locks         *VulkanLockPool
	swapchain     *Swapchain
}

func NewFactory(appName string, window gpu.WindowHandle, debug gpu.DebugOptions) (*Factory, error) {
	w, ok := window.(Window)
	if !ok || w == nil {
		return nil, errors.Wrapf(gpu.ErrInvalidWindow, "%T cannot create a vulkan surface", window)
	}
	if err := initLoader(); err != nil {
		return nil, err
	}
	f := &Factory{window: window, debug: debug, locks: NewVulkanLockPool()}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Anima Engine"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := []string{"VK_KHR_surface"}
	extensions = append(extensions, w.GetRequiredInstanceExtensions()...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions, "VK_KHR_portability_enumeration", "VK_KHR_get_physical_device_properties2")
		createInfo.Flags |= 1
	}
	var layers []string
	if debug.Validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		if !layerAvailable(validationLayerName) {
			return nil, errors.Wrapf(gpu.ErrUnsupported, "validation layer %s is missing", validationLayerName)
		}
		layers = append(layers, validationLayerName)
		if debug.GPUBasedValidation {
			core.LogWarn("gpu based validation is configured through the vulkan configurator on this backend")
		}
	}
	for _, e := range extensions {
		core.LogDebug("instance extension: %s", e)
	}
	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if res := vk.CreateInstance(&createInfo, nil, &f.instance); res != vk.Success {
		return nil, resultError(res, "failed to create the vulkan instance")
	}
	if err := vk.InitInstance(f.instance); err != nil {
		f.Release()
		return nil, err
	}

	if debug.Validation {
		setMessageFilter(debug.Filter)
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit | vk.DebugReportInformationBit),
			PfnCallback: dbgCallbackFunc,
		}
		if res := vk.CreateDebugReportCallback(f.instance, &debugCreateInfo, nil, &f.debugCallback); res != vk.Success {
			f.Release()
			return nil, resultError(res, "failed to create the debug report callback")
		}
	}

	surface, err := w.CreateWindowSurface(f.instance, nil)
	if err != nil {
		f.Release()
		return nil, errors.Wrap(gpu.ErrInvalidWindow, err.Error())
	}
	f.surface = vk.SurfaceFromPointer(surface)
	core.LogInfo("vulkan instance and surface created")
	return f, nil
}

func layerAvailable(name string) bool {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return false
	}
	layers := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, layers); res != vk.Success {
		return false
	}
	for i := range layers {
		layers[i].Deref()
		if vk.ToString(layers[i].LayerName[:]) == name {
			return true
		}
	}
	return false
}

func (f *Factory) EnumerateAdapters(pref gpu.GPUPreference) ([]gpu.Adapter, error) {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(f.instance, &count, nil); res != vk.Success {
		return nil, resultError(res, "failed to enumerate physical devices")
	}
	physicalDevices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(f.instance, &count, physicalDevices); res != vk.Success {
		return nil, resultError(res, "failed to enumerate physical devices")
	}
	adapters := make([]gpu.Adapter, 0, count)
	for _, pd := range physicalDevices {
		adapters = append(adapters, newAdapter(f, pd))
	}
	gpu.SortAdapters(adapters, pref)
	return adapters, nil
}

func (f *Factory) CreateSwapchain(device gpu.Device, queue gpu.Queue, window gpu.WindowHandle, desc gpu.SwapchainDesc) (gpu.Swapchain, error) {
	d, ok := device.(*Device)
	if !ok {
		return nil, gpu.ErrWrongBackendObject
	}
	q, ok := queue.(*Queue)
	if !ok {
		return nil, gpu.ErrWrongBackendObject
	}
	if window != f.window {
		return nil, errors.Wrap(gpu.ErrInvalidWindow, "the surface belongs to another window")
	}
	if f.swapchain != nil {
		return nil, errors.Wrap(gpu.ErrInvalidWindow, "window already has a swapchain")
	}
	sc, err := newSwapchain(f, d, q, desc)
	if err != nil {
		return nil, err
	}
	f.swapchain = sc
	return sc, nil
}

func (f *Factory) Release() {
	if f.surface != vk.NullSurface {
		vk.DestroySurface(f.instance, f.surface, nil)
		f.surface = vk.NullSurface
	}
	if f.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(f.instance, f.debugCallback, nil)
		f.debugCallback = vk.NullDebugReportCallback
	}
	if f.instance != nil {
		vk.DestroyInstance(f.instance, nil)
		f.instance = nil
	}
}

var (
	filterMu      sync.RWMutex
	messageFilter gpu.MessageFilter
)

func setMessageFilter(filter gpu.MessageFilter) {
	filterMu.Lock()
	messageFilter = filter
	filterMu.Unlock()
}

func severityOf(flags vk.DebugReportFlags) gpu.MessageSeverity {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		return gpu.MessageSeverityError
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit|vk.DebugReportPerformanceWarningBit) != 0:
		return gpu.MessageSeverityWarning
	case flags&vk.DebugReportFlags(vk.DebugReportInformationBit) != 0:
		return gpu.MessageSeverityInfo
	}
	return gpu.MessageSeverityMessage
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	m := gpu.Message{Severity: severityOf(flags), ID: gpu.MessageID(messageCode), Text: pMessage}
	filterMu.RLock()
	allowed := messageFilter.Allows(m)
	filterMu.RUnlock()
	if !allowed {
		return vk.Bool32(vk.False)
	}
	switch m.Severity {
	case gpu.MessageSeverityError:
		core.LogError("[%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	case gpu.MessageSeverityWarning:
		core.LogWarn("[%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	case gpu.MessageSeverityInfo:
		core.LogInfo("[%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
