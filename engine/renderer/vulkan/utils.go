package vulkan

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

var resultNames = map[vk.Result]string{
	vk.Success:                   "VK_SUCCESS",
	vk.NotReady:                  "VK_NOT_READY",
	vk.Timeout:                   "VK_TIMEOUT",
	vk.EventSet:                  "VK_EVENT_SET",
	vk.EventReset:                "VK_EVENT_RESET",
	vk.Incomplete:                "VK_INCOMPLETE",
	vk.Suboptimal:                "VK_SUBOPTIMAL_KHR",
	vk.ErrorOutOfHostMemory:      "VK_ERROR_OUT_OF_HOST_MEMORY",
	vk.ErrorOutOfDeviceMemory:    "VK_ERROR_OUT_OF_DEVICE_MEMORY",
	vk.ErrorInitializationFailed: "VK_ERROR_INITIALIZATION_FAILED",
	vk.ErrorDeviceLost:           "VK_ERROR_DEVICE_LOST",
	vk.ErrorLayerNotPresent:      "VK_ERROR_LAYER_NOT_PRESENT",
	vk.ErrorExtensionNotPresent:  "VK_ERROR_EXTENSION_NOT_PRESENT",
	vk.ErrorFeatureNotPresent:    "VK_ERROR_FEATURE_NOT_PRESENT",
	vk.ErrorIncompatibleDriver:   "VK_ERROR_INCOMPATIBLE_DRIVER",
	vk.ErrorTooManyObjects:       "VK_ERROR_TOO_MANY_OBJECTS",
	vk.ErrorFormatNotSupported:   "VK_ERROR_FORMAT_NOT_SUPPORTED",
	vk.ErrorSurfaceLost:          "VK_ERROR_SURFACE_LOST_KHR",
	vk.ErrorNativeWindowInUse:    "VK_ERROR_NATIVE_WINDOW_IN_USE_KHR",
	vk.ErrorOutOfDate:            "VK_ERROR_OUT_OF_DATE_KHR",
	vk.ErrorUnknown:              "VK_ERROR_UNKNOWN",
}

func VulkanResultString(result vk.Result) string {
	if name, ok := resultNames[result]; ok {
		return name
	}
	return "VK_RESULT_UNKNOWN"
}

// resultError converts a failed result into an error carrying the matching
// gpu sentinel. Success and Suboptimal return nil.
func resultError(result vk.Result, format string, args ...interface{}) error {
	var cause error
	switch result {
	case vk.Success, vk.Suboptimal:
		return nil
	case vk.Timeout, vk.NotReady:
		cause = gpu.ErrWaitTimeout
	case vk.ErrorDeviceLost:
		cause = gpu.ErrDeviceLost
	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory, vk.ErrorTooManyObjects:
		cause = gpu.ErrOutOfMemory
	case vk.ErrorSurfaceLost, vk.ErrorNativeWindowInUse:
		cause = gpu.ErrInvalidWindow
	case vk.ErrorFeatureNotPresent, vk.ErrorExtensionNotPresent, vk.ErrorLayerNotPresent,
		vk.ErrorIncompatibleDriver, vk.ErrorFormatNotSupported:
		cause = gpu.ErrUnsupported
	default:
		cause = errors.Newf("%s", VulkanResultString(result))
	}
	return errors.Wrapf(cause, format+": %s", append(args, VulkanResultString(result))...)
}

func timeoutNanos(timeout time.Duration) uint64 {
	if timeout < 0 {
		return math.MaxUint64
	}
	return uint64(timeout.Nanoseconds())
}

func VulkanSafeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != 0 {
		return s + "\x00"
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}
