package core

import (
	"github.com/cockroachdb/errors"
)

var (
	// No adapter/feature level combination produced a device.
	ErrDeviceCreation = errors.New("device creation failed")
	// Queue, allocator, fence, swapchain, heap or view creation failed.
	ErrResourceCreation = errors.New("resource creation failed")
	// Recording, submission, signaling, waiting or presenting failed.
	ErrSubmission = errors.New("command submission failed")

	ErrNotInitialized = errors.New("render device not initialized")
)

func markf(mark error, cause error, format string, args ...interface{}) error {
	if cause == nil {
		return errors.Mark(errors.Newf(format, args...), mark)
	}
	return errors.Mark(errors.Wrapf(cause, format, args...), mark)
}

// DeviceCreationErrorf wraps cause (which may be nil) and marks it as ErrDeviceCreation.
func DeviceCreationErrorf(cause error, format string, args ...interface{}) error {
	return markf(ErrDeviceCreation, cause, format, args...)
}

// ResourceCreationErrorf wraps cause (which may be nil) and marks it as ErrResourceCreation.
func ResourceCreationErrorf(cause error, format string, args ...interface{}) error {
	return markf(ErrResourceCreation, cause, format, args...)
}

// SubmissionErrorf wraps cause (which may be nil) and marks it as ErrSubmission.
func SubmissionErrorf(cause error, format string, args ...interface{}) error {
	return markf(ErrSubmission, cause, format, args...)
}
