package gpu

import "github.com/cockroachdb/errors"

var (
	ErrWaitTimeout        = errors.New("wait timed out")
	ErrDeviceLost         = errors.New("device lost")
	ErrReleased           = errors.New("object already released")
	ErrInvalidCall        = errors.New("invalid call")
	ErrAllocatorInUse     = errors.New("command allocator still in use by the GPU")
	ErrUnsupported        = errors.New("unsupported")
	ErrOutOfMemory        = errors.New("out of memory")
	ErrInvalidWindow      = errors.New("invalid window handle")
	ErrWrongBackendObject = errors.New("object belongs to another backend")
)
