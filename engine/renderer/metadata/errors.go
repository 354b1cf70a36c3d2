package metadata

import "github.com/cockroachdb/errors"

// Failure taxonomy for the frame and resource scheduler. Every error the
// renderer surfaces wraps one of these sentinels so callers can classify
// with errors.Is regardless of how much context was attached on the way up.
var (
	// Recoverable. Handled by resize, retry or deferred reclamation.
	ErrOutOfDate         = errors.New("swapchain out of date")
	ErrOutOfDeviceMemory = errors.New("out of device memory")
	ErrOutOfHostMemory   = errors.New("out of host memory")
	ErrQueueFull         = errors.New("device queue full")

	// Fatal. The device context and all dependents must be rebuilt.
	ErrDeviceLost  = errors.New("device lost")
	ErrSurfaceLost = errors.New("surface lost")

	// Contract violations. These indicate a bug in the caller and are never
	// retried or silently tolerated.
	ErrStaleHandle      = errors.New("stale resource handle")
	ErrStaleGeneration  = errors.New("swapchain image generation mismatch")
	ErrResourceRetired  = errors.New("resource already retired")
	ErrSlotNotRecording = errors.New("frame slot is not owned for recording")

	// ErrFenceTimeout reports a bounded wait that elapsed. The frame
	// scheduler escalates it to ErrDeviceLost once the configured bound is
	// exceeded.
	ErrFenceTimeout = errors.New("fence wait timed out")
)

// IsRecoverable reports whether the caller can continue after a resize,
// retry or deferred reclamation, without tearing the engine down.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrOutOfDate) ||
		errors.Is(err, ErrOutOfDeviceMemory) ||
		errors.Is(err, ErrOutOfHostMemory) ||
		errors.Is(err, ErrQueueFull)
}

// IsFatal reports whether the device context and everything built on it
// must be reconstructed.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDeviceLost) || errors.Is(err, ErrSurfaceLost)
}

// IsContractViolation reports whether the error is a programming error on
// the caller's side. These must fail loudly; tolerating them risks
// corrupting GPU state.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrStaleHandle) ||
		errors.Is(err, ErrStaleGeneration) ||
		errors.Is(err, ErrResourceRetired) ||
		errors.Is(err, ErrSlotNotRecording)
}
