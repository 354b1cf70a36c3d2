package metadata

import "time"

// Fence is a host-observable synchronization primitive signaled when the
// GPU work it was submitted with completes.
type Fence interface {
	// Wait blocks until the fence signals or the timeout elapses. Returns
	// nil when signaled, ErrFenceTimeout on timeout, ErrDeviceLost when the
	// device reports failure.
	Wait(timeout time.Duration) error
	// Reset returns the fence to the unsignaled state. Only legal once the
	// fence has been observed signaled.
	Reset() error
	// Signaled reports the last observed state without blocking.
	Signaled() bool
	Destroy()
}

// Semaphore is a GPU-side primitive ordering work across queue
// submissions. The host never inspects it.
type Semaphore interface {
	Destroy()
}

// CommandBuffer is one recording context. Exclusively owned by a single
// frame slot between Begin and the completion of its submission.
type CommandBuffer interface {
	Begin() error
	End() error
	// Reset discards the previous recording. Only legal once the submission
	// that used this buffer has been observed complete.
	Reset() error
}

// Backend is the device abstraction the scheduler core drives. The
// production implementation wraps Vulkan; tests substitute a scripted fake
// so synchronization behavior can be verified without a GPU.
type Backend interface {
	Initialize(appName string, appWidth, appHeight uint32) error
	Shutdown() error

	// Resource creation primitives. Allocation failures surface as
	// ErrOutOfDeviceMemory or ErrOutOfHostMemory (recoverable), anything
	// else as ErrDeviceLost.
	CreateBuffer(desc BufferDescriptor) (uint64, error)
	CreateImage(desc ImageDescriptor) (uint64, error)
	CreateDescriptorSet(desc DescriptorSetDescriptor) (uint64, error)
	DestroyResource(kind ResourceKind, native uint64)

	DeviceWaitIdle() error

	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)
	AllocateCommandBuffer(queue QueueKind) (CommandBuffer, error)
	FreeCommandBuffer(queue QueueKind, buffer CommandBuffer)

	// CreateSwapchain builds the presentable image set for the surface,
	// replacing any previous swapchain.
	CreateSwapchain(extent Extent2D, preferred PresentMode) (SwapchainDetails, error)
	DestroySwapchain()
	// SurfaceExtent reports the surface's current drawable size, which may
	// no longer match the swapchain after a resize.
	SurfaceExtent() (Extent2D, error)
	// AcquireImage hands out the index of the next presentable image and
	// arranges for signal to fire once the image is actually available.
	AcquireImage(timeout time.Duration, signal Semaphore) (uint32, error)
	// Present returns the image to the swapchain, gated on wait.
	Present(imageIndex uint32, wait Semaphore) error

	// SubmitQueue enqueues the recorded work on the device queue named in
	// the info. ErrQueueFull is transient; callers retry after a backoff.
	SubmitQueue(info SubmitInfo) error
}
