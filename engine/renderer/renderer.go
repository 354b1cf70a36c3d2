package renderer

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/ferrum-engine/ferrum/engine/config"
	"github.com/ferrum-engine/ferrum/engine/core"
	"github.com/ferrum-engine/ferrum/engine/platform"
	"github.com/ferrum-engine/ferrum/engine/renderer/metadata"
	"github.com/ferrum-engine/ferrum/engine/renderer/vulkan"
)

// Renderer is the frontend over the scheduler core: a device context, a
// resource pool, the swapchain manager, the submission queue and the frame
// scheduler, all built on a single backend.
type Renderer struct {
	backend     metadata.Backend
	device      *DeviceContext
	pool        *ResourcePool
	swapchain   *SwapchainManager
	submissions *SubmissionQueue
	scheduler   *FrameScheduler

	cfg     *config.Config
	appName string

	// Resize notifications are cached and applied at the next frame
	// boundary; the counter pattern avoids reacting to every intermediate
	// size during an interactive resize.
	cachedExtent       metadata.Extent2D
	sizeGeneration     uint64
	lastSizeGeneration uint64
}

var initRenderer sync.Once
var renderer *Renderer

// Initialize builds the renderer on the Vulkan backend for the given
// platform window.
func Initialize(appName string, appWidth, appHeight uint32, p *platform.Platform, cfg *config.Config) error {
	initRenderer.Do(func() {
		renderer = &Renderer{
			backend: vulkan.New(p),
		}
	})
	renderer.cfg = cfg
	renderer.appName = appName
	return renderer.initialize(appWidth, appHeight)
}

// InitializeWithBackend builds the renderer on a caller-provided backend.
func InitializeWithBackend(appName string, appWidth, appHeight uint32, backend metadata.Backend, cfg *config.Config) error {
	renderer = &Renderer{
		backend: backend,
		cfg:     cfg,
		appName: appName,
	}
	return renderer.initialize(appWidth, appHeight)
}

func (r *Renderer) initialize(appWidth, appHeight uint32) error {
	if err := r.backend.Initialize(r.appName, appWidth, appHeight); err != nil {
		return err
	}

	r.device = NewDeviceContext(r.backend, r.cfg.Allocator)
	r.pool = NewResourcePool(r.device)
	r.submissions = NewSubmissionQueue(r.backend, r.cfg.Submission)

	extent := metadata.Extent2D{Width: appWidth, Height: appHeight}
	swapchain, err := NewSwapchainManager(r.backend, extent, metadata.ParsePresentMode(r.cfg.Renderer.PresentMode))
	if err != nil {
		return err
	}
	r.swapchain = swapchain

	scheduler, err := NewFrameScheduler(r.backend, r.pool, r.swapchain, r.submissions, r.cfg)
	if err != nil {
		return err
	}
	r.scheduler = scheduler

	r.cachedExtent = extent
	r.sizeGeneration = 0
	r.lastSizeGeneration = 0

	core.LogInfo("renderer initialized (device context %s)", r.device.ID)
	return nil
}

func Shutdown() error {
	return renderer.shutdown()
}

func (r *Renderer) shutdown() error {
	if r.scheduler != nil {
		if err := r.scheduler.WaitIdle(); err != nil {
			core.LogWarn("renderer shutdown: %s", err.Error())
		}
		r.scheduler.Destroy()
	}
	if r.pool != nil {
		r.pool.Destroy()
	}
	if r.swapchain != nil {
		r.swapchain.Destroy()
	}
	return r.backend.Shutdown()
}

// OnResize caches the new surface extent; the swapchain is recreated at
// the next frame boundary.
func OnResize(width, height uint32) {
	renderer.cachedExtent = metadata.Extent2D{Width: width, Height: height}
	renderer.sizeGeneration++
	core.LogDebug("renderer resize cached: %dx%d (generation %d)", width, height, renderer.sizeGeneration)
}

// DrawFrame runs one frame: begin, hand the recording context to the
// caller, end. Out-of-date conditions recreate the swapchain and skip the
// frame; the next call resumes the normal cadence on a fresh generation.
// Fatal errors propagate for the engine to rebuild the device context.
func DrawFrame(record func(*RecordingContext) error) error {
	return renderer.drawFrame(record)
}

func (r *Renderer) drawFrame(record func(*RecordingContext) error) error {
	if r.sizeGeneration != r.lastSizeGeneration {
		if err := r.recreateSwapchain(r.cachedExtent); err != nil {
			return err
		}
		r.lastSizeGeneration = r.sizeGeneration
		// The frame that observed the resize is skipped, not submitted.
		return nil
	}

	core.MetricsFrameBegin()

	rc, err := r.scheduler.BeginFrame()
	if err != nil {
		if errors.Is(err, metadata.ErrOutOfDate) {
			return r.recreateSwapchain(r.cachedExtent)
		}
		return err
	}

	if err := record(rc); err != nil {
		// The partial frame is still submitted and presented: the acquire
		// and present semaphore signals must be consumed by real work or
		// they would corrupt the next frame's waits. The caller's error is
		// what surfaces.
		if endErr := r.scheduler.EndFrame(rc); endErr != nil {
			core.LogError("renderer: end frame after record failure: %s", endErr.Error())
		}
		return err
	}

	if err := r.scheduler.EndFrame(rc); err != nil {
		if errors.Is(err, metadata.ErrOutOfDate) {
			// Presentation was skipped; recreate so the next frame acquires
			// from a fresh generation.
			return r.recreateSwapchain(r.cachedExtent)
		}
		return err
	}

	core.MetricsFrameEnd()
	return nil
}

func (r *Renderer) recreateSwapchain(extent metadata.Extent2D) error {
	if extent.IsZero() {
		// Minimized window; keep skipping frames until a real extent shows up.
		core.LogDebug("renderer: zero extent, deferring swapchain recreation")
		return nil
	}
	if err := r.scheduler.WaitIdle(); err != nil {
		return err
	}
	return r.swapchain.Recreate(extent)
}

// CurrentFrameIndex returns the monotonic frame counter; usable as the
// retirement epoch key.
func CurrentFrameIndex() uint64 {
	return renderer.scheduler.CurrentFrameIndex()
}

// CreateBuffer allocates a pool-tracked persistent buffer.
func CreateBuffer(desc metadata.BufferDescriptor) (ResourceHandle, error) {
	return renderer.pool.AllocateBuffer(desc, LifetimePersistent, renderer.scheduler.CurrentFrameIndex())
}

// CreateTransientBuffer allocates a buffer that retires automatically once
// the current frame's fence is observed.
func CreateTransientBuffer(desc metadata.BufferDescriptor) (ResourceHandle, error) {
	return renderer.pool.AllocateBuffer(desc, LifetimeTransient, renderer.scheduler.CurrentFrameIndex())
}

// CreateImage allocates a pool-tracked persistent image.
func CreateImage(desc metadata.ImageDescriptor) (ResourceHandle, error) {
	return renderer.pool.AllocateImage(desc, LifetimePersistent, renderer.scheduler.CurrentFrameIndex())
}

// CreateDescriptorSet allocates a pool-tracked descriptor set.
func CreateDescriptorSet(desc metadata.DescriptorSetDescriptor) (ResourceHandle, error) {
	return renderer.pool.AllocateDescriptorSet(desc, LifetimePersistent, renderer.scheduler.CurrentFrameIndex())
}

// DestroyResource schedules the resource for deferred release at the
// current frame's epoch. The memory is freed only after the covering fence
// is observed; there is no immediate-free path.
func DestroyResource(h ResourceHandle) error {
	return renderer.pool.MarkForRetirement(h, renderer.scheduler.CurrentFrameIndex())
}

// ResolveResource borrows a resource for recording.
func ResolveResource(h ResourceHandle) (*GpuResource, error) {
	return renderer.pool.Resolve(h)
}

// Rebuild tears down the device context and every dependent component and
// constructs them again. The recovery path for fatal errors.
func Rebuild() error {
	core.LogWarn("renderer: rebuilding device context and dependents")
	if err := renderer.shutdown(); err != nil {
		core.LogWarn("renderer rebuild: teardown reported: %s", err.Error())
	}
	return renderer.initialize(renderer.cachedExtent.Width, renderer.cachedExtent.Height)
}
