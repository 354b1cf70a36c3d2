package renderer

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ferrum-engine/ferrum/engine/core"
	"github.com/ferrum-engine/ferrum/engine/renderer/metadata"
)

// SwapchainState is the explicit presentation state machine. Illegal
// operations for a state return errors instead of being papered over.
type SwapchainState uint8

const (
	// SwapchainReady accepts acquisitions and presents.
	SwapchainReady SwapchainState = iota
	// SwapchainOutOfDate requires Recreate before any further acquisition.
	SwapchainOutOfDate
	// SwapchainLost is terminal for this surface; the whole presentation
	// context must be rebuilt.
	SwapchainLost
)

func (s SwapchainState) String() string {
	switch s {
	case SwapchainReady:
		return "ready"
	case SwapchainOutOfDate:
		return "out_of_date"
	case SwapchainLost:
		return "lost"
	}
	return "unknown"
}

// SwapchainImage is a handle into the current swapchain's image array. The
// generation ties it to the swapchain incarnation that issued it; after a
// recreation every previously issued image is rejected.
type SwapchainImage struct {
	Index      uint32
	Generation uint64
}

// SwapchainManager owns the presentable image set and its recreation
// lifecycle. All prior SwapchainImage handles become invalid the moment
// Recreate runs (the generation counter increments).
type SwapchainManager struct {
	mutex   sync.Mutex
	backend metadata.Backend

	state      SwapchainState
	generation uint64
	details    metadata.SwapchainDetails
	extent     metadata.Extent2D
	preferred  metadata.PresentMode
}

func NewSwapchainManager(backend metadata.Backend, extent metadata.Extent2D, preferred metadata.PresentMode) (*SwapchainManager, error) {
	details, err := backend.CreateSwapchain(extent, preferred)
	if err != nil {
		return nil, errors.Wrap(err, "swapchain creation")
	}

	core.LogInfo("swapchain created: %d images, %dx%d, present mode %s",
		details.ImageCount, details.Extent.Width, details.Extent.Height, details.PresentMode)

	return &SwapchainManager{
		backend:    backend,
		state:      SwapchainReady,
		generation: 1,
		details:    details,
		extent:     details.Extent,
		preferred:  preferred,
	}, nil
}

// AcquireNext hands out the next presentable image, arranging for signal
// to fire when the image is available. On ErrOutOfDate the caller must
// Recreate before acquiring again; the frame is skipped, not submitted.
func (sm *SwapchainManager) AcquireNext(timeout time.Duration, signal metadata.Semaphore) (SwapchainImage, error) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	switch sm.state {
	case SwapchainLost:
		return SwapchainImage{}, errors.Wrap(metadata.ErrSurfaceLost, "acquire")
	case SwapchainOutOfDate:
		return SwapchainImage{}, errors.Wrap(metadata.ErrOutOfDate, "acquire before recreate")
	}

	// A resized surface invalidates the swapchain even when the platform
	// has not reported it yet.
	surfaceExtent, err := sm.backend.SurfaceExtent()
	if err != nil {
		sm.state = SwapchainLost
		return SwapchainImage{}, errors.Wrapf(metadata.ErrSurfaceLost, "surface query: %v", err)
	}
	if surfaceExtent != sm.extent {
		sm.state = SwapchainOutOfDate
		return SwapchainImage{}, errors.Wrapf(metadata.ErrOutOfDate,
			"surface %dx%d, swapchain %dx%d",
			surfaceExtent.Width, surfaceExtent.Height, sm.extent.Width, sm.extent.Height)
	}

	index, err := sm.backend.AcquireImage(timeout, signal)
	if err != nil {
		switch {
		case errors.Is(err, metadata.ErrOutOfDate):
			sm.state = SwapchainOutOfDate
			return SwapchainImage{}, err
		case errors.Is(err, metadata.ErrSurfaceLost):
			sm.state = SwapchainLost
			return SwapchainImage{}, err
		}
		return SwapchainImage{}, errors.Wrapf(metadata.ErrDeviceLost, "acquire: %v", err)
	}

	return SwapchainImage{Index: index, Generation: sm.generation}, nil
}

// Present returns the image to the swapchain, gated on wait. An image from
// a previous generation is a hard contract violation. OutOfDate results
// are recoverable: the submission already happened, only the presentation
// is skipped until the caller recreates.
func (sm *SwapchainManager) Present(image SwapchainImage, wait metadata.Semaphore) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if image.Generation != sm.generation {
		return errors.Wrapf(metadata.ErrStaleGeneration,
			"image generation %d, swapchain generation %d", image.Generation, sm.generation)
	}
	if sm.state == SwapchainLost {
		return errors.Wrap(metadata.ErrSurfaceLost, "present")
	}

	if err := sm.backend.Present(image.Index, wait); err != nil {
		switch {
		case errors.Is(err, metadata.ErrOutOfDate):
			sm.state = SwapchainOutOfDate
			return err
		case errors.Is(err, metadata.ErrSurfaceLost):
			sm.state = SwapchainLost
			return err
		}
		return errors.Wrapf(metadata.ErrDeviceLost, "present: %v", err)
	}
	return nil
}

// Recreate rebuilds the swapchain for the new extent and increments the
// generation, invalidating every previously issued SwapchainImage.
// Recreating with an unchanged extent is valid and yields an equivalent
// swapchain.
func (sm *SwapchainManager) Recreate(newExtent metadata.Extent2D) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.state == SwapchainLost {
		return errors.Wrap(metadata.ErrSurfaceLost, "recreate")
	}

	details, err := sm.backend.CreateSwapchain(newExtent, sm.preferred)
	if err != nil {
		if errors.Is(err, metadata.ErrSurfaceLost) {
			sm.state = SwapchainLost
			return err
		}
		return errors.Wrapf(metadata.ErrDeviceLost, "swapchain creation: %v", err)
	}

	sm.details = details
	sm.extent = details.Extent
	sm.generation++
	sm.state = SwapchainReady

	context := core.EventContext{}
	context.Data.U64[0] = sm.generation
	core.EventFire(core.EVENT_CODE_SWAPCHAIN_RECREATED, sm, context)

	core.LogInfo("swapchain recreated: generation %d, %d images, %dx%d",
		sm.generation, details.ImageCount, details.Extent.Width, details.Extent.Height)
	return nil
}

// State reports the current lifecycle state.
func (sm *SwapchainManager) State() SwapchainState {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	return sm.state
}

// Generation reports the current swapchain incarnation.
func (sm *SwapchainManager) Generation() uint64 {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	return sm.generation
}

// Details reports what the backend actually built.
func (sm *SwapchainManager) Details() metadata.SwapchainDetails {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	return sm.details
}

// Destroy tears the swapchain down. Callers ensure the device is idle.
func (sm *SwapchainManager) Destroy() {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.backend.DestroySwapchain()
}
