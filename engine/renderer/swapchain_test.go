package renderer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrum-engine/ferrum/engine/renderer/metadata"
)

func newTestSwapchain(t *testing.T) (*SwapchainManager, *fakeBackend) {
	t.Helper()
	fb := newFakeBackend()
	sm, err := NewSwapchainManager(fb, metadata.Extent2D{Width: 1280, Height: 720}, metadata.PresentModeFIFO)
	require.NoError(t, err)
	return sm, fb
}

func TestSwapchainAcquirePresentRoundTrip(t *testing.T) {
	sm, fb := newTestSwapchain(t)
	sem := &fakeSemaphore{}

	image, err := sm.AcquireNext(time.Second, sem)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), image.Index)
	assert.Equal(t, uint64(1), image.Generation)

	require.NoError(t, sm.Present(image, sem))
	assert.Equal(t, []uint32{0}, fb.presented)
	assert.Equal(t, SwapchainReady, sm.State())
}

func TestRecreateIncrementsGeneration(t *testing.T) {
	sm, fb := newTestSwapchain(t)

	require.Equal(t, uint64(1), sm.Generation())
	require.NoError(t, sm.Recreate(metadata.Extent2D{Width: 800, Height: 600}))
	assert.Equal(t, uint64(2), sm.Generation())
	assert.Equal(t, 2, fb.swapchainCount)
	assert.Equal(t, metadata.Extent2D{Width: 800, Height: 600}, sm.Details().Extent)

	// Unchanged extent is a valid recreation and still invalidates images.
	require.NoError(t, sm.Recreate(metadata.Extent2D{Width: 800, Height: 600}))
	assert.Equal(t, uint64(3), sm.Generation())
}

func TestPresentRejectsStaleGeneration(t *testing.T) {
	sm, fb := newTestSwapchain(t)
	sem := &fakeSemaphore{}

	image, err := sm.AcquireNext(time.Second, sem)
	require.NoError(t, err)
	require.NoError(t, sm.Recreate(metadata.Extent2D{Width: 1280, Height: 720}))

	err = sm.Present(image, sem)
	assert.ErrorIs(t, err, metadata.ErrStaleGeneration)
	assert.True(t, metadata.IsContractViolation(err))
	assert.Empty(t, fb.presented)
}

func TestOutOfDateBlocksAcquireUntilRecreate(t *testing.T) {
	sm, fb := newTestSwapchain(t)
	sem := &fakeSemaphore{}

	fb.acquireErrs = []error{metadata.ErrOutOfDate}
	_, err := sm.AcquireNext(time.Second, sem)
	require.ErrorIs(t, err, metadata.ErrOutOfDate)
	assert.Equal(t, SwapchainOutOfDate, sm.State())

	// Further acquisitions short-circuit without touching the device.
	_, err = sm.AcquireNext(time.Second, sem)
	assert.ErrorIs(t, err, metadata.ErrOutOfDate)

	require.NoError(t, sm.Recreate(metadata.Extent2D{Width: 1280, Height: 720}))
	assert.Equal(t, SwapchainReady, sm.State())
	_, err = sm.AcquireNext(time.Second, sem)
	assert.NoError(t, err)
}

func TestSurfaceExtentMismatchForcesRecreate(t *testing.T) {
	sm, fb := newTestSwapchain(t)
	sem := &fakeSemaphore{}

	fb.surfaceExtent = metadata.Extent2D{Width: 640, Height: 480}
	_, err := sm.AcquireNext(time.Second, sem)
	assert.ErrorIs(t, err, metadata.ErrOutOfDate)
	assert.Equal(t, SwapchainOutOfDate, sm.State())
}

func TestSurfaceLostIsTerminal(t *testing.T) {
	sm, fb := newTestSwapchain(t)
	sem := &fakeSemaphore{}

	fb.acquireErrs = []error{metadata.ErrSurfaceLost}
	_, err := sm.AcquireNext(time.Second, sem)
	require.ErrorIs(t, err, metadata.ErrSurfaceLost)
	assert.Equal(t, SwapchainLost, sm.State())

	// A lost surface cannot be recreated; the device context owner rebuilds.
	err = sm.Recreate(metadata.Extent2D{Width: 1280, Height: 720})
	assert.ErrorIs(t, err, metadata.ErrSurfaceLost)
	assert.True(t, metadata.IsFatal(err))

	_, err = sm.AcquireNext(time.Second, sem)
	assert.ErrorIs(t, err, metadata.ErrSurfaceLost)
}

func TestPresentOutOfDateMarksState(t *testing.T) {
	sm, fb := newTestSwapchain(t)
	sem := &fakeSemaphore{}

	image, err := sm.AcquireNext(time.Second, sem)
	require.NoError(t, err)

	fb.presentErrs = []error{metadata.ErrOutOfDate}
	err = sm.Present(image, sem)
	assert.ErrorIs(t, err, metadata.ErrOutOfDate)
	assert.True(t, metadata.IsRecoverable(err))
	assert.Equal(t, SwapchainOutOfDate, sm.State())
}
