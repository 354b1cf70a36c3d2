package renderer

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrum-engine/ferrum/engine/renderer/metadata"
)

func TestFrameLifecycle(t *testing.T) {
	rig, err := newTestRig(newTestConfig())
	require.NoError(t, err)

	rc, err := rig.scheduler.BeginFrame()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rc.FrameIndex)
	assert.Equal(t, uint64(1), rc.Image.Generation)
	assert.NotNil(t, rc.CommandBuffer)

	cb := rc.CommandBuffer.(*fakeCommandBuffer)
	assert.True(t, cb.open)

	require.NoError(t, rig.scheduler.EndFrame(rc))
	assert.False(t, cb.open)
	assert.Len(t, rig.backend.submitted, 1)
	assert.Equal(t, []uint32{0}, rig.backend.presented)
	assert.Equal(t, 1, rig.scheduler.InFlightCount())

	// The graphics submission waits on acquisition and signals presentation.
	info := rig.backend.submitted[0]
	assert.Equal(t, metadata.QueueGraphics, info.Queue)
	assert.Len(t, info.WaitSemaphores, 1)
	assert.Len(t, info.SignalSemaphores, 1)
	assert.NotNil(t, info.SignalFence)
}

func TestBeginFrameWhileRecording(t *testing.T) {
	rig, err := newTestRig(newTestConfig())
	require.NoError(t, err)

	rc, err := rig.scheduler.BeginFrame()
	require.NoError(t, err)

	_, err = rig.scheduler.BeginFrame()
	assert.ErrorIs(t, err, metadata.ErrSlotNotRecording)
	assert.True(t, metadata.IsContractViolation(err))

	require.NoError(t, rig.scheduler.EndFrame(rc))
}

func TestEndFrameTwice(t *testing.T) {
	rig, err := newTestRig(newTestConfig())
	require.NoError(t, err)

	rc, err := rig.scheduler.BeginFrame()
	require.NoError(t, err)
	require.NoError(t, rig.scheduler.EndFrame(rc))

	err = rig.scheduler.EndFrame(rc)
	assert.ErrorIs(t, err, metadata.ErrSlotNotRecording)

	err = rig.scheduler.EndFrame(nil)
	assert.ErrorIs(t, err, metadata.ErrSlotNotRecording)
}

func TestBackpressureCapsFramesInFlight(t *testing.T) {
	rig, err := newTestRig(newTestConfig())
	require.NoError(t, err)
	framesInFlight := rig.scheduler.FramesInFlight()
	require.Equal(t, 2, framesInFlight)

	for i := 1; i <= 6; i++ {
		require.NoError(t, rig.drawFrame())
		assert.LessOrEqual(t, rig.scheduler.InFlightCount(), framesInFlight)
		assert.Equal(t, uint64(i), rig.scheduler.CurrentFrameIndex())

		// Reusing a slot observes its fence first, so by frame i every
		// frame up to i minus the ring size has retired.
		if i > framesInFlight {
			assert.Equal(t, uint64(i-framesInFlight), rig.scheduler.CompletedEpoch())
		} else {
			assert.Zero(t, rig.scheduler.CompletedEpoch())
		}
	}
}

func TestAcquireOutOfDateSkipsFrame(t *testing.T) {
	rig, err := newTestRig(newTestConfig())
	require.NoError(t, err)
	require.NoError(t, rig.drawFrame())

	rig.backend.acquireErrs = []error{metadata.ErrOutOfDate}
	_, err = rig.scheduler.BeginFrame()
	assert.ErrorIs(t, err, metadata.ErrOutOfDate)
	assert.True(t, metadata.IsRecoverable(err))

	// Nothing was submitted for the skipped frame and the counter held.
	assert.Equal(t, uint64(1), rig.scheduler.CurrentFrameIndex())
	assert.Len(t, rig.backend.submitted, 1)
	assert.Equal(t, SwapchainOutOfDate, rig.swapchain.State())

	require.NoError(t, rig.swapchain.Recreate(metadata.Extent2D{Width: 800, Height: 600}))
	require.NoError(t, rig.drawFrame())
	assert.Equal(t, uint64(2), rig.scheduler.CurrentFrameIndex())
}

func TestResizedSurfaceInvalidatesSwapchain(t *testing.T) {
	rig, err := newTestRig(newTestConfig())
	require.NoError(t, err)
	require.NoError(t, rig.drawFrame())

	// The platform surface changed size without the backend reporting it.
	rig.backend.surfaceExtent = metadata.Extent2D{Width: 1920, Height: 1080}

	_, err = rig.scheduler.BeginFrame()
	assert.ErrorIs(t, err, metadata.ErrOutOfDate)

	require.NoError(t, rig.swapchain.Recreate(metadata.Extent2D{Width: 1920, Height: 1080}))
	rc, err := rig.scheduler.BeginFrame()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rc.Image.Generation)
	require.NoError(t, rig.scheduler.EndFrame(rc))
}

func TestFenceTimeoutReportsDeviceLost(t *testing.T) {
	rig, err := newTestRig(newTestConfig())
	require.NoError(t, err)

	// Fill the ring, then hang the GPU so the next slot reuse blocks on a
	// fence that will never signal.
	require.NoError(t, rig.drawFrame())
	require.NoError(t, rig.drawFrame())
	rig.backend.gpuHung = true

	_, err = rig.scheduler.BeginFrame()
	assert.ErrorIs(t, err, metadata.ErrDeviceLost)
	assert.True(t, errors.Is(err, metadata.ErrFenceTimeout))
	assert.True(t, metadata.IsFatal(err))

	// Device loss is sticky.
	_, err = rig.scheduler.BeginFrame()
	assert.ErrorIs(t, err, metadata.ErrDeviceLost)
}

func TestPresentOutOfDateKeepsSubmission(t *testing.T) {
	rig, err := newTestRig(newTestConfig())
	require.NoError(t, err)

	rig.backend.presentErrs = []error{metadata.ErrOutOfDate}
	rc, err := rig.scheduler.BeginFrame()
	require.NoError(t, err)

	err = rig.scheduler.EndFrame(rc)
	assert.ErrorIs(t, err, metadata.ErrOutOfDate)
	assert.True(t, metadata.IsRecoverable(err))

	// The submission already happened; only the visual output was skipped.
	assert.Len(t, rig.backend.submitted, 1)
	assert.Equal(t, 1, rig.scheduler.InFlightCount())
	assert.Equal(t, 1, rig.submissions.InFlightCount(metadata.QueueGraphics))
}

func TestSubmitFailureDiscardsFrame(t *testing.T) {
	cfg := newTestConfig()
	rig, err := newTestRig(cfg)
	require.NoError(t, err)

	// One failure per attempt exhausts the retry budget.
	for i := 0; i <= cfg.Submission.RetryAttempts; i++ {
		rig.backend.submitErrs = append(rig.backend.submitErrs, metadata.ErrQueueFull)
	}

	rc, err := rig.scheduler.BeginFrame()
	require.NoError(t, err)
	err = rig.scheduler.EndFrame(rc)
	assert.ErrorIs(t, err, metadata.ErrQueueFull)
	assert.True(t, metadata.IsRecoverable(err))

	// Fully discarded: no in-flight work, and the ring keeps turning.
	assert.Zero(t, rig.scheduler.InFlightCount())
	assert.Empty(t, rig.backend.submitted)
	require.NoError(t, rig.drawFrame())
}

func TestSubmitNonTransientFailureIsFatal(t *testing.T) {
	rig, err := newTestRig(newTestConfig())
	require.NoError(t, err)

	rig.backend.submitErrs = []error{errors.New("queue exploded")}
	rc, err := rig.scheduler.BeginFrame()
	require.NoError(t, err)

	err = rig.scheduler.EndFrame(rc)
	assert.ErrorIs(t, err, metadata.ErrDeviceLost)

	_, err = rig.scheduler.BeginFrame()
	assert.ErrorIs(t, err, metadata.ErrDeviceLost)
}

func TestWaitIdleDrainsRing(t *testing.T) {
	rig, err := newTestRig(newTestConfig())
	require.NoError(t, err)

	require.NoError(t, rig.drawFrame())
	require.NoError(t, rig.drawFrame())
	require.Equal(t, 2, rig.scheduler.InFlightCount())

	require.NoError(t, rig.scheduler.WaitIdle())
	assert.Zero(t, rig.scheduler.InFlightCount())
	assert.Equal(t, uint64(2), rig.scheduler.CompletedEpoch())
	assert.Zero(t, rig.submissions.InFlightCount(metadata.QueueGraphics))
	assert.Equal(t, 1, rig.backend.waitIdles)
}

func TestTransientReclaimedAfterFenceObservation(t *testing.T) {
	rig, err := newTestRig(newTestConfig())
	require.NoError(t, err)

	rc, err := rig.scheduler.BeginFrame()
	require.NoError(t, err)
	handle, err := rig.pool.AllocateBuffer(metadata.BufferDescriptor{
		SizeBytes:   4096,
		Usage:       metadata.BufferUsageTransferSrc,
		HostVisible: true,
	}, LifetimeTransient, rc.FrameIndex)
	require.NoError(t, err)
	require.NoError(t, rig.scheduler.EndFrame(rc))

	// Frame 2 reuses the other slot; frame 1's fence is still unobserved,
	// so the staging buffer must survive.
	require.NoError(t, rig.drawFrame())
	_, err = rig.pool.Resolve(handle)
	assert.NoError(t, err)

	// Frame 3 reuses frame 1's slot and observes its fence first.
	require.NoError(t, rig.drawFrame())
	_, err = rig.pool.Resolve(handle)
	assert.ErrorIs(t, err, metadata.ErrStaleHandle)
	assert.Contains(t, rig.backend.destroyed, uint64(1))
}
