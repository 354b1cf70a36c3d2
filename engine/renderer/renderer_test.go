package renderer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrum-engine/ferrum/engine/core"
	"github.com/ferrum-engine/ferrum/engine/renderer/metadata"
)

func TestFrontendDrawAndResize(t *testing.T) {
	require.NoError(t, core.MetricsInitialize())

	fb := newFakeBackend()
	require.NoError(t, InitializeWithBackend("frontend test", 1280, 720, fb, newTestConfig()))
	defer func() { require.NoError(t, Shutdown()) }()

	var handle ResourceHandle
	require.NoError(t, DrawFrame(func(rc *RecordingContext) error {
		var err error
		handle, err = CreateTransientBuffer(metadata.BufferDescriptor{
			SizeBytes:   4096,
			Usage:       metadata.BufferUsageTransferSrc,
			HostVisible: true,
		})
		return err
	}))
	assert.Equal(t, uint64(1), CurrentFrameIndex())
	assert.Len(t, fb.submitted, 1)

	res, err := ResolveResource(handle)
	require.NoError(t, err)
	assert.Equal(t, metadata.ResourceBuffer, res.Kind)

	// A cached resize skips the next frame and recreates the swapchain.
	OnResize(800, 600)
	require.NoError(t, DrawFrame(func(rc *RecordingContext) error { return nil }))
	assert.Equal(t, uint64(1), CurrentFrameIndex())
	assert.Equal(t, 2, fb.swapchainCount)

	// Cadence resumes on the new generation.
	require.NoError(t, DrawFrame(func(rc *RecordingContext) error {
		assert.Equal(t, uint64(2), rc.Image.Generation)
		return nil
	}))
	assert.Equal(t, uint64(2), CurrentFrameIndex())
}

func TestFrontendRecordFailureStillSubmits(t *testing.T) {
	require.NoError(t, core.MetricsInitialize())

	fb := newFakeBackend()
	require.NoError(t, InitializeWithBackend("frontend test", 1280, 720, fb, newTestConfig()))
	defer func() { require.NoError(t, Shutdown()) }()

	// The partial frame is submitted and presented anyway so the slot's
	// semaphore signals are consumed; the caller's error surfaces.
	err := DrawFrame(func(rc *RecordingContext) error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)
	assert.Len(t, fb.submitted, 1)
	assert.Len(t, fb.presented, 1)

	// The slot was closed out, so the cadence continues.
	require.NoError(t, DrawFrame(func(rc *RecordingContext) error { return nil }))
	assert.Equal(t, uint64(2), CurrentFrameIndex())
}

func TestFrontendDeferredDestroy(t *testing.T) {
	require.NoError(t, core.MetricsInitialize())

	fb := newFakeBackend()
	require.NoError(t, InitializeWithBackend("frontend test", 1280, 720, fb, newTestConfig()))
	defer func() { require.NoError(t, Shutdown()) }()

	handle, err := CreateBuffer(metadata.BufferDescriptor{SizeBytes: 1024, Usage: metadata.BufferUsageVertex})
	require.NoError(t, err)

	require.NoError(t, DrawFrame(func(rc *RecordingContext) error { return nil }))
	require.NoError(t, DestroyResource(handle))

	// Still resolvable until the covering fence has been observed.
	_, err = ResolveResource(handle)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, DrawFrame(func(rc *RecordingContext) error { return nil }))
	}
	_, err = ResolveResource(handle)
	assert.ErrorIs(t, err, metadata.ErrStaleHandle)
}
