package renderer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrum-engine/ferrum/engine/renderer/metadata"
)

func newTestPool(t *testing.T) (*ResourcePool, *fakeBackend) {
	t.Helper()
	cfg := newTestConfig()
	fb := newFakeBackend()
	return NewResourcePool(NewDeviceContext(fb, cfg.Allocator)), fb
}

func TestPersistentResourceSurvivesReclaim(t *testing.T) {
	pool, fb := newTestPool(t)

	handle, err := pool.AllocateBuffer(metadata.BufferDescriptor{SizeBytes: 1024}, LifetimePersistent, 1)
	require.NoError(t, err)

	pool.Reclaim(10)
	res, err := pool.Resolve(handle)
	require.NoError(t, err)
	assert.Equal(t, metadata.ResourceBuffer, res.Kind)
	assert.Empty(t, fb.destroyed)

	_, retired := res.RetirementEpoch()
	assert.False(t, retired)
}

func TestTransientRetiredAtAllocationEpoch(t *testing.T) {
	pool, fb := newTestPool(t)

	handle, err := pool.AllocateBuffer(metadata.BufferDescriptor{SizeBytes: 256}, LifetimeTransient, 5)
	require.NoError(t, err)

	res, err := pool.Resolve(handle)
	require.NoError(t, err)
	epoch, retired := res.RetirementEpoch()
	assert.True(t, retired)
	assert.Equal(t, uint64(5), epoch)

	// Epoch 4 does not cover the allocation; epoch 5 does.
	assert.Zero(t, pool.Reclaim(4))
	_, err = pool.Resolve(handle)
	require.NoError(t, err)

	assert.Equal(t, 1, pool.Reclaim(5))
	_, err = pool.Resolve(handle)
	assert.ErrorIs(t, err, metadata.ErrStaleHandle)
	assert.Equal(t, []uint64{1}, fb.destroyed)
}

func TestReclaimEpochIsMonotonic(t *testing.T) {
	pool, _ := newTestPool(t)

	pool.Reclaim(5)
	assert.Equal(t, uint64(5), pool.CompletedEpoch())

	handle, err := pool.AllocateImage(metadata.ImageDescriptor{
		Extent: metadata.Extent2D{Width: 64, Height: 64},
		Format: metadata.ImageFormatR8G8B8A8Unorm,
		Usage:  metadata.ImageUsageSampled,
	}, LifetimeTransient, 4)
	require.NoError(t, err)

	// A regressed epoch is a no-op even though it would cover the resource.
	assert.Zero(t, pool.Reclaim(3))
	assert.Equal(t, uint64(5), pool.CompletedEpoch())
	_, err = pool.Resolve(handle)
	assert.NoError(t, err)
}

func TestMarkForRetirementKeepsLatestEpoch(t *testing.T) {
	pool, _ := newTestPool(t)

	handle, err := pool.AllocateBuffer(metadata.BufferDescriptor{SizeBytes: 64}, LifetimePersistent, 0)
	require.NoError(t, err)

	require.NoError(t, pool.MarkForRetirement(handle, 5))
	require.NoError(t, pool.MarkForRetirement(handle, 3))

	res, err := pool.Resolve(handle)
	require.NoError(t, err)
	epoch, retired := res.RetirementEpoch()
	assert.True(t, retired)
	assert.Equal(t, uint64(5), epoch)

	require.NoError(t, pool.MarkForRetirement(handle, 9))
	res, err = pool.Resolve(handle)
	require.NoError(t, err)
	epoch, _ = res.RetirementEpoch()
	assert.Equal(t, uint64(9), epoch)
}

func TestHandleStaleAfterSlotReuse(t *testing.T) {
	pool, _ := newTestPool(t)

	old, err := pool.AllocateBuffer(metadata.BufferDescriptor{SizeBytes: 64}, LifetimeTransient, 1)
	require.NoError(t, err)
	require.Equal(t, 1, pool.Reclaim(1))

	// The freed slot is reused; the old handle must not alias the new one.
	fresh, err := pool.AllocateBuffer(metadata.BufferDescriptor{SizeBytes: 128}, LifetimePersistent, 2)
	require.NoError(t, err)
	assert.Equal(t, old.Index(), fresh.Index())
	assert.NotEqual(t, old.Generation(), fresh.Generation())

	_, err = pool.Resolve(old)
	assert.ErrorIs(t, err, metadata.ErrStaleHandle)
	res, err := pool.Resolve(fresh)
	require.NoError(t, err)
	assert.Equal(t, uint64(128), res.SizeBytes)

	err = pool.MarkForRetirement(old, 3)
	assert.ErrorIs(t, err, metadata.ErrStaleHandle)
}

func TestPoolDestroyReleasesEverything(t *testing.T) {
	pool, fb := newTestPool(t)

	_, err := pool.AllocateBuffer(metadata.BufferDescriptor{SizeBytes: 64}, LifetimePersistent, 0)
	require.NoError(t, err)
	_, err = pool.AllocateDescriptorSet(metadata.DescriptorSetDescriptor{LayoutHandle: 7}, LifetimePersistent, 0)
	require.NoError(t, err)
	require.Equal(t, 2, pool.LiveCount())

	pool.Destroy()
	assert.Zero(t, pool.LiveCount())
	assert.Len(t, fb.destroyed, 2)
}

func TestDeviceClassifiesAllocationFailures(t *testing.T) {
	cfg := newTestConfig()
	fb := newFakeBackend()
	device := NewDeviceContext(fb, cfg.Allocator)

	fb.allocErrs = []error{metadata.ErrOutOfDeviceMemory}
	_, err := device.CreateBuffer(metadata.BufferDescriptor{SizeBytes: 1 << 30})
	assert.ErrorIs(t, err, metadata.ErrOutOfDeviceMemory)
	assert.True(t, metadata.IsRecoverable(err))
	assert.False(t, metadata.IsFatal(err))

	fb.allocErrs = []error{assert.AnError}
	_, err = device.CreateBuffer(metadata.BufferDescriptor{SizeBytes: 64})
	assert.ErrorIs(t, err, metadata.ErrDeviceLost)
	assert.True(t, metadata.IsFatal(err))
}

func TestDeviceTracksAllocatedBytes(t *testing.T) {
	cfg := newTestConfig()
	fb := newFakeBackend()
	device := NewDeviceContext(fb, cfg.Allocator)

	native, err := device.CreateBuffer(metadata.BufferDescriptor{SizeBytes: 4096})
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), device.AllocatedBytes())
	assert.Equal(t, uint64(1), device.LiveResources())

	device.DestroyResource(metadata.ResourceBuffer, native, 4096)
	assert.Zero(t, device.AllocatedBytes())
	assert.Zero(t, device.LiveResources())
}
