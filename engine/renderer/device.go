package renderer

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/ferrum-engine/ferrum/engine/config"
	"github.com/ferrum-engine/ferrum/engine/core"
	"github.com/ferrum-engine/ferrum/engine/renderer/metadata"
)

// DeviceContext owns the logical device abstraction: queue access, the
// memory allocator tuning and the resource creation primitives. There is
// exactly one per running engine; it is passed explicitly to every
// dependent component so that a lost device can be torn down and rebuilt
// cleanly, with no global state left behind.
type DeviceContext struct {
	// Correlates log lines across a teardown/rebuild cycle.
	ID uuid.UUID

	backend   metadata.Backend
	allocator config.AllocatorConfig

	allocatedBytes uint64
	liveResources  uint64
}

func NewDeviceContext(backend metadata.Backend, allocator config.AllocatorConfig) *DeviceContext {
	return &DeviceContext{
		ID:        uuid.New(),
		backend:   backend,
		allocator: allocator,
	}
}

// CreateBuffer allocates a device buffer. Out-of-memory results are
// recoverable; the caller may free resources and retry.
func (dc *DeviceContext) CreateBuffer(desc metadata.BufferDescriptor) (uint64, error) {
	native, err := dc.backend.CreateBuffer(desc)
	if err != nil {
		return 0, dc.classifyAllocError(err, "buffer of %d bytes", desc.SizeBytes)
	}
	dc.allocatedBytes += desc.SizeBytes
	dc.liveResources++
	return native, nil
}

// CreateImage allocates a device image.
func (dc *DeviceContext) CreateImage(desc metadata.ImageDescriptor) (uint64, error) {
	native, err := dc.backend.CreateImage(desc)
	if err != nil {
		return 0, dc.classifyAllocError(err, "image %dx%d", desc.Extent.Width, desc.Extent.Height)
	}
	dc.liveResources++
	return native, nil
}

// CreateDescriptorSet allocates a descriptor set against an opaque layout.
func (dc *DeviceContext) CreateDescriptorSet(desc metadata.DescriptorSetDescriptor) (uint64, error) {
	native, err := dc.backend.CreateDescriptorSet(desc)
	if err != nil {
		return 0, dc.classifyAllocError(err, "descriptor set (layout %d)", desc.LayoutHandle)
	}
	dc.liveResources++
	return native, nil
}

// DestroyResource releases a native resource handle. Only the resource
// pool's reclamation path calls this; external callers go through the pool.
func (dc *DeviceContext) DestroyResource(kind metadata.ResourceKind, native uint64, sizeBytes uint64) {
	dc.backend.DestroyResource(kind, native)
	if dc.liveResources > 0 {
		dc.liveResources--
	}
	if sizeBytes <= dc.allocatedBytes {
		dc.allocatedBytes -= sizeBytes
	} else {
		dc.allocatedBytes = 0
	}
}

// WaitIdle blocks until the device has finished all submitted work.
func (dc *DeviceContext) WaitIdle() error {
	if err := dc.backend.DeviceWaitIdle(); err != nil {
		return errors.Wrapf(metadata.ErrDeviceLost, "device %s wait idle: %v", dc.ID, err)
	}
	return nil
}

// AllocatedBytes reports the buffer bytes currently tracked against the
// allocator budget.
func (dc *DeviceContext) AllocatedBytes() uint64 {
	return dc.allocatedBytes
}

// LiveResources reports the number of native resources not yet destroyed.
func (dc *DeviceContext) LiveResources() uint64 {
	return dc.liveResources
}

// AllocatorBlockSize exposes the configured allocator block size for
// capability queries.
func (dc *DeviceContext) AllocatorBlockSize() uint64 {
	return dc.allocator.BlockSizeBytes
}

func (dc *DeviceContext) classifyAllocError(err error, format string, args ...interface{}) error {
	if errors.Is(err, metadata.ErrOutOfDeviceMemory) || errors.Is(err, metadata.ErrOutOfHostMemory) {
		core.LogWarn("device %s: allocation failed (recoverable): %s", dc.ID, err.Error())
		return errors.Wrapf(err, format, args...)
	}
	core.LogError("device %s: allocation failed fatally: %s", dc.ID, err.Error())
	return errors.Wrapf(metadata.ErrDeviceLost, "%s: %v", fmt.Sprintf(format, args...), err)
}
