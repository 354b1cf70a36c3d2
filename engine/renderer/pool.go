package renderer

import (
	"sync"

	"github.com/ferrum-engine/ferrum/engine/core"
	"github.com/ferrum-engine/ferrum/engine/renderer/metadata"
)

// LifetimePolicy declares how a resource's retirement is driven.
type LifetimePolicy uint8

const (
	// LifetimePersistent resources live until explicitly marked for
	// retirement.
	LifetimePersistent LifetimePolicy = iota
	// LifetimeTransient resources are marked for retirement at the frame
	// they were allocated in; they survive exactly until that frame's
	// fence is observed.
	LifetimeTransient
)

// GpuResource is one pool-tracked device object. Command recordings borrow
// resources through their handle; the pool stays the only owner.
type GpuResource struct {
	Kind     metadata.ResourceKind
	Native   uint64
	Lifetime LifetimePolicy

	// SizeBytes is the tracked allocation size (zero for descriptor sets).
	SizeBytes uint64

	// retirementEpoch is the frame index after which the GPU is guaranteed
	// to be done with the resource. Monotonically non-decreasing.
	retirementEpoch uint64
	retired         bool
}

// RetirementEpoch returns the epoch the resource is scheduled to be
// reclaimed at, and whether retirement was requested at all.
func (r *GpuResource) RetirementEpoch() (uint64, bool) {
	return r.retirementEpoch, r.retired
}

// ResourceHandle is the only way external code refers to a pooled
// resource. Reclamation bumps the arena generation, so every copy of a
// handle goes stale the moment the resource is freed.
type ResourceHandle = metadata.Handle[GpuResource]

// ResourcePool tracks every live GPU resource together with its
// retirement epoch. Resources are never freed on last use; they are
// deferred-freed through Reclaim once the frame scheduler has observed the
// covering fence. Reclaim is the only path that releases device memory.
type ResourcePool struct {
	mutex  sync.Mutex
	device *DeviceContext
	arena  *metadata.Arena[GpuResource]

	// Highest epoch passed to Reclaim so far. Monotonic.
	completedEpoch uint64
	reclaimedTotal uint64
}

func NewResourcePool(device *DeviceContext) *ResourcePool {
	return &ResourcePool{
		device: device,
		arena:  metadata.NewArena[GpuResource](),
	}
}

// AllocateBuffer creates a device buffer and registers it with the pool.
func (rp *ResourcePool) AllocateBuffer(desc metadata.BufferDescriptor, policy LifetimePolicy, currentEpoch uint64) (ResourceHandle, error) {
	native, err := rp.device.CreateBuffer(desc)
	if err != nil {
		return ResourceHandle{}, err
	}
	return rp.track(GpuResource{
		Kind:      metadata.ResourceBuffer,
		Native:    native,
		Lifetime:  policy,
		SizeBytes: desc.SizeBytes,
	}, currentEpoch), nil
}

// AllocateImage creates a device image and registers it with the pool.
func (rp *ResourcePool) AllocateImage(desc metadata.ImageDescriptor, policy LifetimePolicy, currentEpoch uint64) (ResourceHandle, error) {
	native, err := rp.device.CreateImage(desc)
	if err != nil {
		return ResourceHandle{}, err
	}
	return rp.track(GpuResource{
		Kind:     metadata.ResourceImage,
		Native:   native,
		Lifetime: policy,
	}, currentEpoch), nil
}

// AllocateDescriptorSet creates a descriptor set and registers it.
func (rp *ResourcePool) AllocateDescriptorSet(desc metadata.DescriptorSetDescriptor, policy LifetimePolicy, currentEpoch uint64) (ResourceHandle, error) {
	native, err := rp.device.CreateDescriptorSet(desc)
	if err != nil {
		return ResourceHandle{}, err
	}
	return rp.track(GpuResource{
		Kind:     metadata.ResourceDescriptorSet,
		Native:   native,
		Lifetime: policy,
	}, currentEpoch), nil
}

func (rp *ResourcePool) track(res GpuResource, currentEpoch uint64) ResourceHandle {
	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	if res.Lifetime == LifetimeTransient {
		res.retired = true
		res.retirementEpoch = currentEpoch
	}
	return rp.arena.Insert(res)
}

// Resolve borrows the resource for recording. The returned pointer is only
// valid until the next Reclaim; recordings must not cache it across
// frames. A stale or reclaimed handle yields ErrStaleHandle.
func (rp *ResourcePool) Resolve(h ResourceHandle) (*GpuResource, error) {
	rp.mutex.Lock()
	defer rp.mutex.Unlock()
	return rp.arena.Get(h)
}

// MarkForRetirement schedules the resource to be freed once the frame
// scheduler reports completed-epoch >= epoch. The effective epoch never
// decreases: re-marking with an earlier epoch keeps the later one.
func (rp *ResourcePool) MarkForRetirement(h ResourceHandle, epoch uint64) error {
	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	res, err := rp.arena.Get(h)
	if err != nil {
		return err
	}
	if !res.retired || epoch > res.retirementEpoch {
		res.retirementEpoch = max(res.retirementEpoch, epoch)
		res.retired = true
	}
	return nil
}

// Reclaim frees every resource whose retirement epoch is at or below
// completedEpoch. Must only be called after the scheduler has observed the
// fence covering that epoch: the fence observation is what establishes the
// happens-before between the GPU's last read and the free. Returns the
// number of resources released.
func (rp *ResourcePool) Reclaim(completedEpoch uint64) int {
	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	if completedEpoch < rp.completedEpoch {
		// The epoch counter never runs backwards; stale calls are no-ops.
		return 0
	}
	rp.completedEpoch = completedEpoch

	reclaimed := 0
	rp.arena.Each(func(h ResourceHandle, res *GpuResource) {
		if !res.retired || res.retirementEpoch > completedEpoch {
			return
		}
		freed, err := rp.arena.Remove(h)
		if err != nil {
			// Unreachable given Each only yields live entries.
			core.LogError("resource pool: reclaim of %s failed: %s", res.Kind, err.Error())
			return
		}
		rp.device.DestroyResource(freed.Kind, freed.Native, freed.SizeBytes)
		reclaimed++
	})

	if reclaimed > 0 {
		rp.reclaimedTotal += uint64(reclaimed)
		core.LogDebug("resource pool: reclaimed %d resources at epoch %d (%d live)", reclaimed, completedEpoch, rp.arena.Len())
	}
	return reclaimed
}

// CompletedEpoch reports the highest epoch reclamation has run for.
func (rp *ResourcePool) CompletedEpoch() uint64 {
	rp.mutex.Lock()
	defer rp.mutex.Unlock()
	return rp.completedEpoch
}

// LiveCount reports the number of tracked, unreclaimed resources.
func (rp *ResourcePool) LiveCount() int {
	rp.mutex.Lock()
	defer rp.mutex.Unlock()
	return rp.arena.Len()
}

// Destroy releases every remaining resource. The device must be idle;
// callers wait on the scheduler first.
func (rp *ResourcePool) Destroy() {
	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	remaining := 0
	rp.arena.Each(func(h ResourceHandle, res *GpuResource) {
		freed, err := rp.arena.Remove(h)
		if err != nil {
			return
		}
		rp.device.DestroyResource(freed.Kind, freed.Native, freed.SizeBytes)
		remaining++
	})
	if remaining > 0 {
		core.LogDebug("resource pool: destroyed with %d resources still tracked", remaining)
	}
}
