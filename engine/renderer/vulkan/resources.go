package vulkan

import (
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/ferrum-engine/ferrum/engine/core"
	"github.com/ferrum-engine/ferrum/engine/renderer/metadata"
)

// resourceEntry holds the vk handles behind one native resource id. The
// frontend only ever sees the id; handles never cross the package boundary.
type resourceEntry struct {
	kind metadata.ResourceKind

	buffer        vk.Buffer
	image         vk.Image
	view          vk.ImageView
	memory        vk.DeviceMemory
	descriptorSet vk.DescriptorSet
}

// VulkanResourceTable maps native resource ids onto their vk handles.
type VulkanResourceTable struct {
	mu      sync.Mutex
	next    uint64
	entries map[uint64]*resourceEntry
}

func NewVulkanResourceTable() *VulkanResourceTable {
	return &VulkanResourceTable{
		next:    1,
		entries: make(map[uint64]*resourceEntry),
	}
}

func (t *VulkanResourceTable) insert(e *resourceEntry) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	t.entries[id] = e
	return id
}

func (t *VulkanResourceTable) remove(id uint64) *resourceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[id]
	delete(t.entries, id)
	return e
}

func bufferUsageToVk(usage metadata.BufferUsageFlags) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if usage&metadata.BufferUsageVertex != 0 {
		flags |= vk.BufferUsageVertexBufferBit
	}
	if usage&metadata.BufferUsageIndex != 0 {
		flags |= vk.BufferUsageIndexBufferBit
	}
	if usage&metadata.BufferUsageUniform != 0 {
		flags |= vk.BufferUsageUniformBufferBit
	}
	if usage&metadata.BufferUsageStorage != 0 {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if usage&metadata.BufferUsageTransferSrc != 0 {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if usage&metadata.BufferUsageTransferDst != 0 {
		flags |= vk.BufferUsageTransferDstBit
	}
	return vk.BufferUsageFlags(flags)
}

func imageUsageToVk(usage metadata.ImageUsageFlags) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	if usage&metadata.ImageUsageSampled != 0 {
		flags |= vk.ImageUsageSampledBit
	}
	if usage&metadata.ImageUsageStorage != 0 {
		flags |= vk.ImageUsageStorageBit
	}
	if usage&metadata.ImageUsageColorAttachment != 0 {
		flags |= vk.ImageUsageColorAttachmentBit
	}
	if usage&metadata.ImageUsageDepthStencilAttachment != 0 {
		flags |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if usage&metadata.ImageUsageTransferSrc != 0 {
		flags |= vk.ImageUsageTransferSrcBit
	}
	if usage&metadata.ImageUsageTransferDst != 0 {
		flags |= vk.ImageUsageTransferDstBit
	}
	return vk.ImageUsageFlags(flags)
}

func imageFormatToVk(format metadata.ImageFormat) vk.Format {
	switch format {
	case metadata.ImageFormatR8G8B8A8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case metadata.ImageFormatD32Sfloat:
		return vk.FormatD32Sfloat
	case metadata.ImageFormatD24UnormS8Uint:
		return vk.FormatD24UnormS8Uint
	}
	return vk.FormatB8g8r8a8Unorm
}

func imageAspect(format metadata.ImageFormat) vk.ImageAspectFlags {
	switch format {
	case metadata.ImageFormatD32Sfloat:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	case metadata.ImageFormatD24UnormS8Uint:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

// BufferCreate allocates a device buffer with bound memory and registers it
// in the table, returning the native id.
func BufferCreate(context *VulkanContext, table *VulkanResourceTable, desc metadata.BufferDescriptor) (uint64, error) {
	var buffer vk.Buffer
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.SizeBytes),
		Usage:       bufferUsageToVk(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	if res := vk.CreateBuffer(context.Device.LogicalDevice, &createInfo, context.Allocator, &buffer); res != vk.Success {
		return 0, VulkanResultError(res)
	}

	// Ask device about its memory requirements.
	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, buffer, &memReqs)
	memReqs.Deref()

	memProps := uint32(vk.MemoryPropertyDeviceLocalBit)
	if desc.HostVisible {
		memProps = uint32(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}

	memory, err := allocateMemory(context, memReqs, memProps)
	if err != nil {
		vk.DestroyBuffer(context.Device.LogicalDevice, buffer, context.Allocator)
		return 0, err
	}

	if res := vk.BindBufferMemory(context.Device.LogicalDevice, buffer, memory, 0); res != vk.Success {
		vk.FreeMemory(context.Device.LogicalDevice, memory, context.Allocator)
		vk.DestroyBuffer(context.Device.LogicalDevice, buffer, context.Allocator)
		return 0, VulkanResultError(res)
	}

	return table.insert(&resourceEntry{
		kind:   metadata.ResourceBuffer,
		buffer: buffer,
		memory: memory,
	}), nil
}

// ImageCreate allocates a device image with bound memory and a default view,
// registering it in the table.
func ImageCreate(context *VulkanContext, table *VulkanResourceTable, desc metadata.ImageDescriptor) (uint64, error) {
	layers := desc.Layers
	if layers == 0 {
		layers = 1
	}
	mips := desc.Mips
	if mips == 0 {
		mips = 1
	}

	var image vk.Image
	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     mips,
		ArrayLayers:   layers,
		Format:        imageFormatToVk(desc.Format),
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         imageUsageToVk(desc.Usage),
		Samples:       vk.SampleCount1Bit,
		SharingMode:   vk.SharingModeExclusive,
	}
	if res := vk.CreateImage(context.Device.LogicalDevice, &createInfo, context.Allocator, &image); res != vk.Success {
		return 0, VulkanResultError(res)
	}

	var memReqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(context.Device.LogicalDevice, image, &memReqs)
	memReqs.Deref()

	memory, err := allocateMemory(context, memReqs, uint32(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		vk.DestroyImage(context.Device.LogicalDevice, image, context.Allocator)
		return 0, err
	}

	if res := vk.BindImageMemory(context.Device.LogicalDevice, image, memory, 0); res != vk.Success {
		vk.FreeMemory(context.Device.LogicalDevice, memory, context.Allocator)
		vk.DestroyImage(context.Device.LogicalDevice, image, context.Allocator)
		return 0, VulkanResultError(res)
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   createInfo.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     imageAspect(desc.Format),
			BaseMipLevel:   0,
			LevelCount:     mips,
			BaseArrayLayer: 0,
			LayerCount:     layers,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(context.Device.LogicalDevice, &viewInfo, context.Allocator, &view); res != vk.Success {
		vk.FreeMemory(context.Device.LogicalDevice, memory, context.Allocator)
		vk.DestroyImage(context.Device.LogicalDevice, image, context.Allocator)
		return 0, VulkanResultError(res)
	}

	return table.insert(&resourceEntry{
		kind:   metadata.ResourceImage,
		image:  image,
		view:   view,
		memory: memory,
	}), nil
}

// DescriptorSetCreate allocates a descriptor set from the shared pool. The
// layout handle indexes the layout table registered by the pipeline layer; an
// unknown handle falls back to the default layout.
func DescriptorSetCreate(context *VulkanContext, table *VulkanResourceTable, desc metadata.DescriptorSetDescriptor) (uint64, error) {
	layout := context.DescriptorLayout(desc.LayoutHandle)

	var dset vk.DescriptorSet
	if res := vk.AllocateDescriptorSets(context.Device.LogicalDevice, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     context.DescriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}, &dset); res != vk.Success {
		return 0, VulkanResultError(res)
	}

	return table.insert(&resourceEntry{
		kind:          metadata.ResourceDescriptorSet,
		descriptorSet: dset,
	}), nil
}

// ResourceDestroy releases the vk handles behind a native id. Unknown ids
// are ignored; the pool has already validated the handle.
func ResourceDestroy(context *VulkanContext, table *VulkanResourceTable, kind metadata.ResourceKind, native uint64) {
	e := table.remove(native)
	if e == nil {
		core.LogWarn("destroy of unknown %s resource %d", kind, native)
		return
	}

	switch e.kind {
	case metadata.ResourceBuffer:
		vk.DestroyBuffer(context.Device.LogicalDevice, e.buffer, context.Allocator)
		vk.FreeMemory(context.Device.LogicalDevice, e.memory, context.Allocator)
	case metadata.ResourceImage:
		vk.DestroyImageView(context.Device.LogicalDevice, e.view, context.Allocator)
		vk.DestroyImage(context.Device.LogicalDevice, e.image, context.Allocator)
		vk.FreeMemory(context.Device.LogicalDevice, e.memory, context.Allocator)
	case metadata.ResourceDescriptorSet:
		vk.FreeDescriptorSets(context.Device.LogicalDevice, context.DescriptorPool, 1, &e.descriptorSet)
	}
}

func allocateMemory(context *VulkanContext, memReqs vk.MemoryRequirements, propertyFlags uint32) (vk.DeviceMemory, error) {
	memoryIndex := context.FindMemoryIndex(memReqs.MemoryTypeBits, propertyFlags)
	if memoryIndex < 0 {
		return nil, errors.Wrap(metadata.ErrOutOfDeviceMemory, "no suitable memory type")
	}

	var memory vk.DeviceMemory
	res := vk.AllocateMemory(context.Device.LogicalDevice, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}, context.Allocator, &memory)
	if res != vk.Success {
		return nil, VulkanResultError(res)
	}
	return memory, nil
}
