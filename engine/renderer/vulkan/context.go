package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/ferrum-engine/ferrum/engine/core"
)

type VulkanContext struct {
	// The framebuffer's current width.
	FramebufferWidth uint32
	// The framebuffer's current height.
	FramebufferHeight uint32

	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugMessenger vk.DebugReportCallback

	Device *VulkanDevice

	Swapchain *VulkanSwapchain

	// DescriptorPool backs all descriptor set allocations. Layouts are
	// registered by the pipeline layer and looked up by handle.
	DescriptorPool          vk.DescriptorPool
	descriptorLayouts       map[uint64]vk.DescriptorSetLayout
	defaultDescriptorLayout vk.DescriptorSetLayout

	Locks *VulkanLockPool
}

// RegisterDescriptorLayout records a layout created by the pipeline layer
// under its handle so descriptor set allocation can reference it.
func (vc *VulkanContext) RegisterDescriptorLayout(handle uint64, layout vk.DescriptorSetLayout) {
	if vc.descriptorLayouts == nil {
		vc.descriptorLayouts = make(map[uint64]vk.DescriptorSetLayout)
	}
	vc.descriptorLayouts[handle] = layout
}

// DescriptorLayout resolves a layout handle, falling back to the default
// layout for unregistered handles.
func (vc *VulkanContext) DescriptorLayout(handle uint64) vk.DescriptorSetLayout {
	if layout, ok := vc.descriptorLayouts[handle]; ok {
		return layout
	}
	return vc.defaultDescriptorLayout
}

func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(vc.Device.PhysicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}
