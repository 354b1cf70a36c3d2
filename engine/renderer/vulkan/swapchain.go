package vulkan

import (
	"math"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/ferrum-engine/ferrum/engine/containers"
	"github.com/ferrum-engine/ferrum/engine/core"
	"github.com/ferrum-engine/ferrum/engine/renderer/metadata"
)

type VulkanSwapchain struct {
	ImageFormat vk.SurfaceFormat
	PresentMode vk.PresentMode
	Handle      vk.Swapchain
	Extent      vk.Extent2D
	ImageCount  uint32
	Images      []vk.Image
	Views       []vk.ImageView
}

type VulkanSwapchainSupportInfo struct {
	Capabilities     vk.SurfaceCapabilities
	FormatCount      uint32
	Formats          []vk.SurfaceFormat
	PresentModeCount uint32
	PresentModes     []vk.PresentMode
}

func SwapchainCreate(context *VulkanContext, width, height uint32, preferred metadata.PresentMode) (*VulkanSwapchain, error) {
	return createSwapchain(context, width, height, preferred, nil)
}

// SwapchainRecreate destroys the previous image set and builds a new one for
// the current surface, handing the old handle to the driver for reuse.
func (vs *VulkanSwapchain) SwapchainRecreate(context *VulkanContext, width, height uint32, preferred metadata.PresentMode) (*VulkanSwapchain, error) {
	old := vs.Handle
	vs.destroySwapchain(context, false)
	return createSwapchain(context, width, height, preferred, old)
}

func (vs *VulkanSwapchain) SwapchainDestroy(context *VulkanContext) {
	vs.destroySwapchain(context, true)
}

// SwapchainAcquireNextImageIndex hands out the next presentable image index,
// arranging for the semaphore to signal once the image is available.
func (vs *VulkanSwapchain) SwapchainAcquireNextImageIndex(context *VulkanContext, timeoutNS uint64, imageAvailableSemaphore vk.Semaphore, fence vk.Fence) (uint32, error) {
	var imageIndex uint32
	result := vk.AcquireNextImage(context.Device.LogicalDevice, vs.Handle, timeoutNS, imageAvailableSemaphore, fence, &imageIndex)

	if result == vk.ErrorOutOfDate {
		return 0, metadata.ErrOutOfDate
	}
	if result != vk.Success && result != vk.Suboptimal {
		return 0, VulkanResultError(result)
	}
	// Suboptimal still acquired a usable image; present will report the
	// mismatch when it matters.
	return imageIndex, nil
}

// SwapchainPresent returns the image to the swapchain for presentation,
// gated on the render-complete semaphore.
func (vs *VulkanSwapchain) SwapchainPresent(context *VulkanContext, presentQueue vk.Queue, renderCompleteSemaphore vk.Semaphore, presentImageIndex uint32) error {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{renderCompleteSemaphore},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{vs.Handle},
		PImageIndices:      []uint32{presentImageIndex},
		PResults:           nil,
	}

	var result vk.Result
	err := context.Locks.SafeQueueCall(uint32(context.Device.PresentQueueIndex), func() error {
		result = vk.QueuePresent(presentQueue, &presentInfo)
		return nil
	})
	if err != nil {
		return err
	}

	// A suboptimal present still showed the image, but the swapchain no
	// longer matches the surface; report out-of-date so the caller recreates.
	if result == vk.ErrorOutOfDate || result == vk.Suboptimal {
		return metadata.ErrOutOfDate
	}
	if result != vk.Success {
		return VulkanResultError(result)
	}
	return nil
}

func createSwapchain(context *VulkanContext, width, height uint32, preferred metadata.PresentMode, old vk.Swapchain) (*VulkanSwapchain, error) {
	swapchain := &VulkanSwapchain{}

	// Requery support; capabilities change with the surface.
	if err := DeviceQuerySwapchainSupport(context.Device.PhysicalDevice, context.Surface, &context.Device.SwapchainSupport); err != nil {
		return nil, err
	}

	swapchainExtent := vk.Extent2D{
		Width:  width,
		Height: height,
	}

	// Choose a swap surface format.
	found := false
	for i := 0; i < int(context.Device.SwapchainSupport.FormatCount); i++ {
		format := context.Device.SwapchainSupport.Formats[i]
		// Preferred formats
		if format.Format == vk.FormatB8g8r8a8Unorm &&
			format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			swapchain.ImageFormat = format
			found = true
		}
	}
	if !found {
		swapchain.ImageFormat = context.Device.SwapchainSupport.Formats[0]
	}

	swapchain.PresentMode = choosePresentMode(context.Device.SwapchainSupport.PresentModes, preferred)

	// Swapchain extent
	context.Device.SwapchainSupport.Capabilities.CurrentExtent.Deref()
	if context.Device.SwapchainSupport.Capabilities.CurrentExtent.Width != math.MaxUint32 {
		swapchainExtent = context.Device.SwapchainSupport.Capabilities.CurrentExtent
	}

	// Clamp to the value allowed by the GPU.
	minExtent := context.Device.SwapchainSupport.Capabilities.MinImageExtent
	maxExtent := context.Device.SwapchainSupport.Capabilities.MaxImageExtent
	minExtent.Deref()
	maxExtent.Deref()
	swapchainExtent.Width = containers.Clamp(swapchainExtent.Width, minExtent.Width, maxExtent.Width)
	swapchainExtent.Height = containers.Clamp(swapchainExtent.Height, minExtent.Height, maxExtent.Height)
	swapchain.Extent = swapchainExtent

	imageCount := context.Device.SwapchainSupport.Capabilities.MinImageCount + 1
	if context.Device.SwapchainSupport.Capabilities.MaxImageCount > 0 && imageCount > context.Device.SwapchainSupport.Capabilities.MaxImageCount {
		imageCount = context.Device.SwapchainSupport.Capabilities.MaxImageCount
	}

	// Swapchain create info
	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      swapchain.ImageFormat.Format,
		ImageColorSpace:  swapchain.ImageFormat.ColorSpace,
		ImageExtent:      swapchainExtent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
	}

	// Setup the queue family indices
	if context.Device.GraphicsQueueIndex != context.Device.PresentQueueIndex {
		queueFamilyIndices := []uint32{
			uint32(context.Device.GraphicsQueueIndex),
			uint32(context.Device.PresentQueueIndex),
		}
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = queueFamilyIndices
	} else {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeExclusive
		swapchainCreateInfo.QueueFamilyIndexCount = 0
		swapchainCreateInfo.PQueueFamilyIndices = nil
	}

	swapchainCreateInfo.PreTransform = context.Device.SwapchainSupport.Capabilities.CurrentTransform
	swapchainCreateInfo.CompositeAlpha = chooseCompositeAlpha(context.Device.SwapchainSupport.Capabilities.SupportedCompositeAlpha)
	swapchainCreateInfo.PresentMode = swapchain.PresentMode
	swapchainCreateInfo.Clipped = vk.True
	swapchainCreateInfo.OldSwapchain = old

	var swapchainHandle vk.Swapchain
	if res := vk.CreateSwapchain(context.Device.LogicalDevice, &swapchainCreateInfo, context.Allocator, &swapchainHandle); res != vk.Success {
		err := errors.Newf("failed to create swapchain: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, VulkanResultError(res)
	}
	swapchain.Handle = swapchainHandle

	if old != nil {
		vk.DestroySwapchain(context.Device.LogicalDevice, old, context.Allocator)
	}

	// Images
	swapchain.ImageCount = 0
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, swapchain.Handle, &swapchain.ImageCount, nil); res != vk.Success {
		err := errors.Newf("failed to get swapchain images: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}
	swapchain.Images = make([]vk.Image, swapchain.ImageCount)
	swapchain.Views = make([]vk.ImageView, swapchain.ImageCount)
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, swapchain.Handle, &swapchain.ImageCount, swapchain.Images); res != vk.Success {
		err := errors.Newf("failed to get swapchain images: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}

	// Views
	for i := 0; i < int(swapchain.ImageCount); i++ {
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    swapchain.Images[i],
			ViewType: vk.ImageViewType2d,
			Format:   swapchain.ImageFormat.Format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		}

		if res := vk.CreateImageView(context.Device.LogicalDevice, &viewInfo, context.Allocator, &swapchain.Views[i]); res != vk.Success {
			err := errors.Newf("failed to create image view: %s", VulkanResultString(res, true))
			core.LogError(err.Error())
			return nil, err
		}
	}

	core.LogInfo("Swapchain created: %d images, %dx%d, present mode %d.",
		swapchain.ImageCount, swapchainExtent.Width, swapchainExtent.Height, swapchain.PresentMode)

	return swapchain, nil
}

// choosePresentMode picks the configured mode when supported, otherwise
// walks the fallback chain Mailbox, FIFO, Immediate. FIFO is always
// available per the Vulkan spec, so the chain cannot come up empty.
func choosePresentMode(available []vk.PresentMode, preferred metadata.PresentMode) vk.PresentMode {
	supported := func(m vk.PresentMode) bool {
		for _, mode := range available {
			if mode == m {
				return true
			}
		}
		return false
	}

	want := vk.PresentModeFifo
	switch preferred {
	case metadata.PresentModeMailbox:
		want = vk.PresentModeMailbox
	case metadata.PresentModeImmediate:
		want = vk.PresentModeImmediate
	}
	if supported(want) {
		return want
	}

	for _, m := range []vk.PresentMode{vk.PresentModeMailbox, vk.PresentModeFifo, vk.PresentModeImmediate} {
		if supported(m) {
			return m
		}
	}
	return vk.PresentModeFifo
}

func chooseCompositeAlpha(supported vk.CompositeAlphaFlags) vk.CompositeAlphaFlagBits {
	if vk.CompositeAlphaFlagBits(supported)&vk.CompositeAlphaInheritBit > 0 {
		return vk.CompositeAlphaInheritBit
	}
	return vk.CompositeAlphaOpaqueBit
}

func (vs *VulkanSwapchain) destroySwapchain(context *VulkanContext, destroyHandle bool) {
	vk.DeviceWaitIdle(context.Device.LogicalDevice)

	// Only destroy the views, not the images, since those are owned by the
	// swapchain and are thus destroyed when it is.
	for i := 0; i < int(vs.ImageCount); i++ {
		vk.DestroyImageView(context.Device.LogicalDevice, vs.Views[i], context.Allocator)
	}
	vs.Views = nil
	vs.Images = nil

	if destroyHandle && vs.Handle != nil {
		vk.DestroySwapchain(context.Device.LogicalDevice, vs.Handle, context.Allocator)
		vs.Handle = nil
	}
}

// ToImageFormat maps the surface format back onto the renderer's format enum
// for reporting.
func (vs *VulkanSwapchain) ToImageFormat() metadata.ImageFormat {
	if vs.ImageFormat.Format == vk.FormatR8g8b8a8Unorm {
		return metadata.ImageFormatR8G8B8A8Unorm
	}
	return metadata.ImageFormatB8G8R8A8Unorm
}

// ToPresentMode maps the active vk present mode onto the renderer's enum.
func (vs *VulkanSwapchain) ToPresentMode() metadata.PresentMode {
	switch vs.PresentMode {
	case vk.PresentModeMailbox:
		return metadata.PresentModeMailbox
	case vk.PresentModeImmediate:
		return metadata.PresentModeImmediate
	}
	return metadata.PresentModeFIFO
}
