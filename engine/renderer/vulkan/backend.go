package vulkan

import (
	"runtime"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/ferrum-engine/ferrum/engine/core"
	"github.com/ferrum-engine/ferrum/engine/platform"
	"github.com/ferrum-engine/ferrum/engine/renderer/metadata"
)

const descriptorPoolMaxSets = 1024

// VulkanBackend implements the device abstraction on top of Vulkan via GLFW
// surfaces. All vkQueue access is serialized through the context lock pool.
type VulkanBackend struct {
	platform  *platform.Platform
	context   *VulkanContext
	resources *VulkanResourceTable

	debug bool
}

func New(p *platform.Platform) *VulkanBackend {
	return &VulkanBackend{
		platform: p,
		context: &VulkanContext{
			FramebufferWidth:  0,
			FramebufferHeight: 0,
			Allocator:         nil,
			Locks:             NewVulkanLockPool(),
		},
		resources: NewVulkanResourceTable(),
		debug:     true,
	}
}

func (vb *VulkanBackend) Initialize(appName string, appWidth, appHeight uint32) error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		err := errors.New("GetInstanceProcAddress is nil")
		core.LogFatal(err.Error())
		return err
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		core.LogFatal("failed to initialize vk: %s", err)
		return err
	}

	// TODO: custom allocator.
	vb.context.Allocator = nil
	vb.context.FramebufferWidth = appWidth
	vb.context.FramebufferHeight = appHeight

	// Setup Vulkan instance.
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Ferrum Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// Obtain a list of required extensions
	requiredExtensions := []string{"VK_KHR_surface"} // Generic surface extension
	requiredExtensions = append(requiredExtensions, vb.platform.GetRequiredExtensionNames()...)

	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
	}

	if vb.debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugUtilsExtensionName, vk.ExtDebugReportExtensionName)
		core.LogInfo("Required extensions:")
		for i := 0; i < len(requiredExtensions); i++ {
			core.LogInfo(requiredExtensions[i])
		}
	}

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	// Validation layers. Only enabled on non-release builds.
	requiredValidationLayerNames := []string{}
	if vb.debug {
		core.LogInfo("Validation layers enabled. Enumerating...")

		requiredValidationLayerNames = []string{"VK_LAYER_KHRONOS_validation"}

		if runtime.GOOS == "darwin" {
			createInfo.Flags |= 1
		}

		// Obtain a list of available validation layers
		var availableLayerCount uint32
		if res := vk.EnumerateInstanceLayerProperties(&availableLayerCount, nil); res != vk.Success {
			return VulkanResultError(res)
		}

		availableLayers := make([]vk.LayerProperties, availableLayerCount)
		if res := vk.EnumerateInstanceLayerProperties(&availableLayerCount, availableLayers); res != vk.Success {
			return VulkanResultError(res)
		}

		// Verify all required layers are available.
		for i := range requiredValidationLayerNames {
			found := false
			for j := range availableLayers {
				availableLayers[j].Deref()
				end := FindFirstZeroInByteArray(availableLayers[j].LayerName[:])
				if requiredValidationLayerNames[i] == vk.ToString(availableLayers[j].LayerName[:end+1]) {
					found = true
					break
				}
			}

			if !found {
				err := errors.Newf("required validation layer is missing: %s", requiredValidationLayerNames[i])
				core.LogFatal(err.Error())
				return err
			}
		}
		core.LogInfo("All required validation layers are present.")
	}

	createInfo.EnabledLayerCount = uint32(len(requiredValidationLayerNames))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(requiredValidationLayerNames)

	if res := vk.CreateInstance(&createInfo, vb.context.Allocator, &vb.context.Instance); res != vk.Success {
		err := errors.Newf("failed in creating the Vulkan Instance with error `%s`", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	if err := vk.InitInstance(vb.context.Instance); err != nil {
		core.LogError(err.Error())
		return err
	}

	core.LogInfo("Vulkan Instance created.")

	// Debugger
	if vb.debug {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit),
			PfnCallback: dbgCallbackFunc,
			PNext:       nil,
		}

		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(vb.context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogError("vk.CreateDebugReportCallback failed with %s", err)
			return err
		}
		vb.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}

	// Surface
	core.LogDebug("Creating Vulkan surface...")
	surface, err := vb.platform.Window.CreateWindowSurface(vb.context.Instance, nil)
	if err != nil {
		core.LogError("Vulkan surface creation failed: %s", err)
		return errors.Wrapf(metadata.ErrSurfaceLost, "surface creation: %v", err)
	}
	vb.context.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")

	// Device creation
	vb.context.Device = &VulkanDevice{}
	if err := DeviceCreate(vb.context); err != nil {
		core.LogError("Failed to create device!")
		return err
	}

	if err := vb.createDescriptorPool(); err != nil {
		return err
	}

	core.LogInfo("Vulkan backend initialized successfully.")
	return nil
}

func (vb *VulkanBackend) createDescriptorPool() error {
	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: descriptorPoolMaxSets},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: descriptorPoolMaxSets},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: descriptorPoolMaxSets},
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       descriptorPoolMaxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if res := vk.CreateDescriptorPool(vb.context.Device.LogicalDevice, &poolInfo, vb.context.Allocator, &vb.context.DescriptorPool); res != vk.Success {
		return VulkanResultError(res)
	}

	// Default layout: a single uniform buffer binding. The pipeline layer
	// registers richer layouts under their own handles.
	layoutBinding := vk.DescriptorSetLayoutBinding{
		Binding:         0,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		DescriptorCount: 1,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit),
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: 1,
		PBindings:    []vk.DescriptorSetLayoutBinding{layoutBinding},
	}
	if res := vk.CreateDescriptorSetLayout(vb.context.Device.LogicalDevice, &layoutInfo, vb.context.Allocator, &vb.context.defaultDescriptorLayout); res != vk.Success {
		return VulkanResultError(res)
	}
	return nil
}

func (vb *VulkanBackend) Shutdown() error {
	if vb.context.Device == nil || vb.context.Device.LogicalDevice == nil {
		return nil
	}

	vk.DeviceWaitIdle(vb.context.Device.LogicalDevice)

	// Destroy in the opposite order of creation.
	if vb.context.Swapchain != nil {
		vb.context.Swapchain.SwapchainDestroy(vb.context)
		vb.context.Swapchain = nil
	}

	if vb.context.defaultDescriptorLayout != nil {
		vk.DestroyDescriptorSetLayout(vb.context.Device.LogicalDevice, vb.context.defaultDescriptorLayout, vb.context.Allocator)
		vb.context.defaultDescriptorLayout = nil
	}
	if vb.context.DescriptorPool != nil {
		vk.DestroyDescriptorPool(vb.context.Device.LogicalDevice, vb.context.DescriptorPool, vb.context.Allocator)
		vb.context.DescriptorPool = nil
	}

	core.LogDebug("Destroying Vulkan device...")
	DeviceDestroy(vb.context)

	core.LogDebug("Destroying Vulkan surface...")
	if vb.context.Surface != vk.NullSurface {
		vk.DestroySurface(vb.context.Instance, vb.context.Surface, vb.context.Allocator)
		vb.context.Surface = vk.NullSurface
	}

	if vb.debug && vb.context.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(vb.context.Instance, vb.context.debugMessenger, vb.context.Allocator)
	}

	core.LogDebug("Destroying Vulkan instance...")
	vk.DestroyInstance(vb.context.Instance, vb.context.Allocator)
	vb.context.Instance = nil

	return nil
}

func (vb *VulkanBackend) CreateBuffer(desc metadata.BufferDescriptor) (uint64, error) {
	return BufferCreate(vb.context, vb.resources, desc)
}

func (vb *VulkanBackend) CreateImage(desc metadata.ImageDescriptor) (uint64, error) {
	return ImageCreate(vb.context, vb.resources, desc)
}

func (vb *VulkanBackend) CreateDescriptorSet(desc metadata.DescriptorSetDescriptor) (uint64, error) {
	return DescriptorSetCreate(vb.context, vb.resources, desc)
}

func (vb *VulkanBackend) DestroyResource(kind metadata.ResourceKind, native uint64) {
	ResourceDestroy(vb.context, vb.resources, kind, native)
}

func (vb *VulkanBackend) DeviceWaitIdle() error {
	if res := vk.DeviceWaitIdle(vb.context.Device.LogicalDevice); res != vk.Success {
		return VulkanResultError(res)
	}
	return nil
}

func (vb *VulkanBackend) CreateFence(signaled bool) (metadata.Fence, error) {
	return NewFence(vb.context, signaled)
}

func (vb *VulkanBackend) CreateSemaphore() (metadata.Semaphore, error) {
	return NewSemaphore(vb.context)
}

func (vb *VulkanBackend) AllocateCommandBuffer(queue metadata.QueueKind) (metadata.CommandBuffer, error) {
	return NewVulkanCommandBuffer(vb.context, vb.context.Device.CommandPool(queue))
}

func (vb *VulkanBackend) FreeCommandBuffer(queue metadata.QueueKind, buffer metadata.CommandBuffer) {
	if cb, ok := buffer.(*VulkanCommandBuffer); ok {
		cb.Free()
	}
}

func (vb *VulkanBackend) CreateSwapchain(extent metadata.Extent2D, preferred metadata.PresentMode) (metadata.SwapchainDetails, error) {
	vb.context.FramebufferWidth = extent.Width
	vb.context.FramebufferHeight = extent.Height

	var sc *VulkanSwapchain
	var err error
	if vb.context.Swapchain != nil {
		sc, err = vb.context.Swapchain.SwapchainRecreate(vb.context, extent.Width, extent.Height, preferred)
	} else {
		sc, err = SwapchainCreate(vb.context, extent.Width, extent.Height, preferred)
	}
	if err != nil {
		return metadata.SwapchainDetails{}, err
	}
	vb.context.Swapchain = sc

	return metadata.SwapchainDetails{
		ImageCount:  sc.ImageCount,
		Extent:      metadata.Extent2D{Width: sc.Extent.Width, Height: sc.Extent.Height},
		Format:      sc.ToImageFormat(),
		PresentMode: sc.ToPresentMode(),
	}, nil
}

func (vb *VulkanBackend) DestroySwapchain() {
	if vb.context.Swapchain != nil {
		vb.context.Swapchain.SwapchainDestroy(vb.context)
		vb.context.Swapchain = nil
	}
}

func (vb *VulkanBackend) SurfaceExtent() (metadata.Extent2D, error) {
	var capabilities vk.SurfaceCapabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(vb.context.Device.PhysicalDevice, vb.context.Surface, &capabilities); res != vk.Success {
		return metadata.Extent2D{}, VulkanResultError(res)
	}
	capabilities.Deref()
	capabilities.CurrentExtent.Deref()
	return metadata.Extent2D{
		Width:  capabilities.CurrentExtent.Width,
		Height: capabilities.CurrentExtent.Height,
	}, nil
}

func (vb *VulkanBackend) AcquireImage(timeout time.Duration, signal metadata.Semaphore) (uint32, error) {
	if vb.context.Swapchain == nil {
		return 0, metadata.ErrOutOfDate
	}
	sem, ok := signal.(*VulkanSemaphore)
	if !ok {
		return 0, errors.New("acquire signal is not a vulkan semaphore")
	}
	return vb.context.Swapchain.SwapchainAcquireNextImageIndex(vb.context, uint64(timeout.Nanoseconds()), sem.Handle, nil)
}

func (vb *VulkanBackend) Present(imageIndex uint32, wait metadata.Semaphore) error {
	if vb.context.Swapchain == nil {
		return metadata.ErrOutOfDate
	}
	sem, ok := wait.(*VulkanSemaphore)
	if !ok {
		return errors.New("present wait is not a vulkan semaphore")
	}
	return vb.context.Swapchain.SwapchainPresent(vb.context, vb.context.Device.PresentQueue, sem.Handle, imageIndex)
}

func (vb *VulkanBackend) SubmitQueue(info metadata.SubmitInfo) error {
	commandBuffers := make([]vk.CommandBuffer, 0, len(info.CommandBuffers))
	vcbs := make([]*VulkanCommandBuffer, 0, len(info.CommandBuffers))
	for _, cb := range info.CommandBuffers {
		vcb, ok := cb.(*VulkanCommandBuffer)
		if !ok {
			return errors.New("command buffer is not a vulkan command buffer")
		}
		commandBuffers = append(commandBuffers, vcb.Handle)
		vcbs = append(vcbs, vcb)
	}

	waitSemaphores := make([]vk.Semaphore, 0, len(info.WaitSemaphores))
	waitStages := make([]vk.PipelineStageFlags, 0, len(info.WaitSemaphores))
	for _, s := range info.WaitSemaphores {
		sem, ok := s.(*VulkanSemaphore)
		if !ok {
			return errors.New("wait semaphore is not a vulkan semaphore")
		}
		waitSemaphores = append(waitSemaphores, sem.Handle)
		// Color attachment output waits on image availability; writes before
		// that stage are unaffected.
		waitStages = append(waitStages, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit))
	}

	signalSemaphores := make([]vk.Semaphore, 0, len(info.SignalSemaphores))
	for _, s := range info.SignalSemaphores {
		sem, ok := s.(*VulkanSemaphore)
		if !ok {
			return errors.New("signal semaphore is not a vulkan semaphore")
		}
		signalSemaphores = append(signalSemaphores, sem.Handle)
	}

	var fence vk.Fence
	if info.SignalFence != nil {
		vf, ok := info.SignalFence.(*VulkanFence)
		if !ok {
			return errors.New("signal fence is not a vulkan fence")
		}
		fence = vf.Handle
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		CommandBufferCount:   uint32(len(commandBuffers)),
		PCommandBuffers:      commandBuffers,
		WaitSemaphoreCount:   uint32(len(waitSemaphores)),
		PWaitSemaphores:      waitSemaphores,
		PWaitDstStageMask:    waitStages,
		SignalSemaphoreCount: uint32(len(signalSemaphores)),
		PSignalSemaphores:    signalSemaphores,
	}

	queue := vb.context.Device.Queue(info.Queue)
	familyIndex := vb.context.Device.QueueFamilyIndex(info.Queue)

	var result vk.Result
	if err := vb.context.Locks.SafeQueueCall(familyIndex, func() error {
		result = vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, fence)
		return nil
	}); err != nil {
		return err
	}
	if result != vk.Success {
		return VulkanResultError(result)
	}

	for _, vcb := range vcbs {
		vcb.UpdateSubmitted()
	}
	return nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportInformationBit) != 0:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		core.LogInfo("DEBUG: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
