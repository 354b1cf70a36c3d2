package renderer

import (
	"time"

	"github.com/ferrum-engine/ferrum/engine/config"
	"github.com/ferrum-engine/ferrum/engine/renderer/metadata"
)

// fakeFence models a GPU fence whose signal the test controls. By default a
// wait on an unsignaled fence succeeds (the GPU "catches up" during the
// wait); with the backend hung it times out like a real stuck device.
type fakeFence struct {
	backend  *fakeBackend
	signaled bool
}

func (f *fakeFence) Wait(timeout time.Duration) error {
	if f.signaled {
		return nil
	}
	if f.backend.gpuHung {
		return metadata.ErrFenceTimeout
	}
	f.signaled = true
	return nil
}

func (f *fakeFence) Reset() error {
	f.signaled = false
	return nil
}

func (f *fakeFence) Signaled() bool { return f.signaled }
func (f *fakeFence) Destroy()       {}

type fakeSemaphore struct{ destroyed bool }

func (s *fakeSemaphore) Destroy() { s.destroyed = true }

type fakeCommandBuffer struct {
	begins int
	ends   int
	resets int
	open   bool
	freed  bool
}

func (cb *fakeCommandBuffer) Begin() error {
	cb.begins++
	cb.open = true
	return nil
}

func (cb *fakeCommandBuffer) End() error {
	cb.ends++
	cb.open = false
	return nil
}

func (cb *fakeCommandBuffer) Reset() error {
	cb.resets++
	return nil
}

// fakeBackend is a scripted device: per-call error queues let tests inject
// out-of-date, surface-lost, queue-full and allocation failures at exact
// frames, and every call is recorded for assertions.
type fakeBackend struct {
	surfaceExtent  metadata.Extent2D
	swapchainCount int
	swapchainAlive bool
	imageCount     uint32
	nextImage      uint32
	gpuHung        bool

	acquireErrs []error
	presentErrs []error
	submitErrs  []error
	allocErrs   []error

	submitted  []metadata.SubmitInfo
	presented  []uint32
	nextNative uint64
	destroyed  []uint64
	waitIdles  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		surfaceExtent: metadata.Extent2D{Width: 1280, Height: 720},
		imageCount:    3,
		nextNative:    1,
	}
}

func popErr(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (fb *fakeBackend) Initialize(appName string, appWidth, appHeight uint32) error {
	fb.surfaceExtent = metadata.Extent2D{Width: appWidth, Height: appHeight}
	return nil
}

func (fb *fakeBackend) Shutdown() error { return nil }

func (fb *fakeBackend) CreateBuffer(desc metadata.BufferDescriptor) (uint64, error) {
	if err := popErr(&fb.allocErrs); err != nil {
		return 0, err
	}
	native := fb.nextNative
	fb.nextNative++
	return native, nil
}

func (fb *fakeBackend) CreateImage(desc metadata.ImageDescriptor) (uint64, error) {
	if err := popErr(&fb.allocErrs); err != nil {
		return 0, err
	}
	native := fb.nextNative
	fb.nextNative++
	return native, nil
}

func (fb *fakeBackend) CreateDescriptorSet(desc metadata.DescriptorSetDescriptor) (uint64, error) {
	if err := popErr(&fb.allocErrs); err != nil {
		return 0, err
	}
	native := fb.nextNative
	fb.nextNative++
	return native, nil
}

func (fb *fakeBackend) DestroyResource(kind metadata.ResourceKind, native uint64) {
	fb.destroyed = append(fb.destroyed, native)
}

func (fb *fakeBackend) DeviceWaitIdle() error {
	fb.waitIdles++
	return nil
}

func (fb *fakeBackend) CreateFence(signaled bool) (metadata.Fence, error) {
	return &fakeFence{backend: fb, signaled: signaled}, nil
}

func (fb *fakeBackend) CreateSemaphore() (metadata.Semaphore, error) {
	return &fakeSemaphore{}, nil
}

func (fb *fakeBackend) AllocateCommandBuffer(queue metadata.QueueKind) (metadata.CommandBuffer, error) {
	return &fakeCommandBuffer{}, nil
}

func (fb *fakeBackend) FreeCommandBuffer(queue metadata.QueueKind, buffer metadata.CommandBuffer) {
	if cb, ok := buffer.(*fakeCommandBuffer); ok {
		cb.freed = true
	}
}

func (fb *fakeBackend) CreateSwapchain(extent metadata.Extent2D, preferred metadata.PresentMode) (metadata.SwapchainDetails, error) {
	fb.swapchainCount++
	fb.swapchainAlive = true
	fb.surfaceExtent = extent
	fb.nextImage = 0
	return metadata.SwapchainDetails{
		ImageCount:  fb.imageCount,
		Extent:      extent,
		Format:      metadata.ImageFormatB8G8R8A8Unorm,
		PresentMode: preferred,
	}, nil
}

func (fb *fakeBackend) DestroySwapchain() {
	fb.swapchainAlive = false
}

func (fb *fakeBackend) SurfaceExtent() (metadata.Extent2D, error) {
	return fb.surfaceExtent, nil
}

func (fb *fakeBackend) AcquireImage(timeout time.Duration, signal metadata.Semaphore) (uint32, error) {
	if err := popErr(&fb.acquireErrs); err != nil {
		return 0, err
	}
	index := fb.nextImage
	fb.nextImage = (fb.nextImage + 1) % fb.imageCount
	return index, nil
}

func (fb *fakeBackend) Present(imageIndex uint32, wait metadata.Semaphore) error {
	if err := popErr(&fb.presentErrs); err != nil {
		return err
	}
	fb.presented = append(fb.presented, imageIndex)
	return nil
}

func (fb *fakeBackend) SubmitQueue(info metadata.SubmitInfo) error {
	if err := popErr(&fb.submitErrs); err != nil {
		return err
	}
	fb.submitted = append(fb.submitted, info)
	return nil
}

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	// Tests should never sleep for real.
	cfg.Renderer.FenceTimeoutMS = 50
	cfg.Renderer.AcquireTimeoutMS = 50
	cfg.Submission.RetryBackoffMS = 1
	return cfg
}

type testRig struct {
	backend     *fakeBackend
	device      *DeviceContext
	pool        *ResourcePool
	swapchain   *SwapchainManager
	submissions *SubmissionQueue
	scheduler   *FrameScheduler
}

func newTestRig(cfg *config.Config) (*testRig, error) {
	fb := newFakeBackend()
	device := NewDeviceContext(fb, cfg.Allocator)
	pool := NewResourcePool(device)
	submissions := NewSubmissionQueue(fb, cfg.Submission)

	swapchain, err := NewSwapchainManager(fb, metadata.Extent2D{Width: 1280, Height: 720}, metadata.ParsePresentMode(cfg.Renderer.PresentMode))
	if err != nil {
		return nil, err
	}

	scheduler, err := NewFrameScheduler(fb, pool, swapchain, submissions, cfg)
	if err != nil {
		return nil, err
	}

	return &testRig{
		backend:     fb,
		device:      device,
		pool:        pool,
		swapchain:   swapchain,
		submissions: submissions,
		scheduler:   scheduler,
	}, nil
}

// drawFrame runs a full begin/end cycle on the rig's scheduler.
func (tr *testRig) drawFrame() error {
	rc, err := tr.scheduler.BeginFrame()
	if err != nil {
		return err
	}
	return tr.scheduler.EndFrame(rc)
}
