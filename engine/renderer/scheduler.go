package renderer

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/ferrum-engine/ferrum/engine/config"
	"github.com/ferrum-engine/ferrum/engine/core"
	"github.com/ferrum-engine/ferrum/engine/renderer/metadata"
)

// SlotState is the lifecycle of one frame slot, modeled explicitly so that
// recording into an in-flight slot is checkable instead of implicit.
type SlotState uint8

const (
	// SlotIdle means the slot's fence has been observed signaled and the
	// slot can be reused.
	SlotIdle SlotState = iota
	// SlotRecording means exactly one caller owns the slot's command
	// buffer between BeginFrame and EndFrame.
	SlotRecording
	// SlotInFlight means the slot's work is submitted and its fence has
	// not been observed signaled yet.
	SlotInFlight
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotRecording:
		return "recording"
	case SlotInFlight:
		return "in_flight"
	}
	return "unknown"
}

// frameSlot is one entry of the fixed ring: a command recording context
// plus the synchronization primitives tied to it. The ring size never
// changes after construction; only the swapchain image count may.
type frameSlot struct {
	state            SlotState
	commandBuffer    metadata.CommandBuffer
	fence            metadata.Fence
	acquireSemaphore metadata.Semaphore
	presentSemaphore metadata.Semaphore

	// epoch is the frame index of the slot's last submission.
	epoch  uint64
	record *SubmissionRecord
}

// RecordingContext is the caller-facing face of an active frame slot.
// Exclusively owned by one goroutine from BeginFrame until EndFrame
// returns; the scheduler rejects use outside that window.
type RecordingContext struct {
	FrameIndex    uint64
	Image         SwapchainImage
	CommandBuffer metadata.CommandBuffer

	scheduler *FrameScheduler
	slotIndex int
	ended     bool
}

// FrameScheduler cycles a fixed ring of frame slots, one per frame in
// flight, and enforces the hard cap on frames submitted but not yet
// retired. The bounded fence wait in BeginFrame is the backpressure point:
// the CPU can never run more than ring-size frames ahead of the GPU.
type FrameScheduler struct {
	mutex sync.Mutex

	backend     metadata.Backend
	pool        *ResourcePool
	swapchain   *SwapchainManager
	submissions *SubmissionQueue

	slots   []frameSlot
	current int

	// frameIndex is monotonic over the engine's life and doubles as the
	// reclamation epoch key.
	frameIndex     uint64
	completedEpoch uint64

	fenceTimeout   time.Duration
	acquireTimeout time.Duration

	recording  bool
	deviceLost bool
}

func NewFrameScheduler(
	backend metadata.Backend,
	pool *ResourcePool,
	swapchain *SwapchainManager,
	submissions *SubmissionQueue,
	cfg *config.Config,
) (*FrameScheduler, error) {
	framesInFlight := int(cfg.Renderer.FramesInFlight)

	fs := &FrameScheduler{
		backend:        backend,
		pool:           pool,
		swapchain:      swapchain,
		submissions:    submissions,
		slots:          make([]frameSlot, framesInFlight),
		current:        -1,
		fenceTimeout:   cfg.FenceTimeout(),
		acquireTimeout: cfg.AcquireTimeout(),
	}

	for i := range fs.slots {
		slot := &fs.slots[i]

		// Created signaled so the first pass over the ring does not block.
		fence, err := backend.CreateFence(true)
		if err != nil {
			fs.destroySlots()
			return nil, errors.Wrapf(err, "slot %d fence", i)
		}
		slot.fence = fence

		if slot.acquireSemaphore, err = backend.CreateSemaphore(); err != nil {
			fs.destroySlots()
			return nil, errors.Wrapf(err, "slot %d acquire semaphore", i)
		}
		if slot.presentSemaphore, err = backend.CreateSemaphore(); err != nil {
			fs.destroySlots()
			return nil, errors.Wrapf(err, "slot %d present semaphore", i)
		}
		if slot.commandBuffer, err = backend.AllocateCommandBuffer(metadata.QueueGraphics); err != nil {
			fs.destroySlots()
			return nil, errors.Wrapf(err, "slot %d command buffer", i)
		}
		slot.state = SlotIdle
	}

	core.LogInfo("frame scheduler ready: %d frames in flight, fence timeout %s", framesInFlight, fs.fenceTimeout)
	return fs, nil
}

// BeginFrame selects the next frame slot, blocks until its previous work
// has retired, reclaims resources covered by that retirement and acquires
// a swapchain image. On ErrOutOfDate the frame is skipped (nothing was
// submitted); the caller recreates the swapchain and begins again. A fence
// wait beyond the configured bound reports the device lost.
func (fs *FrameScheduler) BeginFrame() (*RecordingContext, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if fs.deviceLost {
		return nil, errors.Wrap(metadata.ErrDeviceLost, "begin frame")
	}
	if fs.recording {
		return nil, errors.Wrap(metadata.ErrSlotNotRecording, "begin frame while another frame is recording")
	}

	next := (fs.current + 1) % len(fs.slots)
	slot := &fs.slots[next]

	// Backpressure: the ring cannot advance past a slot whose GPU work is
	// still outstanding.
	if slot.state == SlotInFlight {
		if err := slot.fence.Wait(fs.fenceTimeout); err != nil {
			fs.deviceLost = true
			if errors.Is(err, metadata.ErrFenceTimeout) {
				core.LogError("frame scheduler: fence wait exceeded %s, presuming device hung", fs.fenceTimeout)
				return nil, errors.Mark(
					errors.Wrapf(metadata.ErrDeviceLost, "fence wait exceeded %s", fs.fenceTimeout),
					metadata.ErrFenceTimeout)
			}
			return nil, errors.Wrapf(metadata.ErrDeviceLost, "fence wait: %v", err)
		}
		fs.retireSlot(slot)
	}

	// The fence observation above is what makes this reclamation safe.
	fs.pool.Reclaim(fs.completedEpoch)

	image, err := fs.swapchain.AcquireNext(fs.acquireTimeout, slot.acquireSemaphore)
	if err != nil {
		if errors.Is(err, metadata.ErrOutOfDate) || errors.Is(err, metadata.ErrSurfaceLost) {
			// Skipped, not submitted. The slot stays idle and the frame
			// index does not advance.
			return nil, err
		}
		if errors.Is(err, metadata.ErrFenceTimeout) {
			fs.deviceLost = true
			return nil, errors.Mark(
				errors.Wrapf(metadata.ErrDeviceLost, "acquire: %v", err),
				metadata.ErrFenceTimeout)
		}
		return nil, err
	}

	if err := slot.commandBuffer.Reset(); err != nil {
		return nil, errors.Wrap(err, "command buffer reset")
	}
	if err := slot.commandBuffer.Begin(); err != nil {
		return nil, errors.Wrap(err, "command buffer begin")
	}

	fs.frameIndex++
	slot.epoch = fs.frameIndex
	slot.state = SlotRecording
	fs.current = next
	fs.recording = true

	return &RecordingContext{
		FrameIndex:    fs.frameIndex,
		Image:         image,
		CommandBuffer: slot.commandBuffer,
		scheduler:     fs,
		slotIndex:     next,
	}, nil
}

// EndFrame closes the recording, submits it waiting on the slot's acquire
// semaphore and signaling its fence plus present semaphore, then requests
// presentation gated on that semaphore. A failed submission leaves nothing
// partially submitted: the slot returns to idle and the frame is dropped.
func (fs *FrameScheduler) EndFrame(rc *RecordingContext) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if rc == nil || rc.scheduler != fs || rc.ended {
		return errors.Wrap(metadata.ErrSlotNotRecording, "end frame with foreign or finished context")
	}
	slot := &fs.slots[rc.slotIndex]
	if slot.state != SlotRecording || rc.slotIndex != fs.current {
		return errors.Wrapf(metadata.ErrSlotNotRecording, "slot %d is %s", rc.slotIndex, slot.state)
	}

	if err := slot.commandBuffer.End(); err != nil {
		return errors.Wrap(err, "command buffer end")
	}

	if err := slot.fence.Reset(); err != nil {
		return errors.Wrap(err, "fence reset")
	}

	record := &SubmissionRecord{
		ID:               uuid.New(),
		Queue:            metadata.QueueGraphics,
		CommandBuffers:   []metadata.CommandBuffer{slot.commandBuffer},
		WaitSemaphores:   []metadata.Semaphore{slot.acquireSemaphore},
		SignalSemaphores: []metadata.Semaphore{slot.presentSemaphore},
		Fence:            slot.fence,
		Epoch:            rc.FrameIndex,
	}

	if err := fs.submissions.Submit(record); err != nil {
		// Fully discarded: the slot is reusable and no GPU work exists for
		// this frame.
		rc.ended = true
		slot.state = SlotIdle
		fs.recording = false
		if metadata.IsRecoverable(err) {
			return err
		}
		fs.deviceLost = true
		if metadata.IsFatal(err) {
			return err
		}
		return errors.Wrapf(metadata.ErrDeviceLost, "submit: %v", err)
	}

	rc.ended = true
	slot.state = SlotInFlight
	slot.record = record
	fs.recording = false

	if err := fs.swapchain.Present(rc.Image, slot.presentSemaphore); err != nil {
		if errors.Is(err, metadata.ErrOutOfDate) {
			// The submission stands and its fence will still signal; only
			// the visual output of this frame is skipped until recreation.
			core.LogDebug("present reported out-of-date at frame %d", rc.FrameIndex)
			return err
		}
		return err
	}
	return nil
}

// retireSlot records the observed completion of the slot's submission.
// Callers hold the mutex and have observed the fence signaled.
func (fs *FrameScheduler) retireSlot(slot *frameSlot) {
	fs.completedEpoch = max(fs.completedEpoch, slot.epoch)
	if slot.record != nil {
		if err := fs.submissions.Complete(slot.record); err != nil {
			core.LogError("frame scheduler: %s", err.Error())
		}
		slot.record = nil
	}
	slot.state = SlotIdle
}

// CurrentFrameIndex returns the monotonic frame counter. Usable as the
// retirement epoch key for resources referenced by the current recording.
func (fs *FrameScheduler) CurrentFrameIndex() uint64 {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()
	return fs.frameIndex
}

// CompletedEpoch returns the highest frame index whose fence has been
// observed signaled.
func (fs *FrameScheduler) CompletedEpoch() uint64 {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()
	return fs.completedEpoch
}

// InFlightCount reports how many slots are submitted but not yet retired.
func (fs *FrameScheduler) InFlightCount() int {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	count := 0
	for i := range fs.slots {
		if fs.slots[i].state == SlotInFlight {
			count++
		}
	}
	return count
}

// FramesInFlight returns the fixed ring size.
func (fs *FrameScheduler) FramesInFlight() int {
	return len(fs.slots)
}

// WaitIdle drains every in-flight slot, retires their submissions and runs
// a final reclamation. Used before swapchain recreation and shutdown.
func (fs *FrameScheduler) WaitIdle() error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	for i := range fs.slots {
		slot := &fs.slots[i]
		if slot.state != SlotInFlight {
			continue
		}
		if err := slot.fence.Wait(fs.fenceTimeout); err != nil {
			fs.deviceLost = true
			return errors.Wrapf(metadata.ErrDeviceLost, "wait idle: %v", err)
		}
		fs.retireSlot(slot)
	}
	fs.pool.Reclaim(fs.completedEpoch)

	if err := fs.backend.DeviceWaitIdle(); err != nil {
		fs.deviceLost = true
		return errors.Wrapf(metadata.ErrDeviceLost, "device wait idle: %v", err)
	}
	return nil
}

// Destroy releases the slot primitives. The ring must be drained first.
func (fs *FrameScheduler) Destroy() {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()
	fs.destroySlots()
}

func (fs *FrameScheduler) destroySlots() {
	for i := range fs.slots {
		slot := &fs.slots[i]
		if slot.commandBuffer != nil {
			fs.backend.FreeCommandBuffer(metadata.QueueGraphics, slot.commandBuffer)
			slot.commandBuffer = nil
		}
		if slot.acquireSemaphore != nil {
			slot.acquireSemaphore.Destroy()
			slot.acquireSemaphore = nil
		}
		if slot.presentSemaphore != nil {
			slot.presentSemaphore.Destroy()
			slot.presentSemaphore = nil
		}
		if slot.fence != nil {
			slot.fence.Destroy()
			slot.fence = nil
		}
		slot.state = SlotIdle
	}
}
