package metadata

import "strings"

type Extent2D struct {
	Width  uint32
	Height uint32
}

func (e Extent2D) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

// QueueKind selects which device queue a submission targets. Submissions to
// the same kind preserve caller order; across kinds only explicit semaphore
// dependencies order work.
type QueueKind uint8

const (
	QueueGraphics QueueKind = iota
	QueueCompute
	QueueTransfer
	QueuePresent
)

func (q QueueKind) String() string {
	switch q {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	case QueueTransfer:
		return "transfer"
	case QueuePresent:
		return "present"
	}
	return "unknown"
}

type PresentMode uint8

const (
	PresentModeFIFO PresentMode = iota
	PresentModeMailbox
	PresentModeImmediate
)

func (p PresentMode) String() string {
	switch p {
	case PresentModeMailbox:
		return "mailbox"
	case PresentModeImmediate:
		return "immediate"
	}
	return "fifo"
}

// ParsePresentMode maps the config string onto a mode. Unknown strings fall
// back to FIFO, the only mode the platform must support.
func ParsePresentMode(s string) PresentMode {
	switch strings.ToLower(s) {
	case "mailbox":
		return PresentModeMailbox
	case "immediate":
		return PresentModeImmediate
	}
	return PresentModeFIFO
}

type ResourceKind uint8

const (
	ResourceBuffer ResourceKind = iota
	ResourceImage
	ResourceDescriptorSet
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceBuffer:
		return "buffer"
	case ResourceImage:
		return "image"
	case ResourceDescriptorSet:
		return "descriptor_set"
	}
	return "unknown"
}

type BufferUsageFlags uint32

const (
	BufferUsageVertex BufferUsageFlags = 1 << iota
	BufferUsageIndex
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageTransferSrc
	BufferUsageTransferDst
)

type ImageUsageFlags uint32

const (
	ImageUsageSampled ImageUsageFlags = 1 << iota
	ImageUsageStorage
	ImageUsageColorAttachment
	ImageUsageDepthStencilAttachment
	ImageUsageTransferSrc
	ImageUsageTransferDst
)

type ImageFormat uint8

const (
	ImageFormatB8G8R8A8Unorm ImageFormat = iota
	ImageFormatR8G8B8A8Unorm
	ImageFormatD32Sfloat
	ImageFormatD24UnormS8Uint
)

// BufferDescriptor describes a device buffer allocation request.
type BufferDescriptor struct {
	SizeBytes   uint64
	Usage       BufferUsageFlags
	HostVisible bool
}

// ImageDescriptor describes a device image allocation request.
type ImageDescriptor struct {
	Extent Extent2D
	Format ImageFormat
	Usage  ImageUsageFlags
	Layers uint32
	Mips   uint32
}

// DescriptorSetDescriptor references an opaque descriptor layout produced
// by the shader/pipeline collaborator. The scheduler never interprets it.
type DescriptorSetDescriptor struct {
	LayoutHandle uint64
}

// SwapchainDetails reports what the backend actually built, which may
// differ from what was requested (image count, effective present mode).
type SwapchainDetails struct {
	ImageCount  uint32
	Extent      Extent2D
	Format      ImageFormat
	PresentMode PresentMode
}

// SubmitInfo is the wire form of one queue submission handed to the
// backend: the recorded command buffers plus the wait/signal primitives
// declared by the submission record.
type SubmitInfo struct {
	Queue            QueueKind
	CommandBuffers   []CommandBuffer
	WaitSemaphores   []Semaphore
	SignalSemaphores []Semaphore
	SignalFence      Fence
}
