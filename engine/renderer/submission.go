package renderer

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/ferrum-engine/ferrum/engine/config"
	"github.com/ferrum-engine/ferrum/engine/containers"
	"github.com/ferrum-engine/ferrum/engine/core"
	"github.com/ferrum-engine/ferrum/engine/renderer/metadata"
)

// SubmissionRecord bundles one command recording with the primitives it
// waits on and signals. Once handed to the submission queue it runs to
// completion or the device is considered lost; there is no cancellation.
type SubmissionRecord struct {
	ID               uuid.UUID
	Queue            metadata.QueueKind
	CommandBuffers   []metadata.CommandBuffer
	WaitSemaphores   []metadata.Semaphore
	SignalSemaphores []metadata.Semaphore
	Fence            metadata.Fence

	// Epoch is the frame index this record belongs to; the pool reclaims
	// resources retired at or below it once the fence is observed.
	Epoch uint64
}

type queueState struct {
	mutex    sync.Mutex
	inflight *containers.RingQueue[*SubmissionRecord]
}

// SubmissionQueue serializes submissions onto the device queues. Records
// targeting the same queue kind are submitted in caller order; across
// queue kinds only the semaphores in each record order work. A full device
// queue is retried with doubling backoff before being escalated.
type SubmissionQueue struct {
	backend metadata.Backend

	mutex  sync.Mutex
	queues map[metadata.QueueKind]*queueState

	capacity      int
	retryAttempts int
	retryBackoff  time.Duration
}

func NewSubmissionQueue(backend metadata.Backend, cfg config.SubmissionConfig) *SubmissionQueue {
	return &SubmissionQueue{
		backend:       backend,
		queues:        make(map[metadata.QueueKind]*queueState),
		capacity:      cfg.QueueCapacity,
		retryAttempts: cfg.RetryAttempts,
		retryBackoff:  time.Duration(cfg.RetryBackoffMS) * time.Millisecond,
	}
}

func (sq *SubmissionQueue) queue(kind metadata.QueueKind) *queueState {
	sq.mutex.Lock()
	defer sq.mutex.Unlock()

	qs, ok := sq.queues[kind]
	if !ok {
		qs = &queueState{
			inflight: containers.NewRingQueue[*SubmissionRecord](sq.capacity),
		}
		sq.queues[kind] = qs
	}
	return qs
}

// Submit places the record on its device queue. The submission either
// fully happens or is fully discarded: the in-flight ring is only updated
// after the backend accepted the work, and no partial state survives a
// failed attempt.
func (sq *SubmissionQueue) Submit(record *SubmissionRecord) error {
	qs := sq.queue(record.Queue)
	qs.mutex.Lock()
	defer qs.mutex.Unlock()

	if qs.inflight.IsFull() {
		return errors.Wrapf(metadata.ErrQueueFull, "%s queue tracking %d records", record.Queue, qs.inflight.Len())
	}

	info := metadata.SubmitInfo{
		Queue:            record.Queue,
		CommandBuffers:   record.CommandBuffers,
		WaitSemaphores:   record.WaitSemaphores,
		SignalSemaphores: record.SignalSemaphores,
		SignalFence:      record.Fence,
	}

	backoff := sq.retryBackoff
	var err error
	for attempt := 0; attempt <= sq.retryAttempts; attempt++ {
		err = sq.backend.SubmitQueue(info)
		if err == nil {
			// Tracked only after the device accepted the work.
			if qErr := qs.inflight.Enqueue(record); qErr != nil {
				// Capacity was checked above; reaching this is a bug.
				return errors.Wrapf(metadata.ErrQueueFull, "%s queue: %v", record.Queue, qErr)
			}
			return nil
		}
		if !errors.Is(err, metadata.ErrQueueFull) {
			break
		}
		core.LogWarn("submission %s: %s queue full, retrying in %s", record.ID, record.Queue, backoff)
		time.Sleep(backoff)
		backoff *= 2
	}

	if errors.Is(err, metadata.ErrQueueFull) {
		return errors.Wrapf(err, "submission %s: retries exhausted", record.ID)
	}
	// Any non-transient submission failure is presumed to have corrupted
	// the queue; escalate.
	return errors.Wrapf(metadata.ErrDeviceLost, "submission %s: %v", record.ID, err)
}

// Complete retires the oldest in-flight record on the queue once its fence
// has been observed signaled. Records complete in submission order;
// anything else indicates the caller completed out of turn.
func (sq *SubmissionQueue) Complete(record *SubmissionRecord) error {
	qs := sq.queue(record.Queue)
	qs.mutex.Lock()
	defer qs.mutex.Unlock()

	head, err := qs.inflight.Peek()
	if err != nil {
		return errors.Wrapf(metadata.ErrSlotNotRecording, "no in-flight record on %s queue", record.Queue)
	}
	if head.ID != record.ID {
		// The head stays tracked; only a matching completion retires it.
		return errors.Wrapf(metadata.ErrSlotNotRecording,
			"completed record %s out of order (head %s)", record.ID, head.ID)
	}
	_, _ = qs.inflight.Dequeue()
	return nil
}

// InFlightCount reports the number of submitted-but-unretired records on
// the queue.
func (sq *SubmissionQueue) InFlightCount(kind metadata.QueueKind) int {
	qs := sq.queue(kind)
	qs.mutex.Lock()
	defer qs.mutex.Unlock()
	return qs.inflight.Len()
}
