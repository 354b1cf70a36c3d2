package metadata

import (
	stderrors "errors"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	recoverable := []error{ErrOutOfDate, ErrOutOfDeviceMemory, ErrOutOfHostMemory, ErrQueueFull}
	for _, err := range recoverable {
		assert.True(t, IsRecoverable(err), err.Error())
		assert.False(t, IsFatal(err), err.Error())
		assert.False(t, IsContractViolation(err), err.Error())
	}

	fatal := []error{ErrDeviceLost, ErrSurfaceLost}
	for _, err := range fatal {
		assert.True(t, IsFatal(err), err.Error())
		assert.False(t, IsRecoverable(err), err.Error())
	}

	violations := []error{ErrStaleHandle, ErrStaleGeneration, ErrResourceRetired, ErrSlotNotRecording}
	for _, err := range violations {
		assert.True(t, IsContractViolation(err), err.Error())
		assert.False(t, IsRecoverable(err), err.Error())
		assert.False(t, IsFatal(err), err.Error())
	}
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	wrapped := errors.Wrapf(ErrOutOfDate, "acquire at frame %d", 42)
	assert.True(t, IsRecoverable(wrapped))
	assert.ErrorIs(t, wrapped, ErrOutOfDate)

	escalated := errors.Mark(errors.Wrap(ErrDeviceLost, "slot 1"), ErrFenceTimeout)
	assert.True(t, IsFatal(escalated))
	assert.True(t, errors.Is(escalated, ErrFenceTimeout))
}

func TestEscalatedSentinelsVisibleToStdlibIs(t *testing.T) {
	// Escalations put the sentinel at the head of the chain so callers
	// classifying with the standard library see the same taxonomy.
	escalated := errors.Wrapf(ErrDeviceLost, "submission abc: %v", stderrors.New("queue exploded"))
	assert.True(t, stderrors.Is(escalated, ErrDeviceLost))
	assert.True(t, IsFatal(escalated))
	assert.Contains(t, escalated.Error(), "queue exploded")
}

func TestFenceTimeoutIsNeitherRecoverableNorFatal(t *testing.T) {
	// The scheduler decides: a timeout inside the bound is retried, beyond
	// the bound it is marked as device loss.
	assert.False(t, IsRecoverable(ErrFenceTimeout))
	assert.False(t, IsFatal(ErrFenceTimeout))
	assert.False(t, IsContractViolation(ErrFenceTimeout))
}
