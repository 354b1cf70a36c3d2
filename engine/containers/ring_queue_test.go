package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueFIFO(t *testing.T) {
	rq := NewRingQueue[int](4)
	assert.True(t, rq.IsEmpty())
	assert.Equal(t, 4, rq.Cap())

	for i := 1; i <= 3; i++ {
		require.NoError(t, rq.Enqueue(i))
	}
	assert.Equal(t, 3, rq.Len())

	head, err := rq.Peek()
	require.NoError(t, err)
	assert.Equal(t, 1, head)
	assert.Equal(t, 3, rq.Len())

	for i := 1; i <= 3; i++ {
		value, err := rq.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, i, value)
	}
	assert.True(t, rq.IsEmpty())
}

func TestRingQueueWrapsAround(t *testing.T) {
	rq := NewRingQueue[string](2)
	require.NoError(t, rq.Enqueue("a"))
	require.NoError(t, rq.Enqueue("b"))

	value, err := rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "a", value)

	// The write index wraps back over the freed slot.
	require.NoError(t, rq.Enqueue("c"))
	assert.True(t, rq.IsFull())

	value, err = rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "b", value)
	value, err = rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "c", value)
}

func TestRingQueueBounds(t *testing.T) {
	rq := NewRingQueue[int](1)
	require.NoError(t, rq.Enqueue(7))

	err := rq.Enqueue(8)
	assert.ErrorIs(t, err, ErrQueueFull)

	_, err = rq.Dequeue()
	require.NoError(t, err)
	_, err = rq.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
	_, err = rq.Peek()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 5, Clamp(5, 1, 10))
	assert.Equal(t, 1, Clamp(-3, 1, 10))
	assert.Equal(t, 10, Clamp(42, 1, 10))
	assert.Equal(t, uint32(720), Clamp(uint32(400), 720, 2160))
}
