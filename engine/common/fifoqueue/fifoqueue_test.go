package fifoqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFifoQueue_Ordering(t *testing.T) {
	queue, err := NewFifoQueue()
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.True(t, queue.Push(i))
	}
	assert.Equal(t, 10, queue.Len())

	front, ok := queue.Front()
	require.True(t, ok)
	assert.Equal(t, 0, front)

	for i := 0; i < 10; i++ {
		element, ok := queue.Pop()
		require.True(t, ok)
		assert.Equal(t, i, element)
	}

	_, ok = queue.Pop()
	assert.False(t, ok)
}

func TestFifoQueue_Capacity(t *testing.T) {
	queue, err := NewFifoQueue(WithCapacity(2))
	require.NoError(t, err)

	require.True(t, queue.Push("a"))
	require.True(t, queue.Push("b"))
	// elements beyond capacity are dropped, not queued
	assert.False(t, queue.Push("c"))
	assert.Equal(t, 2, queue.Len())

	_, err = NewFifoQueue(WithCapacity(0))
	assert.Error(t, err)
}

func TestFifoQueue_LengthObserver(t *testing.T) {
	var observed []int
	queue, err := NewFifoQueue(WithLengthObserver(func(length int) {
		observed = append(observed, length)
	}))
	require.NoError(t, err)

	queue.Push("a")
	queue.Push("b")
	queue.Pop()
	queue.Pop()

	assert.Equal(t, []int{1, 2, 1, 0}, observed)
}
