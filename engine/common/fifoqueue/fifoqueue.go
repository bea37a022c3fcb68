// Package fifoqueue implements a bounded, concurrency-safe FIFO queue used to
// decouple network-facing message producers from slower consumers.
package fifoqueue

import (
	"fmt"
	mathbits "math/bits"
	"sync"

	"github.com/ef-ds/deque"
)

// FifoQueue implements a FIFO queue with max capacity and a length observer.
// Elements pushed beyond the queue's capacity are silently dropped. By
// default the capacity equals the largest int value; it can be bounded at
// construction time via WithCapacity. Each time the queue's length changes,
// the QueueLengthObserver is called with the new length (NoOp by default).
//
// The length observer must be non-blocking.
type FifoQueue struct {
	mu             sync.RWMutex
	queue          deque.Deque
	maxCapacity    int
	lengthObserver QueueLengthObserver
}

// ConstructorOption is an optional argument of the NewFifoQueue constructor.
type ConstructorOption func(*FifoQueue) error

// QueueLengthObserver is a callback invoked with the queue's length whenever
// it changes.
type QueueLengthObserver func(int)

// WithCapacity bounds the number of elements the queue can hold.
func WithCapacity(capacity int) ConstructorOption {
	return func(queue *FifoQueue) error {
		if capacity < 1 {
			return fmt.Errorf("capacity for fifo queue must be positive")
		}
		queue.maxCapacity = capacity
		return nil
	}
}

// WithLengthObserver sets the callback invoked on every length change.
func WithLengthObserver(callback QueueLengthObserver) ConstructorOption {
	return func(queue *FifoQueue) error {
		if callback == nil {
			return fmt.Errorf("nil is not a valid QueueLengthObserver")
		}
		queue.lengthObserver = callback
		return nil
	}
}

// NewFifoQueue constructs a FifoQueue with the given options.
func NewFifoQueue(options ...ConstructorOption) (*FifoQueue, error) {
	maxInt := 1<<(mathbits.UintSize-1) - 1

	queue := &FifoQueue{
		maxCapacity:    maxInt,
		lengthObserver: func(int) { /* noop */ },
	}
	for _, opt := range options {
		err := opt(queue)
		if err != nil {
			return nil, fmt.Errorf("failed to apply constructor option to fifo queue: %w", err)
		}
	}
	return queue, nil
}

// Push appends the given value to the tail of the queue. If the queue is at
// capacity, the element is dropped and false is returned.
func (q *FifoQueue) Push(element interface{}) bool {
	length, pushed := q.push(element)
	if pushed {
		q.lengthObserver(length + 1)
	}
	return pushed
}

func (q *FifoQueue) push(element interface{}) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	length := q.queue.Len()
	if length < q.maxCapacity {
		q.queue.PushBack(element)
		return length, true
	}
	return length, false
}

// Front peeks at the head of the queue without removing it.
func (q *FifoQueue) Front() (interface{}, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.queue.Front()
}

// Pop removes and returns the queue's head element. If the queue is empty,
// (nil, false) is returned.
func (q *FifoQueue) Pop() (interface{}, bool) {
	element, length, ok := q.pop()
	if !ok {
		return nil, false
	}

	q.lengthObserver(length)
	return element, true
}

func (q *FifoQueue) pop() (interface{}, int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	element, ok := q.queue.PopFront()
	length := q.queue.Len()
	return element, length, ok
}

// Len returns the current length of the queue.
func (q *FifoQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.queue.Len()
}
