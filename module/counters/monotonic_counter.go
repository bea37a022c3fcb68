package counters

import (
	"go.uber.org/atomic"
)

// StrictMonotonicCounter is a helper for tracking a strictly increasing
// value, such as the highest signed block height. It is safe for concurrent
// use.
type StrictMonotonicCounter struct {
	atomicCounter *atomic.Int64
}

// NewMonotonicCounter creates a new counter with the given initial value.
func NewMonotonicCounter(initial int64) StrictMonotonicCounter {
	return StrictMonotonicCounter{
		atomicCounter: atomic.NewInt64(initial),
	}
}

// Set updates the counter to the given value if and only if it is strictly
// greater than the current value. It returns true if the update was applied.
func (c *StrictMonotonicCounter) Set(upperBound int64) bool {
	for {
		oldValue := c.atomicCounter.Load()
		if upperBound <= oldValue {
			return false
		}
		if c.atomicCounter.CompareAndSwap(oldValue, upperBound) {
			return true
		}
	}
}

// Value returns the current value of the counter.
func (c *StrictMonotonicCounter) Value() int64 {
	return c.atomicCounter.Load()
}
