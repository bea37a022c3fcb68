package unittest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RequireCloseBefore requires that the given channel closes before the
// duration expires.
func RequireCloseBefore(t *testing.T, c <-chan struct{}, duration time.Duration, message string) {
	select {
	case <-c:
	case <-time.After(duration):
		require.Fail(t, "could not close channel on time: "+message)
	}
}

// RequireNotClosedWithin requires that the given channel does not close
// before the duration expires.
func RequireNotClosedWithin(t *testing.T, c <-chan struct{}, duration time.Duration, message string) {
	select {
	case <-c:
		require.Fail(t, "channel closed unexpectedly: "+message)
	case <-time.After(duration):
	}
}

// AssertReturnsBefore asserts that the given function returns before the
// duration expires.
func AssertReturnsBefore(t *testing.T, f func(), duration time.Duration) bool {
	done := make(chan struct{})

	go func() {
		f()
		close(done)
	}()

	select {
	case <-time.After(duration):
		t.Log("function did not return in time")
		return assert.Fail(t, "function did not return in time")
	case <-done:
		return true
	}
}
