package irrecoverable

import (
	"context"
	"testing"
)

// MockSignalerContext is a SignalerContext for use in tests: any error thrown
// through it fails the test immediately. Use it to start components whose
// workers must not encounter irrecoverable errors during the test.
type MockSignalerContext struct {
	context.Context
	t *testing.T
}

var _ SignalerContext = (*MockSignalerContext)(nil)

func (m MockSignalerContext) sealed() {}

func (m MockSignalerContext) Throw(err error) {
	m.t.Fatalf("mock signaler context received irrecoverable error: %v", err)
}

// NewMockSignalerContext wraps ctx so that a thrown error fails t.
func NewMockSignalerContext(t *testing.T, ctx context.Context) *MockSignalerContext {
	return &MockSignalerContext{Context: ctx, t: t}
}

// NewMockSignalerContextWithCancel additionally derives a cancellable context,
// returning the cancel func for shutting the component down at test end.
func NewMockSignalerContextWithCancel(t *testing.T, parent context.Context) (*MockSignalerContext, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	return NewMockSignalerContext(t, ctx), cancel
}
