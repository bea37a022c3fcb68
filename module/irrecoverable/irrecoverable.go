// Package irrecoverable provides a mechanism for propagating irrecoverable
// errors from long-running worker routines to a supervising routine, as an
// alternative to panic or log.Fatal deep inside a component.
package irrecoverable

import (
	"context"
	"log"
	"runtime"

	"go.uber.org/atomic"
)

// Signaler sends irrecoverable errors to its error channel.
type Signaler struct {
	errors chan error
	thrown *atomic.Bool
}

// NewSignaler instantiates a Signaler and returns it together with the
// channel on which thrown errors are delivered.
func NewSignaler() (*Signaler, <-chan error) {
	errChan := make(chan error, 1)
	return &Signaler{
		errors: errChan,
		thrown: atomic.NewBool(false),
	}, errChan
}

// Throw reports an irrecoverable error and terminates the calling goroutine.
// It is a narrow drop-in replacement for panic or log.Fatal anywhere a
// Signaler is connected. Only the first thrown error is delivered; subsequent
// errors are logged and discarded.
func (s *Signaler) Throw(err error) {
	defer runtime.Goexit()
	if s.thrown.CompareAndSwap(false, true) {
		s.errors <- err
		close(s.errors)
	} else {
		log.New(log.Writer(), "[irrecoverable] ", log.LstdFlags).Printf("dropping error after first irrecoverable: %v", err)
	}
}

// SignalerContext is a constrained drop-in replacement for context.Context
// that additionally allows throwing irrecoverable errors.
type SignalerContext interface {
	context.Context
	Throw(err error) // delegates to the signaler
	sealed()         // private, to constrain construction to WithSignaler
}

type signalerCtx struct {
	context.Context
	*Signaler
}

func (sc signalerCtx) sealed() {}

// WithSignaler wraps the parent context with a fresh Signaler and returns the
// resulting SignalerContext along with the channel delivering thrown errors.
func WithSignaler(parent context.Context) (SignalerContext, <-chan error) {
	sig, errChan := NewSignaler()
	return signalerCtx{parent, sig}, errChan
}

// Throw attempts to throw err through ctx if it supports irrecoverables.
// If it does not, the process exits: losing an irrecoverable error is itself
// irrecoverable.
func Throw(ctx context.Context, err error) {
	signalerAbleContext, ok := ctx.(SignalerContext)
	if ok {
		signalerAbleContext.Throw(err)
	}
	log.Fatalf("irrecoverable error signaler not found in context, unhandled irrecoverable error: %v", err)
}
