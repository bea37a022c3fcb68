package util

import (
	"sync"

	"github.com/quorumnet/llmq/module"
)

// AllReady calls Ready on all input components and returns a channel that is
// closed when all of them are ready.
func AllReady(components ...module.ReadyDoneAware) <-chan struct{} {
	readyChans := make([]<-chan struct{}, len(components))
	for i, c := range components {
		readyChans[i] = c.Ready()
	}
	return AllClosed(readyChans...)
}

// AllDone calls Done on all input components and returns a channel that is
// closed when all of them are done.
func AllDone(components ...module.ReadyDoneAware) <-chan struct{} {
	doneChans := make([]<-chan struct{}, len(components))
	for i, c := range components {
		doneChans[i] = c.Done()
	}
	return AllClosed(doneChans...)
}

// AllClosed returns a channel that is closed when all input channels are
// closed.
func AllClosed(channels ...<-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch <-chan struct{}) {
			<-ch
			wg.Done()
		}(ch)
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// WaitError waits for either an error on the error channel or the done
// channel to close. It returns an error if one is received, otherwise nil.
//
// This handles the race where the done channel closes as a consequence of an
// irrecoverable error: when both channels are readable, the error must win,
// otherwise the caller could continue unsafely.
func WaitError(errChan <-chan error, done <-chan struct{}) error {
	select {
	case err := <-errChan:
		return err
	case <-done:
		select {
		case err := <-errChan:
			return err
		default:
		}
		return nil
	}
}

// CheckClosed returns true if the given channel has been closed or signalled.
func CheckClosed(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}
