// Package component provides a lifecycle manager for components made of one
// or more long-running worker routines.
package component

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/quorumnet/llmq/module"
	"github.com/quorumnet/llmq/module/irrecoverable"
	"github.com/quorumnet/llmq/module/util"
)

// Component represents a component that can be started and stopped, and
// exposes channels that close when startup and shutdown have completed.
// Once Start has been called, the channel returned by Done must close
// eventually, whether through graceful shutdown or an irrecoverable error.
type Component interface {
	module.Startable
	module.ReadyDoneAware
}

// ReadyFunc is called within a ComponentWorker to indicate that the worker is
// ready. The ComponentManager's Ready channel closes when all workers are
// ready.
type ReadyFunc func()

// ComponentWorker is one worker routine of a component. It receives a
// SignalerContext for throwing irrecoverable errors and observing shutdown,
// and a ReadyFunc it must call once it is operational.
type ComponentWorker func(ctx irrecoverable.SignalerContext, ready ReadyFunc)

// ComponentManagerBuilder assembles a ComponentManager from worker routines.
type ComponentManagerBuilder interface {
	// AddWorker adds a worker routine for the ComponentManager.
	AddWorker(ComponentWorker) ComponentManagerBuilder

	// Build builds and returns a new ComponentManager instance.
	Build() *ComponentManager
}

type componentManagerBuilder struct {
	workers []ComponentWorker
}

// NewComponentManagerBuilder returns a new ComponentManagerBuilder.
func NewComponentManagerBuilder() ComponentManagerBuilder {
	return &componentManagerBuilder{}
}

// AddWorker adds a ComponentWorker closure to the builder. All workers run in
// parallel once the ComponentManager is started. AddWorker is not safe for
// concurrent use.
func (c *componentManagerBuilder) AddWorker(worker ComponentWorker) ComponentManagerBuilder {
	c.workers = append(c.workers, worker)
	return c
}

// Build returns a new ComponentManager instance with the configured workers.
func (c *componentManagerBuilder) Build() *ComponentManager {
	return &ComponentManager{
		started:        atomic.NewBool(false),
		ready:          make(chan struct{}),
		done:           make(chan struct{}),
		workersDone:    make(chan struct{}),
		shutdownSignal: make(chan struct{}),
		workers:        c.workers,
	}
}

var _ Component = (*ComponentManager)(nil)

// ComponentManager manages the worker routines of a Component and implements
// the Component interface on their behalf.
//
// Ready() and Done() are idempotent and can be called immediately after
// instantiation. The Ready channel closes when every worker has called its
// ReadyFunc; the Done channel closes after every worker has returned.
//
// Shutdown is signalled by cancelling the SignalerContext passed to Start.
// The same context carries irrecoverable errors from workers; such errors are
// fatal for the component and are propagated to the caller of Start via the
// parent context's Throw method.
type ComponentManager struct {
	started        *atomic.Bool
	ready          chan struct{}
	done           chan struct{}
	workersDone    chan struct{}
	shutdownSignal chan struct{}

	workers []ComponentWorker
}

// Start launches all worker routines. Start must only be called once; it
// panics otherwise.
func (c *ComponentManager) Start(parent irrecoverable.SignalerContext) {
	if !c.started.CompareAndSwap(false, true) {
		panic(module.ErrMultipleStartup)
	}

	ctx, cancel := context.WithCancel(parent)
	signalerCtx, errChan := irrecoverable.WithSignaler(ctx)

	go c.waitForShutdownSignal(ctx.Done())

	// propagate any irrecoverable error before closing the done channel, so
	// the parent cannot observe completion while an error is still pending
	go func() {
		defer func() {
			<-c.workersDone
			close(c.done)
		}()

		if err := util.WaitError(errChan, c.workersDone); err != nil {
			cancel() // shut down all workers
			parent.Throw(err)
		}
	}()

	var workersReady sync.WaitGroup
	var workersDone sync.WaitGroup
	workersReady.Add(len(c.workers))
	workersDone.Add(len(c.workers))

	for _, worker := range c.workers {
		worker := worker
		go func() {
			defer workersDone.Done()
			var readyOnce sync.Once
			worker(signalerCtx, func() {
				readyOnce.Do(func() {
					workersReady.Done()
				})
			})
		}()
	}

	go c.waitForReady(&workersReady)
	go c.waitForDone(&workersDone)
}

func (c *ComponentManager) waitForShutdownSignal(shutdownSignal <-chan struct{}) {
	<-shutdownSignal
	close(c.shutdownSignal)
}

func (c *ComponentManager) waitForReady(workersReady *sync.WaitGroup) {
	workersReady.Wait()
	close(c.ready)
}

func (c *ComponentManager) waitForDone(workersDone *sync.WaitGroup) {
	workersDone.Wait()
	close(c.workersDone)
}

// Ready returns a channel which closes once all workers have signalled that
// they are ready. If a worker exits before signalling readiness, the channel
// never closes.
func (c *ComponentManager) Ready() <-chan struct{} {
	return c.ready
}

// Done returns a channel which closes once all workers have shut down, either
// gracefully or after an irrecoverable error.
func (c *ComponentManager) Done() <-chan struct{} {
	return c.done
}

// ShutdownSignal returns a channel that closes when shutdown has commenced.
// If called before Start, a nil channel is returned.
func (c *ComponentManager) ShutdownSignal() <-chan struct{} {
	return c.shutdownSignal
}
