// Package masternode hosts the network-facing engine of the LLMQ subsystem.
// It accepts raw protocol messages from peers, buffers them in bounded
// queues, and dispatches them to the per-quorum-type DKG session handlers
// and the chain-lock coordinator.
package masternode

import (
	"fmt"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"

	"github.com/quorumnet/llmq/engine/common/fifoqueue"
	"github.com/quorumnet/llmq/model/llmq"
	"github.com/quorumnet/llmq/model/messages"
	"github.com/quorumnet/llmq/module"
	"github.com/quorumnet/llmq/module/chainlock"
	"github.com/quorumnet/llmq/module/component"
	"github.com/quorumnet/llmq/module/dkg"
	"github.com/quorumnet/llmq/module/irrecoverable"
	"github.com/quorumnet/llmq/module/util"
)

const (
	// defaultDKGQueueCapacity bounds the inbound DKG envelope queue. DKG
	// traffic is already capped per sender inside the session handlers; this
	// bound only protects the hand-off buffer.
	defaultDKGQueueCapacity = 1000

	// defaultChainLockQueueCapacity bounds the inbound chain-lock
	// announcement queue. Steady state is one announcement per block.
	defaultChainLockQueueCapacity = 100

	// defaultVerifierWorkers bounds how many chain-lock announcements are
	// verified concurrently. Verification is a threshold signature check and
	// dominates announcement processing.
	defaultVerifierWorkers = 4
)

// inboundDKGMessage is a raw DKG envelope together with its sender.
type inboundDKGMessage struct {
	originID llmq.Identifier
	envelope *messages.DKGEnvelope
}

// inboundChainLock is a chain-lock announcement together with its sender.
type inboundChainLock struct {
	originID     llmq.Identifier
	announcement *messages.ChainLockAnnouncement
}

// Engine routes inbound LLMQ protocol messages. DKG envelopes are forwarded
// to the session handler of their quorum type on a dedicated routine;
// chain-lock announcements are verified on a bounded worker pool before
// reaching the coordinator, so one slow signature check never stalls the
// queue drain.
//
// The engine owns the lifecycle of its session handlers and the coordinator:
// they are started when the engine starts and must be done before the engine
// reports done.
type Engine struct {
	log zerolog.Logger

	handlers    map[llmq.Type]*dkg.SessionHandler
	coordinator *chainlock.Coordinator

	pendingDKG        *fifoqueue.FifoQueue
	pendingChainLocks *fifoqueue.FifoQueue
	dkgNotifier       module.Notifier
	chainLockNotifier module.Notifier

	verifiers *workerpool.WorkerPool

	cm *component.ComponentManager
	component.Component
}

// NewEngine creates the routing engine over the given session handlers and
// coordinator.
func NewEngine(
	log zerolog.Logger,
	handlers map[llmq.Type]*dkg.SessionHandler,
	coordinator *chainlock.Coordinator,
) (*Engine, error) {

	pendingDKG, err := fifoqueue.NewFifoQueue(fifoqueue.WithCapacity(defaultDKGQueueCapacity))
	if err != nil {
		return nil, fmt.Errorf("could not create inbound DKG queue: %w", err)
	}
	pendingChainLocks, err := fifoqueue.NewFifoQueue(fifoqueue.WithCapacity(defaultChainLockQueueCapacity))
	if err != nil {
		return nil, fmt.Errorf("could not create inbound chain-lock queue: %w", err)
	}

	e := &Engine{
		log:               log.With().Str("engine", "masternode").Logger(),
		handlers:          handlers,
		coordinator:       coordinator,
		pendingDKG:        pendingDKG,
		pendingChainLocks: pendingChainLocks,
		dkgNotifier:       module.NewNotifier(),
		chainLockNotifier: module.NewNotifier(),
		verifiers:         workerpool.New(defaultVerifierWorkers),
	}

	e.cm = component.NewComponentManagerBuilder().
		AddWorker(e.runSubComponents).
		AddWorker(e.processDKGMessages).
		AddWorker(e.processChainLockAnnouncements).
		Build()
	e.Component = e.cm

	return e, nil
}

// Process accepts a protocol message received from the given peer. It only
// returns an error for messages the engine does not know how to route;
// backpressure drops are logged and absorbed here.
func (e *Engine) Process(originID llmq.Identifier, event interface{}) error {
	switch msg := event.(type) {
	case *messages.DKGEnvelope:
		if !e.pendingDKG.Push(inboundDKGMessage{originID: originID, envelope: msg}) {
			e.log.Warn().
				Hex("origin", originID[:]).
				Str("kind", msg.Kind.String()).
				Msg("inbound DKG queue full, dropping envelope")
			return nil
		}
		e.dkgNotifier.Notify()
	case *messages.ChainLockAnnouncement:
		if !e.pendingChainLocks.Push(inboundChainLock{originID: originID, announcement: msg}) {
			e.log.Warn().
				Hex("origin", originID[:]).
				Msg("inbound chain-lock queue full, dropping announcement")
			return nil
		}
		e.chainLockNotifier.Notify()
	default:
		return fmt.Errorf("unknown message type %T", event)
	}
	return nil
}

// OnNewTip fans a chain tip update out to every session handler and the
// coordinator.
func (e *Engine) OnNewTip(tip llmq.BlockContext) {
	for _, handler := range e.handlers {
		handler.OnNewTip(tip)
	}
	e.coordinator.OnNewTip(tip)
}

// runSubComponents starts the session handlers and the coordinator, reports
// ready once all of them are, and keeps them tied to the engine's lifecycle.
func (e *Engine) runSubComponents(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	components := make([]module.ReadyDoneAware, 0, len(e.handlers)+1)
	for _, handler := range e.handlers {
		handler.Start(ctx)
		components = append(components, handler)
	}
	e.coordinator.Start(ctx)
	components = append(components, e.coordinator)

	select {
	case <-ctx.Done():
	case <-util.AllReady(components...):
		ready()
	}

	<-ctx.Done()
	<-util.AllDone(components...)
	e.verifiers.StopWait()
}

// processDKGMessages drains the inbound DKG queue and hands envelopes to the
// session handler of their quorum type.
func (e *Engine) processDKGMessages(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()

	done := ctx.Done()
	wake := e.dkgNotifier.Channel()
	for {
		select {
		case <-done:
			return
		case <-wake:
			for {
				element, ok := e.pendingDKG.Pop()
				if !ok {
					break
				}
				msg := element.(inboundDKGMessage)
				e.routeDKGMessage(msg.originID, msg.envelope)
			}
		}
	}
}

// routeDKGMessage delivers one envelope to its session handler. Envelopes
// for unconfigured quorum types and unknown message kinds are dropped with a
// log line; both indicate a misbehaving or newer peer, not a local fault.
func (e *Engine) routeDKGMessage(originID llmq.Identifier, envelope *messages.DKGEnvelope) {
	handler, ok := e.handlers[envelope.LLMQType]
	if !ok {
		e.log.Debug().
			Hex("origin", originID[:]).
			Str("llmq_type", envelope.LLMQType.String()).
			Msg("dropping DKG envelope for unconfigured quorum type")
		return
	}
	err := handler.ProcessMessage(originID, envelope.Kind, envelope.Payload)
	if err != nil {
		e.log.Warn().Err(err).
			Hex("origin", originID[:]).
			Msg("could not process DKG envelope")
	}
}

// processChainLockAnnouncements drains the inbound chain-lock queue,
// submitting each announcement to the verification worker pool.
func (e *Engine) processChainLockAnnouncements(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()

	done := ctx.Done()
	wake := e.chainLockNotifier.Channel()
	for {
		select {
		case <-done:
			return
		case <-wake:
			for {
				element, ok := e.pendingChainLocks.Pop()
				if !ok {
					break
				}
				msg := element.(inboundChainLock)
				e.verifiers.Submit(func() {
					err := e.coordinator.ProcessNewChainLock(msg.originID, msg.announcement.ChainLock)
					if err != nil {
						e.log.Warn().Err(err).
							Hex("origin", msg.originID[:]).
							Msg("rejected chain-lock announcement")
					}
				})
			}
		}
	}
}
