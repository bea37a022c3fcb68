package dkg

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quorumnet/llmq/model/llmq"
	"github.com/quorumnet/llmq/model/messages"
	"github.com/quorumnet/llmq/module"
	"github.com/quorumnet/llmq/module/component"
	"github.com/quorumnet/llmq/module/irrecoverable"
)

// ErrUnknownMessageType is returned by ProcessMessage for a message kind that
// has no pending queue.
var ErrUnknownMessageType = errors.New("unknown DKG message type")

// errQuorumRotated aborts an in-progress phase when the round's defining
// quorum hash changed underneath it: either a new round started or a reorg
// removed the quorum's defining block. The round is abandoned, not failed.
var errQuorumRotated = errors.New("quorum hash changed during round")

// Config holds the timing parameters of a SessionHandler.
type Config struct {
	// PhaseTimeout is the wall-clock bound on waiting out a single phase.
	// A phase normally ends when the chain reaches the phase's final block;
	// the timeout guarantees progress if the chain stalls.
	PhaseTimeout time.Duration

	// TickInterval is the granularity of all interruptible waits. A stop
	// request or quorum rotation is observed within one tick.
	TickInterval time.Duration

	// JitterFactor scales the randomized sleep inserted before message-heavy
	// phases, as a fraction of PhaseTimeout. The sleep desynchronizes
	// message bursts across quorum members and is purely load shaping.
	JitterFactor float64

	// BatchSize is the maximum number of pending messages popped and decoded
	// per processing sweep.
	BatchSize int
}

// DefaultConfig returns the production timing parameters.
func DefaultConfig() Config {
	return Config{
		PhaseTimeout: 5 * time.Minute,
		TickInterval: 100 * time.Millisecond,
		JitterFactor: 0.1,
		BatchSize:    32,
	}
}

// SessionHandler drives sequential DKG rounds of one quorum type. There is
// one instance, with one dedicated phase-handler routine, per LLMQ type; the
// routine processes at most one round at a time and waits out the gaps
// between phases.
//
// Inbound DKG payloads are buffered per message kind in PendingMessages
// queues on the network-receive path, and popped, decoded, and fed to the
// active session from the phase-handler routine.
type SessionHandler struct {
	log     zerolog.Logger
	metrics module.DKGMetrics
	config  Config
	params  llmq.Params
	factory module.DKGSessionFactory

	// mu guards the round context below. Lock hold times are O(1); the lock
	// is never held across session or network calls.
	mu              sync.Mutex
	phase           llmq.Phase
	currentHeight   int32
	lastTip         llmq.BlockContext
	quorumHeight    int32
	quorumHash      llmq.Identifier
	session         module.DKGSession
	lastRoundHash   llmq.Identifier
	lastRoundHeight int32

	pending map[messages.Kind]*PendingMessages

	tipNotifier module.Notifier

	cm *component.ComponentManager
	component.Component
}

// NewSessionHandler creates the handler for one quorum type. Construction
// fails if the quorum parameters are invalid; in particular, TypeNone is a
// programming error, not a runtime condition.
func NewSessionHandler(
	log zerolog.Logger,
	metrics module.DKGMetrics,
	config Config,
	params llmq.Params,
	factory module.DKGSessionFactory,
) (*SessionHandler, error) {

	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("cannot create session handler: %w", err)
	}

	h := &SessionHandler{
		log: log.With().
			Str("component", "dkg_session_handler").
			Str("llmq_type", params.Type.String()).
			Logger(),
		metrics:         metrics,
		config:          config,
		params:          params,
		factory:         factory,
		phase:           llmq.PhaseIdle,
		currentHeight:   -1,
		quorumHeight:    -1,
		lastRoundHeight: -1,
		pending:         make(map[messages.Kind]*PendingMessages),
		tipNotifier:     module.NewNotifier(),
	}

	// twice the quorum size, so double messages from bad actors remain
	// observable without unbounded growth
	maxPerSender := 2 * params.Size
	for _, kind := range messages.Kinds() {
		kind := kind
		h.pending[kind] = NewPendingMessages(kind, maxPerSender,
			WithPendingLengthObserver(func(length int) {
				metrics.PendingMessages(params.Type, kind.String(), uint(length))
			}),
		)
	}

	h.cm = component.NewComponentManagerBuilder().
		AddWorker(h.phaseHandlerLoop).
		Build()
	h.Component = h.cm

	return h, nil
}

// Params returns the quorum parameters this handler was constructed with.
func (h *SessionHandler) Params() llmq.Params {
	return h.params
}

// PhaseAndQuorumHash returns a consistent snapshot of the current phase and
// the active round's quorum hash.
func (h *SessionHandler) PhaseAndQuorumHash() (llmq.Phase, llmq.Identifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase, h.quorumHash
}

// OnNewTip informs the handler of a chain tip update. If the tip dropped
// below the active round's quorum height, the defining block was reorged
// away and the round is abandoned.
func (h *SessionHandler) OnNewTip(tip llmq.BlockContext) {
	h.mu.Lock()
	h.lastTip = tip
	h.currentHeight = tip.Height
	if h.quorumHeight >= 0 && tip.Height < h.quorumHeight {
		h.log.Info().
			Int32("tip_height", tip.Height).
			Int32("quorum_height", h.quorumHeight).
			Msg("chain reorged below quorum height, abandoning round")
		h.quorumHash = llmq.ZeroID
	}
	h.mu.Unlock()

	h.tipNotifier.Notify()
}

// ProcessMessage routes an inbound raw payload to the pending queue of its
// kind. Duplicate or over-quota payloads are dropped silently; an unknown
// kind returns ErrUnknownMessageType.
func (h *SessionHandler) ProcessMessage(origin llmq.Identifier, kind messages.Kind, payload []byte) error {
	queue, ok := h.pending[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessageType, kind)
	}
	if !queue.Push(origin, payload) {
		h.metrics.MessageDropped(h.params.Type, kind.String())
		h.log.Debug().
			Hex("origin", origin[:]).
			Str("kind", kind.String()).
			Msg("dropping duplicate or over-quota DKG message")
	}
	return nil
}

// HasSeen answers whether a payload with the given content hash was received
// this round, used to short-circuit inventory requests from peers.
func (h *SessionHandler) HasSeen(kind messages.Kind, hash llmq.Identifier) (bool, error) {
	queue, ok := h.pending[kind]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownMessageType, kind)
	}
	return queue.HasSeen(hash), nil
}

// InitNewQuorum decides whether a new DKG round is due at the given tip. If
// so, it creates a fresh session for the quorum defined by the tip block,
// resets the phase to Initialized, and returns true. It returns false when
// no round is due, when a round is already active, or when this quorum has
// already been processed.
func (h *SessionHandler) InitNewQuorum(tip llmq.BlockContext) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.phase != llmq.PhaseIdle {
		return false
	}
	if !tip.IsSet() || int(tip.Height)%h.params.DKGInterval != 0 {
		return false
	}
	if tip.Height == h.lastRoundHeight && tip.Hash == h.lastRoundHash {
		return false
	}

	session, err := h.factory.Create(h.params, tip.Hash, tip.Height)
	if err != nil {
		// collaborator failure (e.g. we are not a member of this quorum);
		// skip the round and wait for the next eligible height
		h.log.Info().Err(err).
			Int32("quorum_height", tip.Height).
			Msg("no DKG session for this round")
		return false
	}

	h.session = session
	h.quorumHash = tip.Hash
	h.quorumHeight = tip.Height
	h.lastRoundHash = tip.Hash
	h.lastRoundHeight = tip.Height
	h.setPhaseLocked(llmq.PhaseInitialized)
	h.metrics.RoundStarted(h.params.Type)

	h.log.Info().
		Int32("quorum_height", tip.Height).
		Hex("quorum_hash", tip.Hash[:]).
		Msg("initialized new DKG round")

	return true
}

// setPhaseLocked transitions to the given phase. Callers must hold h.mu.
func (h *SessionHandler) setPhaseLocked(phase llmq.Phase) {
	h.phase = phase
	h.metrics.PhaseAdvanced(h.params.Type, phase)
	h.log.Debug().Str("phase", phase.String()).Msg("entered DKG phase")
}

// phaseHandlerLoop is the handler's dedicated execution context. It loops
// over rounds for the process lifetime: waiting for an eligible quorum
// height, then driving the round's phases sequentially.
func (h *SessionHandler) phaseHandlerLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()

	for {
		if !h.waitForNewQuorum(ctx) {
			return
		}
		h.runRound(ctx)
	}
}

// waitForNewQuorum blocks until a new round has been initialized, or returns
// false when shutdown is requested.
func (h *SessionHandler) waitForNewQuorum(ctx context.Context) bool {
	for {
		h.mu.Lock()
		tip := h.lastTip
		h.mu.Unlock()

		if tip.IsSet() && h.InitNewQuorum(tip) {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-h.tipNotifier.Channel():
		}
	}
}

// runRound executes all phases of the active round. Abandonment (reorg, new
// quorum) and collaborator failures end the round early; either way the
// handler returns to Idle with cleared queues.
func (h *SessionHandler) runRound(ctx context.Context) {
	h.mu.Lock()
	expected := h.quorumHash
	session := h.session
	h.mu.Unlock()

	err := h.executePhases(ctx, session, expected)
	switch {
	case err == nil:
		h.log.Info().Msg("DKG round completed")
	case errors.Is(err, errQuorumRotated):
		h.log.Info().Msg("DKG round abandoned")
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// shutting down; finishRound still runs so a restart starts clean
	default:
		h.log.Warn().Err(err).Msg("DKG round failed")
	}

	h.finishRound()
}

// phaseStep describes one transition of the round's phase sequence.
type phaseStep struct {
	current llmq.Phase
	next    llmq.Phase
	jitter  float64
	start   func(context.Context) error
	process func(context.Context, module.DKGSession)
}

func (h *SessionHandler) executePhases(ctx context.Context, session module.DKGSession, expected llmq.Identifier) error {
	steps := []phaseStep{
		{llmq.PhaseInitialized, llmq.PhaseContribute, 0, nil, nil},
		{llmq.PhaseContribute, llmq.PhaseComplain, h.config.JitterFactor, session.SendContributions, h.processContributions},
		{llmq.PhaseComplain, llmq.PhaseJustify, h.config.JitterFactor, session.VerifyAndComplain, h.processComplaints},
		{llmq.PhaseJustify, llmq.PhaseCommit, h.config.JitterFactor, session.SendJustifications, h.processJustifications},
		{llmq.PhaseCommit, llmq.PhaseFinalize, h.config.JitterFactor, session.SendCommitment, h.processCommitments},
		{llmq.PhaseFinalize, llmq.PhaseIdle, 0, session.Finalize, nil},
	}

	for _, step := range steps {
		err := h.handlePhase(ctx, session, step, expected)
		if err != nil {
			return err
		}
	}
	return nil
}

// handlePhase executes one phase transition: optional jittered sleep, the
// phase's start function (exactly once), then waiting out the phase while
// feeding pending messages to the session. The wait concludes when the chain
// reaches the phase's final block or the phase timeout elapses; it aborts
// early if the quorum hash changes or shutdown is requested. The next
// phase's start function never runs before this wait has concluded.
func (h *SessionHandler) handlePhase(ctx context.Context, session module.DKGSession, step phaseStep, expected llmq.Identifier) error {
	if step.jitter > 0 {
		err := h.sleepBeforePhase(ctx, step.jitter, expected)
		if err != nil {
			return err
		}
	}

	if step.start != nil {
		err := step.start(ctx)
		if err != nil {
			return fmt.Errorf("could not start phase %s: %w", step.current, err)
		}
	}

	err := h.waitForPhaseEnd(ctx, session, step, expected)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.quorumHash != expected {
		return errQuorumRotated
	}
	h.setPhaseLocked(step.next)
	return nil
}

// sleepBeforePhase sleeps a pseudo-random duration in [0, jitter*PhaseTimeout)
// to spread message bursts across quorum members. The sleep is interruptible
// by shutdown and by quorum rotation, observed within one tick.
func (h *SessionHandler) sleepBeforePhase(ctx context.Context, jitter float64, expected llmq.Identifier) error {
	maxSleep := time.Duration(jitter * float64(h.config.PhaseTimeout))
	if maxSleep <= 0 {
		return nil
	}
	deadline := time.Now().Add(time.Duration(rand.Int63n(int64(maxSleep))))

	ticker := time.NewTicker(h.config.TickInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		h.mu.Lock()
		rotated := h.quorumHash != expected
		h.mu.Unlock()
		if rotated {
			return errQuorumRotated
		}
	}
	return nil
}

// waitForPhaseEnd blocks until the current phase's window has passed,
// processing pending messages on every tick.
func (h *SessionHandler) waitForPhaseEnd(ctx context.Context, session module.DKGSession, step phaseStep, expected llmq.Identifier) error {
	deadline := time.Now().Add(h.config.PhaseTimeout)

	ticker := time.NewTicker(h.config.TickInterval)
	defer ticker.Stop()

	for {
		if step.process != nil {
			step.process(ctx, session)
		}

		h.mu.Lock()
		rotated := h.quorumHash != expected
		windowPassed := h.currentHeight >= h.phaseEndHeightLocked(step.current)
		h.mu.Unlock()

		if rotated {
			return errQuorumRotated
		}
		if windowPassed || time.Now().After(deadline) {
			// final sweep so all of this phase's buffered messages reach the
			// session before the next phase starts
			if step.process != nil {
				step.process(ctx, session)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-h.tipNotifier.Channel():
		}
	}
}

// phaseEndHeightLocked returns the height of the last block of the given
// phase's window. Callers must hold h.mu.
func (h *SessionHandler) phaseEndHeightLocked(phase llmq.Phase) int32 {
	ordinal := int32(phase) - int32(llmq.PhaseInitialized) + 1
	return h.quorumHeight + int32(h.params.DKGPhaseBlocks)*ordinal
}

// finishRound resets the handler to Idle and clears all pending queues,
// ending the round's dedup scope.
func (h *SessionHandler) finishRound() {
	h.mu.Lock()
	h.session = nil
	h.quorumHash = llmq.ZeroID
	h.quorumHeight = -1
	h.setPhaseLocked(llmq.PhaseIdle)
	h.mu.Unlock()

	for _, queue := range h.pending {
		queue.Clear()
	}
}

func (h *SessionHandler) processContributions(ctx context.Context, session module.DKGSession) {
	batch := PopAndDecode[messages.Contribution](h.pending[messages.KindContribution], h.config.BatchSize)
	for _, msg := range batch {
		if msg.Message == nil {
			h.dropUndecodable(msg.SenderID, messages.KindContribution)
			continue
		}
		err := session.ProcessContribution(msg.SenderID, msg.Message)
		if err != nil {
			h.log.Warn().Err(err).Hex("sender", msg.SenderID[:]).Msg("invalid contribution")
		}
	}
}

func (h *SessionHandler) processComplaints(ctx context.Context, session module.DKGSession) {
	batch := PopAndDecode[messages.Complaint](h.pending[messages.KindComplaint], h.config.BatchSize)
	for _, msg := range batch {
		if msg.Message == nil {
			h.dropUndecodable(msg.SenderID, messages.KindComplaint)
			continue
		}
		err := session.ProcessComplaint(msg.SenderID, msg.Message)
		if err != nil {
			h.log.Warn().Err(err).Hex("sender", msg.SenderID[:]).Msg("invalid complaint")
		}
	}
}

func (h *SessionHandler) processJustifications(ctx context.Context, session module.DKGSession) {
	batch := PopAndDecode[messages.Justification](h.pending[messages.KindJustification], h.config.BatchSize)
	for _, msg := range batch {
		if msg.Message == nil {
			h.dropUndecodable(msg.SenderID, messages.KindJustification)
			continue
		}
		err := session.ProcessJustification(msg.SenderID, msg.Message)
		if err != nil {
			h.log.Warn().Err(err).Hex("sender", msg.SenderID[:]).Msg("invalid justification")
		}
	}
}

func (h *SessionHandler) processCommitments(ctx context.Context, session module.DKGSession) {
	batch := PopAndDecode[messages.PrematureCommitment](h.pending[messages.KindPrematureCommitment], h.config.BatchSize)
	for _, msg := range batch {
		if msg.Message == nil {
			h.dropUndecodable(msg.SenderID, messages.KindPrematureCommitment)
			continue
		}
		err := session.ProcessCommitment(msg.SenderID, msg.Message)
		if err != nil {
			h.log.Warn().Err(err).Hex("sender", msg.SenderID[:]).Msg("invalid premature commitment")
		}
	}
}

func (h *SessionHandler) dropUndecodable(sender llmq.Identifier, kind messages.Kind) {
	h.metrics.MessageDropped(h.params.Type, kind.String())
	h.log.Debug().
		Hex("sender", sender[:]).
		Str("kind", kind.String()).
		Msg("dropping undecodable DKG message")
}
