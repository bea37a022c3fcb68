package module

import (
	"github.com/quorumnet/llmq/model/llmq"
)

// DKGMetrics exposes instrumentation of the DKG session handling.
type DKGMetrics interface {
	// PendingMessages reports the current length of the pending queue for
	// the given message kind of the given quorum type.
	PendingMessages(llmqType llmq.Type, kind string, length uint)

	// MessageDropped counts an inbound DKG message rejected as duplicate,
	// over quota, or undecodable.
	MessageDropped(llmqType llmq.Type, kind string)

	// RoundStarted counts the start of a new DKG round.
	RoundStarted(llmqType llmq.Type)

	// PhaseAdvanced reports entry into a new DKG phase.
	PhaseAdvanced(llmqType llmq.Type, phase llmq.Phase)
}

// ChainLockMetrics exposes instrumentation of chain-lock handling.
type ChainLockMetrics interface {
	// LockAccepted counts a chain lock accepted as the new best.
	LockAccepted(height int32)

	// LockConflict counts a detected conflicting chain lock.
	LockConflict()

	// SignRequested counts an initiated chain-lock signing request.
	SignRequested()

	// LockEnforced counts a chain reorganization triggered to enforce the
	// best known chain lock.
	LockEnforced()
}
