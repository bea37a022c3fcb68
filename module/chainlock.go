package module

import (
	"context"

	"github.com/quorumnet/llmq/model/llmq"
)

// ChainLockSigner requests threshold signatures from the quorum signing
// collaborator. Results are delivered asynchronously to the registered
// RecoveredSigListener.
type ChainLockSigner interface {
	// RequestSig asks the active signing quorum to sign msgHash under the
	// given request id. Repeated requests with the same id are idempotent at
	// the signer.
	RequestSig(ctx context.Context, requestID llmq.Identifier, msgHash llmq.Identifier) error
}

// ChainLockVerifier validates a recovered chain-lock threshold signature
// against the expected signer quorum for its height.
type ChainLockVerifier interface {
	// VerifyChainLock returns nil if the signature is valid. Verification may
	// be slow; callers must not hold state locks across this call.
	VerifyChainLock(clsig llmq.ChainLockSig) error
}

// RecoveredSigListener is notified when the signing collaborator recovers a
// threshold signature for a previously requested id. Implementations register
// with the signing collaborator by explicit subscription.
type RecoveredSigListener interface {
	OnRecoveredSig(requestID llmq.Identifier, msgHash llmq.Identifier, signature []byte)
}

// BlockInfoProvider is the narrow read-only view of chain state used by the
// chain-lock subsystem.
type BlockInfoProvider interface {
	// BlockHeight returns the height of the given block and whether it is
	// known locally.
	BlockHeight(hash llmq.Identifier) (int32, bool)

	// AncestorAt returns the hash of the ancestor of the given block at the
	// given height, and whether it could be resolved.
	AncestorAt(hash llmq.Identifier, height int32) (llmq.Identifier, bool)

	// IsInActiveChain returns true if the given block is part of the
	// currently active chain.
	IsInActiveChain(hash llmq.Identifier) bool
}

// Reorganizer triggers a chain reorganization towards a chain-locked block.
// It is implemented by the chain-validation collaborator.
type Reorganizer interface {
	// ActivateLockedChain makes the chain containing the locked block the
	// active chain, overriding longest-chain selection.
	ActivateLockedChain(ctx context.Context, clsig llmq.ChainLockSig) error
}

// FastFinalityOracle answers whether a transaction has been individually
// finalized by the out-of-band per-transaction locking mechanism.
type FastFinalityOracle interface {
	IsLocked(txid llmq.Identifier) bool
}

// ConflictReporter receives conflicting chain locks for operator visibility.
// Penalty policy is deliberately pluggable and external to this subsystem.
type ConflictReporter interface {
	ReportConflict(existing llmq.ChainLockSig, conflicting llmq.ChainLockSig)
}
