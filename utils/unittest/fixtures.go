package unittest

import (
	crand "crypto/rand"
	"time"

	"github.com/quorumnet/llmq/model/llmq"
)

// IdentifierFixture returns a random identifier.
func IdentifierFixture() llmq.Identifier {
	var id llmq.Identifier
	_, _ = crand.Read(id[:])
	return id
}

// IdentifierListFixture returns a list of n random identifiers.
func IdentifierListFixture(n int) []llmq.Identifier {
	ids := make([]llmq.Identifier, n)
	for i := range ids {
		ids[i] = IdentifierFixture()
	}
	return ids
}

// SignatureFixture returns random bytes shaped like a BLS threshold
// signature.
func SignatureFixture() []byte {
	sig := make([]byte, 96)
	_, _ = crand.Read(sig)
	return sig
}

// BlockContextFixture returns a block context at the given height with random
// hashes, seen now.
func BlockContextFixture(height int32) llmq.BlockContext {
	return llmq.BlockContext{
		Height:     height,
		Hash:       IdentifierFixture(),
		ParentHash: IdentifierFixture(),
		SeenAt:     time.Now(),
	}
}

// ChainLockSigFixture returns a chain lock for a random block at the given
// height.
func ChainLockSigFixture(height int32) llmq.ChainLockSig {
	return llmq.ChainLockSig{
		Height:    height,
		BlockHash: IdentifierFixture(),
		Signature: SignatureFixture(),
	}
}

// ChainLockSigForBlock returns a chain lock for the given block.
func ChainLockSigForBlock(block llmq.BlockContext) llmq.ChainLockSig {
	return llmq.ChainLockSig{
		Height:    block.Height,
		BlockHash: block.Hash,
		Signature: SignatureFixture(),
	}
}
