package llmq

import (
	"time"
)

// BlockContext carries the subset of chain state that the quorum subsystems
// need about one block: its position, identity, and when we first saw it.
// It is supplied by the chain-validation collaborator on every tip update,
// block (dis)connection, and header acceptance.
type BlockContext struct {
	// Height is the block's height in the chain. Heights are never negative
	// for real blocks; -1 is reserved as the "unset" sentinel.
	Height int32

	// Hash is the block's identifier.
	Hash Identifier

	// ParentHash is the identifier of the block's parent.
	ParentHash Identifier

	// SeenAt is the local wall-clock time at which this block was first
	// received.
	SeenAt time.Time
}

// IsSet returns true if the context describes a real block.
func (b BlockContext) IsSet() bool {
	return b.Height >= 0 && !b.Hash.IsZero()
}
