package messages

import (
	"github.com/quorumnet/llmq/model/llmq"
)

// ChainLockAnnouncement is the network message kind carrying a recovered
// chain-lock threshold signature.
type ChainLockAnnouncement struct {
	ChainLock llmq.ChainLockSig
}
