package messages

import (
	"fmt"

	"github.com/quorumnet/llmq/model/llmq"
)

// Kind enumerates the DKG message kinds exchanged between quorum members.
// Each kind is buffered in its own pending queue.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindContribution
	KindComplaint
	KindJustification
	KindPrematureCommitment
)

// Kinds lists all valid DKG message kinds, in phase order.
func Kinds() []Kind {
	return []Kind{KindContribution, KindComplaint, KindJustification, KindPrematureCommitment}
}

func (k Kind) String() string {
	switch k {
	case KindContribution:
		return "contribution"
	case KindComplaint:
		return "complaint"
	case KindJustification:
		return "justification"
	case KindPrematureCommitment:
		return "premature_commitment"
	default:
		return fmt.Sprintf("unknown_%d", uint8(k))
	}
}

// DKGEnvelope wraps a raw DKG payload with the routing information needed to
// deliver it to the session handler of the right quorum type. The payload
// stays opaque until the phase handler pops and decodes it; deserialization
// is deliberately kept off the network-receive path.
type DKGEnvelope struct {
	LLMQType llmq.Type
	Kind     Kind
	Payload  []byte
}

// Contribution is a member's phase-2 DKG payload: its verification vector and
// the encrypted secret share destined for each other member.
type Contribution struct {
	QuorumHash         llmq.Identifier
	ProTxHash          llmq.Identifier
	VerificationVector [][]byte
	Shares             [][]byte
}

// Complaint accuses members of sending missing or invalid contributions.
// BadMembers and ComplainForMembers are bitsets over the quorum member list.
type Complaint struct {
	QuorumHash         llmq.Identifier
	ProTxHash          llmq.Identifier
	BadMembers         []byte
	ComplainForMembers []byte
}

// Justification is a member's response to complaints raised against it,
// revealing the disputed shares in the clear.
type Justification struct {
	QuorumHash llmq.Identifier
	ProTxHash  llmq.Identifier
	Shares     [][]byte
}

// PrematureCommitment is a member's proposed final quorum key material,
// announced before the round's official finalization.
type PrematureCommitment struct {
	QuorumHash      llmq.Identifier
	ProTxHash       llmq.Identifier
	ValidMembers    []byte
	QuorumPublicKey []byte
	QuorumVvecHash  llmq.Identifier
	Signature       []byte
}
