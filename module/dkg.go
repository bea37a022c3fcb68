package module

import (
	"context"

	"github.com/quorumnet/llmq/model/llmq"
	"github.com/quorumnet/llmq/model/messages"
)

// DKGSession executes the cryptographic steps of one DKG round for one
// quorum. The session owns all key material and message construction; the
// session handler only drives it through the phases and feeds it messages
// popped from the pending queues.
//
// Sessions are not safe for concurrent use: the session handler invokes all
// methods from its own phase-handler routine. Calls are allowed to block on
// cryptographic work or network sends.
type DKGSession interface {
	// SendContributions computes and broadcasts this member's verification
	// vector and encrypted secret shares.
	SendContributions(ctx context.Context) error

	// VerifyAndComplain verifies the received contributions and broadcasts a
	// complaint against members whose contributions were missing or invalid.
	VerifyAndComplain(ctx context.Context) error

	// SendJustifications responds to complaints raised against this member by
	// revealing the disputed shares.
	SendJustifications(ctx context.Context) error

	// SendCommitment broadcasts this member's premature commitment of the
	// final quorum key material.
	SendCommitment(ctx context.Context) error

	// Finalize aggregates premature commitments into the final quorum
	// commitment and hands it off for mining.
	Finalize(ctx context.Context) error

	// ProcessContribution ingests a decoded contribution from another member.
	ProcessContribution(sender llmq.Identifier, msg *messages.Contribution) error

	// ProcessComplaint ingests a decoded complaint from another member.
	ProcessComplaint(sender llmq.Identifier, msg *messages.Complaint) error

	// ProcessJustification ingests a decoded justification from another member.
	ProcessJustification(sender llmq.Identifier, msg *messages.Justification) error

	// ProcessCommitment ingests a decoded premature commitment from another
	// member.
	ProcessCommitment(sender llmq.Identifier, msg *messages.PrematureCommitment) error
}

// DKGSessionFactory creates a fresh DKGSession for each round of a quorum
// type. The quorum hash and height identify the round's defining block.
type DKGSessionFactory interface {
	Create(params llmq.Params, quorumHash llmq.Identifier, quorumHeight int32) (DKGSession, error)
}
