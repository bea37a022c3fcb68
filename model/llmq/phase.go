package llmq

// Phase captures the position of a quorum session within one DKG round.
// Phases advance strictly forward within a round; PhaseIdle wraps around to
// PhaseInitialized when the next round starts.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseInitialized
	PhaseContribute
	PhaseComplain
	PhaseJustify
	PhaseCommit
	PhaseFinalize
	PhaseIdle
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "None"
	case PhaseInitialized:
		return "Initialized"
	case PhaseContribute:
		return "Contribute"
	case PhaseComplain:
		return "Complain"
	case PhaseJustify:
		return "Justify"
	case PhaseCommit:
		return "Commit"
	case PhaseFinalize:
		return "Finalize"
	case PhaseIdle:
		return "Idle"
	default:
		return "Unknown"
	}
}

// Next returns the phase that follows p in the DKG round cycle. The cycle
// wraps from Idle back to Initialized; None has no successor.
func (p Phase) Next() Phase {
	switch {
	case p == PhaseNone:
		return PhaseNone
	case p == PhaseIdle:
		return PhaseInitialized
	default:
		return p + 1
	}
}
