package llmq

import (
	"fmt"
)

// Type enumerates the long-living masternode quorum (LLMQ) types supported by
// the network. Each type describes a differently sized committee with its own
// DKG cadence.
type Type uint8

const (
	// TypeNone is an invalid placeholder type. Components refuse to be
	// constructed with it.
	TypeNone Type = 0

	// Type50_60 is a quorum of 50 members with a signing threshold of 60%.
	Type50_60 Type = 1

	// Type400_60 is a quorum of 400 members with a signing threshold of 60%.
	Type400_60 Type = 2

	// Type400_85 is a quorum of 400 members with a signing threshold of 85%.
	Type400_85 Type = 3
)

func (t Type) String() string {
	switch t {
	case Type50_60:
		return "llmq_50_60"
	case Type400_60:
		return "llmq_400_60"
	case Type400_85:
		return "llmq_400_85"
	default:
		return fmt.Sprintf("llmq_unknown_%d", uint8(t))
	}
}

// ParseType converts the string form of a quorum type (as produced by
// Type.String and used in configuration) back to the Type.
func ParseType(s string) (Type, error) {
	for _, t := range []Type{Type50_60, Type400_60, Type400_85} {
		if t.String() == s {
			return t, nil
		}
	}
	return TypeNone, fmt.Errorf("unknown quorum type %q", s)
}

// Params holds the consensus parameters of one LLMQ type.
type Params struct {
	// Type identifies the quorum type these parameters describe.
	Type Type

	// Size is the number of members in a quorum of this type.
	Size int

	// MinSize is the minimum number of valid members required for the DKG to
	// produce a usable quorum.
	MinSize int

	// Threshold is the number of member signature shares required to recover
	// a valid threshold signature.
	Threshold int

	// DKGInterval is the number of blocks between the start of two
	// consecutive DKG rounds of this type.
	DKGInterval int

	// DKGPhaseBlocks is the number of blocks each DKG phase spans.
	DKGPhaseBlocks int
}

// DefaultParams returns the registered parameters for the given quorum type.
// It returns an error for TypeNone or an unregistered type.
func DefaultParams(t Type) (Params, error) {
	params, ok := defaultParams[t]
	if !ok {
		return Params{}, fmt.Errorf("no parameters registered for quorum type %s", t)
	}
	return params, nil
}

var defaultParams = map[Type]Params{
	Type50_60: {
		Type:           Type50_60,
		Size:           50,
		MinSize:        40,
		Threshold:      30,
		DKGInterval:    24,
		DKGPhaseBlocks: 2,
	},
	Type400_60: {
		Type:           Type400_60,
		Size:           400,
		MinSize:        300,
		Threshold:      240,
		DKGInterval:    288,
		DKGPhaseBlocks: 4,
	},
	Type400_85: {
		Type:           Type400_85,
		Size:           400,
		MinSize:        350,
		Threshold:      340,
		DKGInterval:    576,
		DKGPhaseBlocks: 4,
	},
}

// Validate checks the structural integrity of the parameters. A zero quorum
// type is a programming error and renders the parameters unusable.
func (p Params) Validate() error {
	if p.Type == TypeNone {
		return fmt.Errorf("quorum type must not be none")
	}
	if p.Size <= 0 {
		return fmt.Errorf("quorum size must be positive, got %d", p.Size)
	}
	if p.MinSize <= 0 || p.MinSize > p.Size {
		return fmt.Errorf("quorum min size must be in [1, %d], got %d", p.Size, p.MinSize)
	}
	if p.Threshold <= 0 || p.Threshold > p.Size {
		return fmt.Errorf("quorum threshold must be in [1, %d], got %d", p.Size, p.Threshold)
	}
	if p.DKGInterval <= 0 {
		return fmt.Errorf("dkg interval must be positive, got %d", p.DKGInterval)
	}
	if p.DKGPhaseBlocks <= 0 {
		return fmt.Errorf("dkg phase blocks must be positive, got %d", p.DKGPhaseBlocks)
	}
	if p.DKGPhaseBlocks*6 > p.DKGInterval {
		return fmt.Errorf("dkg phases (6 x %d blocks) do not fit in interval of %d blocks", p.DKGPhaseBlocks, p.DKGInterval)
	}
	return nil
}
